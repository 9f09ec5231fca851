// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package config reads the davgated configuration file.
package config

import (
	"io"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Read decodes the TOML document from r into raw section maps. Sections
// stay untyped here; every component decodes and validates its own
// slice of the tree.
func Read(r io.Reader) (map[string]interface{}, error) {
	var c map[string]interface{}
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "config: error decoding toml data")
	}
	return c, nil
}
