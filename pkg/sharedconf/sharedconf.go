// Copyright 2018-2023 CERN
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

// Package sharedconf holds the [shared] section of the daemon config:
// values that many services need and that would otherwise be repeated in
// every service section.
package sharedconf

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// TestJWTSecret is the secret baked into tests and example configs.
// Boot refuses it unless allow_test_secret is set.
const TestJWTSecret = "changemeplease"

type conf struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	BackendSVC      string `mapstructure:"backendsvc"`
	AllowTestSecret bool   `mapstructure:"allow_test_secret"`
}

var sharedConf = &conf{}

// Decode decodes the shared config map. It is called once at boot before
// any service is constructed.
func Decode(v map[string]interface{}) error {
	if err := mapstructure.Decode(v, sharedConf); err != nil {
		return errors.Wrap(err, "sharedconf: error decoding conf")
	}
	if sharedConf.BackendSVC == "" {
		sharedConf.BackendSVC = "0.0.0.0:9600"
	}
	if sharedConf.JWTSecret == "" && sharedConf.AllowTestSecret {
		sharedConf.JWTSecret = TestJWTSecret
	}
	if sharedConf.JWTSecret == "" {
		return errors.New("sharedconf: jwt_secret is not set")
	}
	if sharedConf.JWTSecret == TestJWTSecret && !sharedConf.AllowTestSecret {
		return errors.New("sharedconf: refusing to run with the test jwt secret, set shared.jwt_secret")
	}
	return nil
}

// GetJWTSecret returns the package level configured jwt secret if not
// overwritten.
func GetJWTSecret(val string) string {
	if val == "" {
		return sharedConf.JWTSecret
	}
	return val
}

// GetBackendSVC returns the package level configured backend endpoint if
// not overwritten.
func GetBackendSVC(val string) string {
	if val == "" {
		return sharedConf.BackendSVC
	}
	return val
}
