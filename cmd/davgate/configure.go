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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func configureCommand() *command {
	cmd := newCommand("configure")
	cmd.Description = func() string { return "configure the gateway endpoints" }
	cmd.Action = func() error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Print("webdav url (e.g. http://localhost:9700/dav): ")
		host, err := read(reader)
		if err != nil {
			return err
		}
		if host == "" {
			return fmt.Errorf("webdav url cannot be empty")
		}

		fmt.Print("admin rpc address (e.g. localhost:9710, empty to skip): ")
		admin, err := read(reader)
		if err != nil {
			return err
		}

		c := &config{Host: strings.TrimRight(host, "/"), Admin: admin}
		if err := writeConfig(c); err != nil {
			return err
		}
		fmt.Println("config saved at " + getConfigFile())
		return nil
	}
	return cmd
}
