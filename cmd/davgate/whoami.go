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
	"fmt"

	"github.com/pkg/errors"
)

func whoamiCommand() *command {
	cmd := newCommand("whoami")
	cmd.Description = func() string { return "show the stored identity" }
	checkFlag := cmd.Bool("check", false, "verify the credentials against the gateway")
	cmd.Action = func() error {
		a, err := readAuth()
		if err != nil {
			return errors.New("not logged in, run \"davgate login\"")
		}

		mode := "basic"
		if a.Token != "" {
			mode = "bearer"
		}
		fmt.Printf("%s (%s) @ %s\n", a.Username, mode, conf.Host)

		if *checkFlag {
			client, err := getWebDAVClient()
			if err != nil {
				return err
			}
			if err := client.Connect(); err != nil {
				return fmt.Errorf("credentials no longer valid: %v", err)
			}
			fmt.Println("credentials OK")
		}
		return nil
	}
	return cmd
}
