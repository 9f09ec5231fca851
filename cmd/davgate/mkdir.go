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
	"os"
)

func mkdirCommand() *command {
	cmd := newCommand("mkdir")
	cmd.Description = func() string { return "create a folder" }
	cmd.Usage = func() string { return "Usage: davgate mkdir <remote_path>" }
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}
		fn := cmd.Args()[0]

		client, err := getWebDAVClient()
		if err != nil {
			return err
		}
		return client.Mkdir(fn, 0755)
	}
	return cmd
}
