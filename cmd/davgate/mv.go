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

func moveCommand() *command {
	cmd := newCommand("mv")
	cmd.Description = func() string { return "move or rename a remote file or folder" }
	cmd.Usage = func() string { return "Usage: davgate mv <source> <destination>" }
	cmd.Action = func() error {
		if cmd.NArg() < 2 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}
		src := cmd.Args()[0]
		dst := cmd.Args()[1]

		client, err := getWebDAVClient()
		if err != nil {
			return err
		}
		return client.Rename(src, dst, true)
	}
	return cmd
}
