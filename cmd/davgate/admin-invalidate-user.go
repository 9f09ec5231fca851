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

func adminInvalidateUserCommand() *command {
	cmd := newCommand("admin-invalidate-user")
	cmd.Description = func() string { return "flush one user from every gateway cache" }
	cmd.Usage = func() string { return "Usage: davgate admin-invalidate-user <user id>" }
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			cmd.PrintDefaults()
			os.Exit(1)
		}
		userID := cmd.Args()[0]

		client, err := getAdminClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, err := getAdminContext()
		if err != nil {
			return err
		}

		res, err := client.InvalidateUserCache(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("credentials=%t sessions=%t paths=%t\n", res.Credentials, res.Sessions, res.Paths)
		return nil
	}
	return cmd
}
