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
	"context"
	"fmt"
)

func adminPingCommand() *command {
	cmd := newCommand("admin-ping")
	cmd.Description = func() string { return "check the admin rpc endpoint" }
	cmd.Action = func() error {
		client, err := getAdminClient()
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.Ping(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%s version=%s\n", res.Status, res.Version)
		return nil
	}
	return cmd
}
