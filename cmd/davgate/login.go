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

	"github.com/studio-b12/gowebdav"
)

func loginCommand() *command {
	cmd := newCommand("login")
	cmd.Description = func() string { return "store credentials after verifying them against the gateway" }
	bearerFlag := cmd.Bool("bearer", false, "store a bearer token instead of basic credentials")
	cmd.Action = func() error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Print("username: ")
		username, err := read(reader)
		if err != nil {
			return err
		}

		a := &auth{Username: username}
		var client *gowebdav.Client
		if *bearerFlag {
			fmt.Print("token: ")
			token, err := readPassword(0)
			if err != nil {
				return err
			}
			fmt.Println()
			a.Token = token
			client = gowebdav.NewClient(conf.Host, "", "")
			client.SetHeader("Authorization", "Bearer "+token)
		} else {
			fmt.Print("password: ")
			password, err := readPassword(0)
			if err != nil {
				return err
			}
			fmt.Println()
			a.Password = password
			client = gowebdav.NewClient(conf.Host, username, password)
		}

		// a PROPFIND on the share root proves the credentials before
		// anything is written to disk; OPTIONS would pass unauthenticated
		if _, err := client.Stat("/"); err != nil {
			return fmt.Errorf("login failed: %v", err)
		}

		if err := writeAuth(a); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	}
	return cmd
}
