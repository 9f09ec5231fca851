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
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

func adminHashSecretCommand() *command {
	cmd := newCommand("admin-hash-secret")
	cmd.Description = func() string { return "hash an operator secret for the admin service config" }
	cmd.Action = func() error {
		fmt.Print("secret: ")
		secret, err := readPassword(0)
		if err != nil {
			return err
		}
		fmt.Println()

		fmt.Print("repeat: ")
		again, err := readPassword(0)
		if err != nil {
			return err
		}
		fmt.Println()

		if secret != again {
			return errors.New("secrets do not match")
		}
		if secret == "" {
			return errors.New("secret must not be empty")
		}

		hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}
	return cmd
}
