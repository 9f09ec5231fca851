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

	"github.com/jedib0t/go-pretty/table"
)

func lsCommand() *command {
	cmd := newCommand("ls")
	cmd.Description = func() string { return "list a folder contents" }
	cmd.Usage = func() string { return "Usage: davgate ls [-l] <remote_path>" }
	longFlag := cmd.Bool("l", false, "long listing")
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

		infos, err := client.ReadDir(fn)
		if err != nil {
			return err
		}

		if !*longFlag {
			for _, md := range infos {
				fmt.Println(md.Name())
			}
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Type", "Size", "Modified", "Name"})
		for _, md := range infos {
			kind := "file"
			if md.IsDir() {
				kind = "dir"
			}
			t.AppendRow(table.Row{kind, md.Size(), md.ModTime().Format("2006-01-02 15:04:05"), md.Name()})
		}
		t.Render()
		return nil
	}
	return cmd
}
