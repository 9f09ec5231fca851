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

	"github.com/studio-b12/gowebdav"
)

func statCommand() *command {
	cmd := newCommand("stat")
	cmd.Description = func() string { return "show metadata of a remote file or folder" }
	cmd.Usage = func() string { return "Usage: davgate stat <remote_path>" }
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

		md, err := client.Stat(fn)
		if err != nil {
			return err
		}

		kind := "file"
		if md.IsDir() {
			kind = "dir"
		}
		fmt.Printf("name: %s\n", md.Name())
		fmt.Printf("type: %s\n", kind)
		fmt.Printf("size: %d\n", md.Size())
		fmt.Printf("modified: %s\n", md.ModTime().Format("2006-01-02 15:04:05"))
		if f, ok := md.(*gowebdav.File); ok {
			if f.ContentType() != "" {
				fmt.Printf("content-type: %s\n", f.ContentType())
			}
			if f.ETag() != "" {
				fmt.Printf("etag: %s\n", f.ETag())
			}
		}
		return nil
	}
	return cmd
}
