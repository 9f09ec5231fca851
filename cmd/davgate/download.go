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
	"io"
	"os"
	"path"

	"github.com/cheggaaa/pb/v3"
)

func downloadCommand() *command {
	cmd := newCommand("download")
	cmd.Description = func() string { return "download a remote file to the local filesystem" }
	cmd.Usage = func() string { return "Usage: davgate download <remote_file> [local_file]" }
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			fmt.Println(cmd.Usage())
			os.Exit(1)
		}
		remote := cmd.Args()[0]
		local := path.Base(remote)
		if cmd.NArg() >= 2 {
			local = cmd.Args()[1]
		}

		client, err := getWebDAVClient()
		if err != nil {
			return err
		}

		// stat first, for the size of the progress bar
		md, err := client.Stat(remote)
		if err != nil {
			return err
		}

		stream, err := client.ReadStream(remote)
		if err != nil {
			return err
		}
		defer stream.Close()

		fd, err := os.Create(local)
		if err != nil {
			return err
		}
		defer fd.Close()

		bar := pb.New64(md.Size()).Set(pb.Bytes, true).Start()
		reader := bar.NewProxyReader(stream)
		if _, err := io.Copy(fd, reader); err != nil {
			bar.Finish()
			return err
		}
		bar.Finish()

		fmt.Println("OK")
		return nil
	}
	return cmd
}
