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
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/table"
)

func adminStatsCommand() *command {
	cmd := newCommand("admin-stats")
	cmd.Description = func() string { return "show gateway runtime counters" }
	cmd.Action = func() error {
		client, err := getAdminClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, err := getAdminContext()
		if err != nil {
			return err
		}

		res, err := client.Stats(ctx)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Counter", "Value"})
		t.AppendRow(table.Row{"uptime", (time.Duration(res.UptimeSeconds) * time.Second).String()})
		t.AppendRow(table.Row{"webdav_enabled", res.WebDAVEnabled})

		// map order is not stable, the table should be
		keys := make([]string, 0, len(res.Gate))
		for k := range res.Gate {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AppendRow(table.Row{"gate." + k, res.Gate[k]})
		}

		if res.CredentialCache != nil {
			t.AppendRow(table.Row{"credential_cache_entries", *res.CredentialCache})
		}
		if res.SessionSlots != nil {
			t.AppendRow(table.Row{"session_slots", *res.SessionSlots})
		}
		if res.PathCache != nil {
			t.AppendRow(table.Row{"path_cache.paths", res.PathCache.Paths})
			t.AppendRow(table.Row{"path_cache.ids", res.PathCache.IDs})
			t.AppendRow(table.Row{"path_cache.trees", res.PathCache.Trees})
			t.AppendRow(table.Row{"path_cache.listings", res.PathCache.Listings})
		}
		t.Render()
		return nil
	}
	return cmd
}
