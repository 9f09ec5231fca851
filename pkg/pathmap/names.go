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

package pathmap

import (
	"strconv"
	"strings"
)

// Disambiguate maps a directory's display names onto unique webdav
// names. Names are processed in backend listing order: the first holder
// of a name keeps it, later holders get a " (n)" counter starting at 2,
// inserted before the final dot when the name has an extension. The
// result is deterministic for a given input order.
func Disambiguate(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]int, len(names))
	for i, name := range names {
		if _, clash := taken[name]; !clash {
			taken[name] = 1
			out[i] = name
			continue
		}
		for n := taken[name] + 1; ; n++ {
			candidate := withCounter(name, n)
			if _, clash := taken[candidate]; !clash {
				taken[name] = n
				taken[candidate] = 1
				out[i] = candidate
				break
			}
		}
	}
	return out
}

// withCounter inserts the duplicate counter: "doc.txt" → "doc (2).txt",
// "README" → "README (2)". A leading dot marks a hidden file, not an
// extension.
func withCounter(name string, n int) string {
	suffix := " (" + strconv.Itoa(n) + ")"
	if dot := strings.LastIndex(name, "."); dot > 0 {
		return name[:dot] + suffix + name[dot:]
	}
	return name + suffix
}
