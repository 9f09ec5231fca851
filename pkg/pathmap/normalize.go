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

	"github.com/davgate/davgate/pkg/errtypes"
)

// DavPrefix roots the client-visible namespace.
const DavPrefix = "/dav"

// Normalize brings a slash path into canonical form: a single leading
// slash, no repeated or trailing slashes, and no relative or drive-letter
// segments. Percent-decoding is the HTTP layer's job and has already
// happened. Normalize is idempotent.
func Normalize(p string) (string, error) {
	segs := make([]string, 0, 8)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			// collapsed
		case ".", "..":
			return "", errtypes.BadRequest("path contains a relative segment")
		default:
			if isDriveLetter(seg) {
				return "", errtypes.BadRequest("path contains a drive letter")
			}
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(segs, "/"), nil
}

// isDriveLetter matches Windows-style absolute segments like "C:" or
// "C:\Users".
func isDriveLetter(seg string) bool {
	if len(seg) < 2 || seg[1] != ':' {
		return false
	}
	c := seg[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Split returns the segments of a normalized path, none for the root.
func Split(p string) []string {
	if p == "/" || p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// ToInternal rewrites a normalized client path into the backend form
// "/<user-id>" or "/<user-id>/<rest>". Paths under the dav prefix are
// rebased onto the user's subtree; paths already in internal form must
// belong to the same user.
func ToInternal(p string, userID uint64) (string, error) {
	uid := strconv.FormatUint(userID, 10)
	if p == DavPrefix {
		return "/" + uid, nil
	}
	if rest, ok := strings.CutPrefix(p, DavPrefix+"/"); ok {
		return "/" + uid + "/" + rest, nil
	}
	segs := Split(p)
	if len(segs) == 0 || segs[0] != uid {
		return "", errtypes.PermissionDenied("path belongs to another user")
	}
	return p, nil
}

// ToWebDAV rewrites an internal path back into the client namespace.
// The path must belong to the given user.
func ToWebDAV(internal string, userID uint64) (string, error) {
	uid := strconv.FormatUint(userID, 10)
	if internal == "/"+uid {
		return DavPrefix, nil
	}
	if rest, ok := strings.CutPrefix(internal, "/"+uid+"/"); ok {
		return DavPrefix + "/" + rest, nil
	}
	return "", errtypes.PermissionDenied("path belongs to another user")
}
