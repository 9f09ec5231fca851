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

package net

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIPHeaders is the trust order for proxy-set address headers.
// X-Real-IP and CF-Connecting-IP carry a single address set by the
// closest trusted proxy; the X-Forwarded family may carry a comma
// separated chain where the first valid entry is the original client.
var clientIPHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"Forwarded-For",
	"Forwarded",
}

// ExtractClientIP returns the original client address for the request,
// walking the proxy headers in trust order and falling back to the
// transport remote address. The result is a bare IP without port or
// brackets; it is empty only when nothing on the request parses as an
// address.
func ExtractClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		for _, part := range strings.Split(v, ",") {
			if ip := canonicalIP(part); ip != "" {
				return ip
			}
		}
	}
	if ip := canonicalIP(r.RemoteAddr); ip != "" {
		return ip
	}
	return ""
}

// canonicalIP normalizes one header entry or remote address to a bare,
// valid IP string. It tolerates RFC 7239 "for=" pairs, quotes, brackets
// and trailing ports.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Forwarded: for=192.0.2.60;proto=http
	if i := strings.Index(strings.ToLower(s), "for="); i >= 0 {
		s = s[i+len("for="):]
		if j := strings.IndexByte(s, ';'); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.Trim(s, `"`)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return ""
	}
	return addr.String()
}
