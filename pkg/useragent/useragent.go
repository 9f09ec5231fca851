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

// Package useragent sorts client agent strings into the coarse
// categories the gateway cares about: real WebDAV clients, browsers,
// scripts and crawlers. The gate uses the bot verdict, the access log
// carries the category.
package useragent

import (
	"strings"

	ua "github.com/mileusna/useragent"
)

// davClients are agent prefixes of known WebDAV implementations. The
// generic parser has no notion of them.
var davClients = []string{
	"gowebdav",
	"Microsoft-WebDAV",
	"DavClnt",
	"davfs2",
	"cadaver",
	"Cyberduck",
	"WinSCP",
	"litmus",
	"WebDAVFS",
	"WebDAVLib",
}

// scriptClients are agent prefixes of HTTP tooling and libraries.
var scriptClients = []string{
	"curl",
	"Wget",
	"python-requests",
	"Python-urllib",
	"Go-http-client",
	"okhttp",
	"libwww-perl",
}

// IsDAV reports whether the agent string names a known WebDAV client.
func IsDAV(agent string) bool {
	return hasAnyPrefix(agent, davClients)
}

// IsBot reports whether the parser recognizes the agent as a crawler.
func IsBot(agent string) bool {
	return ua.Parse(agent).Bot
}

func isWeb(u *ua.UserAgent) bool {
	return u.IsChrome() || u.IsEdge() || u.IsFirefox() || u.IsSafari() ||
		u.IsInternetExplorer() || u.IsOpera() || u.IsOperaMini()
}

// Classify maps an agent string to one of: dav, bot, grpc, script,
// mobile, web, desktop, unknown.
func Classify(agent string) string {
	if strings.TrimSpace(agent) == "" {
		return "unknown"
	}
	if IsDAV(agent) {
		return "dav"
	}
	if hasAnyPrefix(agent, scriptClients) {
		return "script"
	}
	if strings.HasPrefix(agent, "grpc") {
		return "grpc"
	}

	u := ua.Parse(agent)
	switch {
	case u.Bot:
		return "bot"
	case isWeb(&u):
		// a browser on a phone is still a browser
		return "web"
	case u.Mobile || u.Tablet:
		return "mobile"
	case u.Desktop:
		return "desktop"
	}
	return "unknown"
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
