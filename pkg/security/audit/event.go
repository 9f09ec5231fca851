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

package audit

import (
	"net/netip"
	"strings"
	"time"
)

// Level grades how alarming an event is.
type Level string

// Levels, in ascending order of alarm.
const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Type names the class of security event.
type Type string

// Event types.
const (
	AuthenticationSuccess Type = "AUTHENTICATION_SUCCESS"
	AuthenticationFailure Type = "AUTHENTICATION_FAILURE"
	AuthorizationFailure  Type = "AUTHORIZATION_FAILURE"
	IPBlocked             Type = "IP_BLOCKED"
	RateLimited           Type = "RATE_LIMITED"
	SuspiciousActivity    Type = "SUSPICIOUS_ACTIVITY"
	MaliciousRequest      Type = "MALICIOUS_REQUEST"
	AdminAction           Type = "ADMIN_ACTION"
	SystemError           Type = "SYSTEM_ERROR"
)

// Event is one security audit record. ClientIP and Username hold the raw
// values until the manager masks them; sinks only ever see the masked
// form when masking is on.
type Event struct {
	Time      time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Type      Type      `json:"event_type"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Username  string    `json:"username,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Path      string    `json:"request_path,omitempty"`
	Method    string    `json:"request_method,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Masked returns a copy with client address and username masked.
func (e Event) Masked() Event {
	e.ClientIP = MaskIP(e.ClientIP)
	e.Username = MaskUsername(e.Username)
	return e
}

// MaskIP hides the host part of an address: IPv4 becomes a.b.*.**, IPv6
// keeps the first two groups. Values that do not parse are replaced
// entirely rather than leaked as-is.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return "*"
	}
	a = a.Unmap()
	if a.Is4() {
		parts := strings.Split(a.String(), ".")
		return parts[0] + "." + parts[1] + ".*.**"
	}
	groups := strings.Split(a.StringExpanded(), ":")
	return groups[0] + ":" + groups[1] + ":*:*"
}

// MaskUsername hides the middle of a username. Names of four characters
// or fewer are hidden entirely; longer ones keep the first two and the
// last character.
func MaskUsername(u string) string {
	if u == "" {
		return ""
	}
	r := []rune(u)
	if len(r) <= 4 {
		return "***"
	}
	return string(r[:2]) + "***" + string(r[len(r)-1:])
}

// MaskToken keeps the first and last ten characters of a token so audit
// records can correlate without exposing usable credentials.
func MaskToken(t string) string {
	r := []rune(t)
	if len(r) <= 20 {
		return "***"
	}
	return string(r[:10]) + "..." + string(r[len(r)-10:])
}
