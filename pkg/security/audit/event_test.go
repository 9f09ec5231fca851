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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"203.0.113.7", "203.0.*.**"},
		{"10.1.2.3", "10.1.*.**"},
		{"2001:db8::1", "2001:0db8:*:*"},
		{"::1", "0000:0000:*:*"},
		{"not-an-ip", "*"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, MaskIP(tt.in), tt.in)
	}
}

func TestMaskUsername(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"einstein", "ei***n"},
		{"alice", "al***e"},
		{"anna", "***"},
		{"bob", "***"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, MaskUsername(tt.in), tt.in)
	}
}

func TestMaskToken(t *testing.T) {
	long := "aaaaaaaaaabbbbbbbbbbccccccccccdddddddddd"
	assert.Equal(t, "aaaaaaaaaa...dddddddddd", MaskToken(long))
	assert.Equal(t, "***", MaskToken("short"))
	assert.Equal(t, "***", MaskToken("exactly-twenty-chars"))
}

func TestEventMasked(t *testing.T) {
	ev := Event{
		ClientIP:  "203.0.113.7",
		Username:  "einstein",
		UserAgent: "litmus/0.13",
		Path:      "/dav/docs",
	}
	masked := ev.Masked()
	assert.Equal(t, "203.0.*.**", masked.ClientIP)
	assert.Equal(t, "ei***n", masked.Username)
	// only identity fields are masked
	assert.Equal(t, ev.UserAgent, masked.UserAgent)
	assert.Equal(t, ev.Path, masked.Path)
	// the original is untouched
	assert.Equal(t, "203.0.113.7", ev.ClientIP)
}
