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

package useragent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		agent string
		want  string
	}{
		{"", "unknown"},
		{"gowebdav/0.9", "dav"},
		{"Microsoft-WebDAV-MiniRedir/10.0.19043", "dav"},
		{"cadaver/0.23.3 neon/0.31.2", "dav"},
		{"curl/8.4.0", "script"},
		{"python-requests/2.31.0", "script"},
		{"grpc-go/1.62.0", "grpc"},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", "bot"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "web"},
		{"Mozilla/5.0 (Android 11; Mobile; rv:86.0) Gecko/86.0 Firefox/86.0", "web"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.agent), "agent %q", tt.agent)
	}
}

func TestIsBot(t *testing.T) {
	assert.True(t, IsBot("Googlebot/2.1 (+http://www.google.com/bot.html)"))
	assert.False(t, IsBot("gowebdav/0.9"))
	assert.False(t, IsBot("Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"))
}

func TestIsDAV(t *testing.T) {
	assert.True(t, IsDAV("WinSCP/6.1.2"))
	assert.False(t, IsDAV("curl/8.4.0"))
}
