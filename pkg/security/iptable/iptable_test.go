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

package iptable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	valid := []string{
		"192.0.2.1",
		"192.0.2.0/24",
		"0.0.0.0/0",
		"192.0.2.1/32",
		"192.0.2.10-192.0.2.20",
		"2001:db8::1",
		"2001:db8::/32",
		"::/0",
		"2001:db8::1/128",
		"2001:db8::1-2001:db8::ff",
	}
	for _, raw := range valid {
		if _, err := ParseEntry(raw); err != nil {
			t.Errorf("ParseEntry(%q) failed: %v", raw, err)
		}
	}

	invalid := []string{
		"",
		"hostname.example.org",
		"192.0.2.0/33",
		"2001:db8::/129",
		"192.0.2.20-192.0.2.10",
		"192.0.2.1-2001:db8::1",
		"192.0.2.1-",
		"300.1.2.3",
	}
	for _, raw := range invalid {
		if _, err := ParseEntry(raw); err == nil {
			t.Errorf("ParseEntry(%q) unexpectedly succeeded", raw)
		}
	}
}

func TestContainsCIDR(t *testing.T) {
	tbl, err := New([]string{"192.0.2.0/24"})
	require.NoError(t, err)

	assert.True(t, tbl.Contains("192.0.2.0"))
	assert.True(t, tbl.Contains("192.0.2.140"))
	assert.True(t, tbl.Contains("192.0.2.255"))
	assert.False(t, tbl.Contains("192.0.3.0"))
	assert.False(t, tbl.Contains("192.0.1.255"))
	// a v6 address never matches a v4 row
	assert.False(t, tbl.Contains("2001:db8::c000:20a"))
}

func TestContainsWholeInternet(t *testing.T) {
	v4, err := New([]string{"0.0.0.0/0"})
	require.NoError(t, err)
	assert.True(t, v4.Contains("0.0.0.0"))
	assert.True(t, v4.Contains("255.255.255.255"))
	assert.True(t, v4.Contains("8.8.8.8"))
	assert.False(t, v4.Contains("2001:db8::1"))

	v6, err := New([]string{"::/0"})
	require.NoError(t, err)
	assert.True(t, v6.Contains("::"))
	assert.True(t, v6.Contains("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"))
	assert.False(t, v6.Contains("8.8.8.8"))
}

func TestContainsSingleHost(t *testing.T) {
	tbl, err := New([]string{"192.0.2.1/32", "2001:db8::1/128"})
	require.NoError(t, err)

	assert.True(t, tbl.Contains("192.0.2.1"))
	assert.False(t, tbl.Contains("192.0.2.2"))
	assert.False(t, tbl.Contains("192.0.2.0"))
	assert.True(t, tbl.Contains("2001:db8::1"))
	assert.False(t, tbl.Contains("2001:db8::2"))
}

func TestContainsRange(t *testing.T) {
	tbl, err := New([]string{"192.0.2.10-192.0.2.20"})
	require.NoError(t, err)

	assert.False(t, tbl.Contains("192.0.2.9"))
	assert.True(t, tbl.Contains("192.0.2.10"))
	assert.True(t, tbl.Contains("192.0.2.15"))
	assert.True(t, tbl.Contains("192.0.2.20"))
	assert.False(t, tbl.Contains("192.0.2.21"))
}

func TestContainsGarbageAddress(t *testing.T) {
	tbl, err := New([]string{"0.0.0.0/0"})
	require.NoError(t, err)

	assert.False(t, tbl.Contains(""))
	assert.False(t, tbl.Contains("not-an-ip"))
}

func TestMappedV4(t *testing.T) {
	tbl, err := New([]string{"192.0.2.0/24"})
	require.NoError(t, err)

	// v4-mapped form of an address inside the block
	assert.True(t, tbl.Contains("::ffff:192.0.2.7"))
}

func TestAddRemove(t *testing.T) {
	tbl, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Contains("192.0.2.1"))

	require.NoError(t, tbl.Add("192.0.2.0/24"))
	assert.True(t, tbl.Contains("192.0.2.1"))

	// duplicate rows collapse
	require.NoError(t, tbl.Add("192.0.2.0/24"))
	assert.Equal(t, 1, tbl.Len())

	// mutation must invalidate the cached verdict
	tbl.Remove("192.0.2.0/24")
	assert.False(t, tbl.Contains("192.0.2.1"))
	assert.Equal(t, 0, tbl.Len())

	require.Error(t, tbl.Add("not-an-entry"))
}

func TestEntries(t *testing.T) {
	tbl, err := New([]string{"192.0.2.0/24", "198.51.100.7"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"192.0.2.0/24", "198.51.100.7"}, tbl.Entries())
}

func TestIsTrusted(t *testing.T) {
	trusted := []string{
		"127.0.0.1",
		"127.255.0.3",
		"::1",
		"10.1.2.3",
		"172.16.0.1",
		"172.31.255.254",
		"192.168.1.1",
		"fc00::1",
		"fdff::1",
	}
	for _, ip := range trusted {
		assert.True(t, IsTrusted(ip), ip)
	}

	untrusted := []string{
		"203.0.113.7",
		"172.32.0.1",
		"11.0.0.1",
		"2001:db8::1",
		"",
		"garbage",
	}
	for _, ip := range untrusted {
		assert.False(t, IsTrusted(ip), ip)
	}
}
