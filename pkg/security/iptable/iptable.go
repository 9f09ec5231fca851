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

// Package iptable implements the address allow and deny tables consulted
// by the security gate. Entries are CIDR blocks, dashed ranges or single
// addresses; membership checks run against a per-address cache so the
// hot path does not rescan ranges on every request.
package iptable

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"
)

const lookupCacheSize = 4096

// entry is one parsed table row. start and end are inclusive and always
// of the same address family.
type entry struct {
	raw   string
	start netip.Addr
	end   netip.Addr
}

func (e entry) contains(a netip.Addr) bool {
	if a.Is4() != e.start.Is4() {
		return false
	}
	return e.start.Compare(a) <= 0 && a.Compare(e.end) <= 0
}

// ParseEntry parses a single table row: "192.0.2.0/24",
// "192.0.2.10-192.0.2.20" or "192.0.2.10".
func ParseEntry(raw string) (entry, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return entry{}, errors.New("iptable: empty entry")
	}

	switch {
	case strings.Contains(s, "/"):
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return entry{}, errors.Wrapf(err, "iptable: bad cidr %q", raw)
		}
		bits := p.Bits()
		max := 32
		if p.Addr().Is6() {
			max = 128
		}
		if bits < 0 || bits > max {
			return entry{}, fmt.Errorf("iptable: bad prefix length %d in %q", bits, raw)
		}
		return entry{raw: s, start: prefixFirst(p), end: prefixLast(p)}, nil

	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		lo, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
		if err != nil {
			return entry{}, errors.Wrapf(err, "iptable: bad range start in %q", raw)
		}
		hi, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
		if err != nil {
			return entry{}, errors.Wrapf(err, "iptable: bad range end in %q", raw)
		}
		if lo.Is4() != hi.Is4() {
			return entry{}, fmt.Errorf("iptable: mixed address families in %q", raw)
		}
		if hi.Compare(lo) < 0 {
			return entry{}, fmt.Errorf("iptable: range end before start in %q", raw)
		}
		return entry{raw: s, start: lo, end: hi}, nil

	default:
		a, err := netip.ParseAddr(s)
		if err != nil {
			return entry{}, errors.Wrapf(err, "iptable: bad address %q", raw)
		}
		return entry{raw: s, start: a, end: a}, nil
	}
}

func prefixFirst(p netip.Prefix) netip.Addr {
	return p.Masked().Addr()
}

func prefixLast(p netip.Prefix) netip.Addr {
	a := p.Masked().Addr()
	bytes := a.As16()
	bits := p.Bits()
	if a.Is4() {
		bits += 96
	}
	for b := bits; b < 128; b++ {
		bytes[b/8] |= 1 << uint(7-b%8)
	}
	out := netip.AddrFrom16(bytes)
	if a.Is4() {
		return out.Unmap()
	}
	return out
}

// Table is one allow or deny list. Mutations copy the entry slice so
// readers never observe a half-applied update; the lookup cache is
// dropped on every mutation.
type Table struct {
	mu      sync.RWMutex
	entries []entry
	cache   gcache.Cache
}

// New builds a table from raw rows. Bad rows fail construction so a typo
// in the config cannot silently shrink a deny list.
func New(raws []string) (*Table, error) {
	t := &Table{
		cache: gcache.New(lookupCacheSize).LRU().Build(),
	}
	for _, raw := range raws {
		if err := t.Add(raw); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add parses and appends one row.
func (t *Table) Add(raw string) error {
	e, err := ParseEntry(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ex := range t.entries {
		if ex.raw == e.raw {
			return nil
		}
	}
	next := make([]entry, len(t.entries), len(t.entries)+1)
	copy(next, t.entries)
	t.entries = append(next, e)
	t.cache.Purge()
	return nil
}

// Remove drops the row matching the raw form. Removing an absent row is
// not an error.
func (t *Table) Remove(raw string) {
	s := strings.TrimSpace(raw)
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.raw != s {
			next = append(next, e)
		}
	}
	t.entries = next
	t.cache.Purge()
}

// Contains reports whether the address falls in any row. Unparseable
// addresses are never contained.
func (t *Table) Contains(ip string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	a = a.Unmap()

	key := a.String()
	if v, err := t.cache.Get(key); err == nil {
		return v.(bool)
	}

	t.mu.RLock()
	entries := t.entries
	t.mu.RUnlock()

	hit := false
	for _, e := range entries {
		if e.contains(a) {
			hit = true
			break
		}
	}
	_ = t.cache.Set(key, hit)
	return hit
}

// Entries returns the raw rows currently in the table.
func (t *Table) Entries() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.raw
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// trustedNets are the implicit members of every allow-list: loopback,
// RFC 1918 and unique-local ranges. Enabling allow-list mode must not
// cut off operators reaching the gateway over internal networks.
var trustedNets = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

// IsTrusted reports whether the address belongs to the implicit
// operator networks.
func IsTrusted(ip string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trustedNets {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
