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

import "sync"

// DefaultRingSize bounds the in-memory tail of recent events kept for
// the admin surface.
const DefaultRingSize = 256

// ring keeps the last n events. It holds whatever Emit accepted, masked
// or not, so the admin surface sees the same data the sink does.
type ring struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

func newRing(n int) *ring {
	if n <= 0 {
		n = DefaultRingSize
	}
	return &ring{buf: make([]Event, n)}
}

func (r *ring) add(ev Event) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns the buffered events oldest first, capped at limit
// newest entries when limit is positive.
func (r *ring) snapshot(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Recent returns up to limit of the most recent events, oldest first.
// A non-positive limit returns everything the ring holds.
func (m *Manager) Recent(limit int) []Event {
	return m.ring.snapshot(limit)
}
