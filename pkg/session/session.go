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

// Package session remembers which principal last authenticated from a
// given client. WebDAV clients do not reliably resend credentials on
// every request, so the gateway keeps a short-lived association between
// the client fingerprint and the principal to recover identity for
// requests that arrive bare. Entries are only ever written after a
// successful authentication; the store never creates authority on its
// own.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/auth"
	"github.com/jellydator/ttlcache/v2"
)

// Key derives the session key from the client address and user agent.
// The raw values never leave this function; only the digest is stored.
func Key(clientIP, userAgent string) string {
	h := sha256.Sum256([]byte(clientIP + "|" + userAgent))
	return hex.EncodeToString(h[:])
}

// Store is a TTL map from session key to the principal that last
// authenticated under it. The TTL slides on lookup so active sessions
// stay alive and idle ones fall out.
type Store struct {
	cache *ttlcache.Cache

	mu     sync.RWMutex
	recent *auth.Principal
}

// New returns a session store with the given idle TTL.
func New(ttl time.Duration) *Store {
	c := ttlcache.NewCache()
	_ = c.SetTTL(ttl)
	return &Store{cache: c}
}

// Record stores the principal under the session derived from the client
// fingerprint and updates the most-recent slot.
func (s *Store) Record(clientIP, userAgent string, p *auth.Principal) {
	if p == nil {
		return
	}
	_ = s.cache.Set(Key(clientIP, userAgent), p)
	s.mu.Lock()
	s.recent = p
	s.mu.Unlock()
}

// Lookup returns the principal recorded for the client fingerprint.
func (s *Store) Lookup(clientIP, userAgent string) (*auth.Principal, bool) {
	v, err := s.cache.Get(Key(clientIP, userAgent))
	if err != nil {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}

// MostRecent returns the principal of the most recent successful
// authentication on this process, regardless of session.
func (s *Store) MostRecent() (*auth.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.recent == nil {
		return nil, false
	}
	return s.recent, true
}

// InvalidateUser drops every session belonging to the given user id.
func (s *Store) InvalidateUser(userID string) {
	for _, k := range s.cache.GetKeys() {
		v, err := s.cache.Get(k)
		if err != nil {
			continue
		}
		if p, ok := v.(*auth.Principal); ok && p.ID == userID {
			_ = s.cache.Remove(k)
		}
	}
	s.mu.Lock()
	if s.recent != nil && s.recent.ID == userID {
		s.recent = nil
	}
	s.mu.Unlock()
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	return s.cache.Count()
}

// Close stops the sweeper goroutine of the underlying cache.
func (s *Store) Close() {
	_ = s.cache.Close()
}
