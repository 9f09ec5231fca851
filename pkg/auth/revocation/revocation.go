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

// Package revocation caches token revocation verdicts from the backend.
// Signature checks are local and cheap; the revocation answer is the one
// part of token validation that needs a round-trip, so verdicts are kept
// in a TTL cache keyed by token hash. Both answers are cached: a revoked
// token keeps being rejected from the cache without further calls.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/davgate/davgate/pkg/fm"
	"github.com/jellydator/ttlcache/v2"
)

// DefaultTTL bounds how long a verdict is trusted before the backend is
// asked again.
const DefaultTTL = 5 * time.Minute

// Checker implements auth.RevocationChecker over the backend RPC.
type Checker struct {
	client fm.Client
	cache  *ttlcache.Cache
	ttl    time.Duration
}

// New returns a checker with the given verdict TTL.
func New(client fm.Client, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := ttlcache.NewCache()
	_ = c.SetTTL(ttl)
	// verdicts must age out on schedule, a hit does not renew them
	c.SkipTTLExtensionOnHit(true)
	return &Checker{client: client, cache: c, ttl: ttl}
}

// key hashes the token; the plaintext never enters the cache.
func key(tkn string) string {
	h := sha256.Sum256([]byte(tkn))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Revoked consults the cache and falls back to the backend. The cached
// verdict lives for the configured TTL, capped by the token's remaining
// lifetime. Backend failures are returned as-is and never cached.
func (c *Checker) Revoked(ctx context.Context, tkn, tokenID, userID string, expiresAt time.Time) (bool, error) {
	k := key(tkn)
	if v, err := c.cache.Get(k); err == nil {
		if revoked, ok := v.(bool); ok {
			return revoked, nil
		}
	}

	revoked, err := c.client.CheckTokenRevocation(ctx, tkn, tokenID, userID)
	if err != nil {
		return false, err
	}

	ttl := c.ttl
	if !expiresAt.IsZero() {
		if remaining := time.Until(expiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		_ = c.cache.SetWithTTL(k, revoked, ttl)
	}
	return revoked, nil
}

// Count returns the number of cached verdicts.
func (c *Checker) Count() int {
	return c.cache.Count()
}

// Purge drops every cached verdict.
func (c *Checker) Purge() {
	_ = c.cache.Purge()
}

// Close stops the sweeper goroutine of the underlying cache.
func (c *Checker) Close() {
	_ = c.cache.Close()
}
