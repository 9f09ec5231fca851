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

// Package resolver turns raw credentials into a Principal.
//
// The secret decides the route: a value shaped like a three-segment
// bearer token goes through local signature verification plus an
// upstream revocation check, anything else is a password verified by the
// backend. Password verdicts are cached under an opaque digest so
// repeated WebDAV requests do not hammer the backend; the plaintext
// secret is never stored.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/token"
)

// Auth cache defaults: entries are small, so a few thousand covers a
// busy gateway, and minutes-long verdicts keep a password change from
// lingering.
const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

// CacheKey derives the opaque auth-cache key. Only this digest ever
// reaches the cache.
func CacheKey(username, secret string) string {
	h := sha256.Sum256([]byte(username + ":" + secret))
	return base64.StdEncoding.EncodeToString(h[:])
}

// IsBearerToken classifies a secret by shape: three non-empty
// dot-delimited base64url segments. Stable and cheap, and it spares the
// client a separate auth-method field.
func IsBearerToken(secret string) bool {
	parts := strings.Split(secret, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

// entry is one cached password verdict. Failures are cached too, with
// authenticated left false, so a wrong password cannot be retried
// against the backend at line rate.
type entry struct {
	userID        string
	username      string
	role          string
	authenticated bool
	createdAt     time.Time
}

// Resolver implements auth.Resolver.
type Resolver struct {
	client   fm.Client
	tokenmgr token.Manager
	revoked  auth.RevocationChecker
	cache    gcache.Cache
	ttl      time.Duration
}

// Option tunes the resolver.
type Option func(*Resolver)

// WithCacheSize bounds the auth cache capacity.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cache = gcache.New(n).LRU().Build()
		}
	}
}

// WithCacheTTL bounds how long a password verdict is trusted.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// New builds a resolver over the backend client, the token manager and
// the revocation checker.
func New(client fm.Client, tm token.Manager, rc auth.RevocationChecker, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		tokenmgr: tm,
		revoked:  rc,
		cache:    gcache.New(DefaultCacheSize).LRU().Build(),
		ttl:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies the secret and runs the matching path.
func (r *Resolver) Resolve(ctx context.Context, creds *auth.Credentials) (*auth.Principal, error) {
	if creds == nil || creds.Secret == "" {
		return nil, errtypes.InvalidCredentials("missing credentials")
	}
	if IsBearerToken(creds.Secret) {
		return r.resolveToken(ctx, creds)
	}
	return r.resolvePassword(ctx, creds)
}

func (r *Resolver) resolvePassword(ctx context.Context, creds *auth.Credentials) (*auth.Principal, error) {
	log := appctx.GetLogger(ctx)
	k := CacheKey(creds.Username, creds.Secret)

	if v, err := r.cache.Get(k); err == nil {
		if e, ok := v.(*entry); ok {
			if !e.authenticated {
				log.Debug().Str("user", creds.Username).Msg("auth cache hit: cached rejection")
				return nil, errtypes.InvalidCredentials("rejected by cached verdict")
			}
			log.Debug().Str("user", creds.Username).Msg("auth cache hit")
			return &auth.Principal{ID: e.userID, Username: e.username, Role: e.role}, nil
		}
	}

	res, err := r.client.Authenticate(ctx, creds.Username, creds.Secret)
	if err != nil {
		if _, ok := err.(errtypes.IsInvalidCredentials); ok {
			_ = r.cache.SetWithExpire(k, &entry{username: creds.Username, createdAt: time.Now()}, r.ttl)
			return nil, err
		}
		// transient upstream trouble is never cached
		return nil, err
	}

	e := &entry{
		userID:        res.UserID,
		username:      res.Username,
		role:          res.Role,
		authenticated: true,
		createdAt:     time.Now(),
	}
	_ = r.cache.SetWithExpire(k, e, r.ttl)
	return &auth.Principal{ID: e.userID, Username: e.username, Role: e.role}, nil
}

func (r *Resolver) resolveToken(ctx context.Context, creds *auth.Credentials) (*auth.Principal, error) {
	p, cl, err := r.tokenmgr.DismantleToken(ctx, creds.Secret)
	if err != nil {
		return nil, err
	}

	// the username presented next to the token must name the same
	// account; checked before revocation so a mismatch costs no RPC
	if creds.Username != "" && !strings.EqualFold(creds.Username, p.Username) {
		return nil, errtypes.UsernameMismatch("username does not match token subject")
	}

	if r.revoked != nil {
		revoked, err := r.revoked.Revoked(ctx, creds.Secret, cl.ID, p.ID, cl.ExpiresAt)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, errtypes.TokenRevoked("token was revoked upstream")
		}
	}
	return p, nil
}

// InvalidateUser drops every cached verdict belonging to the given user
// id. Called on password changes and admin cache flushes.
func (r *Resolver) InvalidateUser(userID string) {
	for _, k := range r.cache.Keys(false) {
		v, err := r.cache.GetIFPresent(k)
		if err != nil {
			continue
		}
		if e, ok := v.(*entry); ok && e.userID == userID {
			r.cache.Remove(k)
		}
	}
}

// CacheLen returns the number of live auth-cache entries.
func (r *Resolver) CacheLen() int {
	return r.cache.Len(true)
}

// PurgeCache drops the whole auth cache.
func (r *Resolver) PurgeCache() {
	r.cache.Purge()
}
