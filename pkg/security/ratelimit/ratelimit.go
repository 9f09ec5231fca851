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

// Package ratelimit implements the fixed-window request counters behind
// the security gate. Keys are namespaced strings ("ip:203.0.113.7",
// "user:42", "global:put"); the namespace picks the window length.
// Counters live in an LRU cache and fall out after two minutes idle, so
// the table stays bounded no matter how many distinct clients show up.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

const (
	// PerMinute is the window for ip: and user: keys.
	PerMinute = time.Minute
	// PerSecond is the window for global: keys.
	PerSecond = time.Second

	bucketTTL   = 2 * time.Minute
	bucketCount = 16384
)

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Limiter counts requests per key in fixed windows. The window boundary
// reset is racy by construction: two requests crossing the boundary
// together may both pass, bounding the error by the number of in-flight
// requests, never by request volume.
type Limiter struct {
	buckets gcache.Cache
	now     func() time.Time
}

// New returns a limiter.
func New() *Limiter {
	l := &Limiter{now: time.Now}
	l.buckets = gcache.New(bucketCount).
		LRU().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			ttl := bucketTTL
			return &bucket{windowStart: l.now()}, &ttl, nil
		}).
		Build()
	return l
}

// WindowFor returns the window length the key's namespace selects.
func WindowFor(key string) time.Duration {
	if strings.HasPrefix(key, "global:") {
		return PerSecond
	}
	return PerMinute
}

// Allow consumes one unit of the key's budget and reports whether the
// request may proceed. A non-positive limit denies everything.
func (l *Limiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return false
	}

	v, err := l.buckets.Get(key)
	if err != nil {
		// loader only fails if we make it fail; deny to stay safe
		return false
	}
	b := v.(*bucket)
	window := WindowFor(key)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.windowStart) >= window {
		b.windowStart = now
		b.count = 0
		// keep hot buckets alive: one refresh per window
		ttl := bucketTTL
		_ = l.buckets.SetWithExpire(key, b, ttl)
	}
	if b.count >= limit {
		return false
	}
	b.count++
	return true
}

// Remaining returns how much budget the key has left in the current
// window. It does not consume anything.
func (l *Limiter) Remaining(key string, limit int) int {
	if limit <= 0 {
		return 0
	}
	v, err := l.buckets.GetIFPresent(key)
	if err != nil {
		return limit
	}
	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.now().Sub(b.windowStart) >= WindowFor(key) {
		return limit
	}
	if rem := limit - b.count; rem > 0 {
		return rem
	}
	return 0
}

// Size returns the number of live buckets.
func (l *Limiter) Size() int {
	return l.buckets.Len(true)
}
