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

package pathmap

import (
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/pkg/errors"
)

// Config is the [pathmap] section of the daemon config.
type Config struct {
	CacheSize         int `mapstructure:"cache_size"`
	CacheTTLMinutes   int `mapstructure:"cache_ttl_minutes"`
	ListingTTLMinutes int `mapstructure:"listing_ttl_minutes"`
}

var (
	sharedMu sync.RWMutex
	shared   *Engine
)

// Setup builds the process-wide mapping engine on top of the given
// backend client. Calling it again replaces the engine; only boot and
// tests do that.
func Setup(client fm.Client, m map[string]interface{}) error {
	var c Config
	if err := cfg.Decode(m, &c); err != nil {
		return errors.Wrap(err, "pathmap: error decoding config")
	}

	opts := []Option{}
	if c.CacheSize > 0 {
		opts = append(opts, WithCacheSize(c.CacheSize))
	}
	if c.CacheTTLMinutes > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.CacheTTLMinutes)*time.Minute))
	}
	if c.ListingTTLMinutes > 0 {
		opts = append(opts, WithListingTTL(time.Duration(c.ListingTTLMinutes)*time.Minute))
	}

	e := New(client, opts...)

	sharedMu.Lock()
	shared = e
	sharedMu.Unlock()
	return nil
}

// Shared returns the process-wide engine, or nil when Setup has not
// run.
func Shared() *Engine {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return shared
}
