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

package resolver

import (
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/auth/revocation"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm/pool"
	tokenmgr "github.com/davgate/davgate/pkg/token/manager/registry"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/pkg/errors"
)

// SharedConfig is the [auth] section of the daemon config.
type SharedConfig struct {
	// Endpoint overrides the shared backend address.
	Endpoint             string                            `mapstructure:"endpoint"`
	TokenManager         string                            `mapstructure:"token_manager"`
	TokenManagers        map[string]map[string]interface{} `mapstructure:"token_managers"`
	CacheSize            int                               `mapstructure:"cache_size"`
	CacheTTLMinutes      int                               `mapstructure:"cache_ttl_minutes"`
	RevocationTTLMinutes int                               `mapstructure:"revocation_ttl_minutes"`
}

// ApplyDefaults fills the zero values.
func (c *SharedConfig) ApplyDefaults() {
	if c.TokenManager == "" {
		c.TokenManager = "jwt"
	}
}

var (
	sharedMu      sync.RWMutex
	shared        *Resolver
	sharedChecker *revocation.Checker
)

// Setup builds the process-wide resolver: backend client from the pool,
// token manager from the registry, revocation checker, verdict cache.
// Calling it again replaces the resolver; only boot and tests do that.
func Setup(m map[string]interface{}) error {
	var c SharedConfig
	if err := cfg.Decode(m, &c); err != nil {
		return errors.Wrap(err, "resolver: error decoding config")
	}

	client, err := pool.GetClient(pool.Endpoint(c.Endpoint))
	if err != nil {
		return errors.Wrap(err, "resolver: error getting backend client")
	}

	newTokenManager, ok := tokenmgr.NewFuncs[c.TokenManager]
	if !ok {
		return errtypes.NotFound("resolver: token manager not registered: " + c.TokenManager)
	}
	tm, err := newTokenManager(c.TokenManagers[c.TokenManager])
	if err != nil {
		return errors.Wrap(err, "resolver: error creating token manager")
	}

	revocationTTL := revocation.DefaultTTL
	if c.RevocationTTLMinutes > 0 {
		revocationTTL = time.Duration(c.RevocationTTLMinutes) * time.Minute
	}
	checker := revocation.New(client, revocationTTL)

	opts := []Option{}
	if c.CacheSize > 0 {
		opts = append(opts, WithCacheSize(c.CacheSize))
	}
	if c.CacheTTLMinutes > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.CacheTTLMinutes)*time.Minute))
	}
	r := New(client, tm, checker, opts...)

	sharedMu.Lock()
	oldChecker := sharedChecker
	shared = r
	sharedChecker = checker
	sharedMu.Unlock()

	if oldChecker != nil {
		oldChecker.Close()
	}
	return nil
}

// Shared returns the process-wide resolver, or nil when Setup has not
// run.
func Shared() *Resolver {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return shared
}
