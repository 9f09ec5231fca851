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

package session

import (
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/pkg/errors"
)

// DefaultTTL is the idle lifetime of a session when the config does not
// set one. Short on purpose: the store bridges request gaps, it is not
// a login session.
const DefaultTTL = 5 * time.Minute

// Config is the [session] section of the daemon config.
type Config struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.TTLSeconds == 0 {
		c.TTLSeconds = int(DefaultTTL / time.Second)
	}
}

var (
	sharedMu sync.RWMutex
	shared   *Store
)

// Setup builds the process-wide session store. Calling it again
// replaces the previous store; only boot and tests do that.
func Setup(m map[string]interface{}) error {
	var c Config
	if err := cfg.Decode(m, &c); err != nil {
		return errors.Wrap(err, "session: error decoding config")
	}

	s := New(time.Duration(c.TTLSeconds) * time.Second)

	sharedMu.Lock()
	old := shared
	shared = s
	sharedMu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Shared returns the process-wide store, or nil when Setup has not run.
func Shared() *Store {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	return shared
}
