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

// Package security owns the process-wide edge protection state: one
// audit pipeline and one gate, shared by the HTTP middleware, the gRPC
// interceptor and the admin surfaces. The daemon initializes it once at
// boot from the [security] config section, before any server starts.
package security

import (
	"sync"

	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/security/audit/registry"
	"github.com/davgate/davgate/pkg/security/gate"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the [security] section of the daemon config.
type Config struct {
	Gate  gate.Config                       `mapstructure:"gate"`
	Audit audit.Config                      `mapstructure:"audit"`
	Sink  string                            `mapstructure:"sink"`
	Sinks map[string]map[string]interface{} `mapstructure:"sinks"`
}

// ApplyDefaults fills the zero values.
func (c *Config) ApplyDefaults() {
	if c.Sink == "" {
		c.Sink = "logger"
	}
}

var (
	mu      sync.RWMutex
	auditor *audit.Manager
	shared  *gate.Gate
)

// Setup builds the shared audit pipeline and gate. Calling it again
// replaces the previous pipeline after flushing it; only the daemon
// boot sequence and tests do that.
func Setup(m map[string]interface{}, log *zerolog.Logger) error {
	var c Config
	if err := cfg.Decode(m, &c); err != nil {
		return errors.Wrap(err, "security: error decoding config")
	}

	newSink, ok := registry.NewFuncs[c.Sink]
	if !ok {
		return errtypes.NotFound("security: audit sink not registered: " + c.Sink)
	}
	snk, err := newSink(c.Sinks[c.Sink], log)
	if err != nil {
		return errors.Wrap(err, "security: error creating audit sink")
	}

	a := audit.New(c.Audit, snk, log)
	g, err := gate.New(&c.Gate, a)
	if err != nil {
		_ = a.Close()
		return errors.Wrap(err, "security: error creating gate")
	}

	// an address that keeps sending malicious requests blacklists itself
	a.OnCritical(func(clientIP string) {
		if err := g.BlockIP(clientIP); err != nil {
			log.Error().Err(err).Str("ip", clientIP).Msg("security: error auto-blacklisting address")
			return
		}
		log.Warn().Str("ip", clientIP).Msg("security: address auto-blacklisted after repeated malicious requests")
	})

	mu.Lock()
	old := auditor
	auditor = a
	shared = g
	mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Error().Err(err).Msg("security: error closing previous audit pipeline")
		}
	}
	return nil
}

// Gate returns the shared gate, or nil when Setup has not run.
func Gate() *gate.Gate {
	mu.RLock()
	defer mu.RUnlock()
	return shared
}

// Auditor returns the shared audit manager, or nil when Setup has not
// run.
func Auditor() *audit.Manager {
	mu.RLock()
	defer mu.RUnlock()
	return auditor
}

// Close flushes the audit queue. The daemon calls it on shutdown.
func Close() error {
	mu.Lock()
	a := auditor
	auditor = nil
	shared = nil
	mu.Unlock()
	if a == nil {
		return nil
	}
	return a.Close()
}
