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

// Package logger writes audit events to the process log. It is the
// default sink: no extra infrastructure, one structured record per event.
package logger

import (
	"context"

	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/security/audit/registry"
	"github.com/rs/zerolog"
)

func init() {
	registry.Register("logger", New)
}

type sink struct {
	log zerolog.Logger
}

// New returns a sink writing to the given logger.
func New(m map[string]interface{}, log *zerolog.Logger) (audit.Sink, error) {
	l := log.With().Str("channel", "audit").Logger()
	return &sink{log: l}, nil
}

func (s *sink) Write(ctx context.Context, ev audit.Event) error {
	var rec *zerolog.Event
	switch ev.Level {
	case audit.LevelWarn:
		rec = s.log.Warn()
	case audit.LevelError, audit.LevelCritical:
		rec = s.log.Error()
	default:
		rec = s.log.Info()
	}
	rec.Time("event_time", ev.Time).
		Str("severity", string(ev.Level)).
		Str("event_type", string(ev.Type)).
		Str("client_ip", ev.ClientIP).
		Str("username", ev.Username).
		Str("user_agent", ev.UserAgent).
		Str("path", ev.Path).
		Str("method", ev.Method).
		Str("details", ev.Details).
		Msg("security event")
	return nil
}

func (s *sink) Close() error { return nil }
