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

// Package sqlite persists audit events to a local SQLite database for
// deployments that need to query history after the fact.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/security/audit/registry"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	// Provides the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	registry.Register("sqlite", New)
}

const schema = `
CREATE TABLE IF NOT EXISTS security_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_time TIMESTAMP NOT NULL,
	severity TEXT NOT NULL,
	event_type TEXT NOT NULL,
	client_ip TEXT,
	username TEXT,
	user_agent TEXT,
	path TEXT,
	method TEXT,
	details TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_audit_time ON security_audit (event_time);
CREATE INDEX IF NOT EXISTS idx_security_audit_type ON security_audit (event_type);
`

type config struct {
	File string `mapstructure:"file"`
}

type sink struct {
	db     *sql.DB
	insert *sql.Stmt
}

// New opens (and if needed creates) the database file given in the
// "file" key of the config.
func New(m map[string]interface{}, _ *zerolog.Logger) (audit.Sink, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "sqlite: error decoding conf")
	}
	if c.File == "" {
		return nil, errors.New("sqlite: file is not set")
	}

	db, err := sql.Open("sqlite3", c.File)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: error opening db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: error creating schema")
	}

	insert, err := db.Prepare(`INSERT INTO security_audit
		(event_time, severity, event_type, client_ip, username, user_agent, path, method, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: error preparing insert")
	}

	return &sink{db: db, insert: insert}, nil
}

func (s *sink) Write(ctx context.Context, ev audit.Event) error {
	_, err := s.insert.ExecContext(ctx,
		ev.Time, string(ev.Level), string(ev.Type),
		ev.ClientIP, ev.Username, ev.UserAgent,
		ev.Path, ev.Method, ev.Details)
	if err != nil {
		return errors.Wrap(err, "sqlite: error inserting event")
	}
	return nil
}

func (s *sink) Close() error {
	s.insert.Close()
	return s.db.Close()
}
