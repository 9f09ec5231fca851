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

// Package admin exposes the operator surface of the gateway: IP table
// management, per-user cache invalidation, runtime stats, the recent
// audit tail and the webdav suspension switch. Every route except the
// liveness probe requires the X-Admin-Secret header, verified against
// an argon2id hash, so the surface keeps working while the backend and
// with it user authentication are down.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/utils/cfg"
	netutil "github.com/davgate/davgate/pkg/utils/net"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func init() {
	global.Register("admin", New)
}

type config struct {
	Prefix string `mapstructure:"prefix"`
	// SecretHash is the argon2id hash of the admin secret. The plain
	// secret never appears in configuration.
	SecretHash string `mapstructure:"secret_hash" validate:"required"`
	AuditLimit int    `mapstructure:"audit_limit"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "admin"
	}
	if c.AuditLimit <= 0 {
		c.AuditLimit = 50
	}
}

type svc struct {
	conf    *config
	router  *chi.Mux
	log     *zerolog.Logger
	started time.Time
}

// New returns the admin service. A secret_hash that does not parse as
// an argon2id hash refuses to start the daemon, so a locked-out admin
// surface shows up at boot instead of at the first incident.
func New(m map[string]interface{}, log *zerolog.Logger) (global.Service, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}
	if _, err := argon2id.ComparePasswordAndHash("", c.SecretHash); err != nil {
		return nil, errors.Wrap(err, "admin: secret_hash is not an argon2id hash")
	}

	s := &svc{
		conf:    &c,
		router:  chi.NewRouter(),
		log:     log,
		started: time.Now(),
	}
	s.routerInit()
	return s, nil
}

func (s *svc) routerInit() {
	s.router.Get("/healthz", s.health)
	s.router.Group(func(r chi.Router) {
		r.Use(s.guard)
		r.Get("/version", s.buildVersion)
		r.Get("/stats", s.stats)
		r.Get("/audit", s.auditTail)
		r.Get("/ips/{table}", s.listIPs)
		r.Post("/ips/{table}", s.addIP)
		r.Delete("/ips/{table}", s.removeIP)
		r.Post("/cache/invalidate", s.invalidateUser)
		r.Get("/service/webdav", s.webdavState)
		r.Post("/service/webdav/enable", s.webdavEnable)
		r.Post("/service/webdav/disable", s.webdavDisable)
	})
}

func (s *svc) Handler() http.Handler { return s.router }

func (s *svc) Prefix() string { return s.conf.Prefix }

func (s *svc) Close() error { return nil }

// Unprotected exempts the whole prefix from user authentication; the
// guard middleware protects it instead. Admin access must not depend
// on the backend being reachable.
func (s *svc) Unprotected() []string { return []string{"/"} }

// guard admits a request only when X-Admin-Secret matches the
// configured hash. Failures count toward the gate's escalation
// counters like any other credential failure.
func (s *svc) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := argon2id.ComparePasswordAndHash(r.Header.Get("X-Admin-Secret"), s.conf.SecretHash)
		if err != nil || !ok {
			ip := netutil.ExtractClientIP(r)
			if g := security.Gate(); g != nil {
				g.RecordAuthFailure(ip)
			}
			if a := security.Auditor(); a != nil {
				a.Emit(audit.Event{
					Level:     audit.LevelWarn,
					Type:      audit.AuthorizationFailure,
					ClientIP:  ip,
					UserAgent: r.UserAgent(),
					Path:      r.URL.Path,
					Method:    r.Method,
					Details:   "admin secret missing or wrong",
				})
			}
			s.errJSON(w, http.StatusForbidden, "admin secret missing or wrong")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordAction puts one admin mutation on the audit trail.
func (s *svc) recordAction(r *http.Request, details string) {
	a := security.Auditor()
	if a == nil {
		return
	}
	a.Emit(audit.Event{
		Type:     audit.AdminAction,
		ClientIP: netutil.ExtractClientIP(r),
		Path:     r.URL.Path,
		Method:   r.Method,
		Details:  details,
	})
}

func (s *svc) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("admin: error writing response")
	}
}

func (s *svc) errJSON(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
