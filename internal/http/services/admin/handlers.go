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

package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/davgate/davgate/internal/http/services/fmdav"
	"github.com/davgate/davgate/pkg/auth/resolver"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/security/gate"
	"github.com/davgate/davgate/pkg/session"
	"github.com/davgate/davgate/pkg/version"
	"github.com/go-chi/chi/v5"
)

func (s *svc) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *svc) buildVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"git_commit": version.GitCommit,
		"build_date": version.BuildDate,
		"go_version": version.GoVersion(),
	})
}

type statsResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	WebDAVEnabled bool           `json:"webdav_enabled"`
	Gate          map[string]int `json:"gate,omitempty"`
	// Pointer fields distinguish an empty cache from a subsystem that
	// was never set up.
	CredentialCache *int           `json:"credential_cache_entries,omitempty"`
	SessionSlots    *int           `json:"session_slots,omitempty"`
	PathCache       *pathmap.Stats `json:"path_cache,omitempty"`
}

func (s *svc) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WebDAVEnabled: fmdav.Enabled(),
	}
	if g := security.Gate(); g != nil {
		resp.Gate = g.Stats()
	}
	if res := resolver.Shared(); res != nil {
		n := res.CacheLen()
		resp.CredentialCache = &n
	}
	if st := session.Shared(); st != nil {
		n := st.Count()
		resp.SessionSlots = &n
	}
	if e := pathmap.Shared(); e != nil {
		ps := e.CacheStats()
		resp.PathCache = &ps
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *svc) auditTail(w http.ResponseWriter, r *http.Request) {
	a := security.Auditor()
	if a == nil {
		s.errJSON(w, http.StatusServiceUnavailable, "audit pipeline not configured")
		return
	}
	limit := s.conf.AuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errJSON(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events := a.Recent(limit)
	if events == nil {
		events = []audit.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ipTable binds one of the two runtime IP lists to its route name.
type ipTable struct {
	entries func() []string
	add     func(string) error
	remove  func(string)
}

func tableFor(g *gate.Gate, name string) (ipTable, bool) {
	switch name {
	case "deny":
		return ipTable{entries: g.Denylist, add: g.BlockIP, remove: g.UnblockIP}, true
	case "allow":
		return ipTable{entries: g.Allowlist, add: g.AllowIP, remove: g.DisallowIP}, true
	default:
		return ipTable{}, false
	}
}

func (s *svc) withTable(w http.ResponseWriter, r *http.Request) (ipTable, bool) {
	g := security.Gate()
	if g == nil {
		s.errJSON(w, http.StatusServiceUnavailable, "gate not configured")
		return ipTable{}, false
	}
	t, ok := tableFor(g, chi.URLParam(r, "table"))
	if !ok {
		s.errJSON(w, http.StatusNotFound, "unknown ip table, use deny or allow")
		return ipTable{}, false
	}
	return t, true
}

func (s *svc) listIPs(w http.ResponseWriter, r *http.Request) {
	t, ok := s.withTable(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": t.entries()})
}

func (s *svc) addIP(w http.ResponseWriter, r *http.Request) {
	t, ok := s.withTable(w, r)
	if !ok {
		return
	}
	var body struct {
		Entry string `json:"entry"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil || body.Entry == "" {
		s.errJSON(w, http.StatusBadRequest, `body must be {"entry": "<ip or cidr>"}`)
		return
	}
	if err := t.add(body.Entry); err != nil {
		s.errJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	s.recordAction(r, "added "+body.Entry+" to "+chi.URLParam(r, "table")+" list")
	w.WriteHeader(http.StatusNoContent)
}

func (s *svc) removeIP(w http.ResponseWriter, r *http.Request) {
	t, ok := s.withTable(w, r)
	if !ok {
		return
	}
	// CIDR entries contain a slash, so the entry travels as a query
	// parameter rather than a path segment.
	entry := r.URL.Query().Get("entry")
	if entry == "" {
		s.errJSON(w, http.StatusBadRequest, "missing entry query parameter")
		return
	}
	t.remove(entry)
	s.recordAction(r, "removed "+entry+" from "+chi.URLParam(r, "table")+" list")
	w.WriteHeader(http.StatusNoContent)
}

// invalidateUser flushes one user from every cache the gateway keeps:
// credential verdicts, session slots and the path map. Used after a
// password change or a forced logout on the backend.
func (s *svc) invalidateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil || body.UserID == "" {
		s.errJSON(w, http.StatusBadRequest, `body must be {"user_id": "<backend id>"}`)
		return
	}
	uid, err := strconv.ParseUint(body.UserID, 10, 64)
	if err != nil {
		s.errJSON(w, http.StatusBadRequest, "user_id must be a decimal backend id")
		return
	}

	var cleared struct {
		Credentials bool `json:"credentials"`
		Sessions    bool `json:"sessions"`
		Paths       bool `json:"paths"`
	}
	if res := resolver.Shared(); res != nil {
		res.InvalidateUser(body.UserID)
		cleared.Credentials = true
	}
	if st := session.Shared(); st != nil {
		st.InvalidateUser(body.UserID)
		cleared.Sessions = true
	}
	if e := pathmap.Shared(); e != nil {
		e.ClearUser(uid)
		cleared.Paths = true
	}
	s.recordAction(r, "invalidated caches for user "+body.UserID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": body.UserID,
		"cleared": cleared,
	})
}

func (s *svc) webdavState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": fmdav.Enabled()})
}

func (s *svc) webdavEnable(w http.ResponseWriter, r *http.Request)  { s.toggleWebDAV(w, r, true) }
func (s *svc) webdavDisable(w http.ResponseWriter, r *http.Request) { s.toggleWebDAV(w, r, false) }

// toggleWebDAV flips the suspension switch. Repeating a toggle is a
// no-op that still answers 200, so scripts converge on a state without
// reading it first.
func (s *svc) toggleWebDAV(w http.ResponseWriter, r *http.Request, enable bool) {
	changed := fmdav.Enabled() != enable
	if enable {
		fmdav.Enable()
	} else {
		fmdav.Disable()
	}
	if changed {
		verb := "suspended"
		if enable {
			verb = "resumed"
		}
		s.recordAction(r, "webdav access "+verb)
		s.log.Info().Bool("enabled", enable).Msg("admin: webdav toggled")
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enable})
}
