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

// Package gate rejects abusive requests before credentials are read.
// It runs outside auth on purpose: blocked addresses and rate limited
// clients never get to exercise the authentication path.
package gate

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/davgate/davgate/pkg/appctx"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/gate"
	"github.com/davgate/davgate/pkg/session"
)

// ReasonHeader names the gate action on denied responses so clients and
// tests can tell a rate limit from a block without parsing the body.
const ReasonHeader = "X-Security-Reason"

type denial struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// New creates the gate middleware. The gate itself is tuned in the
// [security] section at boot; the middleware has no config of its own.
func New(_ map[string]interface{}) (global.Middleware, error) {
	return handler, nil
}

func handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := security.Gate()
		if g == nil {
			// no [security] section at boot, edge protection is off.
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip, _ := dctx.ContextGetClientIP(ctx)
		agent, _ := dctx.ContextGetUserAgentString(ctx)

		// the principal is not resolved yet at this point in the chain;
		// recover the username from the session store so per user limits
		// apply to requests that will authenticate from cache.
		var username string
		if st := session.Shared(); st != nil {
			if p, ok := st.Lookup(ip, agent); ok {
				username = p.Username
			}
		}

		d := g.Check(ctx, gate.Request{
			ClientIP:  ip,
			UserAgent: agent,
			Method:    r.Method,
			Path:      r.URL.Path,
			Username:  username,
		})
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		status := statusForAction(d.Action)
		appctx.GetLogger(ctx).Warn().
			Str("action", string(d.Action)).Str("reason", d.Reason).
			Int("status", status).Msg("request rejected at the gate")

		w.Header().Set(ReasonHeader, string(d.Action))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(denial{
			Error:     http.StatusText(status),
			Reason:    d.Reason,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func statusForAction(a gate.Action) int {
	switch a {
	case gate.ActionRateLimit:
		return http.StatusTooManyRequests
	case gate.ActionCaptchaRequired:
		return http.StatusUnauthorized
	default:
		// IP_BLOCK, DENY and anything unrecognized stay forbidden.
		return http.StatusForbidden
	}
}
