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

// Package auth turns request credentials into a principal on the
// context. Requests without credentials are answered with a challenge
// unless the session store still knows the client from an earlier
// authentication; several WebDAV clients drop the Authorization header
// on follow-up requests of one logical session.
package auth

import (
	"net/http"
	"time"

	"github.com/davgate/davgate/internal/http/interceptors/auth/credential/registry"
	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/auth/resolver"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/session"
	"github.com/davgate/davgate/pkg/utils"
	"github.com/davgate/davgate/pkg/utils/cfg"
)

// DefaultRealm is advertised in WWW-Authenticate challenges.
const DefaultRealm = "FileManagement WebDAV"

type config struct {
	Realm                string                            `mapstructure:"realm"`
	CredentialChain      []string                          `mapstructure:"credential_chain"`
	CredentialStrategies map[string]map[string]interface{} `mapstructure:"credential_strategies"`
}

func (c *config) ApplyDefaults() {
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if len(c.CredentialChain) == 0 {
		c.CredentialChain = []string{"basic", "bearer"}
	}
}

// New returns the auth middleware. Paths matching one of the unprotected
// prefixes pass through without a principal.
func New(m map[string]interface{}, unprotected []string) (global.Middleware, error) {
	conf := &config{}
	if err := cfg.Decode(m, conf); err != nil {
		return nil, err
	}

	credChain := make([]auth.CredentialStrategy, 0, len(conf.CredentialChain))
	for _, name := range conf.CredentialChain {
		f, ok := registry.NewCredentialFuncs[name]
		if !ok {
			return nil, errtypes.NotFound("credential strategy not found: " + name)
		}
		credStrategy, err := f(conf.CredentialStrategies[name])
		if err != nil {
			return nil, err
		}
		credChain = append(credChain, credStrategy)
	}

	chain := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := appctx.GetLogger(ctx)

			// OPTIONS must pass for CORS preflight and DAV capability
			// probes; the handlers answer it without touching the backend.
			if r.Method == http.MethodOptions {
				h.ServeHTTP(w, r)
				return
			}

			if utils.Skip(r.URL.Path, unprotected) {
				log.Debug().Msg("skipping auth check for: " + r.URL.Path)
				h.ServeHTTP(w, r)
				return
			}

			ip, _ := dctx.ContextGetClientIP(ctx)
			agent, _ := dctx.ContextGetUserAgentString(ctx)

			var creds *auth.Credentials
			for i := range credChain {
				c, err := credChain[i].GetCredentials(w, r)
				if err != nil {
					log.Debug().Err(err).Msg("error retrieving credentials")
					continue
				}
				if c != nil {
					creds = c
					break
				}
			}

			if creds == nil {
				if p, ok := recoverPrincipal(ip, agent); ok {
					log.Debug().Str("user", p.Username).Msg("principal recovered from session store")
					r = r.WithContext(dctx.ContextSetUser(ctx, p))
					h.ServeHTTP(w, r)
					return
				}
				// indicate all possible authentications to the client
				for i := range credChain {
					credChain[i].AddWWWAuthenticate(w, r, conf.Realm)
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			res := resolver.Shared()
			if res == nil {
				log.Error().Msg("no authentication resolver configured")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			p, err := res.Resolve(ctx, creds)
			if err != nil {
				authFailed(w, r, conf.Realm, credChain, creds, err)
				return
			}

			emit(audit.Event{
				Time:      time.Now(),
				Level:     audit.LevelInfo,
				Type:      audit.AuthenticationSuccess,
				ClientIP:  ip,
				Username:  p.Username,
				UserAgent: agent,
				Path:      r.URL.Path,
				Method:    r.Method,
			})
			if st := session.Shared(); st != nil {
				st.Record(ip, agent, p)
			}

			ctx = dctx.ContextSetUser(ctx, p)
			if creds.Type == "bearer" {
				ctx = dctx.ContextSetToken(ctx, creds.Secret)
			}
			r = r.WithContext(ctx)
			h.ServeHTTP(w, r)
		})
	}
	return chain, nil
}

// recoverPrincipal re-attaches an identity for credential-less requests:
// first the session recorded for this client fingerprint, then the most
// recent slot for clients that switch agent strings mid session. Both
// only ever hold principals that came out of a real authentication
// within the store TTL.
func recoverPrincipal(ip, agent string) (*auth.Principal, bool) {
	st := session.Shared()
	if st == nil {
		return nil, false
	}
	if p, ok := st.Lookup(ip, agent); ok {
		return p, true
	}
	return st.MostRecent()
}

func authFailed(w http.ResponseWriter, r *http.Request, realm string, credChain []auth.CredentialStrategy, creds *auth.Credentials, err error) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)
	ip, _ := dctx.ContextGetClientIP(ctx)
	agent, _ := dctx.ContextGetUserAgentString(ctx)

	switch err.(type) {
	case errtypes.IsUpstreamUnavailable:
		log.Error().Err(err).Msg("authentication backend unavailable")
		emit(audit.Event{
			Time: time.Now(), Level: audit.LevelError, Type: audit.SystemError,
			ClientIP: ip, UserAgent: agent, Path: r.URL.Path, Method: r.Method,
			Details: "authentication backend unavailable",
		})
		w.WriteHeader(http.StatusBadGateway)
		return
	case errtypes.IsInternalError:
		log.Error().Err(err).Msg("authentication failed internally")
		emit(audit.Event{
			Time: time.Now(), Level: audit.LevelError, Type: audit.SystemError,
			ClientIP: ip, UserAgent: agent, Path: r.URL.Path, Method: r.Method,
			Details: "internal authentication error",
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Warn().Err(err).Str("user", creds.Username).Msg("authentication rejected")
	if g := security.Gate(); g != nil {
		g.RecordAuthFailure(ip)
	}
	emit(audit.Event{
		Time: time.Now(), Level: audit.LevelWarn, Type: audit.AuthenticationFailure,
		ClientIP: ip, Username: creds.Username, UserAgent: agent,
		Path: r.URL.Path, Method: r.Method, Details: err.Error(),
	})
	for i := range credChain {
		credChain[i].AddWWWAuthenticate(w, r, realm)
	}
	w.WriteHeader(http.StatusUnauthorized)
}

func emit(ev audit.Event) {
	if a := security.Auditor(); a != nil {
		a.Emit(ev)
	}
}
