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

// Package secure stamps hardening headers on every response. It sits
// outside the gate and the router so denials and 404s carry the same
// headers as served requests.
package secure

import (
	"net/http"

	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/utils/cfg"
)

type secure struct {
	ContentSecurityPolicy string `mapstructure:"content_security_policy"`
	PermissionsPolicy     string `mapstructure:"permissions_policy"`
	ReferrerPolicy        string `mapstructure:"referrer_policy"`
}

func (s *secure) ApplyDefaults() {
	if s.ContentSecurityPolicy == "" {
		s.ContentSecurityPolicy = "default-src 'self'"
	}
	if s.PermissionsPolicy == "" {
		s.PermissionsPolicy = "geolocation=(), microphone=(), camera=()"
	}
	if s.ReferrerPolicy == "" {
		s.ReferrerPolicy = "strict-origin-when-cross-origin"
	}
}

// New creates a new secure middleware.
func New(m map[string]interface{}) (global.Middleware, error) {
	s := &secure{}
	if err := cfg.Decode(m, s); err != nil {
		return nil, err
	}
	return s.handler, nil
}

func (s *secure) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Indicates whether the browser is allowed to render this page in a <frame>, <iframe>, <embed> or <object>.
		w.Header().Set("X-Frame-Options", "DENY")
		// MIME types advertised in Content-Type must not be changed and be followed.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// enforce browser based XSS filters
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		// unconditional: TLS may terminate at a proxy in front of us, the
		// browser still needs to hear it.
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", s.ContentSecurityPolicy)
		w.Header().Set("Referrer-Policy", s.ReferrerPolicy)
		w.Header().Set("Permissions-Policy", s.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}
