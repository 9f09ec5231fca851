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

package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/davgate/davgate/pkg/auth"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/davgate/davgate/pkg/security/audit/sink/logger"
)

func setupSecurity(t *testing.T, m map[string]interface{}) {
	t.Helper()
	l := zerolog.Nop()
	require.NoError(t, security.Setup(m, &l))
	t.Cleanup(func() { _ = security.Close() })
}

// serve sends one request through the middleware and reports whether it
// reached the inner handler.
func serve(t *testing.T, ip, agent, method, path string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	mw, err := New(nil)
	require.NoError(t, err)

	reached := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(method, path, nil)
	ctx := dctx.ContextSetClientIP(r.Context(), ip)
	ctx = dctx.ContextSetUserAgent(ctx, agent)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r.WithContext(ctx))
	return w, reached
}

func TestPassThroughWhenSecurityIsOff(t *testing.T) {
	_ = security.Close()

	w, reached := serve(t, "203.0.113.7", "", "PROPFIND", "/dav/home")
	assert.True(t, reached, "with no gate even an empty user agent goes through")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllowedRequestReachesHandler(t *testing.T) {
	setupSecurity(t, map[string]interface{}{})

	w, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "PROPFIND", "/dav/home")
	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(ReasonHeader))
}

func TestBlockedAddressGetsForbidden(t *testing.T) {
	setupSecurity(t, map[string]interface{}{
		"gate": map[string]interface{}{"denylist": []string{"203.0.113.7"}},
	})

	w, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "PROPFIND", "/dav/home")
	require.False(t, reached)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "IP_BLOCK", w.Header().Get(ReasonHeader))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body denial
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Forbidden", body.Error)
	assert.Equal(t, "address is blacklisted", body.Reason)
	assert.NotEmpty(t, body.Timestamp)
}

func TestRateLimitedAddressGetsTooManyRequests(t *testing.T) {
	setupSecurity(t, map[string]interface{}{
		"gate": map[string]interface{}{"ip_per_minute": 1},
	})

	_, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "GET", "/dav/file.txt")
	require.True(t, reached)

	w, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "GET", "/dav/file.txt")
	require.False(t, reached)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT", w.Header().Get(ReasonHeader))
}

func TestAuthFailureBudgetGetsUnauthorized(t *testing.T) {
	setupSecurity(t, map[string]interface{}{
		"gate": map[string]interface{}{"captcha_threshold": 1},
	})
	security.Gate().RecordAuthFailure("203.0.113.7")

	w, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "PROPFIND", "/dav/home")
	require.False(t, reached)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "CAPTCHA_REQUIRED", w.Header().Get(ReasonHeader))
}

// The middleware runs before authentication, so per user limits depend
// on the session store recovering the principal from the fingerprint.
func TestUserLimitAppliesThroughSession(t *testing.T) {
	setupSecurity(t, map[string]interface{}{
		"gate": map[string]interface{}{"user_per_minute": 1},
	})
	require.NoError(t, session.Setup(map[string]interface{}{}))
	session.Shared().Record("203.0.113.7", "gowebdav/0.9", &auth.Principal{ID: "7", Username: "alice"})

	_, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "GET", "/dav/file.txt")
	require.True(t, reached)

	w, reached := serve(t, "203.0.113.7", "gowebdav/0.9", "GET", "/dav/file.txt")
	require.False(t, reached)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body denial
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "too many requests for user", body.Reason)
}
