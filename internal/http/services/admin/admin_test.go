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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/davgate/davgate/internal/http/services/fmdav"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/fm/fmtest"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/davgate/davgate/pkg/security/audit/sink/logger"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newAdmin(t *testing.T) (http.Handler, string) {
	t.Helper()
	secret := "correct-horse-battery"
	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	require.NoError(t, err)
	s, err := New(map[string]interface{}{"secret_hash": hash}, nopLogger())
	require.NoError(t, err)
	return s.Handler(), secret
}

func setupSecurity(t *testing.T) {
	t.Helper()
	require.NoError(t, security.Setup(map[string]interface{}{}, nopLogger()))
	t.Cleanup(func() { _ = security.Close() })
}

func doAdmin(h http.Handler, method, target, secret, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if secret != "" {
		req.Header.Set("X-Admin-Secret", secret)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzIsUnguarded(t *testing.T) {
	h, _ := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestGuardRequiresSecret(t *testing.T) {
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/stats", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doAdmin(h, http.MethodGet, "/stats", "wrong", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doAdmin(h, http.MethodGet, "/stats", secret, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestNewRejectsBadSecretHash(t *testing.T) {
	_, err := New(map[string]interface{}{"secret_hash": "plaintext"}, nopLogger())
	require.Error(t, err)

	_, err = New(map[string]interface{}{}, nopLogger())
	require.Error(t, err)
}

func TestVersionEndpoint(t *testing.T) {
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/version", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var v map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	assert.NotEmpty(t, v["version"])
	assert.NotEmpty(t, v["go_version"])
}

func TestIPTableManagement(t *testing.T) {
	setupSecurity(t)
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodPost, "/ips/deny", secret, `{"entry":"203.0.113.9"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doAdmin(h, http.MethodGet, "/ips/deny", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "203.0.113.9")

	// adding the same entry again converges instead of failing
	rr = doAdmin(h, http.MethodPost, "/ips/deny", secret, `{"entry":"203.0.113.9"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doAdmin(h, http.MethodPost, "/ips/allow", secret, `{"entry":"10.0.0.0/8"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"10.0.0.0/8"}, security.Gate().Allowlist())

	rr = doAdmin(h, http.MethodDelete, "/ips/deny?entry=203.0.113.9", secret, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, security.Gate().Denylist())

	rr = doAdmin(h, http.MethodPost, "/ips/deny", secret, `{"entry":"not an address"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doAdmin(h, http.MethodPost, "/ips/deny", secret, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doAdmin(h, http.MethodDelete, "/ips/deny", secret, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doAdmin(h, http.MethodGet, "/ips/bogus", secret, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIPTablesWithoutGate(t *testing.T) {
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/ips/deny", secret, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAuditTail(t *testing.T) {
	setupSecurity(t)
	h, secret := newAdmin(t)

	// a rejected admin request lands on the trail
	doAdmin(h, http.MethodGet, "/stats", "wrong", "")

	rr := doAdmin(h, http.MethodGet, "/audit", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), string(audit.AuthorizationFailure))

	// admin mutations are recorded too, and limit caps the tail
	doAdmin(h, http.MethodPost, "/ips/deny", secret, `{"entry":"198.51.100.7"}`)

	rr = doAdmin(h, http.MethodGet, "/audit?limit=1", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, audit.AdminAction, resp.Events[0].Type)

	rr = doAdmin(h, http.MethodGet, "/audit?limit=zero", secret, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuditTailWithoutPipeline(t *testing.T) {
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/audit", secret, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStats(t *testing.T) {
	setupSecurity(t)
	require.NoError(t, security.Gate().BlockIP("192.0.2.0/24"))
	fmdav.Enable()

	h, secret := newAdmin(t)
	rr := doAdmin(h, http.MethodGet, "/stats", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["webdav_enabled"])

	gateStats, ok := resp["gate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), gateStats["denylist_entries"])

	// subsystems that were never set up stay out of the payload
	assert.NotContains(t, resp, "credential_cache_entries")
}

func TestInvalidateUserValidation(t *testing.T) {
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodPost, "/cache/invalidate", secret, `{"user_id":"42"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t,
		`{"user_id":"42","cleared":{"credentials":false,"sessions":false,"paths":false}}`,
		rr.Body.String())

	rr = doAdmin(h, http.MethodPost, "/cache/invalidate", secret, `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doAdmin(h, http.MethodPost, "/cache/invalidate", secret, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidateUserFlushesCaches(t *testing.T) {
	require.NoError(t, session.Setup(map[string]interface{}{}))
	require.NoError(t, pathmap.Setup(fmtest.New(), map[string]interface{}{}))

	session.Shared().Record("198.51.100.4", "litmus/0.13", &auth.Principal{ID: "7", Username: "alice", Role: auth.RoleUser})
	_, found := session.Shared().Lookup("198.51.100.4", "litmus/0.13")
	require.True(t, found)

	h, secret := newAdmin(t)
	rr := doAdmin(h, http.MethodPost, "/cache/invalidate", secret, `{"user_id":"7"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Cleared struct {
			Credentials bool `json:"credentials"`
			Sessions    bool `json:"sessions"`
			Paths       bool `json:"paths"`
		} `json:"cleared"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Cleared.Credentials)
	assert.True(t, resp.Cleared.Sessions)
	assert.True(t, resp.Cleared.Paths)

	_, found = session.Shared().Lookup("198.51.100.4", "litmus/0.13")
	assert.False(t, found)
}

func TestWebDAVToggle(t *testing.T) {
	fmdav.Enable()
	t.Cleanup(fmdav.Enable)
	h, secret := newAdmin(t)

	rr := doAdmin(h, http.MethodGet, "/service/webdav", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"enabled":true}`, rr.Body.String())

	rr = doAdmin(h, http.MethodPost, "/service/webdav/disable", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"enabled":false}`, rr.Body.String())
	assert.False(t, fmdav.Enabled())

	// repeating a toggle answers the same state
	rr = doAdmin(h, http.MethodPost, "/service/webdav/disable", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"enabled":false}`, rr.Body.String())

	rr = doAdmin(h, http.MethodPost, "/service/webdav/enable", secret, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, fmdav.Enabled())
}
