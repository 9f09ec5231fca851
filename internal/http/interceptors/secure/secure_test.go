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

package secure

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamp(t *testing.T, conf map[string]interface{}) http.Header {
	t.Helper()
	mw, err := New(conf)
	require.NoError(t, err)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dav/x", nil))
	require.Equal(t, http.StatusTeapot, w.Code, "the middleware must not swallow the response")
	return w.Header()
}

func TestHardeningHeaderDefaults(t *testing.T) {
	hdr := stamp(t, nil)

	assert.Equal(t, "DENY", hdr.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", hdr.Get("X-Content-Type-Options"))
	assert.Equal(t, "1; mode=block", hdr.Get("X-XSS-Protection"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", hdr.Get("Strict-Transport-Security"))
	assert.Equal(t, "default-src 'self'", hdr.Get("Content-Security-Policy"))
	assert.Equal(t, "strict-origin-when-cross-origin", hdr.Get("Referrer-Policy"))
	assert.Equal(t, "geolocation=(), microphone=(), camera=()", hdr.Get("Permissions-Policy"))
}

func TestPoliciesAreConfigurable(t *testing.T) {
	hdr := stamp(t, map[string]interface{}{
		"content_security_policy": "default-src 'none'",
		"referrer_policy":         "no-referrer",
	})

	assert.Equal(t, "default-src 'none'", hdr.Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", hdr.Get("Referrer-Policy"))
	// the rest keep their defaults
	assert.Equal(t, "DENY", hdr.Get("X-Frame-Options"))
}
