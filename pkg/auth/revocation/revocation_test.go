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

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/davgate/davgate/pkg/fm/fmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictIsCached(t *testing.T) {
	b := fmtest.New()
	c := New(b, time.Minute)
	defer c.Close()

	exp := time.Now().Add(time.Hour)

	revoked, err := c.Revoked(context.Background(), "tok.en.1", "jti-1", "42", exp)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 1, b.Calls().CheckRevocation)

	// second ask within the TTL stays local
	revoked, err = c.Revoked(context.Background(), "tok.en.1", "jti-1", "42", exp)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 1, b.Calls().CheckRevocation)
}

func TestRevokedVerdictIsCachedToo(t *testing.T) {
	b := fmtest.New()
	b.SetRevoked("tok.en.2", true)
	c := New(b, time.Minute)
	defer c.Close()

	exp := time.Now().Add(time.Hour)

	revoked, err := c.Revoked(context.Background(), "tok.en.2", "", "42", exp)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = c.Revoked(context.Background(), "tok.en.2", "", "42", exp)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, 1, b.Calls().CheckRevocation)
}

func TestTTLCappedByRemainingLifetime(t *testing.T) {
	b := fmtest.New()
	c := New(b, time.Minute)
	defer c.Close()

	// token about to expire: the verdict must not outlive it
	exp := time.Now().Add(50 * time.Millisecond)

	_, err := c.Revoked(context.Background(), "tok.en.3", "", "42", exp)
	require.NoError(t, err)
	_, err = c.Revoked(context.Background(), "tok.en.3", "", "42", exp)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Calls().CheckRevocation)

	time.Sleep(120 * time.Millisecond)

	_, err = c.Revoked(context.Background(), "tok.en.3", "", "42", exp)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls().CheckRevocation)
}

func TestBackendFailureIsNotCached(t *testing.T) {
	b := fmtest.New()
	b.FailRevocation = true
	c := New(b, time.Minute)
	defer c.Close()

	exp := time.Now().Add(time.Hour)

	_, err := c.Revoked(context.Background(), "tok.en.4", "", "42", exp)
	require.Error(t, err)
	assert.Equal(t, 0, c.Count())

	// backend recovers, the next ask goes through
	b.FailRevocation = false
	revoked, err := c.Revoked(context.Background(), "tok.en.4", "", "42", exp)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 2, b.Calls().CheckRevocation)
}

func TestPurge(t *testing.T) {
	b := fmtest.New()
	c := New(b, time.Minute)
	defer c.Close()

	exp := time.Now().Add(time.Hour)
	_, err := c.Revoked(context.Background(), "tok.en.5", "", "42", exp)
	require.NoError(t, err)
	require.Equal(t, 1, c.Count())

	c.Purge()
	assert.Equal(t, 0, c.Count())

	_, err = c.Revoked(context.Background(), "tok.en.5", "", "42", exp)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Calls().CheckRevocation)
}
