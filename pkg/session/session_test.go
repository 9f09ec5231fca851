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

package session

import (
	"testing"
	"time"

	"github.com/davgate/davgate/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAndOpaque(t *testing.T) {
	k1 := Key("203.0.113.7", "litmus/0.13")
	k2 := Key("203.0.113.7", "litmus/0.13")
	k3 := Key("203.0.113.8", "litmus/0.13")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotContains(t, k1, "203.0.113.7")
	assert.Len(t, k1, 64)
}

func TestRecordLookup(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	_, ok := s.Lookup("203.0.113.7", "litmus/0.13")
	assert.False(t, ok)

	p := &auth.Principal{ID: "42", Username: "einstein"}
	s.Record("203.0.113.7", "litmus/0.13", p)

	got, ok := s.Lookup("203.0.113.7", "litmus/0.13")
	require.True(t, ok)
	assert.Equal(t, p, got)

	// a different agent on the same address is a different session
	_, ok = s.Lookup("203.0.113.7", "cadaver/0.23")
	assert.False(t, ok)
}

func TestMostRecent(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	_, ok := s.MostRecent()
	assert.False(t, ok)

	s.Record("203.0.113.7", "a", &auth.Principal{ID: "1", Username: "first"})
	s.Record("203.0.113.8", "b", &auth.Principal{ID: "2", Username: "second"})

	got, ok := s.MostRecent()
	require.True(t, ok)
	assert.Equal(t, "2", got.ID)
}

func TestInvalidateUser(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Record("203.0.113.7", "a", &auth.Principal{ID: "1", Username: "first"})
	s.Record("203.0.113.8", "b", &auth.Principal{ID: "1", Username: "first"})
	s.Record("203.0.113.9", "c", &auth.Principal{ID: "2", Username: "second"})

	s.InvalidateUser("1")

	_, ok := s.Lookup("203.0.113.7", "a")
	assert.False(t, ok)
	_, ok = s.Lookup("203.0.113.8", "b")
	assert.False(t, ok)
	_, ok = s.Lookup("203.0.113.9", "c")
	assert.True(t, ok)

	got, ok := s.MostRecent()
	require.True(t, ok)
	assert.Equal(t, "2", got.ID)

	// invalidating the user the recent slot points at clears it too
	s.InvalidateUser("2")
	_, ok = s.MostRecent()
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	s := New(50 * time.Millisecond)
	defer s.Close()

	s.Record("203.0.113.7", "a", &auth.Principal{ID: "1", Username: "first"})
	time.Sleep(120 * time.Millisecond)

	_, ok := s.Lookup("203.0.113.7", "a")
	assert.False(t, ok)
}
