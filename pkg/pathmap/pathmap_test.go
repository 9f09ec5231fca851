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

package pathmap

import (
	"context"
	"sync"
	"testing"

	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/fm/fmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture: user 42 with /Documents/report.pdf and /Documents/notes.
func newFixture(t *testing.T) (*Engine, *fmtest.Backend, uint64, uint64) {
	t.Helper()
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 42, Username: "alice"})
	docs := b.AddFile(42, fm.RootID, "Documents", nil)
	rep := b.AddFile(42, docs, "report.pdf", []byte("pdf"))
	b.AddFile(42, docs, "notes", nil)
	return New(b), b, docs, rep
}

func TestResolvePathWalks(t *testing.T) {
	e, b, docs, rep := newFixture(t)

	m, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	assert.Equal(t, rep, m.ID)
	assert.Equal(t, "/42/Documents/report.pdf", m.Path)
	assert.Equal(t, docs, m.ParentID)
	assert.False(t, m.IsDir)
	assert.Equal(t, 2, b.Calls().ListFolder) // root and Documents

	// second resolution is a pure cache hit
	m2, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	assert.Equal(t, m.ID, m2.ID)
	assert.Equal(t, 2, b.Calls().ListFolder)
}

func TestResolvePathRoot(t *testing.T) {
	e, b, _, _ := newFixture(t)

	m, err := e.ResolvePath(context.Background(), "/dav", 42)
	require.NoError(t, err)
	assert.Equal(t, fm.RootID, m.ID)
	assert.Equal(t, "/42", m.Path)
	assert.True(t, m.IsDir)
	assert.Equal(t, 0, b.Calls().ListFolder)
}

func TestResolvePathNotFound(t *testing.T) {
	e, _, _, _ := newFixture(t)

	_, err := e.ResolvePath(context.Background(), "/dav/Documents/missing", 42)
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok, "want not found, got %v", err)
}

func TestResolvePathRejectsTraversalBeforeLookup(t *testing.T) {
	e, b, _, _ := newFixture(t)

	_, err := e.ResolvePath(context.Background(), "/dav/../../etc/passwd", 42)
	require.Error(t, err)
	_, ok := err.(errtypes.IsBadRequest)
	assert.True(t, ok)
	// rejected before any cache or backend activity
	assert.Equal(t, 0, b.Calls().ListFolder)
}

func TestResolvePathForeignUser(t *testing.T) {
	e, _, _, _ := newFixture(t)

	_, err := e.ResolvePath(context.Background(), "/7/Documents", 42)
	require.Error(t, err)
	_, ok := err.(errtypes.IsPermissionDenied)
	assert.True(t, ok)
}

func TestResolveIDAscends(t *testing.T) {
	e, b, _, rep := newFixture(t)

	p, err := e.ResolveID(context.Background(), rep, 42)
	require.NoError(t, err)
	assert.Equal(t, "/42/Documents/report.pdf", p)
	assert.Equal(t, 2, b.Calls().GetMetadata) // report.pdf and Documents

	// the ascent populated both caches: the path now resolves without
	// touching the backend again
	lf := b.Calls().ListFolder
	m, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	assert.Equal(t, rep, m.ID)
	assert.Equal(t, lf, b.Calls().ListFolder)
}

func TestResolveIDDepthLimit(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 42, Username: "alice"})
	a := b.AddFile(42, fm.RootID, "a", nil)
	c := b.AddFile(42, a, "c", nil)
	// reparent a under c: the backend data now contains a cycle
	_, err := b.ProcessFile(context.Background(), &fm.FileOp{Code: fm.OpMove, UserID: 42, ID: a, TargetParent: c})
	require.NoError(t, err)

	e := New(b)
	_, err = e.ResolveID(context.Background(), a, 42)
	require.Error(t, err)
	_, ok := err.(errtypes.IsInternalError)
	assert.True(t, ok, "want internal error, got %v", err)
}

func TestDuplicateNamesThroughListing(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 42, Username: "alice"})
	first := b.AddFile(42, fm.RootID, "report.txt", []byte("1"))
	second := b.AddFile(42, fm.RootID, "report.txt", []byte("22"))
	third := b.AddFile(42, fm.RootID, "report.txt", []byte("333"))
	b.AddFile(42, fm.RootID, "summary", nil)
	e := New(b)

	l, err := e.Listing(context.Background(), 42, fm.RootID)
	require.NoError(t, err)
	require.Len(t, l.Entries, 4)
	assert.Equal(t, "report.txt", l.Entries[0].WebDAVName)
	assert.Equal(t, "report (2).txt", l.Entries[1].WebDAVName)
	assert.Equal(t, "report (3).txt", l.Entries[2].WebDAVName)
	assert.Equal(t, "summary", l.Entries[3].WebDAVName)

	// the rewritten names resolve to the right ids
	m, err := e.ResolvePath(context.Background(), "/dav/report (2).txt", 42)
	require.NoError(t, err)
	assert.Equal(t, second, m.ID)
	assert.Equal(t, "report.txt", m.OriginalName)

	m, err = e.ResolvePath(context.Background(), "/dav/report.txt", 42)
	require.NoError(t, err)
	assert.Equal(t, first, m.ID)

	m, err = e.ResolvePath(context.Background(), "/dav/report (3).txt", 42)
	require.NoError(t, err)
	assert.Equal(t, third, m.ID)
}

func TestRegisterResolveRemove(t *testing.T) {
	e, b, docs, _ := newFixture(t)

	// register a path the backend does not serve: the cache alone must
	// answer for it until removal
	m, err := e.Register("/42/Documents/fresh.bin", 9001, 42, docs, "fresh.bin", false)
	require.NoError(t, err)
	require.NotNil(t, m)

	got, err := e.ResolvePath(context.Background(), "/dav/Documents/fresh.bin", 42)
	require.NoError(t, err)
	assert.EqualValues(t, 9001, got.ID)

	p, err := e.ResolveID(context.Background(), 9001, 42)
	require.NoError(t, err)
	assert.Equal(t, "/42/Documents/fresh.bin", p)
	assert.Equal(t, 0, b.Calls().GetMetadata)

	e.Remove("/42/Documents/fresh.bin")
	_, err = e.ResolvePath(context.Background(), "/dav/Documents/fresh.bin", 42)
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	e, _, docs, rep := newFixture(t)

	m, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	created := m.CreatedAt

	err = e.Update("/42/Documents/report.pdf", "/42/Documents/final.pdf", rep)
	require.NoError(t, err)

	got, err := e.ResolvePath(context.Background(), "/42/Documents/final.pdf", 42)
	require.NoError(t, err)
	assert.Equal(t, rep, got.ID)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, docs, got.ParentID)

	// the id points at the new path
	p, err := e.ResolveID(context.Background(), rep, 42)
	require.NoError(t, err)
	assert.Equal(t, "/42/Documents/final.pdf", p)
}

func TestInvalidateMakesNewChildrenVisible(t *testing.T) {
	e, b, docs, _ := newFixture(t)

	_, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)

	// created behind the gateway's back
	late := b.AddFile(42, docs, "late.txt", []byte("x"))

	e.Invalidate(42, docs)

	m, err := e.ResolvePath(context.Background(), "/dav/Documents/late.txt", 42)
	require.NoError(t, err)
	assert.Equal(t, late, m.ID)
}

func TestClearUser(t *testing.T) {
	e, b, _, _ := newFixture(t)
	b.AddUser(fmtest.User{ID: 7, Username: "bob"})
	b.AddFile(7, fm.RootID, "own.txt", []byte("y"))

	_, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	_, err = e.ResolvePath(context.Background(), "/dav/own.txt", 7)
	require.NoError(t, err)

	before := b.Calls().ListFolder
	e.ClearUser(42)

	// alice's paths are rebuilt from the backend, bob's stay cached
	_, err = e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
	require.NoError(t, err)
	assert.Equal(t, before+2, b.Calls().ListFolder)

	_, err = e.ResolvePath(context.Background(), "/dav/own.txt", 7)
	require.NoError(t, err)
	assert.Equal(t, before+2, b.Calls().ListFolder)

	st := e.CacheStats()
	assert.Greater(t, st.Paths, 0)
}

func TestConcurrentResolveAgreement(t *testing.T) {
	e, _, _, rep := newFixture(t)

	var wg sync.WaitGroup
	ids := make([]uint64, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := e.ResolvePath(context.Background(), "/dav/Documents/report.pdf", 42)
			if err == nil {
				ids[i] = m.ID
			}
		}(i)
	}
	wg.Wait()
	for i, id := range ids {
		assert.Equal(t, rep, id, "goroutine %d", i)
	}
}
