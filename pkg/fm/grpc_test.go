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

package fm_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/fm/fmtest"
	"github.com/davgate/davgate/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// newClient wires a full client-server pair over an in-memory pipe.
func newClient(t *testing.T, b *fmtest.Backend, opts ...grpc.ServerOption) fm.Client {
	t.Helper()
	conn, cleanup, err := fmtest.Serve(b, opts...)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return fm.NewClient(conn)
}

func TestAuthenticateOverWire(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 7, Username: "einstein", Password: "relativity", Role: "user", Token: "tok.en.x"})
	c := newClient(t, b)

	res, err := c.Authenticate(context.Background(), "einstein", "relativity")
	require.NoError(t, err)
	assert.Equal(t, "7", res.UserID)
	assert.Equal(t, "einstein", res.Username)
	assert.Equal(t, "user", res.Role)
	assert.Equal(t, "tok.en.x", res.Token)

	_, err = c.Authenticate(context.Background(), "einstein", "wrong")
	require.Error(t, err)
	_, ok := err.(errtypes.IsInvalidCredentials)
	assert.True(t, ok, "want invalid credentials, got %v", err)
}

func TestMetadataAndListing(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 7, Username: "einstein"})
	docs := b.AddFile(7, fm.RootID, "Documents", nil)
	rep := b.AddFile(7, docs, "report.pdf", []byte("pdf bytes"))
	c := newClient(t, b)

	md, err := c.GetMetadata(context.Background(), fm.RefByID(rep))
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", md.Name)
	assert.Equal(t, docs, md.ParentID)
	assert.False(t, md.IsDir)
	assert.EqualValues(t, 9, md.Size)

	md, err = c.GetMetadata(context.Background(), fm.RefByPath("/7/Documents"))
	require.NoError(t, err)
	assert.Equal(t, docs, md.ID)
	assert.True(t, md.IsDir)

	_, err = c.GetMetadata(context.Background(), fm.RefByPath("/7/Documents/nope"))
	require.Error(t, err)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok, "want not found, got %v", err)

	entries, err := c.ListFolder(context.Background(), 7, docs)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rep, entries[0].ID)
}

func TestProcessFileRoundTrips(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 7, Username: "einstein"})
	c := newClient(t, b)

	md, err := c.ProcessFile(context.Background(), &fm.FileOp{
		Code: fm.OpMkdir, UserID: 7, ParentID: fm.RootID, Name: "Photos",
	})
	require.NoError(t, err)
	assert.Equal(t, "Photos", md.Name)
	assert.True(t, md.IsDir)

	// a second mkdir with the same name travels back as a typed conflict
	_, err = c.ProcessFile(context.Background(), &fm.FileOp{
		Code: fm.OpMkdir, UserID: 7, ParentID: fm.RootID, Name: "Photos",
	})
	require.Error(t, err)
	_, ok := err.(errtypes.IsAlreadyExists)
	assert.True(t, ok, "want already exists, got %v", err)

	renamed, err := c.ProcessFile(context.Background(), &fm.FileOp{
		Code: fm.OpRename, UserID: 7, ID: md.ID, Name: "Pictures",
	})
	require.NoError(t, err)
	assert.Equal(t, "Pictures", renamed.Name)

	_, err = c.ProcessFile(context.Background(), &fm.FileOp{
		Code: fm.OpDelete, UserID: 7, ID: md.ID,
	})
	require.NoError(t, err)

	_, err = c.GetMetadata(context.Background(), fm.RefByID(md.ID))
	require.Error(t, err)
}

func TestUploadDownloadStreams(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 7, Username: "einstein"})
	b.DownChunk = 8 // force several chunks per read
	c := newClient(t, b)

	content := bytes.Repeat([]byte("0123456789"), 7)

	up, err := c.Upload(context.Background())
	require.NoError(t, err)
	w := fm.NewUploadWriter(up, 7, fm.RootID, "data.bin", 16)
	n, err := w.Write(content)
	require.NoError(t, err)
	assert.Equal(t, len(content), n)
	require.NoError(t, w.Close())

	md := w.Metadata()
	require.NotNil(t, md)
	assert.Equal(t, "data.bin", md.Name)
	assert.EqualValues(t, len(content), md.Size)

	down, err := c.Download(context.Background(), md.ID, 0)
	require.NoError(t, err)
	r := fm.NewDownloadReader(down)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content, got)

	// offset reads serve range requests
	down, err = c.Download(context.Background(), md.ID, 60)
	require.NoError(t, err)
	r = fm.NewDownloadReader(down)
	got, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content[60:], got)
}

func TestRequestIDTravelsInMetadata(t *testing.T) {
	b := fmtest.New()
	b.AddUser(fmtest.User{ID: 7, Username: "einstein", Password: "pw"})

	var seen string
	capture := grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(fm.TraceHeader); len(v) > 0 {
				seen = v[0]
			}
		}
		return handler(ctx, req)
	})
	c := newClient(t, b, capture)

	ctx := trace.Set(context.Background(), "trace-123")
	_, err := c.Authenticate(ctx, "einstein", "pw")
	require.NoError(t, err)
	assert.Equal(t, "trace-123", seen)
}
