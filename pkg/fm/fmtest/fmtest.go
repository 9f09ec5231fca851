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

// Package fmtest provides an in-memory file-management backend for
// tests: a full fm.Client over a fake user and file store, plus a gRPC
// server speaking the real wire contract for transport-level tests.
// Call counters let tests assert how often the gateway reached out.
package fmtest

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
)

// DirContentType is the content type reported for folders.
const DirContentType = "httpd/unix-directory"

// User is one account known to the fake backend.
type User struct {
	ID       uint64
	Username string
	Password string
	Role     string
	Token    string
}

type entry struct {
	md      fm.Metadata
	userID  uint64
	content []byte
	// listing order position within the parent, for deterministic
	// ListFolder output
	pos int
}

// Calls counts backend invocations by method.
type Calls struct {
	Authenticate    int
	CheckRevocation int
	GetMetadata     int
	ListFolder      int
	ProcessFile     int
	Upload          int
	Download        int
}

// Backend is the fake. The zero value is not usable; New.
type Backend struct {
	mu      sync.Mutex
	users   map[string]*User
	files   map[uint64]*entry
	revoked map[string]bool
	nextID  uint64
	nextPos int
	calls   Calls

	// DownChunk is the chunk size used by Download streams. Small
	// values exercise multi-chunk reads in tests.
	DownChunk int

	// FailAuth makes Authenticate return an upstream failure, for
	// error-propagation tests. FailRevocation does the same for
	// CheckTokenRevocation.
	FailAuth       bool
	FailRevocation bool
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		users:     make(map[string]*User),
		files:     make(map[uint64]*entry),
		revoked:   make(map[string]bool),
		nextID:    1,
		DownChunk: 32 * 1024,
	}
}

// AddUser registers an account.
func (b *Backend) AddUser(u User) *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := u
	b.users[u.Username] = &cp
	return &cp
}

// AddFile seeds one file and returns its id. A nil content creates a
// folder. parentID zero places it in the user's root.
func (b *Backend) AddFile(userID, parentID uint64, name string, content []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(userID, parentID, name, content)
}

func (b *Backend) add(userID, parentID uint64, name string, content []byte) uint64 {
	id := b.nextID
	b.nextID++
	now := time.Now()
	md := fm.Metadata{
		ID:         id,
		Name:       name,
		ParentID:   parentID,
		IsDir:      content == nil,
		Size:       uint64(len(content)),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if md.IsDir {
		md.ContentType = DirContentType
	} else {
		md.ContentType = "application/octet-stream"
	}
	b.files[id] = &entry{md: md, userID: userID, content: content, pos: b.nextPos}
	b.nextPos++
	return id
}

// SetRevoked marks a token revoked.
func (b *Backend) SetRevoked(token string, revoked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = revoked
}

// Calls returns a snapshot of the invocation counters.
func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Backend) Authenticate(ctx context.Context, username, password string) (*fm.AuthResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Authenticate++
	if b.FailAuth {
		return nil, errtypes.UpstreamUnavailable("backend down")
	}
	u, ok := b.users[username]
	if !ok || u.Password != password {
		return nil, errtypes.InvalidCredentials("wrong username or password")
	}
	return &fm.AuthResult{
		UserID:   strconv.FormatUint(u.ID, 10),
		Username: u.Username,
		Role:     u.Role,
		Token:    u.Token,
	}, nil
}

func (b *Backend) CheckTokenRevocation(ctx context.Context, token, tokenID, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.CheckRevocation++
	if b.FailRevocation {
		return false, errtypes.UpstreamUnavailable("backend down")
	}
	return b.revoked[token], nil
}

func (b *Backend) GetMetadata(ctx context.Context, ref fm.Ref) (*fm.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.GetMetadata++
	if ref.HasID {
		e, ok := b.files[ref.ID]
		if !ok {
			return nil, errtypes.NotFound("no such file id")
		}
		md := e.md
		return &md, nil
	}
	e, err := b.lookupPath(ref.Path)
	if err != nil {
		return nil, err
	}
	md := e.md
	return &md, nil
}

// lookupPath resolves "/<user-id>/<segments...>" against the fake tree.
func (b *Backend) lookupPath(p string) (*entry, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, errtypes.BadRequest("path misses user id")
	}
	uid, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, errtypes.BadRequest("bad user id in path")
	}
	parent := fm.RootID
	var found *entry
	for _, seg := range parts[1:] {
		found = nil
		for _, e := range b.files {
			if e.userID == uid && e.md.ParentID == parent && e.md.Name == seg {
				found = e
				break
			}
		}
		if found == nil {
			return nil, errtypes.NotFound("no such path")
		}
		parent = found.md.ID
	}
	if found == nil {
		return nil, errtypes.NotFound("path is the root")
	}
	return found, nil
}

func (b *Backend) ListFolder(ctx context.Context, userID, parentID uint64) ([]*fm.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.ListFolder++
	var entries []*entry
	for _, e := range b.files {
		if e.userID == userID && e.md.ParentID == parentID && e.md.ID != parentID {
			entries = append(entries, e)
		}
	}
	// insertion order, like a backend returning rows by primary key
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	out := make([]*fm.Metadata, len(entries))
	for i, e := range entries {
		md := e.md
		out[i] = &md
	}
	return out, nil
}

func (b *Backend) ProcessFile(ctx context.Context, op *fm.FileOp) (*fm.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.ProcessFile++
	switch op.Code {
	case fm.OpMkdir:
		for _, e := range b.files {
			if e.userID == op.UserID && e.md.ParentID == op.ParentID && e.md.Name == op.Name {
				return nil, errtypes.AlreadyExists(op.Name)
			}
		}
		id := b.add(op.UserID, op.ParentID, op.Name, nil)
		md := b.files[id].md
		return &md, nil

	case fm.OpDelete:
		e, ok := b.files[op.ID]
		if !ok {
			return nil, errtypes.NotFound("no such file id")
		}
		b.removeTree(op.ID)
		md := e.md
		return &md, nil

	case fm.OpRename:
		e, ok := b.files[op.ID]
		if !ok {
			return nil, errtypes.NotFound("no such file id")
		}
		e.md.Name = op.Name
		e.md.ModifiedAt = time.Now()
		md := e.md
		return &md, nil

	case fm.OpMove:
		e, ok := b.files[op.ID]
		if !ok {
			return nil, errtypes.NotFound("no such file id")
		}
		e.md.ParentID = op.TargetParent
		if op.Name != "" {
			e.md.Name = op.Name
		}
		e.md.ModifiedAt = time.Now()
		md := e.md
		return &md, nil

	case fm.OpCopy:
		e, ok := b.files[op.ID]
		if !ok {
			return nil, errtypes.NotFound("no such file id")
		}
		name := e.md.Name
		if op.Name != "" {
			name = op.Name
		}
		var content []byte
		if !e.md.IsDir {
			content = append([]byte(nil), e.content...)
		}
		id := b.add(e.userID, op.TargetParent, name, content)
		md := b.files[id].md
		return &md, nil

	default:
		return nil, errtypes.NotSupported(string(op.Code))
	}
}

func (b *Backend) removeTree(id uint64) {
	for cid, e := range b.files {
		if e.md.ParentID == id && cid != id {
			b.removeTree(cid)
		}
	}
	delete(b.files, id)
}

func (b *Backend) Upload(ctx context.Context) (fm.UploadStream, error) {
	b.mu.Lock()
	b.calls.Upload++
	b.mu.Unlock()
	return &uploadStream{backend: b}, nil
}

type uploadStream struct {
	backend  *Backend
	userID   uint64
	parentID uint64
	name     string
	data     []byte
	first    bool
}

func (s *uploadStream) Send(chunk *fm.UploadChunk) error {
	if !s.first {
		s.userID = chunk.UserID
		s.parentID = chunk.ParentID
		s.name = chunk.Name
		s.first = true
	}
	s.data = append(s.data, chunk.Data...)
	return nil
}

func (s *uploadStream) CloseAndRecv() (*fm.Metadata, error) {
	if s.name == "" {
		return nil, errtypes.BadRequest("upload misses target name")
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	// overwrite an existing file of the same name, keeping its id
	for _, e := range b.files {
		if e.userID == s.userID && e.md.ParentID == s.parentID && e.md.Name == s.name && !e.md.IsDir {
			e.content = s.data
			e.md.Size = uint64(len(s.data))
			e.md.ModifiedAt = time.Now()
			md := e.md
			return &md, nil
		}
	}
	id := b.add(s.userID, s.parentID, s.name, s.data)
	md := b.files[id].md
	return &md, nil
}

func (b *Backend) Download(ctx context.Context, id uint64, offset int64) (fm.DownloadStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Download++
	e, ok := b.files[id]
	if !ok {
		return nil, errtypes.NotFound("no such file id")
	}
	if e.md.IsDir {
		return nil, errtypes.BadRequest("cannot download a folder")
	}
	if offset < 0 || offset > int64(len(e.content)) {
		return nil, errtypes.BadRequest("offset out of range")
	}
	data := append([]byte(nil), e.content[offset:]...)
	return &downloadStream{data: data, chunk: b.DownChunk}, nil
}

type downloadStream struct {
	data  []byte
	chunk int
}

func (s *downloadStream) Recv() ([]byte, error) {
	if len(s.data) == 0 {
		return nil, io.EOF
	}
	n := s.chunk
	if n <= 0 || n > len(s.data) {
		n = len(s.data)
	}
	out := s.data[:n]
	s.data = s.data[n:]
	return out, nil
}

func (s *downloadStream) Close() error { return nil }
