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

// Package fm talks to the file-management backend, the single outbound
// dependency of the gateway. The backend owns users, credentials and file
// bytes; the gateway only ever sees numeric file ids and metadata. Every
// call carries the client address, user agent, request id and user id as
// out-of-band metadata so backend logs line up with gateway logs.
package fm

import (
	"context"
	"time"
)

// RootID is the file id of every user's root folder.
const RootID uint64 = 0

// Metadata describes one file or folder as the backend sees it.
type Metadata struct {
	ID          uint64    `msgpack:"id" json:"id"`
	Name        string    `msgpack:"name" json:"name"`
	ParentID    uint64    `msgpack:"parent_id" json:"parent_id"`
	IsDir       bool      `msgpack:"is_dir" json:"is_dir"`
	Size        uint64    `msgpack:"size" json:"size"`
	ContentType string    `msgpack:"content_type" json:"content_type"`
	CreatedAt   time.Time `msgpack:"created_at" json:"created_at"`
	ModifiedAt  time.Time `msgpack:"modified_at" json:"modified_at"`
}

// Ref points at a file either by id or by internal path
// ("/<user-id>/<rest>"). Exactly one of the two is set; HasID
// disambiguates the root folder, whose id is zero.
type Ref struct {
	HasID bool   `msgpack:"has_id"`
	ID    uint64 `msgpack:"id"`
	Path  string `msgpack:"path"`
}

// RefByID builds a Ref for a backend file id.
func RefByID(id uint64) Ref { return Ref{HasID: true, ID: id} }

// RefByPath builds a Ref for an internal path.
func RefByPath(p string) Ref { return Ref{Path: p} }

// AuthResult is the backend's answer to a password authentication.
type AuthResult struct {
	UserID   string `msgpack:"user_id"`
	Username string `msgpack:"username"`
	Role     string `msgpack:"role"`
	// Token is a bearer token minted by the backend on successful
	// password logins. Clients may present it instead of the password
	// on subsequent requests.
	Token string `msgpack:"token"`
}

// OpCode enumerates the unary file operations.
type OpCode string

// Unary operations executed through ProcessFile.
const (
	OpMkdir  OpCode = "mkdir"
	OpDelete OpCode = "delete"
	OpRename OpCode = "rename"
	OpMove   OpCode = "move"
	OpCopy   OpCode = "copy"
)

// FileOp is one unary mutation. Which fields matter depends on the code:
// mkdir needs UserID, ParentID and Name; delete needs ID; rename needs ID
// and Name; move and copy need ID, TargetParent and optionally Name.
type FileOp struct {
	Code         OpCode `msgpack:"code"`
	UserID       uint64 `msgpack:"user_id"`
	ID           uint64 `msgpack:"id"`
	ParentID     uint64 `msgpack:"parent_id"`
	TargetParent uint64 `msgpack:"target_parent"`
	Name         string `msgpack:"name"`
}

// UploadStream sends file content to the backend in chunks. Close
// finalizes the upload and returns the metadata of the created file;
// abandoning the stream without Close aborts the upload server-side.
type UploadStream interface {
	// Send transmits one chunk. The first call must carry the target
	// description; later calls only carry bytes.
	Send(chunk *UploadChunk) error
	// CloseAndRecv finishes the upload and returns the new metadata.
	CloseAndRecv() (*Metadata, error)
}

// UploadChunk is one message of an upload stream.
type UploadChunk struct {
	// Target fields, set on the first chunk only.
	UserID   uint64 `msgpack:"user_id"`
	ParentID uint64 `msgpack:"parent_id"`
	Name     string `msgpack:"name"`
	// Data carries up to the configured chunk size of content.
	Data []byte `msgpack:"data"`
}

// DownloadStream receives file content from the backend.
type DownloadStream interface {
	// Recv returns the next chunk or io.EOF after the last one.
	Recv() ([]byte, error)
	// Close releases the stream early. Safe after EOF.
	Close() error
}

// Client is everything the gateway needs from the backend. All methods
// honor ctx cancellation and return errtypes kinds on failure; transport
// faults surface as errtypes.UpstreamUnavailable.
type Client interface {
	// Authenticate verifies a username/password pair.
	Authenticate(ctx context.Context, username, password string) (*AuthResult, error)
	// CheckTokenRevocation reports whether the token was revoked before
	// its natural expiry.
	CheckTokenRevocation(ctx context.Context, token, tokenID, userID string) (bool, error)
	// GetMetadata stats one file by id or internal path.
	GetMetadata(ctx context.Context, ref Ref) (*Metadata, error)
	// ListFolder returns the children of a folder in backend order. The
	// order is load-bearing: display-name disambiguation is a function
	// of it.
	ListFolder(ctx context.Context, userID, parentID uint64) ([]*Metadata, error)
	// ProcessFile executes one unary mutation and returns the metadata
	// of the affected file where the operation produces one.
	ProcessFile(ctx context.Context, op *FileOp) (*Metadata, error)
	// Upload opens a chunked upload stream.
	Upload(ctx context.Context) (UploadStream, error)
	// Download opens a read stream for the file starting at offset.
	Download(ctx context.Context, id uint64, offset int64) (DownloadStream, error)
}
