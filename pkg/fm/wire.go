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

package fm

// The backend speaks plain gRPC with msgpack bodies; there is no
// generated stub layer. These are the method names and message shapes of
// that contract. The fmtest package serves the same contract for tests.

// Full method names of the backend service.
const (
	MethodAuthenticate         = "/fm.FileManagement/Authenticate"
	MethodCheckTokenRevocation = "/fm.FileManagement/CheckTokenRevocation"
	MethodGetFileMetadata      = "/fm.FileManagement/GetFileMetadata"
	MethodListFolder           = "/fm.FileManagement/ListFolder"
	MethodProcessFile          = "/fm.FileManagement/ProcessFile"
	MethodUploadFile           = "/fm.FileManagement/UploadFile"
	MethodDownloadFile         = "/fm.FileManagement/DownloadFile"
)

// ServiceName is the backend service as it appears in gRPC paths.
const ServiceName = "fm.FileManagement"

// AuthenticateRequest asks the backend to verify a password.
type AuthenticateRequest struct {
	Username string `msgpack:"username"`
	Password string `msgpack:"password"`
}

// AuthenticateResponse carries the verdict. Error is a human-readable
// reason, only set when Success is false.
type AuthenticateResponse struct {
	Success  bool   `msgpack:"success"`
	UserID   string `msgpack:"user_id"`
	Username string `msgpack:"username"`
	Role     string `msgpack:"role"`
	Token    string `msgpack:"token"`
	Error    string `msgpack:"error"`
}

// CheckRevocationRequest asks whether a token was revoked. TokenID and
// UserID are optional hints that let the backend skip parsing the token.
type CheckRevocationRequest struct {
	Token   string `msgpack:"token"`
	TokenID string `msgpack:"token_id"`
	UserID  string `msgpack:"user_id"`
}

// CheckRevocationResponse is the revocation verdict.
type CheckRevocationResponse struct {
	Success bool   `msgpack:"success"`
	Revoked bool   `msgpack:"revoked"`
	Message string `msgpack:"message"`
}

// GetMetadataRequest stats one file.
type GetMetadataRequest struct {
	Ref Ref `msgpack:"ref"`
}

// GetMetadataResponse reports existence and, when it exists, metadata.
type GetMetadataResponse struct {
	Exists   bool      `msgpack:"exists"`
	Metadata *Metadata `msgpack:"metadata"`
}

// ListFolderRequest lists the children of one folder.
type ListFolderRequest struct {
	UserID   uint64 `msgpack:"user_id"`
	ParentID uint64 `msgpack:"parent_id"`
}

// ListFolderResponse returns children in backend order.
type ListFolderResponse struct {
	Entries []*Metadata `msgpack:"entries"`
}

// ProcessFileRequest executes one unary mutation.
type ProcessFileRequest struct {
	Op *FileOp `msgpack:"op"`
}

// ProcessFileResponse reports the outcome.
type ProcessFileResponse struct {
	Success  bool      `msgpack:"success"`
	Metadata *Metadata `msgpack:"metadata"`
	Error    string    `msgpack:"error"`
}

// UploadResponse closes an upload stream.
type UploadResponse struct {
	Metadata *Metadata `msgpack:"metadata"`
}

// DownloadRequest opens a download stream at the given offset.
type DownloadRequest struct {
	ID     uint64 `msgpack:"id"`
	Offset int64  `msgpack:"offset"`
}

// DownloadChunk is one message of a download stream.
type DownloadChunk struct {
	Data []byte `msgpack:"data"`
}
