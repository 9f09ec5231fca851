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

import (
	"context"
	"io"
	"time"

	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// DefaultTimeout bounds unary backend calls when the request context
// carries no deadline of its own.
const DefaultTimeout = 30 * time.Second

// TraceHeader is the metadata key carrying the gateway request id to the
// backend.
const TraceHeader = "x-request-id"

type grpcClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Option tunes the client.
type Option func(*grpcClient)

// WithTimeout overrides the default unary call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *grpcClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient wraps an established connection into a Client. The caller
// keeps ownership of the connection; pool.GetClient is the usual way in.
func NewClient(conn *grpc.ClientConn, opts ...Option) Client {
	c := &grpcClient{conn: conn, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outgoing attaches the per-request metadata the backend correlates on.
// Values missing from the context are simply not sent.
func outgoing(ctx context.Context) context.Context {
	kv := []string{TraceHeader, trace.Get(ctx)}
	if ip, ok := dctx.ContextGetClientIP(ctx); ok {
		kv = append(kv, dctx.ClientIPHeader, ip)
	}
	if agent, ok := dctx.ContextGetUserAgentString(ctx); ok {
		kv = append(kv, dctx.UserAgentHeader, agent)
	}
	if p, ok := dctx.ContextGetUser(ctx); ok {
		kv = append(kv, dctx.UserIDHeader, p.ID)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// unaryCtx bounds a unary call. Streams keep the caller's context: a
// fixed deadline would cut long transfers, and client disconnects cancel
// the context anyway.
func (c *grpcClient) unaryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = outgoing(ctx)
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *grpcClient) Authenticate(ctx context.Context, username, password string) (*AuthResult, error) {
	ctx, cancel := c.unaryCtx(ctx)
	defer cancel()

	req := &AuthenticateRequest{Username: username, Password: password}
	res := &AuthenticateResponse{}
	if err := c.conn.Invoke(ctx, MethodAuthenticate, req, res); err != nil {
		return nil, toErrType(err)
	}
	if !res.Success {
		if res.Error == "" {
			res.Error = "backend rejected credentials"
		}
		return nil, errtypes.InvalidCredentials(res.Error)
	}
	return &AuthResult{
		UserID:   res.UserID,
		Username: res.Username,
		Role:     res.Role,
		Token:    res.Token,
	}, nil
}

func (c *grpcClient) CheckTokenRevocation(ctx context.Context, token, tokenID, userID string) (bool, error) {
	ctx, cancel := c.unaryCtx(ctx)
	defer cancel()

	req := &CheckRevocationRequest{Token: token, TokenID: tokenID, UserID: userID}
	res := &CheckRevocationResponse{}
	if err := c.conn.Invoke(ctx, MethodCheckTokenRevocation, req, res); err != nil {
		return false, toErrType(err)
	}
	if !res.Success {
		return false, errtypes.UpstreamUnavailable("revocation check failed: " + res.Message)
	}
	return res.Revoked, nil
}

func (c *grpcClient) GetMetadata(ctx context.Context, ref Ref) (*Metadata, error) {
	ctx, cancel := c.unaryCtx(ctx)
	defer cancel()

	req := &GetMetadataRequest{Ref: ref}
	res := &GetMetadataResponse{}
	if err := c.conn.Invoke(ctx, MethodGetFileMetadata, req, res); err != nil {
		return nil, toErrType(err)
	}
	if !res.Exists || res.Metadata == nil {
		return nil, errtypes.NotFound("file does not exist")
	}
	return res.Metadata, nil
}

func (c *grpcClient) ListFolder(ctx context.Context, userID, parentID uint64) ([]*Metadata, error) {
	ctx, cancel := c.unaryCtx(ctx)
	defer cancel()

	req := &ListFolderRequest{UserID: userID, ParentID: parentID}
	res := &ListFolderResponse{}
	if err := c.conn.Invoke(ctx, MethodListFolder, req, res); err != nil {
		return nil, toErrType(err)
	}
	return res.Entries, nil
}

func (c *grpcClient) ProcessFile(ctx context.Context, op *FileOp) (*Metadata, error) {
	ctx, cancel := c.unaryCtx(ctx)
	defer cancel()

	req := &ProcessFileRequest{Op: op}
	res := &ProcessFileResponse{}
	if err := c.conn.Invoke(ctx, MethodProcessFile, req, res); err != nil {
		return nil, toErrType(err)
	}
	if !res.Success {
		if res.Error == "" {
			res.Error = "backend rejected operation"
		}
		return nil, errtypes.InternalError(res.Error)
	}
	return res.Metadata, nil
}

var uploadDesc = &grpc.StreamDesc{
	StreamName:    "UploadFile",
	ClientStreams: true,
}

func (c *grpcClient) Upload(ctx context.Context) (UploadStream, error) {
	stream, err := c.conn.NewStream(outgoing(ctx), uploadDesc, MethodUploadFile)
	if err != nil {
		return nil, toErrType(err)
	}
	return &uploadStream{stream: stream}, nil
}

type uploadStream struct {
	stream grpc.ClientStream
}

func (s *uploadStream) Send(chunk *UploadChunk) error {
	if err := s.stream.SendMsg(chunk); err != nil {
		return toErrType(err)
	}
	return nil
}

func (s *uploadStream) CloseAndRecv() (*Metadata, error) {
	if err := s.stream.CloseSend(); err != nil {
		return nil, toErrType(err)
	}
	res := &UploadResponse{}
	if err := s.stream.RecvMsg(res); err != nil {
		return nil, toErrType(err)
	}
	if res.Metadata == nil {
		return nil, errtypes.InternalError("upload finished without metadata")
	}
	return res.Metadata, nil
}

var downloadDesc = &grpc.StreamDesc{
	StreamName:    "DownloadFile",
	ServerStreams: true,
}

func (c *grpcClient) Download(ctx context.Context, id uint64, offset int64) (DownloadStream, error) {
	ctx, cancel := context.WithCancel(outgoing(ctx))
	stream, err := c.conn.NewStream(ctx, downloadDesc, MethodDownloadFile)
	if err != nil {
		cancel()
		return nil, toErrType(err)
	}
	if err := stream.SendMsg(&DownloadRequest{ID: id, Offset: offset}); err != nil {
		cancel()
		return nil, toErrType(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, toErrType(err)
	}
	return &downloadStream{stream: stream, cancel: cancel}, nil
}

type downloadStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *downloadStream) Recv() ([]byte, error) {
	chunk := &DownloadChunk{}
	if err := s.stream.RecvMsg(chunk); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, toErrType(err)
	}
	return chunk.Data, nil
}

func (s *downloadStream) Close() error {
	s.cancel()
	return nil
}
