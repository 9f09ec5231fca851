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

package fmtest

import (
	"context"
	"io"
	"net"

	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/rgrpc/codec/msgpack"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// Server exposes any fm.Client over the backend wire contract, so the
// real gRPC client and codec can be tested end to end.
type Server struct {
	c fm.Client
}

// Register registers the backend service on a grpc server.
func Register(s *grpc.Server, c fm.Client) {
	s.RegisterService(&serviceDesc, &Server{c: c})
}

// Serve runs the contract for the given client on an in-memory pipe and
// returns a connection to it. The cleanup func tears both down.
func Serve(c fm.Client, opts ...grpc.ServerOption) (*grpc.ClientConn, func(), error) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(opts...)
	Register(srv, c)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(msgpack.Name)),
	)
	if err != nil {
		srv.Stop()
		return nil, nil, err
	}
	cleanup := func() {
		_ = conn.Close()
		srv.Stop()
	}
	return conn, cleanup, nil
}

// statusFromError folds typed errors back into the codes the real
// backend answers with.
func statusFromError(err error) error {
	switch err.(type) {
	case errtypes.IsNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errtypes.IsAlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case errtypes.IsInvalidCredentials:
		return status.Error(codes.Unauthenticated, err.Error())
	case errtypes.IsPermissionDenied:
		return status.Error(codes.PermissionDenied, err.Error())
	case errtypes.IsBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case errtypes.IsNotSupported:
		return status.Error(codes.Unimplemented, err.Error())
	case errtypes.IsRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	case errtypes.IsUpstreamUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) authenticate(ctx context.Context, req *fm.AuthenticateRequest) (*fm.AuthenticateResponse, error) {
	res, err := s.c.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if _, ok := err.(errtypes.IsInvalidCredentials); ok {
			return &fm.AuthenticateResponse{Success: false, Error: err.Error()}, nil
		}
		return nil, statusFromError(err)
	}
	return &fm.AuthenticateResponse{
		Success:  true,
		UserID:   res.UserID,
		Username: res.Username,
		Role:     res.Role,
		Token:    res.Token,
	}, nil
}

func (s *Server) checkRevocation(ctx context.Context, req *fm.CheckRevocationRequest) (*fm.CheckRevocationResponse, error) {
	revoked, err := s.c.CheckTokenRevocation(ctx, req.Token, req.TokenID, req.UserID)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &fm.CheckRevocationResponse{Success: true, Revoked: revoked}, nil
}

func (s *Server) getMetadata(ctx context.Context, req *fm.GetMetadataRequest) (*fm.GetMetadataResponse, error) {
	md, err := s.c.GetMetadata(ctx, req.Ref)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			return &fm.GetMetadataResponse{Exists: false}, nil
		}
		return nil, statusFromError(err)
	}
	return &fm.GetMetadataResponse{Exists: true, Metadata: md}, nil
}

func (s *Server) listFolder(ctx context.Context, req *fm.ListFolderRequest) (*fm.ListFolderResponse, error) {
	entries, err := s.c.ListFolder(ctx, req.UserID, req.ParentID)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &fm.ListFolderResponse{Entries: entries}, nil
}

func (s *Server) processFile(ctx context.Context, req *fm.ProcessFileRequest) (*fm.ProcessFileResponse, error) {
	md, err := s.c.ProcessFile(ctx, req.Op)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &fm.ProcessFileResponse{Success: true, Metadata: md}, nil
}

func (s *Server) upload(stream grpc.ServerStream) error {
	up, err := s.c.Upload(stream.Context())
	if err != nil {
		return statusFromError(err)
	}
	for {
		chunk := new(fm.UploadChunk)
		err := stream.RecvMsg(chunk)
		if err == io.EOF {
			md, err := up.CloseAndRecv()
			if err != nil {
				return statusFromError(err)
			}
			return stream.SendMsg(&fm.UploadResponse{Metadata: md})
		}
		if err != nil {
			return err
		}
		if err := up.Send(chunk); err != nil {
			return statusFromError(err)
		}
	}
}

func (s *Server) download(stream grpc.ServerStream) error {
	req := new(fm.DownloadRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	down, err := s.c.Download(stream.Context(), req.ID, req.Offset)
	if err != nil {
		return statusFromError(err)
	}
	defer down.Close()
	for {
		data, err := down.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return statusFromError(err)
		}
		if err := stream.SendMsg(&fm.DownloadChunk{Data: data}); err != nil {
			return err
		}
	}
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fm.AuthenticateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fm.MethodAuthenticate}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).authenticate(ctx, req.(*fm.AuthenticateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkRevocationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fm.CheckRevocationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).checkRevocation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fm.MethodCheckTokenRevocation}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).checkRevocation(ctx, req.(*fm.CheckRevocationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getMetadataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fm.GetMetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).getMetadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fm.MethodGetFileMetadata}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).getMetadata(ctx, req.(*fm.GetMetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listFolderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fm.ListFolderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).listFolder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fm.MethodListFolder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).listFolder(ctx, req.(*fm.ListFolderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func processFileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(fm.ProcessFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).processFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fm.MethodProcessFile}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).processFile(ctx, req.(*fm.ProcessFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func uploadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).upload(stream)
}

func downloadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Server).download(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: fm.ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
		{MethodName: "CheckTokenRevocation", Handler: checkRevocationHandler},
		{MethodName: "GetFileMetadata", Handler: getMetadataHandler},
		{MethodName: "ListFolder", Handler: listFolderHandler},
		{MethodName: "ProcessFile", Handler: processFileHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "UploadFile", Handler: uploadHandler, ClientStreams: true},
		{StreamName: "DownloadFile", Handler: downloadHandler, ServerStreams: true},
	},
}
