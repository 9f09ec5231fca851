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

// Package appctx prepares the call context: request id, request scoped
// logger and client address, mirroring what the HTTP edge does.
package appctx

import (
	"context"
	"net"

	"github.com/davgate/davgate/pkg/appctx"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/trace"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func prepare(ctx context.Context, log zerolog.Logger) context.Context {
	var tid string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(fm.TraceHeader); len(vals) > 0 && vals[0] != "" {
			tid = vals[0]
		}
	}
	if tid == "" {
		tid = trace.Generate()
	}
	ctx = trace.Set(ctx, tid)

	sub := log.With().Str("traceid", tid).Logger()
	ctx = appctx.WithLogger(ctx, &sub)

	return dctx.ContextSetClientIP(ctx, clientIP(ctx))
}

// clientIP prefers the forwarded address a fronting proxy put in the
// metadata and falls back to the transport peer.
func clientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(dctx.ClientIPHeader); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return ""
}

// NewUnary returns a new unary interceptor that creates the application context.
func NewUnary(log zerolog.Logger) grpc.UnaryServerInterceptor {
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(prepare(ctx, log), req)
	}
	return interceptor
}

// NewStream returns a new server stream interceptor
// that creates the application context.
func NewStream(log zerolog.Logger) grpc.StreamServerInterceptor {
	interceptor := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		wrapped := newWrappedServerStream(prepare(ss.Context(), log), ss)
		return handler(srv, wrapped)
	}
	return interceptor
}

func newWrappedServerStream(ctx context.Context, ss grpc.ServerStream) *wrappedServerStream {
	return &wrappedServerStream{ServerStream: ss, newCtx: ctx}
}

type wrappedServerStream struct {
	grpc.ServerStream
	newCtx context.Context
}

func (ss *wrappedServerStream) Context() context.Context {
	return ss.newCtx
}
