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

// Package log logs every RPC once it returns, with the status code and
// duration observed on the way out.
package log

import (
	"context"
	"time"

	"github.com/davgate/davgate/pkg/appctx"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// NewUnary returns a new unary interceptor that logs grpc calls.
func NewUnary() grpc.UnaryServerInterceptor {
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		res, err := handler(ctx, req)
		code := status.Code(err)
		end := time.Now()
		writeLog(ctx, info.FullMethod, "unary", start, end, code)
		return res, err
	}
	return interceptor
}

// NewStream returns a new server stream interceptor that logs grpc calls.
func NewStream() grpc.StreamServerInterceptor {
	interceptor := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		code := status.Code(err)
		end := time.Now()
		writeLog(ss.Context(), info.FullMethod, "stream", start, end, code)
		return err
	}
	return interceptor
}

func writeLog(ctx context.Context, method, kind string, start, end time.Time, code codes.Code) {
	log := appctx.GetLogger(ctx)
	diff := end.Sub(start).Nanoseconds()

	var fromAddress string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fromAddress = p.Addr.Network() + "://" + p.Addr.String()
	}
	var userAgent string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md["user-agent"]; len(vals) > 0 {
			userAgent = vals[0]
		}
	}

	var event *zerolog.Event
	if code != codes.OK {
		event = log.Error()
	} else {
		event = log.Info()
	}
	event.Str("user-agent", userAgent).Str("from", fromAddress).
		Str("uri", method).Str("start", start.Format("02/Jan/2006:15:04:05 -0700")).
		Str("end", end.Format("02/Jan/2006:15:04:05 -0700")).Int("time_ns", int(diff)).
		Str("code", code.String()).Msg(kind)
}
