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

// Package gate applies the same edge protection to RPC ingress that the
// HTTP chain applies to WebDAV requests. It runs before auth so blocked
// addresses never reach token verification.
package gate

import (
	"context"

	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/gate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewUnary returns a new unary interceptor that consults the gate.
func NewUnary() grpc.UnaryServerInterceptor {
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
	return interceptor
}

// NewStream returns a new server stream interceptor that consults the gate.
func NewStream() grpc.StreamServerInterceptor {
	interceptor := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
	return interceptor
}

func check(ctx context.Context, method string) error {
	g := security.Gate()
	if g == nil {
		return nil
	}

	ip, _ := dctx.ContextGetClientIP(ctx)
	agent, _ := dctx.ContextGetUserAgentString(ctx)

	d := g.Check(ctx, gate.Request{
		ClientIP:  ip,
		UserAgent: agent,
		Method:    "GRPC",
		Path:      method,
	})
	if d.Allowed {
		return nil
	}
	return status.Error(codeForAction(d.Action), d.Reason)
}

func codeForAction(a gate.Action) codes.Code {
	switch a {
	case gate.ActionRateLimit:
		return codes.ResourceExhausted
	case gate.ActionCaptchaRequired:
		return codes.Unauthenticated
	default:
		// IP_BLOCK and DENY
		return codes.PermissionDenied
	}
}
