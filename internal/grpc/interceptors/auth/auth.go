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

// Package auth authenticates RPC ingress from bearer tokens in the
// request metadata. Verification is local signature checking only, so
// the admin surface keeps working through a backend outage; role checks
// against live backend state belong to the individual services.
package auth

import (
	"context"

	"github.com/davgate/davgate/pkg/appctx"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/token"
	tokenmgr "github.com/davgate/davgate/pkg/token/manager/registry"
	"github.com/davgate/davgate/pkg/utils"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type config struct {
	TokenManager  string                            `mapstructure:"token_manager"`
	TokenManagers map[string]map[string]interface{} `mapstructure:"token_managers"`
}

func (c *config) ApplyDefaults() {
	if c.TokenManager == "" {
		c.TokenManager = "jwt"
	}
}

func newTokenManager(m map[string]interface{}) (token.Manager, error) {
	conf := &config{}
	if err := cfg.Decode(m, conf); err != nil {
		return nil, err
	}
	f, ok := tokenmgr.NewFuncs[conf.TokenManager]
	if !ok {
		return nil, errtypes.NotFound("token manager not found: " + conf.TokenManager)
	}
	return f(conf.TokenManagers[conf.TokenManager])
}

// NewUnary returns a new unary interceptor that authenticates requests.
func NewUnary(m map[string]interface{}, unprotected []string) (grpc.UnaryServerInterceptor, error) {
	mgr, err := newTokenManager(m)
	if err != nil {
		return nil, err
	}

	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if utils.Skip(info.FullMethod, unprotected) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, mgr, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
	return interceptor, nil
}

// NewStream returns a new server stream interceptor
// that authenticates requests.
func NewStream(m map[string]interface{}, unprotected []string) (grpc.StreamServerInterceptor, error) {
	mgr, err := newTokenManager(m)
	if err != nil {
		return nil, err
	}

	interceptor := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if utils.Skip(info.FullMethod, unprotected) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), mgr, info.FullMethod)
		if err != nil {
			return err
		}
		wrapped := newWrappedServerStream(ctx, ss)
		return handler(srv, wrapped)
	}
	return interceptor, nil
}

func authenticate(ctx context.Context, mgr token.Manager, method string) (context.Context, error) {
	log := appctx.GetLogger(ctx)

	var tkn string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(dctx.TokenHeader); len(vals) > 0 {
			tkn = vals[0]
		}
	}
	if tkn == "" {
		log.Warn().Str("method", method).Msg("access token not found in metadata")
		return nil, status.Error(codes.Unauthenticated, "access token not found")
	}

	p, _, err := mgr.DismantleToken(ctx, tkn)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Msg("access token rejected")
		if _, ok := err.(errtypes.IsTokenExpired); ok {
			return nil, status.Error(codes.Unauthenticated, "access token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "access token invalid")
	}

	ctx = dctx.ContextSetUser(ctx, p)
	ctx = dctx.ContextSetToken(ctx, tkn)
	return ctx, nil
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
