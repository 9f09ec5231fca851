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

// Package gateadmin serves the admin contract over the gateway's RPC
// ingress. Ping is open; every other method requires a token whose
// principal carries the admin role. Token verification is local, so
// the surface works through a backend outage as long as the token is
// still valid.
package gateadmin

import (
	"context"
	"strconv"
	"time"

	"github.com/davgate/davgate/internal/http/services/fmdav"
	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/auth/resolver"
	dctx "github.com/davgate/davgate/pkg/ctx"
	wire "github.com/davgate/davgate/pkg/gateadmin"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/davgate/davgate/pkg/rgrpc"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/security/audit"
	"github.com/davgate/davgate/pkg/session"
	"github.com/davgate/davgate/pkg/version"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	rgrpc.Register("gateadmin", New)
}

type svc struct {
	started time.Time
}

// New returns the admin RPC service.
func New(m map[string]interface{}) (rgrpc.Service, error) {
	return &svc{started: time.Now()}, nil
}

func (s *svc) Register(ss *grpc.Server) {
	ss.RegisterService(&serviceDesc, s)
}

func (s *svc) Close() error { return nil }

// UnprotectedEndpoints keeps liveness probing tokenless.
func (s *svc) UnprotectedEndpoints() []string {
	return []string{wire.MethodPing}
}

// requireAdmin rejects principals without the admin role. The auth
// interceptor already verified the token.
func (s *svc) requireAdmin(ctx context.Context) (*auth.Principal, error) {
	p, ok := dctx.ContextGetUser(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no user in context")
	}
	if p.Role != auth.RoleAdmin {
		if a := security.Auditor(); a != nil {
			ip, _ := dctx.ContextGetClientIP(ctx)
			a.Emit(audit.Event{
				Level:    audit.LevelWarn,
				Type:     audit.AuthorizationFailure,
				ClientIP: ip,
				Username: p.Username,
				Method:   "GRPC",
				Details:  "admin rpc denied for role " + p.Role,
			})
		}
		return nil, status.Error(codes.PermissionDenied, "admin role required")
	}
	return p, nil
}

// recordAction puts one admin mutation on the audit trail.
func (s *svc) recordAction(ctx context.Context, p *auth.Principal, details string) {
	a := security.Auditor()
	if a == nil {
		return
	}
	ip, _ := dctx.ContextGetClientIP(ctx)
	a.Emit(audit.Event{
		Type:     audit.AdminAction,
		ClientIP: ip,
		Username: p.Username,
		Method:   "GRPC",
		Details:  details,
	})
}

func (s *svc) ping(ctx context.Context, _ *wire.PingRequest) (*wire.PingResponse, error) {
	return &wire.PingResponse{Status: "ok", Version: version.Version}, nil
}

func (s *svc) stats(ctx context.Context, _ *wire.StatsRequest) (*wire.StatsResponse, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	res := &wire.StatsResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WebDAVEnabled: fmdav.Enabled(),
	}
	if g := security.Gate(); g != nil {
		res.Gate = g.Stats()
	}
	if r := resolver.Shared(); r != nil {
		n := r.CacheLen()
		res.CredentialCache = &n
	}
	if st := session.Shared(); st != nil {
		n := st.Count()
		res.SessionSlots = &n
	}
	if e := pathmap.Shared(); e != nil {
		ps := e.CacheStats()
		res.PathCache = &ps
	}
	return res, nil
}

func (s *svc) blockIP(ctx context.Context, req *wire.BlockIPRequest) (*wire.BlockIPResponse, error) {
	p, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	g := security.Gate()
	if g == nil {
		return nil, status.Error(codes.Unavailable, "gate not configured")
	}
	if req.Entry == "" {
		return nil, status.Error(codes.InvalidArgument, "missing entry")
	}
	if err := g.BlockIP(req.Entry); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.recordAction(ctx, p, "added "+req.Entry+" to deny list")
	appctx.GetLogger(ctx).Info().Str("entry", req.Entry).Msg("gateadmin: ip blocked")
	return &wire.BlockIPResponse{Entries: g.Denylist()}, nil
}

func (s *svc) unblockIP(ctx context.Context, req *wire.UnblockIPRequest) (*wire.UnblockIPResponse, error) {
	p, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	g := security.Gate()
	if g == nil {
		return nil, status.Error(codes.Unavailable, "gate not configured")
	}
	if req.Entry == "" {
		return nil, status.Error(codes.InvalidArgument, "missing entry")
	}
	g.UnblockIP(req.Entry)
	s.recordAction(ctx, p, "removed "+req.Entry+" from deny list")
	return &wire.UnblockIPResponse{Entries: g.Denylist()}, nil
}

func (s *svc) invalidateUserCache(ctx context.Context, req *wire.InvalidateUserCacheRequest) (*wire.InvalidateUserCacheResponse, error) {
	p, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(req.UserID, 10, 64)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "user_id must be a decimal backend id")
	}

	res := &wire.InvalidateUserCacheResponse{}
	if r := resolver.Shared(); r != nil {
		r.InvalidateUser(req.UserID)
		res.Credentials = true
	}
	if st := session.Shared(); st != nil {
		st.InvalidateUser(req.UserID)
		res.Sessions = true
	}
	if e := pathmap.Shared(); e != nil {
		e.ClearUser(uid)
		res.Paths = true
	}
	s.recordAction(ctx, p, "invalidated caches for user "+req.UserID)
	return res, nil
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*svc).ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*svc).ping(ctx, req.(*wire.PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*svc).stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodStats}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*svc).stats(ctx, req.(*wire.StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func blockIPHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.BlockIPRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*svc).blockIP(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodBlockIP}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*svc).blockIP(ctx, req.(*wire.BlockIPRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unblockIPHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.UnblockIPRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*svc).unblockIP(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodUnblockIP}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*svc).unblockIP(ctx, req.(*wire.UnblockIPRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func invalidateUserCacheHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.InvalidateUserCacheRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*svc).invalidateUserCache(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodInvalidateUserCache}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*svc).invalidateUserCache(ctx, req.(*wire.InvalidateUserCacheRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "BlockIP", Handler: blockIPHandler},
		{MethodName: "UnblockIP", Handler: unblockIPHandler},
		{MethodName: "InvalidateUserCache", Handler: invalidateUserCacheHandler},
	},
}
