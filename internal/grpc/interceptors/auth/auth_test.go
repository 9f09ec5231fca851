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

package auth

import (
	"context"
	"testing"

	"github.com/davgate/davgate/pkg/auth"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/token/manager/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testSecret = "test-jwt-secret"

func managerConf() map[string]interface{} {
	return map[string]interface{}{
		"token_manager": "jwt",
		"token_managers": map[string]map[string]interface{}{
			"jwt": {"secret": testSecret},
		},
	}
}

func mintToken(t *testing.T, p *auth.Principal, expires int64) string {
	t.Helper()
	mgr, err := jwt.New(map[string]interface{}{"secret": testSecret, "expires": expires})
	require.NoError(t, err)
	tkn, err := mgr.MintToken(context.Background(), p)
	require.NoError(t, err)
	return tkn
}

func withToken(tkn string) context.Context {
	return metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(dctx.TokenHeader, tkn))
}

// invoke drives one call through a fresh unary interceptor and returns
// the principal the handler saw and whether it ran.
func invoke(t *testing.T, ctx context.Context, method string, unprotected []string) (*auth.Principal, bool, error) {
	t.Helper()
	ic, err := NewUnary(managerConf(), unprotected)
	require.NoError(t, err)

	var seen *auth.Principal
	called := false
	_, err = ic(ctx, nil,
		&grpc.UnaryServerInfo{FullMethod: method},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			called = true
			if p, ok := dctx.ContextGetUser(ctx); ok {
				seen = p
			}
			return nil, nil
		})
	return seen, called, err
}

func TestTokenFromMetadataSetsPrincipal(t *testing.T) {
	tkn := mintToken(t, &auth.Principal{ID: "7", Username: "alice", Role: auth.RoleUser}, 60)

	seen, called, err := invoke(t, withToken(tkn), "/davgate.GateAdmin/Stats", nil)
	require.NoError(t, err)
	require.True(t, called)
	require.NotNil(t, seen)
	assert.Equal(t, "7", seen.ID)
	assert.Equal(t, "alice", seen.Username)
	assert.Equal(t, auth.RoleUser, seen.Role)
}

func TestMissingTokenIsRejected(t *testing.T) {
	_, called, err := invoke(t, context.Background(), "/davgate.GateAdmin/Stats", nil)
	assert.False(t, called)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestMangledTokenIsRejected(t *testing.T) {
	_, called, err := invoke(t, withToken("not.a.token"), "/davgate.GateAdmin/Stats", nil)
	assert.False(t, called)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "access token invalid", status.Convert(err).Message())
}

// Expired and invalid read differently on the wire so clients know
// whether re-authenticating can help.
func TestExpiredTokenIsDistinguished(t *testing.T) {
	tkn := mintToken(t, &auth.Principal{ID: "7", Username: "alice"}, -60)

	_, called, err := invoke(t, withToken(tkn), "/davgate.GateAdmin/Stats", nil)
	assert.False(t, called)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "access token expired", status.Convert(err).Message())
}

func TestUnprotectedMethodNeedsNoToken(t *testing.T) {
	seen, called, err := invoke(t, context.Background(),
		"/davgate.GateAdmin/Ping", []string{"/davgate.GateAdmin/Ping"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, seen)
}

func TestUnknownTokenManagerFailsConstruction(t *testing.T) {
	_, err := NewUnary(map[string]interface{}{"token_manager": "carrier-pigeon"}, nil)
	require.Error(t, err)
}

type stubStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s stubStream) Context() context.Context { return s.ctx }

func TestStreamHandlerSeesThePrincipal(t *testing.T) {
	ic, err := NewStream(managerConf(), nil)
	require.NoError(t, err)

	tkn := mintToken(t, &auth.Principal{ID: "7", Username: "alice"}, 60)

	var seen *auth.Principal
	err = ic(nil, stubStream{ctx: withToken(tkn)},
		&grpc.StreamServerInfo{FullMethod: "/davgate.GateAdmin/Stats"},
		func(srv interface{}, ss grpc.ServerStream) error {
			if p, ok := dctx.ContextGetUser(ss.Context()); ok {
				seen = p
			}
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Username)
}
