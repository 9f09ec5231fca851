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

package gateadmin

import (
	"context"

	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/rgrpc/codec/msgpack"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client talks to a running gateway's admin RPC surface. Used by the
// davgate CLI.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the gateway RPC address with the msgpack codec. The
// connection is lazy; a wrong address surfaces on the first call.
func Dial(endpoint string) (*Client, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(msgpack.Name)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

// WithToken returns a context carrying the access token the server's
// auth interceptor expects. Every method except Ping needs one.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, dctx.TokenHeader, token)
}

// Ping checks that the gateway answers RPC.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	res := new(PingResponse)
	if err := c.conn.Invoke(ctx, MethodPing, &PingRequest{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats returns the gateway's runtime counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	res := new(StatsResponse)
	if err := c.conn.Invoke(ctx, MethodStats, &StatsRequest{}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// BlockIP adds an address or CIDR range to the deny table.
func (c *Client) BlockIP(ctx context.Context, entry string) (*BlockIPResponse, error) {
	res := new(BlockIPResponse)
	if err := c.conn.Invoke(ctx, MethodBlockIP, &BlockIPRequest{Entry: entry}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// UnblockIP removes an entry from the deny table.
func (c *Client) UnblockIP(ctx context.Context, entry string) (*UnblockIPResponse, error) {
	res := new(UnblockIPResponse)
	if err := c.conn.Invoke(ctx, MethodUnblockIP, &UnblockIPRequest{Entry: entry}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// InvalidateUserCache flushes one user from every gateway cache.
func (c *Client) InvalidateUserCache(ctx context.Context, userID string) (*InvalidateUserCacheResponse, error) {
	res := new(InvalidateUserCacheResponse)
	if err := c.conn.Invoke(ctx, MethodInvalidateUserCache, &InvalidateUserCacheRequest{UserID: userID}, res); err != nil {
		return nil, err
	}
	return res, nil
}
