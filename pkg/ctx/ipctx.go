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

package ctx

import (
	"context"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// ClientIPHeader is the metadata key carrying the original client address
// on gRPC hops.
const ClientIPHeader = "x-client-ip"

// ContextSetClientIP stores the client address in the context.
func ContextSetClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ContextGetClientIP returns the client address. The HTTP edge stores the
// extracted address as a context value; on gRPC ingress it travels in the
// x-client-ip metadata with the peer address as fallback.
func ContextGetClientIP(ctx context.Context) (string, bool) {
	if ip, ok := ctx.Value(clientIPKey).(string); ok && ip != "" {
		return ip, true
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ips := md[ClientIPHeader]; len(ips) > 0 && ips[0] != "" {
			return ips[0], true
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String(), true
	}
	return "", false
}
