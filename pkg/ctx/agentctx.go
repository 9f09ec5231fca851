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

	ua "github.com/mileusna/useragent"
	"google.golang.org/grpc/metadata"
)

// UserAgentHeader is the metadata key used for the user agent on gRPC hops.
const UserAgentHeader = "x-user-agent"

// ContextSetUserAgent stores the raw user agent string in the context.
func ContextSetUserAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, userAgentKey, agent)
}

// ContextGetUserAgent returns the parsed user agent if one is available.
// see https://github.com/grpc/grpc-go/issues/1100
func ContextGetUserAgent(ctx context.Context) (*ua.UserAgent, bool) {
	if s, ok := ContextGetUserAgentString(ctx); ok {
		agent := ua.Parse(s)
		return &agent, true
	}
	return nil, false
}

// ContextGetUserAgentString returns the raw user agent string. The HTTP
// edge stores it as a context value; on gRPC ingress it travels in the
// x-user-agent metadata with the transport user-agent as fallback.
func ContextGetUserAgentString(ctx context.Context) (string, bool) {
	if s, ok := ctx.Value(userAgentKey).(string); ok && s != "" {
		return s, true
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	agents, ok := md[UserAgentHeader]
	if !ok {
		agents, ok = md["user-agent"]
		if !ok {
			return "", false
		}
	}
	if len(agents) == 0 {
		return "", false
	}
	return agents[0], true
}
