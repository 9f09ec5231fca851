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

// Package appctx prepares the request context before any other
// middleware runs: it assigns or propagates the request id, derives the
// request scoped logger and resolves the original client address and
// user agent.
package appctx

import (
	"net/http"

	"github.com/davgate/davgate/pkg/appctx"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/trace"
	netutil "github.com/davgate/davgate/pkg/utils/net"
	"github.com/rs/zerolog"
)

// TraceHeader carries the request id between client and gateway. The id
// is echoed on the response and forwarded to the backend as gRPC
// metadata so one id names the request across all three hops.
const TraceHeader = "X-Request-ID"

// New returns a middleware that stores the request id, a request scoped
// logger, the client address and the user agent in the request context.
func New(log zerolog.Logger) global.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			tid := r.Header.Get(TraceHeader)
			if tid == "" {
				tid = trace.Generate()
			}
			ctx = trace.Set(ctx, tid)
			w.Header().Set(TraceHeader, tid)

			sub := log.With().Str("traceid", tid).Logger()
			ctx = appctx.WithLogger(ctx, &sub)

			ctx = dctx.ContextSetClientIP(ctx, netutil.ExtractClientIP(r))
			ctx = dctx.ContextSetUserAgent(ctx, r.UserAgent())

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)
		})
	}
}
