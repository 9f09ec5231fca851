// Copyright 2018-2023 CERN
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

// Package trace generates and propagates the per-request trace id.
// The id crosses process boundaries in the X-Request-ID HTTP header and
// the davgate-trace-id gRPC metadata key.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type key int

const traceKey key = iota

// Generate creates a new trace id.
func Generate() string {
	return uuid.New().String()
}

// Set stores the trace id in the context.
func Set(ctx context.Context, trace string) context.Context {
	return context.WithValue(ctx, traceKey, trace)
}

// Get extracts the trace id from the context, generating a fresh one when
// the context carries none so callers always end up with a usable id.
func Get(ctx context.Context) string {
	if t, ok := ctx.Value(traceKey).(string); ok && t != "" {
		return t
	}
	return Generate()
}

// Has reports whether the context already carries a trace id.
func Has(ctx context.Context) bool {
	t, ok := ctx.Value(traceKey).(string)
	return ok && t != ""
}
