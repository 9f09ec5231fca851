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

	"github.com/davgate/davgate/pkg/auth"
)

// UserIDHeader is the gRPC metadata key carrying the backend user id on
// outgoing calls.
const UserIDHeader = "x-user-id"

// ContextGetUser returns the principal if set in the given context.
func ContextGetUser(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(userKey).(*auth.Principal)
	return p, ok
}

// ContextMustGetUser panics if the principal is not in the context.
func ContextMustGetUser(ctx context.Context) *auth.Principal {
	p, ok := ContextGetUser(ctx)
	if !ok {
		panic("user not found in context")
	}
	return p
}

// ContextSetUser stores the principal in the context.
func ContextSetUser(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, userKey, p)
}
