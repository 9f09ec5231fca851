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
)

// TokenHeader is the header/metadata key carrying the access token between
// gateway processes.
const TokenHeader = "x-access-token"

// ContextGetToken returns the access token if set in the given context.
func ContextGetToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	if !ok || t == "" {
		return "", false
	}
	return t, true
}

// ContextSetToken stores the access token in the context.
func ContextSetToken(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}
