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

// Package token defines the interface for signing and verifying the
// bearer tokens accepted at the WebDAV edge.
package token

import (
	"context"
	"time"

	"github.com/davgate/davgate/pkg/auth"
)

// Claims is the part of the verified claim set callers need beyond the
// identity: the token id for revocation lookups and the expiry for
// bounding revocation-cache lifetimes.
type Claims struct {
	ID        string
	ExpiresAt time.Time
}

// Manager is the interface to implement to sign and verify tokens.
type Manager interface {
	// MintToken signs a token carrying the principal identity.
	MintToken(ctx context.Context, p *auth.Principal) (string, error)
	// DismantleToken verifies signature and claims and returns the
	// principal encoded in the token. Failures come back as errtypes
	// kinds: TokenExpired for expiry, TokenInvalid for everything else.
	DismantleToken(ctx context.Context, token string) (*auth.Principal, *Claims, error)
}
