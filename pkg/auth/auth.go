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

// Package auth holds the types shared by every authentication component:
// the principal attached to requests after a successful login, the raw
// credentials extracted from requests, and the interfaces the HTTP and
// gRPC interceptors program against.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Principal is an authenticated identity. ID is the decimal form of the
// numeric backend user id.
type Principal struct {
	ID       string `mapstructure:"id" json:"id"`
	Username string `mapstructure:"username" json:"username"`
	Role     string `mapstructure:"role" json:"role"`
}

// Known roles. Role is left a free string because the backend owns the
// role vocabulary; these two are the ones the gateway inspects.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// BackendID parses the numeric backend user id out of the principal.
func (p *Principal) BackendID() (uint64, error) {
	return strconv.ParseUint(p.ID, 10, 64)
}

// Credentials contains the username and secret extracted from a request.
// Secret is either a password or a bearer token; Type records which
// extraction strategy produced it.
type Credentials struct {
	Type     string
	Username string
	Secret   string
}

// CredentialStrategy obtains Credentials from an HTTP request.
type CredentialStrategy interface {
	GetCredentials(w http.ResponseWriter, r *http.Request) (*Credentials, error)
	AddWWWAuthenticate(w http.ResponseWriter, r *http.Request, realm string)
}

// Resolver turns Credentials into a Principal or an errtypes failure.
type Resolver interface {
	Resolve(ctx context.Context, creds *Credentials) (*Principal, error)
}

// RevocationChecker answers whether a verified token has been revoked
// upstream before its natural expiry. TokenID and expiresAt come from
// the verified claims; expiresAt bounds how long a verdict may be
// cached.
type RevocationChecker interface {
	Revoked(ctx context.Context, token, tokenID, userID string, expiresAt time.Time) (bool, error)
}
