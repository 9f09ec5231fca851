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

// Package errtypes contains definitions for the error kinds crossing
// package boundaries in this codebase. It would have been nice to call
// this package errors, err or error, but errors clashes with
// github.com/pkg/errors, err is used for any error variable
// and error is a reserved word :)
package errtypes

// NotFound is the error to use when a resource is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// AlreadyExists is the error to use when a resource already exists.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "error: already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists interface.
func (e AlreadyExists) IsAlreadyExists() {}

// UserRequired represents the error when no authenticated user is available.
type UserRequired string

func (e UserRequired) Error() string { return "error: user required: " + string(e) }

// IsUserRequired implements the IsUserRequired interface.
func (e UserRequired) IsUserRequired() {}

// InvalidCredentials is the error to use when receiving invalid credentials.
type InvalidCredentials string

func (e InvalidCredentials) Error() string { return "error: invalid credentials: " + string(e) }

// IsInvalidCredentials implements the IsInvalidCredentials interface.
func (e InvalidCredentials) IsInvalidCredentials() {}

// PermissionDenied is the error to use when an operation is forbidden
// for the authenticated user.
type PermissionDenied string

func (e PermissionDenied) Error() string { return "error: permission denied: " + string(e) }

// IsPermissionDenied implements the IsPermissionDenied interface.
func (e PermissionDenied) IsPermissionDenied() {}

// TokenExpired is the error to use when a bearer token is past its expiry.
type TokenExpired string

func (e TokenExpired) Error() string { return "error: token expired: " + string(e) }

// IsTokenExpired implements the IsTokenExpired interface.
func (e TokenExpired) IsTokenExpired() {}

// TokenInvalid is the error to use when a bearer token fails signature or
// claim validation for any reason other than expiry.
type TokenInvalid string

func (e TokenInvalid) Error() string { return "error: token invalid: " + string(e) }

// IsTokenInvalid implements the IsTokenInvalid interface.
func (e TokenInvalid) IsTokenInvalid() {}

// TokenRevoked is the error to use when a bearer token has been revoked
// upstream before its natural expiry.
type TokenRevoked string

func (e TokenRevoked) Error() string { return "error: token revoked: " + string(e) }

// IsTokenRevoked implements the IsTokenRevoked interface.
func (e TokenRevoked) IsTokenRevoked() {}

// UsernameMismatch is the error to use when the username presented next to
// a bearer token does not match the token subject.
type UsernameMismatch string

func (e UsernameMismatch) Error() string { return "error: username mismatch: " + string(e) }

// IsUsernameMismatch implements the IsUsernameMismatch interface.
func (e UsernameMismatch) IsUsernameMismatch() {}

// RateLimited is the error to use when a caller exceeded a request budget.
type RateLimited string

func (e RateLimited) Error() string { return "error: rate limited: " + string(e) }

// IsRateLimited implements the IsRateLimited interface.
func (e RateLimited) IsRateLimited() {}

// BadRequest is the error to use when the request is malformed: bad paths,
// traversal sequences, unparseable bodies.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// NotSupported is the error to use when an action is not supported.
type NotSupported string

func (e NotSupported) Error() string { return "error: not supported: " + string(e) }

// IsNotSupported implements the IsNotSupported interface.
func (e NotSupported) IsNotSupported() {}

// UpstreamUnavailable is the error to use when the file-management backend
// cannot be reached or answers with a transport-level failure.
type UpstreamUnavailable string

func (e UpstreamUnavailable) Error() string { return "error: upstream unavailable: " + string(e) }

// IsUpstreamUnavailable implements the IsUpstreamUnavailable interface.
func (e UpstreamUnavailable) IsUpstreamUnavailable() {}

// InternalError is the fallback kind for failures that are none of the above.
type InternalError string

func (e InternalError) Error() string { return "internal error: " + string(e) }

// IsInternalError implements the IsInternalError interface.
func (e InternalError) IsInternalError() {}

// IsNotFound is the interface to implement
// to specify that a resource is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsAlreadyExists is the interface to implement
// to specify that a resource already exists.
type IsAlreadyExists interface {
	IsAlreadyExists()
}

// IsUserRequired is the interface to implement
// to specify that a user is required.
type IsUserRequired interface {
	IsUserRequired()
}

// IsInvalidCredentials is the interface to implement
// to specify that credentials were wrong.
type IsInvalidCredentials interface {
	IsInvalidCredentials()
}

// IsPermissionDenied is the interface to implement
// to specify that an action is denied.
type IsPermissionDenied interface {
	IsPermissionDenied()
}

// IsTokenExpired is the interface to implement
// to specify that a token expired.
type IsTokenExpired interface {
	IsTokenExpired()
}

// IsTokenInvalid is the interface to implement
// to specify that a token failed validation.
type IsTokenInvalid interface {
	IsTokenInvalid()
}

// IsTokenRevoked is the interface to implement
// to specify that a token was revoked upstream.
type IsTokenRevoked interface {
	IsTokenRevoked()
}

// IsUsernameMismatch is the interface to implement
// to specify that a username does not match the token subject.
type IsUsernameMismatch interface {
	IsUsernameMismatch()
}

// IsRateLimited is the interface to implement
// to specify that a request budget was exceeded.
type IsRateLimited interface {
	IsRateLimited()
}

// IsBadRequest is the interface to implement
// to specify that the request was malformed.
type IsBadRequest interface {
	IsBadRequest()
}

// IsNotSupported is the interface to implement
// to specify that an action is not supported.
type IsNotSupported interface {
	IsNotSupported()
}

// IsUpstreamUnavailable is the interface to implement
// to specify that the backend could not serve.
type IsUpstreamUnavailable interface {
	IsUpstreamUnavailable()
}

// IsInternalError is the interface to implement
// to specify that something unexpected broke.
type IsInternalError interface {
	IsInternalError()
}
