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

package fm

import (
	"context"

	"github.com/davgate/davgate/pkg/errtypes"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toErrType translates a transport error into the errtypes kind the rest
// of the gateway dispatches on. The gateway never retries: unavailable
// and deadline failures surface as UpstreamUnavailable and the client
// decides.
func toErrType(err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return errtypes.UpstreamUnavailable(err.Error())
	}
	st, ok := status.FromError(err)
	if !ok {
		return errtypes.InternalError(err.Error())
	}
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.Unavailable, codes.DeadlineExceeded:
		return errtypes.UpstreamUnavailable(st.Message())
	case codes.Unauthenticated:
		return errtypes.InvalidCredentials(st.Message())
	case codes.PermissionDenied:
		return errtypes.PermissionDenied(st.Message())
	case codes.NotFound:
		return errtypes.NotFound(st.Message())
	case codes.AlreadyExists:
		return errtypes.AlreadyExists(st.Message())
	case codes.ResourceExhausted:
		return errtypes.RateLimited(st.Message())
	case codes.InvalidArgument:
		return errtypes.BadRequest(st.Message())
	case codes.Unimplemented:
		return errtypes.NotSupported(st.Message())
	default:
		return errtypes.InternalError(st.Message())
	}
}
