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

// Package msgpack registers a grpc codec carrying msgpack bodies. The
// file-management backend is not a protobuf shop; its RPC surface is
// plain gRPC framing around msgpack messages, so both the backend client
// and the gateway's own admin service use this codec via the
// grpc-accept-encoding content subtype.
package msgpack

import (
	"github.com/shamaton/msgpack/v2"
	"google.golang.org/grpc/encoding"
)

// Name is the content subtype: requests travel as
// application/grpc+msgpack.
const Name = "msgpack"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (codec) Name() string {
	return Name
}
