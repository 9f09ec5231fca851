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

// Package gateadmin defines the wire contract of the gateway's own
// admin RPC surface and a typed client for it. Like the backend
// contract it is plain gRPC framing around msgpack messages; there is
// no generated stub layer.
package gateadmin

import "github.com/davgate/davgate/pkg/pathmap"

// ServiceName is the admin service as it appears in gRPC paths.
const ServiceName = "davgate.GateAdmin"

// Full method names of the admin service.
const (
	MethodPing                = "/davgate.GateAdmin/Ping"
	MethodStats               = "/davgate.GateAdmin/Stats"
	MethodBlockIP             = "/davgate.GateAdmin/BlockIP"
	MethodUnblockIP           = "/davgate.GateAdmin/UnblockIP"
	MethodInvalidateUserCache = "/davgate.GateAdmin/InvalidateUserCache"
)

// PingRequest checks liveness. It needs no token.
type PingRequest struct{}

// PingResponse reports liveness and build identity.
type PingResponse struct {
	Status  string `msgpack:"status"`
	Version string `msgpack:"version"`
}

// StatsRequest asks for the runtime counters.
type StatsRequest struct{}

// StatsResponse aggregates the live counters of the gateway. Nil
// pointers mark subsystems that were never set up, as opposed to set
// up and empty.
type StatsResponse struct {
	UptimeSeconds   int64          `msgpack:"uptime_seconds"`
	WebDAVEnabled   bool           `msgpack:"webdav_enabled"`
	Gate            map[string]int `msgpack:"gate"`
	CredentialCache *int           `msgpack:"credential_cache_entries"`
	SessionSlots    *int           `msgpack:"session_slots"`
	PathCache       *pathmap.Stats `msgpack:"path_cache"`
}

// BlockIPRequest adds one address or CIDR range to the deny table.
type BlockIPRequest struct {
	Entry string `msgpack:"entry"`
}

// BlockIPResponse returns the deny table after the change.
type BlockIPResponse struct {
	Entries []string `msgpack:"entries"`
}

// UnblockIPRequest removes one entry from the deny table.
type UnblockIPRequest struct {
	Entry string `msgpack:"entry"`
}

// UnblockIPResponse returns the deny table after the change.
type UnblockIPResponse struct {
	Entries []string `msgpack:"entries"`
}

// InvalidateUserCacheRequest flushes one user from every gateway cache.
type InvalidateUserCacheRequest struct {
	UserID string `msgpack:"user_id"`
}

// InvalidateUserCacheResponse reports which cache layers were present
// and flushed.
type InvalidateUserCacheResponse struct {
	Credentials bool `msgpack:"credentials"`
	Sessions    bool `msgpack:"sessions"`
	Paths       bool `msgpack:"paths"`
}
