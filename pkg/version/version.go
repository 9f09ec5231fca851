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

// Package version holds the build identity of the binary. The variables
// are stamped at link time:
//
//	go build -ldflags "-X github.com/davgate/davgate/pkg/version.Version=v1.2.0"
package version

import "runtime"

var (
	// Version is the semantic version of the build, "devel" when built
	// without ldflags.
	Version = "devel"
	// GitCommit is the abbreviated commit hash the build was cut from.
	GitCommit = ""
	// BuildDate is the UTC time of the build.
	BuildDate = ""
)

// GoVersion reports the toolchain that produced the binary.
func GoVersion() string { return runtime.Version() }
