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

// Package pool shares backend connections across the process. Every
// component asking for the same endpoint gets the same underlying
// channel; gRPC multiplexes calls over it.
package pool

import (
	"sync"
	"time"

	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/rgrpc/codec/msgpack"
	"github.com/davgate/davgate/pkg/sharedconf"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultMaxCallRecvMsgSize = 10240000

// Option defines a single option function.
type Option func(o *Options)

// Options defines the available options for this package.
type Options struct {
	Endpoint           string
	MaxCallRecvMsgSize int
	Timeout            time.Duration
}

func newOptions(opts ...Option) Options {
	opt := Options{
		MaxCallRecvMsgSize: defaultMaxCallRecvMsgSize,
	}
	for _, o := range opts {
		o(&opt)
	}
	// an empty endpoint falls back to the shared backend address so
	// every service section may omit it
	opt.Endpoint = sharedconf.GetBackendSVC(opt.Endpoint)
	return opt
}

// Endpoint sets the backend address to connect to.
func Endpoint(val string) Option {
	return func(o *Options) {
		o.Endpoint = val
	}
}

// MaxCallRecvMsgSize bounds the size of a single received message.
func MaxCallRecvMsgSize(size int) Option {
	return func(o *Options) {
		o.MaxCallRecvMsgSize = size
	}
}

// Timeout sets the per-call deadline applied to unary backend calls.
func Timeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

var clients = struct {
	m    sync.Mutex
	conn map[string]fm.Client
}{
	conn: make(map[string]fm.Client),
}

// NewConn dials a backend endpoint with the msgpack codec as default.
func NewConn(options Options) (*grpc.ClientConn, error) {
	return grpc.NewClient(
		options.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(options.MaxCallRecvMsgSize),
			grpc.CallContentSubtype(msgpack.Name),
		),
	)
}

// GetClient returns the shared backend client for the endpoint, dialing
// on first use.
func GetClient(opts ...Option) (fm.Client, error) {
	clients.m.Lock()
	defer clients.m.Unlock()

	options := newOptions(opts...)
	if c, ok := clients.conn[options.Endpoint]; ok {
		return c, nil
	}

	conn, err := NewConn(options)
	if err != nil {
		return nil, err
	}

	var fmOpts []fm.Option
	if options.Timeout > 0 {
		fmOpts = append(fmOpts, fm.WithTimeout(options.Timeout))
	}
	c := fm.NewClient(conn, fmOpts...)
	clients.conn[options.Endpoint] = c
	return c, nil
}
