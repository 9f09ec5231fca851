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

// Package rhttp assembles the HTTP server: services from the global
// registry routed by path prefix, configured middlewares sorted by
// priority, and a fixed edge chain that always runs in the same order
// regardless of configuration: appctx, access log, security headers,
// gate, cors, authentication.
package rhttp

import (
	"context"
	"net"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/davgate/davgate/internal/http/interceptors/appctx"
	"github.com/davgate/davgate/internal/http/interceptors/auth"
	"github.com/davgate/davgate/internal/http/interceptors/cors"
	"github.com/davgate/davgate/internal/http/interceptors/gate"
	"github.com/davgate/davgate/internal/http/interceptors/log"
	"github.com/davgate/davgate/internal/http/interceptors/secure"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/rhttp/router"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type config struct {
	Network     string                            `mapstructure:"network"`
	Address     string                            `mapstructure:"address"`
	CertFile    string                            `mapstructure:"certfile"`
	KeyFile     string                            `mapstructure:"keyfile"`
	Services    map[string]map[string]interface{} `mapstructure:"services"`
	Middlewares map[string]map[string]interface{} `mapstructure:"middlewares"`
}

func (c *config) init() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Address == "" {
		c.Address = "0.0.0.0:9700"
	}
}

// middlewareTriple represents a middleware with the
// priority to be chained.
type middlewareTriple struct {
	Name       string
	Priority   int
	Middleware global.Middleware
}

// Server contains the server info.
type Server struct {
	httpServer  *http.Server
	conf        *config
	listener    net.Listener
	svcs        map[string]global.Service // map key is svc Prefix
	unprotected []string
	handlers    map[string]http.Handler
	middlewares []*middlewareTriple
	log         zerolog.Logger
}

// New returns a new server.
func New(m interface{}, l zerolog.Logger) (*Server, error) {
	conf := &config{}
	if err := mapstructure.Decode(m, conf); err != nil {
		return nil, errors.Wrap(err, "rhttp: error decoding conf")
	}
	conf.init()

	return &Server{
		httpServer:  &http.Server{},
		conf:        conf,
		svcs:        map[string]global.Service{},
		unprotected: []string{},
		handlers:    map[string]http.Handler{},
		log:         l,
	}, nil
}

// Start starts the server.
func (s *Server) Start(ln net.Listener) error {
	if err := s.registerServices(); err != nil {
		return err
	}

	if err := s.registerMiddlewares(); err != nil {
		return err
	}

	handler, err := s.getHandler()
	if err != nil {
		return errors.Wrap(err, "rhttp: error creating http handler")
	}

	s.httpServer.Handler = handler
	s.listener = ln

	if s.conf.CertFile != "" && s.conf.KeyFile != "" {
		s.log.Info().Msgf("https server listening at https://%s", s.conf.Address)
		err = s.httpServer.ServeTLS(s.listener, s.conf.CertFile, s.conf.KeyFile)
	} else {
		s.log.Info().Msgf("http server listening at http://%s", s.conf.Address)
		err = s.httpServer.Serve(s.listener)
	}
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the server, giving in-flight requests one second to end.
func (s *Server) Stop() error {
	s.closeServices()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() error {
	s.closeServices()
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) closeServices() {
	for _, svc := range s.svcs {
		if err := svc.Close(); err != nil {
			s.log.Error().Err(err).Msgf("error closing service %q", svc.Prefix())
		} else {
			s.log.Info().Msgf("service %q correctly closed", svc.Prefix())
		}
	}
}

// Network returns the network type.
func (s *Server) Network() string {
	return s.conf.Network
}

// Address returns the network address.
func (s *Server) Address() string {
	return s.conf.Address
}

func (s *Server) registerServices() error {
	for name, newFunc := range global.Services {
		if _, enabled := s.conf.Services[name]; !enabled {
			continue
		}
		log := s.log.With().Str("service", name).Logger()
		svc, err := newFunc(s.conf.Services[name], &log)
		if err != nil {
			return errors.Wrapf(err, "rhttp: http service %s could not be started", name)
		}
		s.handlers[svc.Prefix()] = svc.Handler()
		s.svcs[svc.Prefix()] = svc
		s.unprotected = append(s.unprotected, getUnprotected(svc.Prefix(), svc.Unprotected())...)
		s.log.Info().Msgf("http service enabled: %s@/%s", name, svc.Prefix())
	}
	return nil
}

func (s *Server) registerMiddlewares() error {
	middlewares := []*middlewareTriple{}
	for name, newFunc := range global.NewMiddlewares {
		if _, enabled := s.conf.Middlewares[name]; !enabled {
			continue
		}
		m, prio, err := newFunc(s.conf.Middlewares[name])
		if err != nil {
			return errors.Wrapf(err, "rhttp: error creating middleware: %s", name)
		}
		middlewares = append(middlewares, &middlewareTriple{
			Name:       name,
			Priority:   prio,
			Middleware: m,
		})
		s.log.Info().Msgf("http middleware enabled: %s", name)
	}
	s.middlewares = middlewares
	return nil
}

func getUnprotected(prefix string, unprotected []string) []string {
	for i := range unprotected {
		unprotected[i] = path.Join("/", prefix, unprotected[i])
	}
	return unprotected
}

func (s *Server) getHandler() (http.Handler, error) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		head, tail := router.ShiftPath(r.URL.Path)
		if h, ok := s.handlers[head]; ok {
			r.URL.Path = tail
			s.log.Debug().Msgf("http routing: head=%s tail=%s svc=%s", head, tail, head)
			h.ServeHTTP(w, r)
			return
		}

		// when a service is exposed at the root catch all requests
		if h, ok := s.handlers[""]; ok {
			r.URL.Path = "/" + head + tail
			s.log.Debug().Msgf("http routing: head= tail=%s svc=root", r.URL.Path)
			h.ServeHTTP(w, r)
			return
		}

		s.log.Debug().Msgf("http routing: head=%s tail=%s svc=not-found", head, tail)
		w.WriteHeader(http.StatusNotFound)
	})

	// sort configured middlewares by priority, highest priority ends up
	// closest to the services.
	sort.SliceStable(s.middlewares, func(i, j int) bool {
		return s.middlewares[i].Priority > s.middlewares[j].Priority
	})

	handler := http.Handler(h)
	for _, triple := range s.middlewares {
		s.log.Info().Msgf("chaining http middleware %s with priority %d", triple.Name, triple.Priority)
		handler = triple.Middleware(handler)
	}

	// the edge chain is fixed and cannot be reordered from configuration:
	// the gate must reject before credentials are read and security
	// headers must go on every response, including denials.
	authMiddle, err := auth.New(s.conf.Middlewares["auth"], s.unprotected)
	if err != nil {
		return nil, errors.Wrap(err, "rhttp: error creating auth middleware")
	}
	gateMiddle, err := gate.New(s.conf.Middlewares["gate"])
	if err != nil {
		return nil, errors.Wrap(err, "rhttp: error creating gate middleware")
	}
	secureMiddle, err := secure.New(s.conf.Middlewares["secure"])
	if err != nil {
		return nil, errors.Wrap(err, "rhttp: error creating secure middleware")
	}

	coreMiddlewares := []*middlewareTriple{{Middleware: authMiddle, Name: "auth"}}
	if _, ok := s.conf.Middlewares["cors"]; ok {
		corsMiddle, err := cors.New(s.conf.Middlewares["cors"])
		if err != nil {
			return nil, errors.Wrap(err, "rhttp: error creating cors middleware")
		}
		coreMiddlewares = append(coreMiddlewares, &middlewareTriple{Middleware: corsMiddle, Name: "cors"})
	}
	coreMiddlewares = append(coreMiddlewares,
		&middlewareTriple{Middleware: gateMiddle, Name: "gate"},
		&middlewareTriple{Middleware: secureMiddle, Name: "secure"},
		&middlewareTriple{Middleware: log.New(), Name: "log"},
		&middlewareTriple{Middleware: appctx.New(s.log), Name: "appctx"},
	)

	for _, triple := range coreMiddlewares {
		handler = triple.Middleware(handler)
	}
	return handler, nil
}
