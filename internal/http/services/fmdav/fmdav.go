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

// Package fmdav exposes the file-management backend as a WebDAV share.
// The RFC 4918 plumbing, XML parsing, multistatus rendering and lock
// bookkeeping, is delegated to golang.org/x/net/webdav; this package
// supplies the FileSystem that bridges WebDAV names to backend file
// ids. COPY is the one verb handled here directly: the generic handler
// would stream content through the gateway, the backend copies
// server-side.
package fmdav

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/fm/pool"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/davgate/davgate/pkg/rhttp/global"
	"github.com/davgate/davgate/pkg/utils/cfg"
	"github.com/rs/zerolog"
	"golang.org/x/net/webdav"
)

func init() {
	global.Register("fmdav", New)
}

// MethodCopy is the WebDAV COPY verb; net/http only names the plain
// HTTP ones.
const MethodCopy = "COPY"

// disabled flips when an operator suspends the WebDAV surface through
// the admin API. The daemon keeps running; requests answer 503.
var disabled atomic.Bool

// Enable resumes serving WebDAV requests.
func Enable() { disabled.Store(false) }

// Disable suspends the WebDAV surface until Enable is called.
func Disable() { disabled.Store(true) }

// Enabled reports whether the service currently serves requests.
func Enabled() bool { return !disabled.Load() }

type config struct {
	Prefix            string `mapstructure:"prefix"`
	Endpoint          string `mapstructure:"endpoint"`
	ChunkSize         int    `mapstructure:"chunk_size"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MetadataCacheSize int    `mapstructure:"metadata_cache_size"`
	MetadataTTLSecs   int    `mapstructure:"metadata_ttl_seconds"`
}

func (c *config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "dav"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = fm.DefaultChunkSize
	}
	if c.MetadataCacheSize <= 0 {
		c.MetadataCacheSize = 4096
	}
	if c.MetadataTTLSecs <= 0 {
		c.MetadataTTLSecs = 60
	}
}

type svc struct {
	conf    *config
	log     *zerolog.Logger
	fs      *fileSystem
	handler *webdav.Handler
}

// New returns a service translating WebDAV verbs into backend RPCs.
// The shared pathmap engine must have been set up at boot.
func New(m map[string]interface{}, log *zerolog.Logger) (global.Service, error) {
	var c config
	if err := cfg.Decode(m, &c); err != nil {
		return nil, err
	}

	engine := pathmap.Shared()
	if engine == nil {
		return nil, errtypes.InternalError("fmdav: pathmap engine not set up")
	}

	opts := []pool.Option{pool.Endpoint(c.Endpoint)}
	if c.TimeoutSeconds > 0 {
		opts = append(opts, pool.Timeout(time.Duration(c.TimeoutSeconds)*time.Second))
	}
	client, err := pool.GetClient(opts...)
	if err != nil {
		return nil, err
	}
	return newSvc(&c, client, engine, log), nil
}

func newSvc(c *config, client fm.Client, engine *pathmap.Engine, log *zerolog.Logger) *svc {
	fs := newFileSystem(client, engine, c.ChunkSize, c.MetadataCacheSize,
		time.Duration(c.MetadataTTLSecs)*time.Second)

	s := &svc{
		conf: c,
		log:  log,
		fs:   fs,
	}
	s.handler = &webdav.Handler{
		Prefix:     "/" + c.Prefix,
		FileSystem: fs,
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("webdav handler")
			}
		},
	}
	return s
}

func (s *svc) Prefix() string { return s.conf.Prefix }

func (s *svc) Close() error { return nil }

func (s *svc) Unprotected() []string { return nil }

func (s *svc) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			w.Header().Set("Retry-After", "30")
			http.Error(w, "webdav access is suspended", http.StatusServiceUnavailable)
			return
		}

		// the router already stripped the service prefix; put it back
		// so the handler sees request path and Destination header in
		// the same namespace
		r.URL.Path = path.Join(s.handler.Prefix, r.URL.Path)

		if r.Method == MethodCopy {
			s.handleCopy(w, r)
			return
		}
		s.handler.ServeHTTP(w, r)
	})
}

// handleCopy asks the backend for a server-side copy instead of the
// read-and-rewrite the generic handler would do.
func (s *svc) handleCopy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)

	src := strings.TrimPrefix(r.URL.Path, s.handler.Prefix)
	if src == "" {
		src = "/"
	}
	dst, err := extractDestination(r.Header.Get("Destination"), s.handler.Prefix)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	overwrite := r.Header.Get("Overwrite")
	if overwrite == "" {
		overwrite = "T"
	}
	if overwrite != "T" && overwrite != "F" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if depth := r.Header.Get("Depth"); depth != "" && depth != "infinity" && depth != "0" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if src == dst || dst == "/" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	log.Debug().Str("src", src).Str("dst", dst).Str("overwrite", overwrite).Msg("copy")

	uid, err := userID(ctx)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	srcM, err := s.fs.resolve(ctx, uid, src)
	if err != nil {
		w.WriteHeader(errStatus(err))
		return
	}

	parent, err := s.fs.resolve(ctx, uid, path.Dir(dst))
	if err != nil {
		// RFC 4918: a missing intermediate collection is a conflict
		if _, ok := err.(errtypes.IsNotFound); ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(errStatus(err))
		return
	}
	if !parent.IsDir {
		w.WriteHeader(http.StatusConflict)
		return
	}

	var existing *pathmap.Mapping
	if m, err := s.fs.resolve(ctx, uid, dst); err == nil {
		existing = m
	}
	if existing != nil {
		if overwrite == "F" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		// overwriting implies a depth-infinity delete of the target
		if err := s.fs.remove(ctx, uid, existing); err != nil {
			log.Error().Err(err).Str("dst", dst).Msg("copy: removing target failed")
			w.WriteHeader(errStatus(err))
			return
		}
	}

	if err := s.fs.copyTo(ctx, uid, srcM, parent, path.Base(dst)); err != nil {
		code := errStatus(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Str("src", src).Str("dst", dst).Msg("copy failed")
		}
		w.WriteHeader(code)
		return
	}
	if existing == nil {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// extractDestination parses the Destination header into a path inside
// this share. Targets on another host or outside the prefix are
// rejected.
func extractDestination(hdr, prefix string) (string, error) {
	if hdr == "" {
		return "", errtypes.BadRequest("copy: missing Destination header")
	}
	u, err := url.ParseRequestURI(hdr)
	if err != nil {
		return "", errtypes.BadRequest("copy: malformed Destination header")
	}
	if u.Path == prefix {
		return "/", nil
	}
	rest, ok := strings.CutPrefix(u.Path, prefix+"/")
	if !ok {
		return "", errtypes.BadRequest("copy: destination outside this share")
	}
	return "/" + rest, nil
}

// errStatus maps backend error kinds to WebDAV statuses for the verbs
// handled in this package. The delegated verbs go through the generic
// handler's os sentinel mapping instead.
func errStatus(err error) int {
	switch err.(type) {
	case errtypes.IsNotFound:
		return http.StatusNotFound
	case errtypes.IsAlreadyExists:
		return http.StatusPreconditionFailed
	case errtypes.IsBadRequest:
		return http.StatusBadRequest
	case errtypes.IsPermissionDenied:
		return http.StatusForbidden
	case errtypes.IsUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
