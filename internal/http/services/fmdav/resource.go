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

package fmdav

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"time"

	"github.com/bluele/gcache"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/fm"
	"golang.org/x/net/webdav"
)

// fileInfo serves PROPFIND properties from backend metadata. The name
// is the display name within its parent, which can differ from the
// backend name when siblings collide.
type fileInfo struct {
	name string
	md   *fm.Metadata
}

var (
	_ os.FileInfo         = (*fileInfo)(nil)
	_ webdav.ContentTyper = (*fileInfo)(nil)
	_ webdav.ETager       = (*fileInfo)(nil)
)

func (fi *fileInfo) Name() string { return fi.name }

func (fi *fileInfo) Size() int64 { return int64(fi.md.Size) }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.md.IsDir {
		return os.ModeDir | 0775
	}
	return 0664
}

func (fi *fileInfo) ModTime() time.Time { return fi.md.ModifiedAt }

func (fi *fileInfo) IsDir() bool { return fi.md.IsDir }

func (fi *fileInfo) Sys() interface{} { return fi.md }

// ContentType always answers so the handler never falls back to
// sniffing, which would download file content on every PROPFIND.
func (fi *fileInfo) ContentType(_ context.Context) (string, error) {
	if fi.md.IsDir {
		return "httpd/unix-directory", nil
	}
	if fi.md.ContentType != "" {
		return fi.md.ContentType, nil
	}
	if t := mime.TypeByExtension(path.Ext(fi.name)); t != "" {
		return t, nil
	}
	return "application/octet-stream", nil
}

// ETag changes whenever the backend reports a new modification time.
func (fi *fileInfo) ETag(_ context.Context) (string, error) {
	return fmt.Sprintf(`"%x-%x"`, fi.md.ID, fi.md.ModifiedAt.UnixNano()), nil
}

// rootInfo synthesizes the stat of the user root, which has no backend
// metadata of its own. The fixed timestamp keeps its etag stable.
func rootInfo(ctx context.Context) *fileInfo {
	name := "/"
	if p, ok := dctx.ContextGetUser(ctx); ok && p.Username != "" {
		name = p.Username
	}
	return &fileInfo{
		name: name,
		md: &fm.Metadata{
			ID:         fm.RootID,
			IsDir:      true,
			CreatedAt:  time.Unix(0, 0),
			ModifiedAt: time.Unix(0, 0),
		},
	}
}

// mdCache keeps recently fetched metadata so consecutive PROPFINDs do
// not re-stat the backend. Path mappings only know ids and names; sizes
// and timestamps live here, keyed by file id.
type mdCache struct {
	cache gcache.Cache
	ttl   time.Duration
}

func newMDCache(size int, ttl time.Duration) *mdCache {
	return &mdCache{
		cache: gcache.New(size).LRU().Build(),
		ttl:   ttl,
	}
}

func (c *mdCache) get(id uint64) *fm.Metadata {
	v, err := c.cache.Get(id)
	if err != nil {
		return nil
	}
	md, _ := v.(*fm.Metadata)
	return md
}

// put stores one entry. The root id is shared by every user and is
// never cached.
func (c *mdCache) put(md *fm.Metadata) {
	if md == nil || md.ID == fm.RootID {
		return
	}
	_ = c.cache.SetWithExpire(md.ID, md, c.ttl)
}

func (c *mdCache) drop(id uint64) {
	c.cache.Remove(id)
}
