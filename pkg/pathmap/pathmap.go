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

// Package pathmap translates between the client-visible WebDAV namespace
// and the backend's flat id space.
//
// The backend addresses files by 64-bit id and returns display names
// that may collide within one folder; the gateway presents slash paths
// with unique names. The engine keeps four caches to make the
// translation cheap: path→mapping, id→mapping, per-user trees walked
// segment by segment, and directory listings with their disambiguated
// name tables. All four are evicted together through Invalidate and
// ClearUser; nothing else touches them.
package pathmap

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"golang.org/x/sync/singleflight"
)

// MaxAscendDepth bounds the id→path ascent so a pathological parent
// cycle in backend data cannot hang a request.
const MaxAscendDepth = 100

// Cache defaults. Mappings are tiny; listings hold full metadata slices
// and get a tighter budget.
const (
	DefaultCacheSize   = 8192
	DefaultCacheTTL    = 30 * time.Minute
	DefaultListingSize = 2048
	DefaultListingTTL  = 5 * time.Minute
	DefaultTreeSize    = 512
	DefaultTreeTTL     = time.Hour
)

// Mapping is one cached path↔id association. Path is the normalized
// internal form "/<user-id>/<rest>".
type Mapping struct {
	Path         string
	ID           uint64
	UserID       uint64
	OriginalName string
	WebDAVName   string
	ParentID     uint64
	IsDir        bool
	CreatedAt    time.Time
	LastAccess   time.Time
}

// node is one vertex of a per-user tree. Children are keyed by webdav
// name; within one parent those are unique by construction. Parents are
// referenced by id, never by pointer, so the structure stays acyclic.
type node struct {
	id           uint64
	originalName string
	webdavName   string
	parentID     uint64
	isDir        bool
	children     map[string]*node
}

// Entry is one child in a cached listing.
type Entry struct {
	MD         *fm.Metadata
	WebDAVName string
}

// Listing is a directory listing with collision-free names, cached under
// "<user-id>:<parent-id>".
type Listing struct {
	Entries   []Entry
	byName    map[string]int
	FetchedAt time.Time
}

// Lookup finds a child by its webdav name.
func (l *Listing) Lookup(webdavName string) (*Entry, bool) {
	i, ok := l.byName[webdavName]
	if !ok {
		return nil, false
	}
	return &l.Entries[i], true
}

// Engine implements the translation. One instance serves all users.
type Engine struct {
	client fm.Client

	// mu guards the trees and multi-cache writes so path→mapping and
	// id→mapping stay coherent. Never held across an RPC.
	mu       sync.Mutex
	byPath   gcache.Cache // internal path → *Mapping
	byID     gcache.Cache // uint64 id → *Mapping
	trees    gcache.Cache // uint64 user id → *node (root)
	listings gcache.Cache // "uid:parentID" → *Listing

	sf singleflight.Group

	pathTTL time.Duration
	listTTL time.Duration
	treeTTL time.Duration
}

// Option tunes the engine caches.
type Option func(*options)

type options struct {
	cacheSize   int
	cacheTTL    time.Duration
	listingSize int
	listingTTL  time.Duration
	treeSize    int
	treeTTL     time.Duration
}

// WithCacheSize bounds the path and id mapping caches.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}

// WithCacheTTL bounds mapping lifetimes.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cacheTTL = d
		}
	}
}

// WithListingTTL bounds how long a directory listing is trusted.
func WithListingTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.listingTTL = d
		}
	}
}

// New returns an engine resolving through the given backend client.
func New(client fm.Client, opts ...Option) *Engine {
	o := &options{
		cacheSize:   DefaultCacheSize,
		cacheTTL:    DefaultCacheTTL,
		listingSize: DefaultListingSize,
		listingTTL:  DefaultListingTTL,
		treeSize:    DefaultTreeSize,
		treeTTL:     DefaultTreeTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Engine{
		client:   client,
		byPath:   gcache.New(o.cacheSize).LRU().Build(),
		byID:     gcache.New(o.cacheSize).LRU().Build(),
		trees:    gcache.New(o.treeSize).LRU().Build(),
		listings: gcache.New(o.listingSize).LRU().Build(),
		pathTTL:  o.cacheTTL,
		listTTL:  o.listingTTL,
		treeTTL:  o.treeTTL,
	}
}

// rootPath is the internal path of a user's root.
func rootPath(userID uint64) string {
	return "/" + strconv.FormatUint(userID, 10)
}

// rootMapping synthesizes the mapping of the user root: id 0, no parent.
func rootMapping(userID uint64) *Mapping {
	now := time.Now()
	return &Mapping{
		Path:       rootPath(userID),
		ID:         fm.RootID,
		UserID:     userID,
		IsDir:      true,
		CreatedAt:  now,
		LastAccess: now,
	}
}

// tree returns the cached root node for a user, creating it on demand.
// Callers must hold e.mu.
func (e *Engine) tree(userID uint64) *node {
	if v, err := e.trees.Get(userID); err == nil {
		if n, ok := v.(*node); ok {
			return n
		}
	}
	n := &node{id: fm.RootID, isDir: true, children: make(map[string]*node)}
	_ = e.trees.SetWithExpire(userID, n, e.treeTTL)
	return n
}

// listingKey is the cache key of one directory's listing.
func listingKey(userID, parentID uint64) string {
	return strconv.FormatUint(userID, 10) + ":" + strconv.FormatUint(parentID, 10)
}

// Listing returns the children of a folder with their webdav names,
// from cache or the backend. Concurrent misses for the same folder are
// collapsed into a single backend call.
func (e *Engine) Listing(ctx context.Context, userID, parentID uint64) (*Listing, error) {
	key := listingKey(userID, parentID)
	if v, err := e.listings.Get(key); err == nil {
		if l, ok := v.(*Listing); ok {
			return l, nil
		}
	}

	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		if v, err := e.listings.Get(key); err == nil {
			return v, nil
		}
		entries, err := e.client.ListFolder(ctx, userID, parentID)
		if err != nil {
			return nil, err
		}
		l := buildListing(entries)
		_ = e.listings.SetWithExpire(key, l, e.listTTL)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Listing), nil
}

// buildListing disambiguates the display names in backend order.
func buildListing(entries []*fm.Metadata) *Listing {
	names := make([]string, len(entries))
	for i, md := range entries {
		names[i] = md.Name
	}
	webdav := Disambiguate(names)

	l := &Listing{
		Entries:   make([]Entry, len(entries)),
		byName:    make(map[string]int, len(entries)),
		FetchedAt: time.Now(),
	}
	for i, md := range entries {
		l.Entries[i] = Entry{MD: md, WebDAVName: webdav[i]}
		l.byName[webdav[i]] = i
	}
	return l
}

// ResolvePath resolves a client or internal path to its mapping. The
// path is normalized first; relative segments are rejected before any
// cache is consulted. Unknown paths come back as errtypes.NotFound.
func (e *Engine) ResolvePath(ctx context.Context, p string, userID uint64) (*Mapping, error) {
	norm, err := Normalize(p)
	if err != nil {
		return nil, err
	}
	internal, err := ToInternal(norm, userID)
	if err != nil {
		return nil, err
	}
	if internal == rootPath(userID) {
		return rootMapping(userID), nil
	}

	if m := e.cachedPath(internal); m != nil {
		return m, nil
	}
	return e.walk(ctx, internal, userID)
}

// cachedPath returns a path cache hit and touches its access time.
func (e *Engine) cachedPath(internal string) *Mapping {
	v, err := e.byPath.Get(internal)
	if err != nil {
		return nil
	}
	m, ok := v.(*Mapping)
	if !ok {
		return nil
	}
	e.mu.Lock()
	m.LastAccess = time.Now()
	e.mu.Unlock()
	return m
}

// walk descends the user tree one segment at a time, filling tree nodes
// from directory listings as needed. A missing child always goes through
// Listing, which serves from cache while fresh, so additions become
// visible within the listing TTL.
func (e *Engine) walk(ctx context.Context, internal string, userID uint64) (*Mapping, error) {
	segs := Split(internal)
	segs = segs[1:] // drop the user id segment

	e.mu.Lock()
	cur := e.tree(userID)
	e.mu.Unlock()

	path := rootPath(userID)
	var m *Mapping
	for _, seg := range segs {
		e.mu.Lock()
		child := cur.children[seg]
		parentID := cur.id
		e.mu.Unlock()

		if child == nil {
			l, err := e.Listing(ctx, userID, parentID)
			if err != nil {
				return nil, err
			}
			e.mu.Lock()
			e.graft(cur, l)
			child = cur.children[seg]
			e.mu.Unlock()
			if child == nil {
				return nil, errtypes.NotFound(internal)
			}
		}

		path = path + "/" + child.webdavName
		m = e.store(path, child, userID)
		cur = child
	}
	return m, nil
}

// graft fills a node's children from a listing. Existing child nodes are
// kept so their grandchildren survive. Callers must hold e.mu.
func (e *Engine) graft(parent *node, l *Listing) {
	if parent.children == nil {
		parent.children = make(map[string]*node, len(l.Entries))
	}
	for i := range l.Entries {
		en := &l.Entries[i]
		if _, ok := parent.children[en.WebDAVName]; ok {
			continue
		}
		parent.children[en.WebDAVName] = &node{
			id:           en.MD.ID,
			originalName: en.MD.Name,
			webdavName:   en.WebDAVName,
			parentID:     parent.id,
			isDir:        en.MD.IsDir,
			children:     make(map[string]*node),
		}
	}
}

// store writes the mapping pair for a resolved node, preserving the
// created-at of an existing entry for the same id.
func (e *Engine) store(path string, n *node, userID uint64) *Mapping {
	now := time.Now()
	m := &Mapping{
		Path:         path,
		ID:           n.id,
		UserID:       userID,
		OriginalName: n.originalName,
		WebDAVName:   n.webdavName,
		ParentID:     n.parentID,
		IsDir:        n.isDir,
		CreatedAt:    now,
		LastAccess:   now,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, err := e.byID.GetIFPresent(n.id); err == nil {
		if old, ok := v.(*Mapping); ok {
			m.CreatedAt = old.CreatedAt
		}
	}
	_ = e.byPath.SetWithExpire(path, m, e.pathTTL)
	_ = e.byID.SetWithExpire(n.id, m, e.pathTTL)
	return m
}

// ResolveID resolves a backend id to its internal path by ascending
// parent ids, consulting the id cache at every level. The ascent is
// depth-limited; backend data with a parent cycle surfaces as an
// internal error instead of a hang.
func (e *Engine) ResolveID(ctx context.Context, id, userID uint64) (string, error) {
	m, err := e.resolveID(ctx, id, userID, 0)
	if err != nil {
		return "", err
	}
	return m.Path, nil
}

func (e *Engine) resolveID(ctx context.Context, id, userID uint64, depth int) (*Mapping, error) {
	if depth > MaxAscendDepth {
		return nil, errtypes.InternalError("path ascent exceeded depth limit")
	}
	if id == fm.RootID {
		return rootMapping(userID), nil
	}
	if v, err := e.byID.Get(id); err == nil {
		if m, ok := v.(*Mapping); ok {
			e.mu.Lock()
			m.LastAccess = time.Now()
			e.mu.Unlock()
			return m, nil
		}
	}

	md, err := e.client.GetMetadata(ctx, fm.RefByID(id))
	if err != nil {
		return nil, err
	}
	parent, err := e.resolveID(ctx, md.ParentID, userID, depth+1)
	if err != nil {
		return nil, err
	}

	// the webdav name depends on the siblings, so go through the parent's
	// listing rather than trusting the raw display name
	l, err := e.Listing(ctx, userID, md.ParentID)
	if err != nil {
		return nil, err
	}
	webdavName := md.Name
	for i := range l.Entries {
		if l.Entries[i].MD.ID == id {
			webdavName = l.Entries[i].WebDAVName
			break
		}
	}

	n := &node{
		id:           id,
		originalName: md.Name,
		webdavName:   webdavName,
		parentID:     md.ParentID,
		isDir:        md.IsDir,
	}
	return e.store(parent.Path+"/"+webdavName, n, userID), nil
}
