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

package pathmap

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/davgate/davgate/pkg/errtypes"
)

// Register records a fresh association after a mutating operation, so
// the follow-up PROPFIND most clients send resolves without a walk. The
// stale parent listing is dropped; it re-materializes on the next list.
func (e *Engine) Register(internalPath string, id, userID, parentID uint64, originalName string, isDir bool) (*Mapping, error) {
	norm, err := Normalize(internalPath)
	if err != nil {
		return nil, err
	}
	segs := Split(norm)
	if len(segs) < 2 || segs[0] != strconv.FormatUint(userID, 10) {
		return nil, errtypes.BadRequest("not an internal path: " + norm)
	}

	now := time.Now()
	m := &Mapping{
		Path:         norm,
		ID:           id,
		UserID:       userID,
		OriginalName: originalName,
		WebDAVName:   segs[len(segs)-1],
		ParentID:     parentID,
		IsDir:        isDir,
		CreatedAt:    now,
		LastAccess:   now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old := e.mappingByID(id); old != nil {
		m.CreatedAt = old.CreatedAt
	}
	_ = e.byPath.SetWithExpire(norm, m, e.pathTTL)
	_ = e.byID.SetWithExpire(id, m, e.pathTTL)
	e.listings.Remove(listingKey(userID, parentID))
	if parent := e.findNode(userID, path.Dir(norm)); parent != nil {
		parent.children[m.WebDAVName] = &node{
			id:           id,
			originalName: originalName,
			webdavName:   m.WebDAVName,
			parentID:     parentID,
			isDir:        isDir,
			children:     make(map[string]*node),
		}
	}
	return m, nil
}

// Remove drops the association for a path after a deletion, including
// the cached subtree below it.
func (e *Engine) Remove(internalPath string) {
	norm, err := Normalize(internalPath)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, err := e.byPath.GetIFPresent(norm); err == nil {
		if m, ok := v.(*Mapping); ok {
			e.removeLocked(m)
		}
	}
}

// Update relocates an id from one path to another, as happens on MOVE
// and rename. The created-at of the old mapping is preserved and the
// id→mapping entry is replaced in place: a concurrent reader sees the
// old or the new mapping, never a gap.
func (e *Engine) Update(oldPath, newPath string, id uint64) error {
	normOld, err := Normalize(oldPath)
	if err != nil {
		return err
	}
	normNew, err := Normalize(newPath)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.mappingByID(id)
	if old == nil {
		if v, err := e.byPath.GetIFPresent(normOld); err == nil {
			old, _ = v.(*Mapping)
		}
	}
	if old == nil {
		// nothing cached for the id: drop the stale path entry and let
		// the next resolution rebuild
		e.byPath.Remove(normOld)
		return nil
	}

	segs := Split(normNew)
	if len(segs) < 2 {
		return errtypes.BadRequest("not an internal path: " + normNew)
	}
	m := &Mapping{
		Path:         normNew,
		ID:           id,
		UserID:       old.UserID,
		OriginalName: old.OriginalName,
		WebDAVName:   segs[len(segs)-1],
		ParentID:     old.ParentID,
		IsDir:        old.IsDir,
		CreatedAt:    old.CreatedAt,
		LastAccess:   time.Now(),
	}
	// a cross-directory move gets its new parent id from the cached
	// destination; if unknown it is corrected on the next walk
	oldParent, newParent := path.Dir(normOld), path.Dir(normNew)
	if newParent != oldParent {
		if v, err := e.byPath.GetIFPresent(newParent); err == nil {
			if pm, ok := v.(*Mapping); ok {
				m.ParentID = pm.ID
			}
		} else if newParent == rootPath(old.UserID) {
			m.ParentID = 0
		}
	}

	e.byPath.Remove(normOld)
	_ = e.byPath.SetWithExpire(normNew, m, e.pathTTL)
	_ = e.byID.SetWithExpire(id, m, e.pathTTL)

	e.listings.Remove(listingKey(old.UserID, old.ParentID))
	e.listings.Remove(listingKey(old.UserID, m.ParentID))
	if parent := e.findNode(old.UserID, oldParent); parent != nil {
		delete(parent.children, old.WebDAVName)
	}
	if parent := e.findNode(old.UserID, newParent); parent != nil {
		parent.children[m.WebDAVName] = &node{
			id:           id,
			originalName: m.OriginalName,
			webdavName:   m.WebDAVName,
			parentID:     m.ParentID,
			isDir:        m.IsDir,
			children:     make(map[string]*node),
		}
	}
	return nil
}

// Invalidate evicts the cached state around the given ids: their
// mappings, their listings, and their parents' listings. It is the one
// entry point components use after a mutating WebDAV verb; passing a
// folder id refreshes that folder's children.
func (e *Engine) Invalidate(userID uint64, ids ...uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.listings.Remove(listingKey(userID, id))
		if m := e.mappingByID(id); m != nil && m.UserID == userID {
			e.removeLocked(m)
		}
	}
}

// ClearUser evicts everything cached for one user across all four
// caches. Called on password change and admin flushes.
func (e *Engine) ClearUser(userID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	root := rootPath(userID)
	for _, k := range e.byPath.Keys(false) {
		if s, ok := k.(string); ok && (s == root || strings.HasPrefix(s, root+"/")) {
			e.byPath.Remove(k)
		}
	}
	for _, k := range e.byID.Keys(false) {
		v, err := e.byID.GetIFPresent(k)
		if err != nil {
			continue
		}
		if m, ok := v.(*Mapping); ok && m.UserID == userID {
			e.byID.Remove(k)
		}
	}
	prefix := strconv.FormatUint(userID, 10) + ":"
	for _, k := range e.listings.Keys(false) {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			e.listings.Remove(k)
		}
	}
	e.trees.Remove(userID)
}

// Stats reports cache occupancy for the admin surfaces, HTTP and RPC.
type Stats struct {
	Paths    int `json:"paths"    msgpack:"paths"`
	IDs      int `json:"ids"      msgpack:"ids"`
	Trees    int `json:"trees"    msgpack:"trees"`
	Listings int `json:"listings" msgpack:"listings"`
}

// CacheStats returns current cache occupancy.
func (e *Engine) CacheStats() Stats {
	return Stats{
		Paths:    e.byPath.Len(true),
		IDs:      e.byID.Len(true),
		Trees:    e.trees.Len(true),
		Listings: e.listings.Len(true),
	}
}

// mappingByID reads the id cache without counting as an access. Callers
// must hold e.mu.
func (e *Engine) mappingByID(id uint64) *Mapping {
	v, err := e.byID.GetIFPresent(id)
	if err != nil {
		return nil
	}
	m, _ := v.(*Mapping)
	return m
}

// removeLocked drops one mapping from every cache. Callers must hold
// e.mu.
func (e *Engine) removeLocked(m *Mapping) {
	e.byPath.Remove(m.Path)
	e.byID.Remove(m.ID)
	e.listings.Remove(listingKey(m.UserID, m.ParentID))
	e.listings.Remove(listingKey(m.UserID, m.ID))
	if parent := e.findNode(m.UserID, path.Dir(m.Path)); parent != nil {
		delete(parent.children, m.WebDAVName)
	}
}

// findNode walks the cached tree by path without touching the backend.
// Callers must hold e.mu.
func (e *Engine) findNode(userID uint64, internal string) *node {
	v, err := e.trees.GetIFPresent(userID)
	if err != nil {
		return nil
	}
	cur, ok := v.(*node)
	if !ok {
		return nil
	}
	segs := Split(internal)
	if len(segs) == 0 {
		return nil
	}
	for _, seg := range segs[1:] {
		cur = cur.children[seg]
		if cur == nil {
			return nil
		}
	}
	return cur
}
