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
	"os"
	"path"
	"time"

	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/pathmap"
	"golang.org/x/net/webdav"
)

// fileSystem adapts the backend file tree to webdav.FileSystem. Names
// arrive rooted at the share ("/Documents/report.docx"); the pathmap
// engine turns them into backend ids.
type fileSystem struct {
	client fm.Client
	engine *pathmap.Engine
	md     *mdCache
	chunk  int
}

var _ webdav.FileSystem = (*fileSystem)(nil)

func newFileSystem(client fm.Client, engine *pathmap.Engine, chunkSize, cacheSize int, cacheTTL time.Duration) *fileSystem {
	return &fileSystem{
		client: client,
		engine: engine,
		md:     newMDCache(cacheSize, cacheTTL),
		chunk:  chunkSize,
	}
}

// userID pulls the backend user id out of the request context. Every
// request reaching the filesystem passed authentication first.
func userID(ctx context.Context) (uint64, error) {
	p, ok := dctx.ContextGetUser(ctx)
	if !ok {
		return 0, errtypes.PermissionDenied("no user in context")
	}
	return p.BackendID()
}

// slashClean is equivalent to but slightly more efficient than
// path.Clean("/" + name).
func slashClean(name string) string {
	if name == "" || name[0] != '/' {
		name = "/" + name
	}
	return path.Clean(name)
}

// fsError converts backend error kinds into os sentinels so the generic
// handler picks the right status: not-found turns into 404, exists into
// 405, denied into 403.
func fsError(op, name string, err error) error {
	perr := &os.PathError{Op: op, Path: name, Err: err}
	switch err.(type) {
	case errtypes.IsNotFound:
		perr.Err = os.ErrNotExist
	case errtypes.IsAlreadyExists:
		perr.Err = os.ErrExist
	case errtypes.IsPermissionDenied:
		perr.Err = os.ErrPermission
	}
	return perr
}

func (fs *fileSystem) resolve(ctx context.Context, uid uint64, name string) (*pathmap.Mapping, error) {
	return fs.engine.ResolvePath(ctx, pathmap.DavPrefix+slashClean(name), uid)
}

// infoFor stats a resolved mapping, serving sizes and timestamps from
// the metadata cache when it can.
func (fs *fileSystem) infoFor(ctx context.Context, m *pathmap.Mapping) (*fileInfo, error) {
	if m.ID == fm.RootID {
		return rootInfo(ctx), nil
	}
	if md := fs.md.get(m.ID); md != nil {
		return &fileInfo{name: m.WebDAVName, md: md}, nil
	}
	md, err := fs.client.GetMetadata(ctx, fm.RefByID(m.ID))
	if err != nil {
		return nil, err
	}
	fs.md.put(md)
	return &fileInfo{name: m.WebDAVName, md: md}, nil
}

func (fs *fileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	name = slashClean(name)
	m, err := fs.resolve(ctx, uid, name)
	if err != nil {
		return nil, fsError("stat", name, err)
	}
	fi, err := fs.infoFor(ctx, m)
	if err != nil {
		return nil, fsError("stat", name, err)
	}
	return fi, nil
}

func (fs *fileSystem) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	uid, err := userID(ctx)
	if err != nil {
		return err
	}
	name = slashClean(name)
	if name == "/" {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	parent, err := fs.resolve(ctx, uid, path.Dir(name))
	if err != nil {
		return fsError("mkdir", name, err)
	}
	if !parent.IsDir {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrNotExist}
	}
	if _, err := fs.resolve(ctx, uid, name); err == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	leaf := path.Base(name)
	md, err := fs.client.ProcessFile(ctx, &fm.FileOp{
		Code:     fm.OpMkdir,
		UserID:   uid,
		ParentID: parent.ID,
		Name:     leaf,
	})
	if err != nil {
		return fsError("mkdir", name, err)
	}
	if md == nil {
		fs.engine.Invalidate(uid, parent.ID)
		return nil
	}
	if _, err := fs.engine.Register(parent.Path+"/"+leaf, md.ID, uid, parent.ID, md.Name, true); err != nil {
		fs.engine.Invalidate(uid, parent.ID)
	}
	fs.md.put(md)
	return nil
}

func (fs *fileSystem) RemoveAll(ctx context.Context, name string) error {
	uid, err := userID(ctx)
	if err != nil {
		return err
	}
	name = slashClean(name)
	if name == "/" {
		return &os.PathError{Op: "removeall", Path: name, Err: os.ErrPermission}
	}
	m, err := fs.resolve(ctx, uid, name)
	if err != nil {
		return fsError("removeall", name, err)
	}
	if err := fs.remove(ctx, uid, m); err != nil {
		return fsError("removeall", name, err)
	}
	return nil
}

// remove deletes a file or a whole folder. The backend deletes folders
// recursively on its own.
func (fs *fileSystem) remove(ctx context.Context, uid uint64, m *pathmap.Mapping) error {
	if m.ID == fm.RootID {
		return errtypes.PermissionDenied("cannot remove the root folder")
	}
	if _, err := fs.client.ProcessFile(ctx, &fm.FileOp{
		Code:   fm.OpDelete,
		UserID: uid,
		ID:     m.ID,
	}); err != nil {
		return err
	}
	fs.engine.Remove(m.Path)
	fs.engine.Invalidate(uid, m.ParentID)
	fs.md.drop(m.ID)
	return nil
}

// Rename backs both the rename and the cross-folder move of the MOVE
// verb. Which backend operation runs depends on whether the parent
// changes.
func (fs *fileSystem) Rename(ctx context.Context, oldName, newName string) error {
	uid, err := userID(ctx)
	if err != nil {
		return err
	}
	oldName, newName = slashClean(oldName), slashClean(newName)
	if oldName == "/" || newName == "/" {
		return &os.PathError{Op: "rename", Path: oldName, Err: os.ErrPermission}
	}

	src, err := fs.resolve(ctx, uid, oldName)
	if err != nil {
		return fsError("rename", oldName, err)
	}
	parent, err := fs.resolve(ctx, uid, path.Dir(newName))
	if err != nil {
		return fsError("rename", newName, err)
	}
	if !parent.IsDir {
		return &os.PathError{Op: "rename", Path: newName, Err: os.ErrNotExist}
	}

	leaf := path.Base(newName)
	op := &fm.FileOp{UserID: uid, ID: src.ID, Name: leaf}
	if parent.ID == src.ParentID {
		op.Code = fm.OpRename
	} else {
		op.Code = fm.OpMove
		op.TargetParent = parent.ID
	}
	md, err := fs.client.ProcessFile(ctx, op)
	if err != nil {
		return fsError("rename", oldName, err)
	}
	if err := fs.engine.Update(src.Path, parent.Path+"/"+leaf, src.ID); err != nil {
		fs.engine.Invalidate(uid, src.ParentID, parent.ID)
	}
	if md != nil {
		fs.md.put(md)
	} else {
		fs.md.drop(src.ID)
	}
	return nil
}

// copyTo runs a server-side copy of src into parent under leaf and
// records the result. Only the COPY handler calls it; precondition
// checks happened there.
func (fs *fileSystem) copyTo(ctx context.Context, uid uint64, src, parent *pathmap.Mapping, leaf string) error {
	md, err := fs.client.ProcessFile(ctx, &fm.FileOp{
		Code:         fm.OpCopy,
		UserID:       uid,
		ID:           src.ID,
		TargetParent: parent.ID,
		Name:         leaf,
	})
	if err != nil {
		return err
	}
	if md == nil {
		fs.engine.Invalidate(uid, parent.ID)
		return nil
	}
	if _, err := fs.engine.Register(parent.Path+"/"+leaf, md.ID, uid, parent.ID, md.Name, md.IsDir); err != nil {
		fs.engine.Invalidate(uid, parent.ID)
	}
	fs.md.put(md)
	return nil
}

func (fs *fileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	name = slashClean(name)

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return fs.openWrite(ctx, uid, name, flag)
	}
	return fs.openRead(ctx, uid, name)
}

func (fs *fileSystem) openRead(ctx context.Context, uid uint64, name string) (webdav.File, error) {
	m, err := fs.resolve(ctx, uid, name)
	if err != nil {
		return nil, fsError("open", name, err)
	}
	fi, err := fs.infoFor(ctx, m)
	if err != nil {
		return nil, fsError("open", name, err)
	}
	if fi.IsDir() {
		return &dir{ctx: ctx, fs: fs, uid: uid, m: m, fi: fi}, nil
	}
	return &downloadFile{ctx: ctx, fs: fs, m: m, fi: fi, size: fi.Size()}, nil
}

func (fs *fileSystem) openWrite(ctx context.Context, uid uint64, name string, flag int) (webdav.File, error) {
	if name == "/" {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	parent, err := fs.resolve(ctx, uid, path.Dir(name))
	if err != nil {
		return nil, fsError("open", name, err)
	}
	if !parent.IsDir {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}

	var existing *pathmap.Mapping
	if m, err := fs.resolve(ctx, uid, name); err == nil {
		if m.IsDir {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		}
		if flag&os.O_EXCL != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		}
		// content cannot be opened for in-place modification; only a
		// full replace is expressible as an upload
		if flag&os.O_TRUNC == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
		}
		existing = m
	} else if flag&os.O_CREATE == 0 {
		return nil, fsError("open", name, err)
	}

	stream, err := fs.client.Upload(ctx)
	if err != nil {
		return nil, fsError("open", name, err)
	}
	leaf := path.Base(name)
	return &uploadFile{
		ctx:      ctx,
		fs:       fs,
		uid:      uid,
		parent:   parent,
		leaf:     leaf,
		existing: existing,
		w:        fm.NewUploadWriter(stream, uid, parent.ID, leaf, fs.chunk),
	}, nil
}
