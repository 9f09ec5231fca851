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
	"io"
	"os"

	"github.com/davgate/davgate/pkg/appctx"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/pathmap"
)

// dir is an open collection. Listing children is its only real job.
type dir struct {
	ctx context.Context
	fs  *fileSystem
	uid uint64
	m   *pathmap.Mapping
	fi  *fileInfo

	children []os.FileInfo
	loaded   bool
	off      int
}

func (d *dir) Close() error               { return nil }
func (d *dir) Stat() (os.FileInfo, error) { return d.fi, nil }

func (d *dir) Read(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.fi.name, Err: os.ErrInvalid}
}

func (d *dir) Write(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.fi.name, Err: os.ErrPermission}
}

func (d *dir) Seek(_ int64, _ int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: d.fi.name, Err: os.ErrInvalid}
}

// Readdir serves children from the shared listing cache with the
// display names already disambiguated. Fetched metadata is kept so the
// propfind that renders the entries does not stat them again.
func (d *dir) Readdir(count int) ([]os.FileInfo, error) {
	if !d.loaded {
		l, err := d.fs.engine.Listing(d.ctx, d.uid, d.m.ID)
		if err != nil {
			return nil, fsError("readdir", d.fi.name, err)
		}
		d.children = make([]os.FileInfo, 0, len(l.Entries))
		for i := range l.Entries {
			e := &l.Entries[i]
			d.fs.md.put(e.MD)
			d.children = append(d.children, &fileInfo{name: e.WebDAVName, md: e.MD})
		}
		d.loaded = true
	}

	if count <= 0 {
		rest := d.children[d.off:]
		d.off = len(d.children)
		return rest, nil
	}
	if d.off >= len(d.children) {
		return nil, io.EOF
	}
	end := d.off + count
	if end > len(d.children) {
		end = len(d.children)
	}
	batch := d.children[d.off:end]
	d.off = end
	return batch, nil
}

// downloadFile is an open file in read mode. The backend stream is
// opened lazily at the current position: ServeContent seeks to the end
// and back before reading, and that must not cost a round trip.
type downloadFile struct {
	ctx  context.Context
	fs   *fileSystem
	m    *pathmap.Mapping
	fi   *fileInfo
	size int64
	pos  int64

	r    *fm.DownloadReader
	rpos int64
}

func (f *downloadFile) Stat() (os.FileInfo, error) { return f.fi, nil }

func (f *downloadFile) Close() error {
	if f.r != nil {
		err := f.r.Close()
		f.r = nil
		return err
	}
	return nil
}

func (f *downloadFile) Write(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.fi.name, Err: os.ErrPermission}
}

func (f *downloadFile) Readdir(_ int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.fi.name, Err: os.ErrInvalid}
}

func (f *downloadFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		abs = f.size + offset
	default:
		return 0, &os.PathError{Op: "seek", Path: f.fi.name, Err: os.ErrInvalid}
	}
	if abs < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.fi.name, Err: os.ErrInvalid}
	}
	f.pos = abs
	return abs, nil
}

func (f *downloadFile) Read(p []byte) (int, error) {
	if f.pos >= f.size {
		return 0, io.EOF
	}
	if f.r == nil || f.rpos != f.pos {
		if err := f.reopen(); err != nil {
			return 0, fsError("read", f.fi.name, err)
		}
	}
	n, err := f.r.Read(p)
	f.pos += int64(n)
	f.rpos = f.pos
	return n, err
}

// reopen positions a fresh backend stream at the current offset,
// dropping a stream left at another position by an earlier seek.
func (f *downloadFile) reopen() error {
	if f.r != nil {
		_ = f.r.Close()
		f.r = nil
	}
	stream, err := f.fs.client.Download(f.ctx, f.m.ID, f.pos)
	if err != nil {
		return err
	}
	f.r = fm.NewDownloadReader(stream)
	f.rpos = f.pos
	return nil
}

// uploadFile is an open file in write mode, backed by a chunked upload
// stream. Stat finalizes the upload: the put handler stats before it
// closes, and the etag it publishes must come from the metadata the
// backend assigned.
type uploadFile struct {
	ctx      context.Context
	fs       *fileSystem
	uid      uint64
	parent   *pathmap.Mapping
	leaf     string
	existing *pathmap.Mapping
	w        *fm.UploadWriter

	done bool
	err  error
	md   *fm.Metadata
}

func (f *uploadFile) Read(_ []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: f.leaf, Err: os.ErrPermission}
}

func (f *uploadFile) Readdir(_ int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.leaf, Err: os.ErrInvalid}
}

func (f *uploadFile) Seek(_ int64, _ int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: f.leaf, Err: os.ErrInvalid}
}

func (f *uploadFile) Write(p []byte) (int, error) {
	if f.done {
		return 0, &os.PathError{Op: "write", Path: f.leaf, Err: os.ErrClosed}
	}
	n, err := f.w.Write(p)
	if err != nil {
		return n, fsError("write", f.leaf, err)
	}
	return n, nil
}

func (f *uploadFile) Close() error { return f.finalize() }

func (f *uploadFile) Stat() (os.FileInfo, error) {
	if err := f.finalize(); err != nil {
		return nil, err
	}
	return &fileInfo{name: f.leaf, md: f.md}, nil
}

// finalize closes the upload stream exactly once and records the new
// file. On replace the superseded id goes away only after the new
// content is safely stored.
func (f *uploadFile) finalize() error {
	if f.done {
		return f.err
	}
	f.done = true

	if err := f.w.Close(); err != nil {
		f.fs.engine.Invalidate(f.uid, f.parent.ID)
		f.err = fsError("close", f.leaf, err)
		return f.err
	}
	md := f.w.Metadata()
	if md == nil {
		f.fs.engine.Invalidate(f.uid, f.parent.ID)
		f.err = errtypes.InternalError("fmdav: upload finished without metadata")
		return f.err
	}

	if f.existing != nil && f.existing.ID != md.ID {
		if _, err := f.fs.client.ProcessFile(f.ctx, &fm.FileOp{
			Code:   fm.OpDelete,
			UserID: f.uid,
			ID:     f.existing.ID,
		}); err != nil {
			appctx.GetLogger(f.ctx).Warn().Err(err).
				Uint64("id", f.existing.ID).Str("name", f.leaf).
				Msg("fmdav: superseded file not deleted")
		}
		f.fs.engine.Remove(f.existing.Path)
		f.fs.md.drop(f.existing.ID)
	}

	if _, err := f.fs.engine.Register(f.parent.Path+"/"+f.leaf, md.ID, f.uid, f.parent.ID, md.Name, false); err != nil {
		f.fs.engine.Invalidate(f.uid, f.parent.ID)
	}
	f.fs.md.put(md)
	f.md = md
	return nil
}
