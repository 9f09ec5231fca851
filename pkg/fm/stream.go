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

package fm

import (
	"io"
)

// DefaultChunkSize is the upload/download chunk size: 1 MiB.
const DefaultChunkSize = 1 << 20

// UploadWriter adapts an UploadStream into an io.WriteCloser that
// buffers writes into fixed-size chunks. The first chunk carries the
// target description. Close flushes the tail chunk, finalizes the
// upload and exposes the resulting metadata through Metadata().
type UploadWriter struct {
	stream    UploadStream
	userID    uint64
	parentID  uint64
	name      string
	chunkSize int

	buf   []byte
	first bool
	md    *Metadata
}

// NewUploadWriter starts writing the file named name under parentID. A
// non-positive chunkSize falls back to DefaultChunkSize.
func NewUploadWriter(stream UploadStream, userID, parentID uint64, name string, chunkSize int) *UploadWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &UploadWriter{
		stream:    stream,
		userID:    userID,
		parentID:  parentID,
		name:      name,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize),
		first:     true,
	}
}

func (w *UploadWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		free := w.chunkSize - len(w.buf)
		if free == 0 {
			if err := w.flush(); err != nil {
				return total - len(p), err
			}
			free = w.chunkSize
		}
		if free > len(p) {
			free = len(p)
		}
		w.buf = append(w.buf, p[:free]...)
		p = p[free:]
	}
	return total, nil
}

func (w *UploadWriter) flush() error {
	chunk := &UploadChunk{Data: w.buf}
	if w.first {
		chunk.UserID = w.userID
		chunk.ParentID = w.parentID
		chunk.Name = w.name
		w.first = false
	}
	if err := w.stream.Send(chunk); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes buffered content and finalizes the upload. Empty files
// still produce one chunk so the backend learns the target.
func (w *UploadWriter) Close() error {
	if len(w.buf) > 0 || w.first {
		if err := w.flush(); err != nil {
			return err
		}
	}
	md, err := w.stream.CloseAndRecv()
	if err != nil {
		return err
	}
	w.md = md
	return nil
}

// Metadata returns the metadata of the uploaded file. Only valid after a
// successful Close.
func (w *UploadWriter) Metadata() *Metadata {
	return w.md
}

// DownloadReader adapts a DownloadStream into an io.ReadCloser.
type DownloadReader struct {
	stream DownloadStream
	rest   []byte
	err    error
}

// NewDownloadReader wraps the stream for byte-oriented reads.
func NewDownloadReader(stream DownloadStream) *DownloadReader {
	return &DownloadReader{stream: stream}
}

func (r *DownloadReader) Read(p []byte) (int, error) {
	for len(r.rest) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.stream.Recv()
		if err != nil {
			r.err = err
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		r.rest = chunk
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

// Close releases the underlying stream.
func (r *DownloadReader) Close() error {
	return r.stream.Close()
}
