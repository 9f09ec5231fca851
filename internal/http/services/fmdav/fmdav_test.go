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
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/davgate/davgate/pkg/auth"
	dctx "github.com/davgate/davgate/pkg/ctx"
	"github.com/davgate/davgate/pkg/fm"
	"github.com/davgate/davgate/pkg/fm/fmtest"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/rs/zerolog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const lockBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>alice</D:href></D:owner>
</D:lockinfo>`

var _ = Describe("fmdav", func() {
	var (
		backend *fmtest.Backend
		handler http.Handler
		ctx     context.Context

		docsID uint64
	)

	logger := zerolog.Nop()

	// do sends one request the way the service sees it after routing:
	// the target is the path below the service prefix, the principal is
	// already on the context.
	do := func(method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req.WithContext(ctx))
		return rr
	}

	BeforeEach(func() {
		Enable()

		backend = fmtest.New()
		backend.AddUser(fmtest.User{ID: 7, Username: "alice", Password: "secret", Role: "user"})
		docsID = backend.AddFile(7, fm.RootID, "Documents", nil)
		backend.AddFile(7, docsID, "report.docx", []byte("contract draft"))
		backend.AddFile(7, fm.RootID, "readme.md", []byte("hello webdav"))

		c := &config{}
		c.ApplyDefaults()
		s := newSvc(c, backend, pathmap.New(backend), &logger)
		handler = s.Handler()

		ctx = dctx.ContextSetUser(context.Background(), &auth.Principal{ID: "7", Username: "alice", Role: "user"})
	})

	Describe("OPTIONS", func() {
		It("advertises class 1 and 2 support", func() {
			rr := do("OPTIONS", "/", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusOK))
			Expect(rr).To(HaveHTTPHeaderWithValue("DAV", "1, 2"))
		})
	})

	Describe("PROPFIND", func() {
		It("serves the root without touching the backend", func() {
			rr := do("PROPFIND", "/", "", map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:href>/dav/</D:href>")))
			Expect(rr).To(HaveHTTPBody(ContainSubstring(`<D:collection xmlns:D="DAV:"/>`)))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>alice</D:displayname>")))

			calls := backend.Calls()
			Expect(calls.GetMetadata).To(BeZero())
			Expect(calls.ListFolder).To(BeZero())
		})

		It("lists the root children at depth one", func() {
			rr := do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>Documents</D:displayname>")))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>readme.md</D:displayname>")))
			Expect(backend.Calls().ListFolder).To(Equal(1))
		})

		It("reports sizes from backend metadata", func() {
			rr := do("PROPFIND", "/Documents", "", map[string]string{"Depth": "1"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>report.docx</D:displayname>")))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:getcontentlength>14</D:getcontentlength>")))
		})

		It("disambiguates colliding sibling names", func() {
			backend.AddFile(7, docsID, "scan.pdf", []byte("one"))
			backend.AddFile(7, docsID, "scan.pdf", []byte("two"))

			rr := do("PROPFIND", "/Documents", "", map[string]string{"Depth": "1"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>scan.pdf</D:displayname>")))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>scan (2).pdf</D:displayname>")))
		})

		It("returns not found for an unknown path", func() {
			rr := do("PROPFIND", "/no/such/thing", "", map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusNotFound))
		})

		It("never resolves past the share root", func() {
			rr := do("PROPFIND", "/Documents/../../etc/passwd", "", map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusNotFound))
		})
	})

	Describe("GET", func() {
		It("streams file content with type and etag", func() {
			rr := do("GET", "/Documents/report.docx", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusOK))
			Expect(rr).To(HaveHTTPBody("contract draft"))
			Expect(rr).To(HaveHTTPHeaderWithValue("Content-Type", "application/octet-stream"))
			Expect(rr.Header().Get("ETag")).ToNot(BeEmpty())
			Expect(backend.Calls().Download).To(Equal(1))
		})

		It("serves byte ranges from the requested offset", func() {
			rr := do("GET", "/Documents/report.docx", "", map[string]string{"Range": "bytes=9-13"})
			Expect(rr).To(HaveHTTPStatus(http.StatusPartialContent))
			Expect(rr).To(HaveHTTPBody("draft"))
			// sizing the response comes from metadata, not from draining
			// the stream
			Expect(backend.Calls().Download).To(Equal(1))
		})

		It("refuses collections", func() {
			rr := do("GET", "/Documents", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusMethodNotAllowed))
		})

		It("returns not found for an unknown file", func() {
			rr := do("GET", "/Documents/missing.txt", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusNotFound))
		})
	})

	Describe("PUT", func() {
		It("creates a file and publishes its etag", func() {
			rr := do("PUT", "/notes.txt", "first version", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))
			Expect(rr.Header().Get("ETag")).ToNot(BeEmpty())
			Expect(backend.Calls().Upload).To(Equal(1))

			got := do("GET", "/notes.txt", "", nil)
			Expect(got).To(HaveHTTPStatus(http.StatusOK))
			Expect(got).To(HaveHTTPBody("first version"))
		})

		It("shows a fresh upload in the next listing", func() {
			do("PUT", "/notes.txt", "first version", nil)

			rr := do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
			Expect(rr).To(HaveHTTPBody(ContainSubstring("<D:displayname>notes.txt</D:displayname>")))
		})

		It("replaces content without leaving the old file behind", func() {
			rr := do("PUT", "/Documents/report.docx", "second draft, longer", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))

			got := do("GET", "/Documents/report.docx", "", nil)
			Expect(got).To(HaveHTTPBody("second draft, longer"))

			ls := do("PROPFIND", "/Documents", "", map[string]string{"Depth": "1"})
			Expect(strings.Count(ls.Body.String(), "<D:displayname>report.docx</D:displayname>")).To(Equal(1))
		})

		It("rejects uploads into a missing collection", func() {
			rr := do("PUT", "/no/such/dir/file.txt", "x", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusNotFound))
		})
	})

	Describe("MKCOL", func() {
		It("creates a collection", func() {
			rr := do("MKCOL", "/Projects", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))

			ls := do("PROPFIND", "/", "", map[string]string{"Depth": "1"})
			Expect(ls).To(HaveHTTPBody(ContainSubstring("<D:displayname>Projects</D:displayname>")))
		})

		It("refuses an existing name", func() {
			rr := do("MKCOL", "/Documents", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusMethodNotAllowed))
		})

		It("needs the parent to exist", func() {
			rr := do("MKCOL", "/a/b/c", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusConflict))
		})

		It("rejects request bodies", func() {
			rr := do("MKCOL", "/Projects", "surprise", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusUnsupportedMediaType))
		})
	})

	Describe("DELETE", func() {
		It("removes a file", func() {
			rr := do("DELETE", "/readme.md", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusNoContent))

			got := do("GET", "/readme.md", "", nil)
			Expect(got).To(HaveHTTPStatus(http.StatusNotFound))
		})

		It("removes a collection with its children", func() {
			rr := do("DELETE", "/Documents", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusNoContent))

			got := do("GET", "/Documents/report.docx", "", nil)
			Expect(got).To(HaveHTTPStatus(http.StatusNotFound))
		})

		It("returns not found for an unknown path", func() {
			rr := do("DELETE", "/ghost", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusNotFound))
		})
	})

	Describe("MOVE", func() {
		It("renames within the same collection", func() {
			rr := do("MOVE", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/manual.md",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))

			Expect(do("GET", "/manual.md", "", nil)).To(HaveHTTPBody("hello webdav"))
			Expect(do("GET", "/readme.md", "", nil)).To(HaveHTTPStatus(http.StatusNotFound))
		})

		It("moves across collections", func() {
			rr := do("MOVE", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/Documents/readme.md",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))
			Expect(do("GET", "/Documents/readme.md", "", nil)).To(HaveHTTPBody("hello webdav"))
		})

		It("honors Overwrite: F", func() {
			rr := do("MOVE", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/Documents/report.docx",
				"Overwrite":   "F",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusPreconditionFailed))
		})

		It("replaces the target when overwriting", func() {
			rr := do("MOVE", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/Documents/report.docx",
				"Overwrite":   "T",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusNoContent))
			Expect(do("GET", "/Documents/report.docx", "", nil)).To(HaveHTTPBody("hello webdav"))
		})

		It("requires a Destination header", func() {
			rr := do("MOVE", "/readme.md", "", nil)
			Expect(rr).To(HaveHTTPStatus(http.StatusBadRequest))
		})
	})

	Describe("COPY", func() {
		It("copies server-side without streaming through the gateway", func() {
			rr := do("COPY", "/Documents/report.docx", "", map[string]string{
				"Destination": "http://example.com/dav/report-copy.docx",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))

			Expect(do("GET", "/report-copy.docx", "", nil)).To(HaveHTTPBody("contract draft"))
			Expect(do("GET", "/Documents/report.docx", "", nil)).To(HaveHTTPBody("contract draft"))
			Expect(backend.Calls().Upload).To(BeZero())
		})

		It("honors Overwrite: F", func() {
			rr := do("COPY", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/Documents/report.docx",
				"Overwrite":   "F",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusPreconditionFailed))
		})

		It("replaces the target when overwriting", func() {
			rr := do("COPY", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/Documents/report.docx",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusNoContent))
			Expect(do("GET", "/Documents/report.docx", "", nil)).To(HaveHTTPBody("hello webdav"))
		})

		It("needs the destination parent to exist", func() {
			rr := do("COPY", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/lost/readme.md",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusConflict))
		})

		It("rejects a destination outside the share", func() {
			rr := do("COPY", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/elsewhere/readme.md",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusBadRequest))
		})

		It("rejects depths other than zero and infinity", func() {
			rr := do("COPY", "/readme.md", "", map[string]string{
				"Destination": "http://example.com/dav/readme2.md",
				"Depth":       "1",
			})
			Expect(rr).To(HaveHTTPStatus(http.StatusBadRequest))
		})
	})

	Describe("LOCK", func() {
		It("locks an existing file and releases it", func() {
			rr := do("LOCK", "/readme.md", lockBody, map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusOK))
			token := rr.Header().Get("Lock-Token")
			Expect(token).ToNot(BeEmpty())

			un := do("UNLOCK", "/readme.md", "", map[string]string{"Lock-Token": token})
			Expect(un).To(HaveHTTPStatus(http.StatusNoContent))
		})

		It("creates an empty file for a lock on an unmapped path", func() {
			rr := do("LOCK", "/draft.txt", lockBody, map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusCreated))

			got := do("GET", "/draft.txt", "", nil)
			Expect(got).To(HaveHTTPStatus(http.StatusOK))
			Expect(got.Body.Len()).To(BeZero())
		})
	})

	Describe("suspension", func() {
		AfterEach(func() { Enable() })

		It("answers 503 while disabled", func() {
			Disable()
			rr := do("PROPFIND", "/", "", map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusServiceUnavailable))
			Expect(rr.Header().Get("Retry-After")).ToNot(BeEmpty())

			Enable()
			rr = do("PROPFIND", "/", "", map[string]string{"Depth": "0"})
			Expect(rr).To(HaveHTTPStatus(http.StatusMultiStatus))
		})
	})
})
