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

package bearer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/davgate/davgate/internal/http/interceptors/auth/credential/registry"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/errtypes"
)

func init() {
	registry.Register("bearer", New)
}

type strategy struct{}

// New returns an auth strategy that checks for bearer tokens.
func New(m map[string]interface{}) (auth.CredentialStrategy, error) {
	return &strategy{}, nil
}

func (s *strategy) GetCredentials(w http.ResponseWriter, r *http.Request) (*auth.Credentials, error) {
	// check the Authorization header, then the uri query parameter,
	// see https://tools.ietf.org/html/rfc6750#section-2.3
	hdr := r.Header.Get("Authorization")
	token := strings.TrimPrefix(hdr, "Bearer ")
	if token == hdr {
		token = ""
	}
	if token == "" {
		tokens, ok := r.URL.Query()["access_token"]
		if !ok || len(tokens) == 0 || tokens[0] == "" {
			return nil, errtypes.InvalidCredentials("no bearer token provided")
		}
		token = tokens[0]
	}
	return &auth.Credentials{Type: "bearer", Secret: token}, nil
}

func (s *strategy) AddWWWAuthenticate(w http.ResponseWriter, r *http.Request, realm string) {
	if realm == "" {
		realm = r.Host
	}
	w.Header().Add("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s"`, realm))
}
