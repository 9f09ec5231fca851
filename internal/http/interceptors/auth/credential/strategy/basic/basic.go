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

package basic

import (
	"fmt"
	"net/http"

	"github.com/davgate/davgate/internal/http/interceptors/auth/credential/registry"
	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/errtypes"
)

func init() {
	registry.Register("basic", New)
}

type strategy struct{}

// New returns an auth strategy that checks for basic auth.
func New(m map[string]interface{}) (auth.CredentialStrategy, error) {
	return &strategy{}, nil
}

func (s *strategy) GetCredentials(w http.ResponseWriter, r *http.Request) (*auth.Credentials, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, errtypes.InvalidCredentials("no basic auth provided")
	}
	return &auth.Credentials{Type: "basic", Username: username, Secret: password}, nil
}

func (s *strategy) AddWWWAuthenticate(w http.ResponseWriter, r *http.Request, realm string) {
	if realm == "" {
		realm = r.Host
	}
	w.Header().Add("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, realm))
}
