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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	gouser "os/user"
	"path"
	"strings"

	"github.com/davgate/davgate/pkg/gateadmin"
	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
	"golang.org/x/term"
)

// config points the CLI at a gateway: the WebDAV base URL and the
// admin RPC address.
type config struct {
	Host  string `json:"host"`
	Admin string `json:"admin"`
}

// auth holds what login stored: either basic credentials or a bearer
// token with the username it belongs to. Mode 0600 is the protection,
// like a .netrc.
type auth struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

func getConfigFile() string {
	user, err := gouser.Current()
	if err != nil {
		panic(err)
	}
	return path.Join(user.HomeDir, ".davgate.config")
}

func readConfig() (*config, error) {
	data, err := os.ReadFile(getConfigFile())
	if err != nil {
		return nil, err
	}

	c := &config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func writeConfig(c *config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(getConfigFile(), data, 0600)
}

func getAuthFile() string {
	user, err := gouser.Current()
	if err != nil {
		panic(err)
	}
	return path.Join(user.HomeDir, ".davgate-auth")
}

func readAuth() (*auth, error) {
	data, err := os.ReadFile(getAuthFile())
	if err != nil {
		return nil, err
	}

	a := &auth{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

func writeAuth(a *auth) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(getAuthFile(), data, 0600)
}

// getWebDAVClient builds a client from the stored credentials. Bearer
// tokens go on the Authorization header directly; basic credentials go
// through the regular challenge.
func getWebDAVClient() (*gowebdav.Client, error) {
	a, err := readAuth()
	if err != nil {
		return nil, errors.New("not logged in, run \"davgate login\"")
	}

	if a.Token != "" {
		c := gowebdav.NewClient(conf.Host, "", "")
		c.SetHeader("Authorization", "Bearer "+a.Token)
		return c, nil
	}
	return gowebdav.NewClient(conf.Host, a.Username, a.Password), nil
}

func getAdminClient() (*gateadmin.Client, error) {
	if conf.Admin == "" {
		return nil, errors.New("no admin endpoint configured, run \"davgate configure\"")
	}
	return gateadmin.Dial(conf.Admin)
}

// getAdminContext attaches the stored bearer token when there is one.
// Ping works without it; every other admin call needs a token whose
// principal carries the admin role.
func getAdminContext() context.Context {
	ctx := context.Background()
	a, err := readAuth()
	if err != nil || a.Token == "" {
		return ctx
	}
	return gateadmin.WithToken(ctx, a.Token)
}

func read(r *bufio.Reader) (string, error) {
	text, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func readPassword(fd int) (string, error) {
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytePassword)), nil
}
