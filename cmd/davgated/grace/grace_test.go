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

package grace

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netutil "github.com/davgate/davgate/pkg/utils/net"
)

func TestWritePIDGuardsAgainstSecondDaemon(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "davgated.pid")

	first := NewWatcher(WithPIDFile(pidFile))
	require.NoError(t, first.WritePID())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// each watcher holds its own fd, so the locks conflict even inside
	// one test process
	second := NewWatcher(WithPIDFile(pidFile))
	err = second.WritePID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	first.Clean()
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	third := NewWatcher(WithPIDFile(pidFile))
	require.NoError(t, third.WritePID())
	third.Clean()
}

func TestCleanLeavesForeignPIDFileAlone(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "davgated.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("99999999"), 0o644))

	w := NewWatcher(WithPIDFile(pidFile))
	w.Clean()

	// the file names another process, so it must survive
	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, "99999999", string(data))
}

func TestGetProcessFromFile(t *testing.T) {
	dir := t.TempDir()

	_, err := GetProcessFromFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not-a-pid"), 0o644))
	_, err = GetProcessFromFile(garbage)
	assert.Error(t, err)

	own := filepath.Join(dir, "own.pid")
	require.NoError(t, os.WriteFile(own, []byte(strconv.Itoa(os.Getpid())), 0o644))
	p, err := GetProcessFromFile(own)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), p.Pid)
}

type fakeServer struct {
	network, address string
}

func (f *fakeServer) Start(net.Listener) error { return nil }
func (f *fakeServer) Stop() error              { return nil }
func (f *fakeServer) GracefulStop() error      { return nil }
func (f *fakeServer) Network() string          { return f.network }
func (f *fakeServer) Address() string          { return f.address }

func TestGetListenersBindsConfiguredAddresses(t *testing.T) {
	w := NewWatcher(WithPIDFile(filepath.Join(t.TempDir(), "davgated.pid")))

	lns, err := w.GetListeners(map[string]Server{
		"http": &fakeServer{network: "tcp", address: "127.0.0.1:0"},
	})
	require.NoError(t, err)
	require.Contains(t, lns, "http")
	defer lns["http"].Close()

	port := lns["http"].Addr().(*net.TCPAddr).Port
	assert.True(t, netutil.AddressEqual(lns["http"].Addr(), "tcp", "0.0.0.0:"+strconv.Itoa(port)))
	assert.False(t, netutil.AddressEqual(lns["http"].Addr(), "tcp", "0.0.0.0:1"))
	assert.False(t, netutil.AddressEqual(lns["http"].Addr(), "unix", "/tmp/davgated.sock"))
}
