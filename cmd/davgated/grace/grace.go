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

// Package grace keeps davgated restartable without dropping
// connections: it guards the pid file with a file lock, hands listener
// fds from a running daemon to its forked replacement and translates
// process signals into server shutdowns.
package grace

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	netutil "github.com/davgate/davgate/pkg/utils/net"
)

const (
	// fdEnvPrefix announces inherited listener fds to the forked child
	// as DAVGATE_FD_<NAME>=<fd>.
	fdEnvPrefix = "DAVGATE_FD_"

	// gracefulEnv marks a process as the forked replacement of a
	// running daemon.
	gracefulEnv = "GRACEFUL"

	// shutdownDeadline bounds how long a graceful stop may drain active
	// connections before the servers are closed hard.
	shutdownDeadline = 10 * time.Second
)

// Server is the interface the watcher drives, implemented by the rhttp
// and rgrpc servers.
type Server interface {
	Start(net.Listener) error
	Stop() error
	GracefulStop() error
	Network() string
	Address() string
}

// Watcher ties a daemon process to its pid file and keeps open network
// sockets across forking restarts to avoid packet loss.
type Watcher struct {
	log       zerolog.Logger
	graceful  bool
	ppid      int
	lns       map[string]net.Listener
	ss        map[string]Server
	cl        io.Closer
	pidFile   string
	flk       *flock.Flock
	childPIDs []int
}

// Option configures the watcher.
type Option func(w *Watcher)

// WithLogger adds a logger to the watcher.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

// WithPIDFile sets the pid file to guard.
func WithPIDFile(fn string) Option {
	return func(w *Watcher) {
		w.pidFile = fn
	}
}

// NewWatcher creates a watcher.
func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{
		log:      zerolog.Nop(),
		graceful: os.Getenv(gracefulEnv) == "true",
		ppid:     os.Getppid(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.flk = flock.New(w.pidFile)
	return w
}

// SetCloser registers a hook run once the servers have stopped, used to
// flush process-wide state like the audit pipeline before exit.
func (w *Watcher) SetCloser(c io.Closer) { w.cl = c }

// WritePID claims the pid file for this process. A normal start takes
// an exclusive lock on it first, so a second daemon pointed at the same
// file refuses to boot instead of fighting over ports. A forked child
// skips the lock here: its parent still holds it, and the child takes
// over in GetListeners once the parent is gone.
func (w *Watcher) WritePID() error {
	if w.graceful {
		if pid, err := w.readPID(); err == nil && pid != w.ppid {
			return fmt.Errorf("grace: pid file %s contains pid %d, not the parent of this process", w.pidFile, pid)
		}
		return w.writePID()
	}

	locked, err := w.flk.TryLock()
	if err != nil {
		return errors.Wrapf(err, "grace: error locking pid file %s", w.pidFile)
	}
	if !locked {
		if pid, err := w.readPID(); err == nil {
			return fmt.Errorf("grace: daemon already running with pid %d", pid)
		}
		return fmt.Errorf("grace: pid file %s is locked by another process", w.pidFile)
	}
	return w.writePID()
}

func (w *Watcher) writePID() error {
	if err := os.WriteFile(w.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return errors.Wrap(err, "grace: error writing pid file")
	}
	w.log.Info().Msgf("pid file saved at: %s", w.pidFile)
	return nil
}

func (w *Watcher) readPID() (int, error) {
	data, err := os.ReadFile(w.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// GetProcessFromFile reads the pid file and returns the daemon process
// it names.
func GetProcessFromFile(pfile string) (*os.Process, error) {
	data, err := os.ReadFile(pfile)
	if err != nil {
		return nil, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}

	return os.FindProcess(pid)
}

// Exit exits the current process cleaning up the pid file.
func (w *Watcher) Exit(errc int) {
	w.Clean()
	os.Exit(errc)
}

// Clean removes the pid file and releases its lock when both still
// belong to this process.
func (w *Watcher) Clean() {
	if err := w.clean(); err != nil {
		w.log.Warn().Err(err).Msg("error removing pid file")
	} else {
		w.log.Info().Msgf("pid file %q got removed", w.pidFile)
	}
}

func (w *Watcher) clean() error {
	pid, err := w.readPID()
	if err != nil {
		return err
	}

	if pid != os.Getpid() {
		// a forked child took over the pid file
		return fmt.Errorf("pid %d in pid file is not this process", pid)
	}

	if err := os.Remove(w.pidFile); err != nil {
		return err
	}
	return w.flk.Unlock()
}

// inherited implements net.Listener around an fd handed over by the
// parent process.
type inherited struct {
	f  *os.File
	ln net.Listener
}

func (i *inherited) Accept() (net.Conn, error) { return i.ln.Accept() }
func (i *inherited) Addr() net.Addr            { return i.ln.Addr() }

func (i *inherited) Close() error {
	if err := i.f.Close(); err != nil {
		return err
	}
	return i.ln.Close()
}

// inheritedListeners rebuilds the parent's listeners from the
// DAVGATE_FD_<NAME> environment.
func inheritedListeners(log zerolog.Logger) map[string]net.Listener {
	lns := make(map[string]net.Listener)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, fdEnvPrefix) {
			continue
		}
		name, val, ok := strings.Cut(strings.TrimPrefix(kv, fdEnvPrefix), "=")
		if !ok {
			continue
		}
		fd, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			continue
		}
		f := os.NewFile(uintptr(fd), "")
		ln, err := net.FileListener(f)
		if err != nil {
			log.Warn().Err(err).Msgf("error recovering listener from fd %d", fd)
			continue
		}
		lns[strings.ToLower(name)] = &inherited{f: f, ln: ln}
	}
	return lns
}

// GetListeners binds one listener per server. On a graceful restart it
// prefers the fds inherited from the parent, binds fresh sockets for
// anything the parent could not hand over, then retires the parent.
func (w *Watcher) GetListeners(servers map[string]Server) (map[string]net.Listener, error) {
	w.ss = servers
	lns := make(map[string]net.Listener)

	if w.graceful {
		w.log.Info().Msg("graceful restart, inheriting parent listener fds")

		for name, ln := range inheritedListeners(w.log) {
			s, ok := servers[name]
			if ok && netutil.AddressEqual(ln.Addr(), s.Network(), s.Address()) {
				lns[name] = ln
				continue
			}
			// the new config dropped the service or moved it elsewhere
			if err := ln.Close(); err != nil {
				return nil, errors.Wrap(err, "grace: error closing inherited listener")
			}
		}

		// bind missing sockets before the old daemon goes away, so a
		// bad config leaves it running
		for name, s := range servers {
			if _, ok := lns[name]; ok {
				continue
			}
			ln, err := net.Listen(s.Network(), s.Address())
			if err != nil {
				return nil, errors.Wrapf(err, "grace: error listening on %s %s", s.Network(), s.Address())
			}
			lns[name] = ln
		}

		if err := w.retireParent(); err != nil {
			return nil, err
		}
		w.lns = lns
		return lns, nil
	}

	for name, s := range servers {
		ln, err := net.Listen(s.Network(), s.Address())
		if err != nil {
			return nil, errors.Wrapf(err, "grace: error listening on %s %s", s.Network(), s.Address())
		}
		lns[name] = ln
	}
	w.lns = lns
	return lns, nil
}

// retireParent asks the old daemon to drain and waits for the pid file
// lock it releases on exit. The wait outlasts the parent's shutdown
// deadline so a draining parent is not mistaken for a stuck one.
func (w *Watcher) retireParent() error {
	w.log.Info().Msgf("asking parent pid %d to shut down gracefully", w.ppid)
	p, err := os.FindProcess(w.ppid)
	if err != nil {
		return errors.Wrap(err, "grace: error finding parent process")
	}
	if err := p.Signal(syscall.SIGQUIT); err != nil {
		return errors.Wrap(err, "grace: error signaling parent process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline+5*time.Second)
	defer cancel()
	locked, err := w.flk.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return errors.Wrap(err, "grace: error taking over the pid file lock")
	}
	if !locked {
		return errors.New("grace: parent did not release the pid file lock")
	}
	return nil
}


// TrapSignals blocks translating process signals: SIGHUP forks a
// replacement daemon on the inherited sockets, SIGQUIT and SIGTERM
// drain within the shutdown deadline, SIGINT aborts all connections.
func (w *Watcher) TrapSignals() {
	signalCh := make(chan os.Signal, 1024)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	for {
		s := <-signalCh
		w.log.Info().Msgf("%v signal received", s)

		switch s {
		case syscall.SIGHUP:
			w.log.Info().Msg("preparing for a hot-reload, forking child process...")
			p, err := forkChild(w.lns)
			if err != nil {
				w.log.Error().Err(err).Msg("unable to fork child process")
				continue
			}
			w.log.Info().Msgf("child forked with new pid %d", p.Pid)
			w.childPIDs = append(w.childPIDs, p.Pid)

		case syscall.SIGQUIT, syscall.SIGTERM:
			w.log.Info().Msgf("preparing for a graceful shutdown with deadline of %s", shutdownDeadline)
			go func() {
				count := int(shutdownDeadline / time.Second)
				ticker := time.NewTicker(time.Second)
				for ; true; <-ticker.C {
					w.log.Info().Msgf("shutting down in %d seconds", count-1)
					count--
					if count <= 0 {
						w.log.Info().Msg("deadline reached before draining active conns, hard stopping ...")
						w.stopServers()
						w.close()
						w.Exit(1)
					}
				}
			}()
			for name, s := range w.ss {
				w.log.Info().Msgf("fd to %s %s:%s gracefully closed", name, s.Network(), s.Address())
				if err := s.GracefulStop(); err != nil {
					w.log.Error().Err(err).Msgf("error stopping %s server", name)
					w.close()
					w.Exit(1)
				}
			}
			w.close()
			w.Exit(0)

		case syscall.SIGINT:
			w.log.Info().Msg("preparing for hard shutdown, aborting all conns")
			w.stopServers()
			w.close()
			w.Exit(0)
		}
	}
}

func (w *Watcher) stopServers() {
	for name, s := range w.ss {
		w.log.Info().Msgf("fd to %s %s:%s abruptly closed", name, s.Network(), s.Address())
		if err := s.Stop(); err != nil {
			w.log.Error().Err(err).Msgf("error stopping %s server", name)
		}
	}
}

func (w *Watcher) close() {
	if w.cl == nil {
		return
	}
	if err := w.cl.Close(); err != nil {
		w.log.Error().Err(err).Msg("error running shutdown hook")
	}
}

func getListenerFile(ln net.Listener) (*os.File, error) {
	switch t := ln.(type) {
	case *inherited:
		return t.f, nil
	case *net.TCPListener:
		return t.File()
	case *net.UnixListener:
		return t.File()
	}
	return nil, fmt.Errorf("unsupported listener: %T", ln)
}

// forkChild spawns a replacement daemon inheriting the listener fds.
// Fds are numbered from 3 in listener name order and announced through
// the environment.
func forkChild(lns map[string]net.Listener) (*os.Process, error) {
	names := make([]string, 0, len(lns))
	for name := range lns {
		names = append(names, name)
	}
	sort.Strings(names)

	// stdin, stdout and stderr keep their usual slots
	files := []*os.File{os.Stdin, os.Stdout, os.Stderr}
	environment := append(os.Environ(), gracefulEnv+"=true")
	for i, name := range names {
		fd, err := getListenerFile(lns[name])
		if err != nil {
			return nil, err
		}
		environment = append(environment, fmt.Sprintf("%s%s=%d", fdEnvPrefix, strings.ToUpper(name), 3+i))
		files = append(files, fd)
	}

	execName, err := os.Executable()
	if err != nil {
		return nil, err
	}

	return os.StartProcess(execName, os.Args, &os.ProcAttr{
		Dir:   filepath.Dir(execName),
		Env:   environment,
		Files: files,
		Sys:   &syscall.SysProcAttr{},
	})
}
