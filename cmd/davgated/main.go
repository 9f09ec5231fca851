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
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/davgate/davgate/cmd/davgated/config"
	"github.com/davgate/davgate/cmd/davgated/grace"
	"github.com/davgate/davgate/pkg/auth/resolver"
	"github.com/davgate/davgate/pkg/fm/pool"
	"github.com/davgate/davgate/pkg/logger"
	"github.com/davgate/davgate/pkg/pathmap"
	"github.com/davgate/davgate/pkg/rgrpc"
	"github.com/davgate/davgate/pkg/rhttp"
	"github.com/davgate/davgate/pkg/security"
	"github.com/davgate/davgate/pkg/session"
	"github.com/davgate/davgate/pkg/sharedconf"
	"github.com/davgate/davgate/pkg/version"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	versionFlag = flag.Bool("version", false, "show version and exit")
	testFlag    = flag.Bool("t", false, "test configuration and exit")
	signalFlag  = flag.String("s", "", "send signal to a master process: stop, quit, reload")
	configFlag  = flag.String("c", "/etc/davgated/davgated.toml", "set configuration file")
	pidFlag     = flag.String("p", "/var/run/davgated.pid", "pid file")
)

func main() {
	flag.Parse()

	handleVersionFlag()
	handleSignalFlag()

	mainConf := handleConfigFlagOrDie()
	coreConf := parseCoreConfOrDie(mainConf["core"])
	logConf := parseLogConfOrDie(mainConf["log"])

	log, err := newLogger(logConf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error creating logger, exiting ...")
		os.Exit(1)
	}

	// refuses an empty jwt secret and the embedded test one
	if err := sharedconf.Decode(section(mainConf, "shared")); err != nil {
		log.Error().Err(err).Msg("error decoding shared config")
		os.Exit(1)
	}

	handleTestFlag(log)

	watcher, err := handlePIDFlag(log)
	if err != nil {
		log.Error().Err(err).Msg("error creating grace watcher")
		os.Exit(1)
	}

	ncpus, err := adjustCPU(coreConf.MaxCPUs)
	if err != nil {
		log.Error().Err(err).Msg("error adjusting number of cpus")
		watcher.Exit(1)
	}
	log.Info().Msgf("running on %d cpus", ncpus)

	if err := setupSharedState(mainConf, log); err != nil {
		log.Error().Err(err).Msg("error setting up shared state")
		watcher.Exit(1)
	}
	watcher.SetCloser(closerFunc(security.Close))

	servers := map[string]grace.Server{}
	if !coreConf.DisableHTTP {
		s, err := getHTTPServer(mainConf["http"], log)
		if err != nil {
			log.Error().Err(err).Msg("error creating http server")
			watcher.Exit(1)
		}
		servers["http"] = s
	}

	if !coreConf.DisableGRPC {
		s, err := getGRPCServer(mainConf["grpc"], log)
		if err != nil {
			log.Error().Err(err).Msg("error creating grpc server")
			watcher.Exit(1)
		}
		servers["grpc"] = s
	}

	listeners, err := watcher.GetListeners(servers)
	if err != nil {
		log.Error().Err(err).Msg("error getting sockets")
		watcher.Exit(1)
	}

	for name, server := range servers {
		go func(name string, server grace.Server) {
			if err := server.Start(listeners[name]); err != nil {
				log.Error().Err(err).Msgf("error starting the %s server", name)
				watcher.Exit(1)
			}
		}(name, server)
	}

	// wait for signal to close servers
	watcher.TrapSignals()
}

type coreConf struct {
	MaxCPUs     string `mapstructure:"max_cpus"`
	DisableHTTP bool   `mapstructure:"disable_http"`
	DisableGRPC bool   `mapstructure:"disable_grpc"`
}

type logConf struct {
	Output string `mapstructure:"output"`
	Mode   string `mapstructure:"mode"`
	Level  string `mapstructure:"level"`
}

// closerFunc adapts the security teardown to the watcher hook.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// section returns the named table of the raw config, nil when absent.
func section(m map[string]interface{}, key string) map[string]interface{} {
	s, _ := m[key].(map[string]interface{})
	return s
}

// setupSharedState boots the process-wide singletons every service
// leans on: the security gate and audit pipeline, the credential
// resolver, the session store and the path mapping engine. Servers
// start only after all of them are ready.
func setupSharedState(mainConf map[string]interface{}, log *zerolog.Logger) error {
	if err := security.Setup(section(mainConf, "security"), log); err != nil {
		return errors.Wrap(err, "main: error setting up security")
	}
	if err := resolver.Setup(section(mainConf, "auth")); err != nil {
		return errors.Wrap(err, "main: error setting up credential resolver")
	}
	if err := session.Setup(section(mainConf, "session")); err != nil {
		return errors.Wrap(err, "main: error setting up session store")
	}
	client, err := pool.GetClient()
	if err != nil {
		return errors.Wrap(err, "main: error getting backend client")
	}
	if err := pathmap.Setup(client, section(mainConf, "pathmap")); err != nil {
		return errors.Wrap(err, "main: error setting up path mapping")
	}
	return nil
}

func newLogger(conf *logConf) (*zerolog.Logger, error) {
	var opts []logger.Option
	opts = append(opts, logger.WithLevel(conf.Level))

	w, err := getWriter(conf.Output)
	if err != nil {
		return nil, err
	}

	opts = append(opts, logger.WithWriter(w, logger.Mode(conf.Mode)))

	l := logger.New(opts...)
	sub := l.With().Int("pid", os.Getpid()).Logger()
	return &sub, nil
}

func getWriter(out string) (io.Writer, error) {
	if out == "stderr" || out == "" {
		return os.Stderr, nil
	}

	if out == "stdout" {
		return os.Stdout, nil
	}

	fd, err := os.Create(out)
	if err != nil {
		return nil, errors.Wrap(err, "error creating log file")
	}

	return fd, nil
}

func handleVersionFlag() {
	if *versionFlag {
		msg := "version=%s "
		msg += "commit=%s "
		msg += "go_version=%s "
		msg += "build_date=%s\n"

		fmt.Fprintf(os.Stderr, msg, version.Version, version.GitCommit, version.GoVersion(), version.BuildDate)
		os.Exit(1)
	}
}

func handleSignalFlag() {
	if *signalFlag != "" {
		var signal syscall.Signal
		switch *signalFlag {
		case "reload":
			signal = syscall.SIGHUP
		case "quit":
			signal = syscall.SIGQUIT
		case "stop":
			signal = syscall.SIGTERM
		default:
			fmt.Fprintf(os.Stderr, "unknown signal %q\n", *signalFlag)
			os.Exit(1)
		}

		process, err := grace.GetProcessFromFile(*pidFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error getting process from pidfile: %v\n", err)
			os.Exit(1)
		}

		if err := process.Signal(signal); err != nil {
			fmt.Fprintf(os.Stderr, "error signaling process %d with signal %s\n", process.Pid, signal)
			os.Exit(1)
		}

		os.Exit(0)
	}
}

func handleTestFlag(log *zerolog.Logger) {
	if *testFlag {
		log.Info().Msgf("config file %s tested ok", *configFlag)
		os.Exit(0)
	}
}

func handleConfigFlagOrDie() map[string]interface{} {
	fd, err := os.Open(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening file: %+v\n", err)
		os.Exit(1)
	}
	defer fd.Close()

	v, err := config.Read(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %+v\n", err)
		os.Exit(1)
	}

	return v
}

func handlePIDFlag(l *zerolog.Logger) (*grace.Watcher, error) {
	var opts []grace.Option
	opts = append(opts, grace.WithPIDFile(*pidFlag))
	opts = append(opts, grace.WithLogger(l.With().Str("pkg", "grace").Logger()))

	w := grace.NewWatcher(opts...)
	if err := w.WritePID(); err != nil {
		return nil, err
	}

	return w, nil
}

func getGRPCServer(conf interface{}, l *zerolog.Logger) (*rgrpc.Server, error) {
	sub := l.With().Str("pkg", "rgrpc").Logger()
	s, err := rgrpc.New(conf, sub)
	if err != nil {
		return nil, errors.Wrap(err, "main: error creating grpc server")
	}
	return s, nil
}

func getHTTPServer(conf interface{}, l *zerolog.Logger) (*rhttp.Server, error) {
	sub := l.With().Str("pkg", "rhttp").Logger()
	s, err := rhttp.New(conf, sub)
	if err != nil {
		return nil, errors.Wrap(err, "main: error creating http server")
	}
	return s, nil
}

func parseCoreConfOrDie(v interface{}) *coreConf {
	c := &coreConf{}
	if err := mapstructure.Decode(v, c); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding core config: %s\n", err.Error())
		os.Exit(1)
	}
	return c
}

func parseLogConfOrDie(v interface{}) *logConf {
	c := &logConf{}
	if err := mapstructure.Decode(v, c); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding log config: %s\n", err.Error())
		os.Exit(1)
	}
	return c
}

// adjustCPU sets GOMAXPROCS according to the core config. It accepts
// either a number (e.g. 3) or a percent (e.g. 50%).
func adjustCPU(cpu string) (int, error) {
	var numCPU int
	availCPU := runtime.NumCPU()

	if cpu != "" {
		if strings.HasSuffix(cpu, "%") {
			// percent
			pct, err := strconv.Atoi(strings.TrimSuffix(cpu, "%"))
			if err != nil || pct < 1 || pct > 100 {
				return 0, fmt.Errorf("invalid choice for cpu: %q", cpu)
			}
			numCPU = availCPU * pct / 100
		} else {
			// number
			n, err := strconv.Atoi(cpu)
			if err != nil || n < 1 || n > availCPU {
				return 0, fmt.Errorf("invalid choice for cpu: %q", cpu)
			}
			numCPU = n
		}
	} else {
		numCPU = availCPU
	}

	if numCPU < 1 {
		numCPU = 1
	}

	runtime.GOMAXPROCS(numCPU)
	return numCPU, nil
}
