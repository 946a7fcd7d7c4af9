// Copyright 2026 The Dropvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command dropvisord runs the bundled dropbear SSH server under
// supervision, and serves its status, controls and log over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dropvisor/dropvisor"
	"github.com/dropvisor/dropvisor/rest"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "dropvisord",
		Short:        "Supervise the bundled dropbear SSH server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, e := loadConfig(v)
			if e != nil {
				return e
			}
			logger, e := newLogger(cfg, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
			if e != nil {
				return e
			}
			return run(cfg, logger)
		},
	}
	if e := bindFlags(v, cmd.Flags()); e != nil {
		panic(e)
	}
	return cmd
}

func run(cfg *Config, logger *log.Logger) error {
	// Catch signals before anything starts, as generating a host key can
	// take a while, and we must still shut the daemon down if told to go
	// away in the meantime.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)
	return serve(cfg, logger, sigs)
}

// serve runs the manager and HTTP server until a signal arrives on sigs
// or the server fails.
func serve(cfg *Config, logger *log.Logger, sigs <-chan os.Signal) error {
	m := dropvisor.NewManager(cfg.Name)
	m.SetTick(cfg.Tick)
	m.SetLogger(logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}))
	defer m.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if e := cfg.apply(m.Supervisor(), dropvisor.NewMetrics(reg, cfg.Name)); e != nil {
		return e
	}

	h := rest.NewHandler(m)
	h.SetAuth(cfg.AuthUser, cfg.AuthPass)
	if cfg.Metrics {
		h.EnableMetrics(reg)
	}
	l, e := rest.Listen(cfg.Addr, cfg.MaxConns)
	if e != nil {
		return e
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	logger.Info("serving", "addr", l.Addr().String(), "maxConns", cfg.MaxConns,
		"auth", cfg.AuthUser != "")

	// A daemon that fails to start is logged, but we keep serving so
	// that it can be started again remotely.
	if e := m.Start(); e != nil {
		logger.Error("dropbear did not start", "err", e)
	}

	var result error
	select {
	case sig := <-sigs:
		logger.Info("shutting down", "signal", sig.String())
	case e := <-errCh:
		if !errors.Is(e, http.ErrServerClosed) {
			logger.Error("http server failed", "err", e)
			result = e
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e := srv.Shutdown(ctx); e != nil {
		logger.Warn("http shutdown", "err", e)
	}
	return result
}

func main() {
	if e := newRootCommand().Execute(); e != nil {
		os.Exit(1)
	}
}
