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

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dropvisor/dropvisor"
)

const envPrefix = "DROPVISOR"

// Config is everything dropvisord can be told, from flags or from
// DROPVISOR_* environment variables.  Flags win over the environment.
type Config struct {
	Addr           string
	AuthUser       string
	AuthPass       string
	Name           string
	BaseDir        string
	Listen         string
	ExtraArgs      []string
	KeyType        string
	RequireHostKey bool
	StopAttempts   int
	StopInterval   time.Duration
	Tick           time.Duration
	MaxConns       int
	Metrics        bool
	LogLevel       string
	LogFormat      string
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("addr", "127.0.0.1:8322", "HTTP listen address")
	fs.String("auth", "", "user:pass HTTP clients must present (default: no authentication)")
	fs.String("name", "dropvisord", "instance name")
	fs.String("base-dir", "", "directory holding dropbear, dropbearkey and the host key (default: next to this program)")
	fs.String("listen", "", "dropbear listen address, passed as -p")
	fs.String("extra-args", "", "additional dropbear arguments, shell quoted")
	fs.String("key-type", dropvisor.DefaultKeyType, "host key type to generate")
	fs.Bool("require-host-key", false, "refuse to start dropbear without a host key")
	fs.Int("stop-attempts", dropvisor.DefaultStopAttempts, "polls for exit after SIGTERM before killing")
	fs.Duration("stop-interval", dropvisor.DefaultStopInterval, "interval between exit polls")
	fs.Duration("tick", dropvisor.DefaultTick, "output drain interval")
	fs.Int("max-conns", 16, "maximum simultaneous HTTP connections (0 for no limit)")
	fs.Bool("metrics", true, "serve prometheus metrics at /metrics")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format: text, json or logfmt (default: text on a terminal, json otherwise)")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(fs)
}

func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Addr:           v.GetString("addr"),
		Name:           v.GetString("name"),
		BaseDir:        v.GetString("base-dir"),
		Listen:         v.GetString("listen"),
		KeyType:        v.GetString("key-type"),
		RequireHostKey: v.GetBool("require-host-key"),
		StopAttempts:   v.GetInt("stop-attempts"),
		StopInterval:   v.GetDuration("stop-interval"),
		Tick:           v.GetDuration("tick"),
		MaxConns:       v.GetInt("max-conns"),
		Metrics:        v.GetBool("metrics"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
	}
	if s := v.GetString("extra-args"); s != "" {
		args, e := shellwords.Parse(s)
		if e != nil {
			return nil, fmt.Errorf("bad --extra-args %q: %w", s, e)
		}
		cfg.ExtraArgs = args
	}
	if s := v.GetString("auth"); s != "" {
		a := strings.SplitN(s, ":", 2)
		if len(a) != 2 || a[0] == "" {
			return nil, fmt.Errorf("bad --auth, want user:pass")
		}
		cfg.AuthUser, cfg.AuthPass = a[0], a[1]
	}
	if cfg.StopAttempts < 0 {
		return nil, fmt.Errorf("bad --stop-attempts %d", cfg.StopAttempts)
	}
	if cfg.StopInterval <= 0 {
		return nil, fmt.Errorf("bad --stop-interval %v", cfg.StopInterval)
	}
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("bad --tick %v", cfg.Tick)
	}
	return cfg, nil
}

// newLogger builds the process logger.  Without an explicit format, a
// terminal gets text and anything else gets json.
func newLogger(cfg *Config, out io.Writer, tty bool) (*log.Logger, error) {
	level, e := log.ParseLevel(cfg.LogLevel)
	if e != nil {
		return nil, fmt.Errorf("bad --log-level %q: %w", cfg.LogLevel, e)
	}
	var formatter log.Formatter
	switch cfg.LogFormat {
	case "":
		formatter = log.JSONFormatter
		if tty {
			formatter = log.TextFormatter
		}
	case "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("bad --log-format %q", cfg.LogFormat)
	}
	return log.NewWithOptions(out, log.Options{
		Level:           level,
		Prefix:          cfg.Name,
		ReportTimestamp: true,
		Formatter:       formatter,
	}), nil
}

type prop struct {
	name  dropvisor.PropertyName
	value interface{}
}

// apply configures the supervisor.
func (cfg *Config) apply(s *dropvisor.Supervisor, m *dropvisor.Metrics) error {
	props := []prop{
		{dropvisor.PropStopAttempts, cfg.StopAttempts},
		{dropvisor.PropStopInterval, cfg.StopInterval},
		{dropvisor.PropListenAddr, cfg.Listen},
		{dropvisor.PropExtraArgs, cfg.ExtraArgs},
		{dropvisor.PropKeyType, cfg.KeyType},
		{dropvisor.PropRequireHostKey, cfg.RequireHostKey},
		{dropvisor.PropMetrics, m},
	}
	if cfg.BaseDir != "" {
		props = append(props, prop{dropvisor.PropLayout, dropvisor.Layout{Base: cfg.BaseDir}})
	}
	for _, p := range props {
		if e := s.SetProperty(p.name, p.value); e != nil {
			return fmt.Errorf("setting %s: %w", p.name, e)
		}
	}
	return nil
}
