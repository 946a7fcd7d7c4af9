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

// Command dropvisor talks to a running dropvisord.
//
// Subcommands are
//
//	status      - show daemon status
//	start       - start the daemon
//	stop        - stop the daemon
//	restart     - restart the daemon
//	check       - run a health check
//	log [-f]    - print the retained log, optionally following it
//
// A followed log is streamed over a websocket, or with --poll by long
// polling, for when something in the way will not pass websockets.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dropvisor/dropvisor/rest"
)

func newClient(v *viper.Viper) (*rest.Client, error) {
	client := rest.NewClient(nil, v.GetString("server"))
	if auth := v.GetString("user"); auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			return nil, fmt.Errorf("bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	return client, nil
}

func showStatus(w io.Writer, s *rest.StatusInfo) {
	fmt.Fprintf(w, "%-10s %s\n", "name:", s.Name)
	fmt.Fprintf(w, "%-10s %s\n", "status:", s.Status)
	if s.Pid != 0 {
		fmt.Fprintf(w, "%-10s %d\n", "pid:", s.Pid)
		fmt.Fprintf(w, "%-10s %s\n", "run:", s.Run)
	}
	if s.Running {
		d := time.Duration(s.UptimeSecs * float64(time.Second))
		// for printing second resolution is sufficient
		d -= d % time.Second
		fmt.Fprintf(w, "%-10s %s\n", "uptime:", d)
		fmt.Fprintf(w, "%-10s %d\n", "sessions:", s.Sessions)
		fmt.Fprintf(w, "%-10s %d KiB\n", "rss:", s.RSS/1024)
		fmt.Fprintf(w, "%-10s %.1f%%\n", "cpu:", s.CPUPercent)
	} else if s.ExitStatus != "" {
		how := s.ExitStatus
		if s.Forced {
			how += " (killed)"
		}
		fmt.Fprintf(w, "%-10s %s\n", "exit:", how)
	}
	key := s.HostKey
	if !s.HostKeyPresent {
		key += " (missing)"
	}
	fmt.Fprintf(w, "%-10s %s\n", "host key:", key)
}

func showRecord(w io.Writer, r rest.LogRecord) {
	fmt.Fprintf(w, "%s %s\n", r.Time.Format(time.Stamp), r.Text)
}

// pollLog follows the log by long polling, printing each record once.
func pollLog(ctx context.Context, c *rest.Client, out io.Writer) error {
	li, e := c.GetLog(ctx)
	var last int64
	for e == nil {
		for _, r := range li.Records {
			if r.Id > last {
				showRecord(out, r)
				last = r.Id
			}
		}
		li, e = c.WatchLog(ctx, li)
	}
	return e
}

func newRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:          "dropvisor",
		Short:        "Control a running dropvisord",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("server", "a", "http://127.0.0.1:8322", "dropvisord address")
	root.PersistentFlags().StringP("user", "u", "", "user:pass authentication")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")
	v.SetEnvPrefix("DROPVISOR")
	v.AutomaticEnv()
	v.BindPFlags(root.PersistentFlags())

	withClient := func(fn func(ctx context.Context, c *rest.Client) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, e := newClient(v)
			if e != nil {
				return e
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()
			return fn(ctx, c)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rest.Client) error {
			s, e := c.Status(ctx)
			if e != nil {
				return e
			}
			showStatus(out, s)
			return nil
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rest.Client) error {
			return c.Start(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rest.Client) error {
			return c.Stop(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rest.Client) error {
			return c.Restart(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check the daemon is alive and answering",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rest.Client) error {
			info, e := c.Check(ctx)
			if e != nil {
				return e
			}
			if info.Fingerprint != "" {
				fmt.Fprintf(out, "healthy: %s %s\n", info.KeyType, info.Fingerprint)
			} else {
				fmt.Fprintln(out, "healthy")
			}
			return nil
		}),
	})

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Print the daemon log",
		Args:  cobra.NoArgs,
	}
	follow := logCmd.Flags().BoolP("follow", "f", false, "keep printing new lines as they arrive")
	poll := logCmd.Flags().Bool("poll", false, "follow by long polling rather than a websocket")
	logCmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, e := newClient(v)
		if e != nil {
			return e
		}
		if !*follow {
			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()
			li, e := c.GetLog(ctx)
			if e != nil {
				return e
			}
			for _, r := range li.Records {
				showRecord(out, r)
			}
			return nil
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if *poll {
			e = pollLog(ctx, c, out)
		} else {
			e = c.StreamLog(ctx, 0, func(r rest.LogRecord) {
				showRecord(out, r)
			})
		}
		if ctx.Err() != nil {
			return nil
		}
		return e
	}
	root.AddCommand(logCmd)

	return root
}

func main() {
	if e := newRootCommand(os.Stdout).ExecuteContext(context.Background()); e != nil {
		os.Exit(1)
	}
}
