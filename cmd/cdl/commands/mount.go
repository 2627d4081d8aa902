// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/lakemount"
)

func mountCommand() *cli.Command {
	var flags lakeFlags
	var allowOther bool
	var metricsListen string

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a lake as a read-only filesystem",
		Description: `Mount the lake at MOUNTPOINT with FUSE and serve it until interrupted
or unmounted with fusermount -u. With --metrics-listen, cache and read
metrics are served in the Prometheus format at /metrics on that
address while the mount is up.`,
		Usage: "cdl mount URL MOUNTPOINT [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&allowOther, "allow-other", false, "let other users read the mount")
			flagSet.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cdl mount URL MOUNTPOINT")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				if metricsListen != "" {
					metricsCtx, stopMetrics := context.WithCancel(ctx)
					defer stopMetrics()
					if _, err := serveMetrics(metricsCtx, metricsListen, s.logger); err != nil {
						return err
					}
				}
				server, err := lakemount.Mount(ctx, lakemount.Options{
					Mountpoint: args[1],
					View:       view,
					AllowOther: allowOther,
					Logger:     s.logger,
				})
				if err != nil {
					return err
				}

				unmounted := make(chan struct{})
				go func() {
					server.Wait()
					close(unmounted)
				}()
				select {
				case <-unmounted:
					s.logger.Info("unmounted externally", "mountpoint", args[1])
					return nil
				case <-ctx.Done():
				}
				if err := server.Unmount(); err != nil {
					return fmt.Errorf("unmounting %s: %w", args[1], err)
				}
				<-unmounted
				return nil
			})
		},
	}
}
