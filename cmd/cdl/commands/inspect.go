// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
)

func orphansCommand() *cli.Command {
	var flags lakeFlags

	return &cli.Command{
		Name:    "orphans",
		Summary: "List stored objects no live entry refers to",
		Description: `Print the key and size of every stored object that no live catalog
entry points at, then a total. Removing or replacing entries and failed
imports leave such objects behind; nothing is deleted.`,
		Usage: "cdl orphans URL [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("orphans", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: cdl orphans URL")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				objects, err := view.Unreferenced(ctx)
				if err != nil {
					return err
				}
				var total int64
				for _, object := range objects {
					fmt.Fprintf(stdout, "%s\t%d\n", object.Key, object.Size)
					total += object.Size
				}
				fmt.Fprintf(stdout, "%d unreferenced objects, %d bytes\n", len(objects), total)
				return nil
			})
		},
	}
}

func manifestCommand() *cli.Command {
	var flags lakeFlags

	return &cli.Command{
		Name:    "manifest",
		Summary: "Print the stored catalog manifest",
		Description: `Print the manifest on the lake's backend in CBOR diagnostic notation
(RFC 8949 section 8). The manifest is written by checkpoint and cp.`,
		Usage: "cdl manifest URL [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("manifest", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: cdl manifest URL")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				diagnostic, err := view.DiagnoseManifest(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, diagnostic)
				return nil
			})
		},
	}
}
