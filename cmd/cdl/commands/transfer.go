// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakefs"
)

func importCommand() *cli.Command {
	var flags lakeFlags
	var parent, codec string
	var replace bool

	return &cli.Command{
		Name:    "import",
		Summary: "Add a local directory tree to a lake",
		Description: `Store every regular file under DIR in the lake as one commit. Files
keep their relative directory, under --parent, and their mode and
modification time. Symlinks are skipped. The import fails without
changing the catalog if any path already has a live entry, unless
--replace is given.`,
		Usage: "cdl import URL DIR [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&parent, "parent", "/", "lake directory to import under")
			flagSet.StringVar(&codec, "codec", "auto", "compression codec: none, fast, general or auto")
			flagSet.BoolVar(&replace, "replace", false, "supersede existing entries")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cdl import URL DIR")
			}
			options := lakefs.ImportOptions{Parent: parent, Replace: replace}
			if codec == "auto" {
				options.AutoCodec = true
			} else {
				parsed, err := compress.ParseCodec(codec)
				if err != nil {
					return err
				}
				options.Codec = parsed
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := view.Import(ctx, args[1], options)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "imported %d files (%d bytes, %d skipped) at version %d\n",
					report.Files, report.Bytes, report.Skipped, report.Version)
				return nil
			})
		},
	}
}

func exportCommand() *cli.Command {
	var flags lakeFlags
	var root string

	return &cli.Command{
		Name:    "export",
		Summary: "Write a lake directory tree to the local filesystem",
		Description: `Write every live entry beneath --root to DIR, restoring mode and
modification time. Existing files are overwritten.`,
		Usage: "cdl export URL DIR [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&root, "root", "/", "lake directory to export")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cdl export URL DIR")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				count, err := view.Export(ctx, root, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "exported %d files to %s\n", count, args[1])
				return nil
			})
		},
	}
}

func checkpointCommand() *cli.Command {
	var flags lakeFlags

	return &cli.Command{
		Name:    "checkpoint",
		Summary: "Store the catalog manifest on the lake's backend",
		Description: `Write the lake's catalog to its backend as a manifest, so that the
lake can be opened from a machine with no local state. cp writes the
manifest of the destination automatically.`,
		Usage: "cdl checkpoint URL [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("checkpoint", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: cdl checkpoint URL")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				manifest, err := view.Checkpoint(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "wrote manifest at version %d (%d entries)\n", manifest.Version, len(manifest.Entries))
				return nil
			})
		},
	}
}
