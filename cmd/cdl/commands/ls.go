// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/catalog"
)

func lsCommand() *cli.Command {
	var flags lakeFlags
	var recursive, long bool

	return &cli.Command{
		Name:    "ls",
		Summary: "List a lake directory",
		Description: `List the entries of a lake directory. Without --recursive, the
immediate subdirectories are listed first with a trailing slash.`,
		Usage: "cdl ls URL [PATH] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVarP(&recursive, "recursive", "r", false, "list every entry beneath PATH")
			flagSet.BoolVarP(&long, "long", "l", false, "show mode, size, codec and modification time")
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "cdl ls s3://bucket/lake /images -r"},
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: cdl ls URL [PATH]")
			}
			dir := "/"
			if len(args) == 2 {
				dir = args[1]
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}

				var listing *catalog.Listing
				var subdirectories []string
				if recursive {
					listing, err = view.Walk(ctx, dir)
				} else {
					if subdirectories, err = view.Subdirectories(ctx, dir); err != nil {
						return err
					}
					listing, err = view.ReadDir(ctx, dir)
				}
				if err != nil {
					return err
				}

				writer := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				for _, name := range subdirectories {
					if long {
						fmt.Fprintf(writer, "d\t-\t-\t-\t%s/\n", name)
					} else {
						fmt.Fprintf(writer, "%s/\n", name)
					}
				}
				for _, entry := range listing.Entries {
					name := entry.Name
					if recursive {
						name = entry.Key().Path()
					}
					if long {
						fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
							entry.Mode.Perm(), entry.Size, entry.Compression,
							entry.ModTime.Format(time.DateTime), name)
					} else {
						fmt.Fprintln(writer, name)
					}
				}
				return writer.Flush()
			})
		},
	}
}
