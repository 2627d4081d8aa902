// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/lakefs"
)

func cpCommand() *cli.Command {
	var flags lakeFlags

	return &cli.Command{
		Name:    "cp",
		Summary: "Copy a lake to another location",
		Description: `Copy every live entry of the source lake, with its stored object, to
the destination lake and merge the entries into the destination
catalog. Objects the destination already holds are skipped, so an
interrupted or partly failed copy is resumed by running it again.
Exits with status 2 when any entry was not copied.`,
		Usage: "cdl cp SRC DST [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cp", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Command: "cdl cp /data/lake s3://bucket/lake"},
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cdl cp SRC DST")
			}
			return flags.withSession(func(s *session) error {
				source, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := source.CopyTo(ctx, args[1])
				if report == nil {
					return err
				}
				printCopyReport(report)
				if errors.Is(err, lakefs.ErrIncompleteCopy) {
					return &cli.ExitError{Code: 2}
				}
				return err
			})
		},
	}
}

func printCopyReport(report *lakefs.CopyReport) {
	fmt.Fprintf(stdout, "%s -> %s: %d copied, %d skipped, %d failed, %d cancelled\n",
		report.Source, report.Destination, report.Copied, report.Skipped, report.Failed, report.Cancelled)
	if report.Complete() || report.Merge.Added+report.Merge.Replaced > 0 {
		fmt.Fprintf(stdout, "destination catalog version %d: %d added, %d replaced, %d unchanged\n",
			report.Version, report.Merge.Added, report.Merge.Replaced, report.Merge.Unchanged)
	}

	var failed []catalog.Key
	for key, outcome := range report.Entries {
		if outcome.Outcome == lakefs.OutcomeFailed {
			failed = append(failed, key)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Path() < failed[j].Path() })
	for _, key := range failed {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", key.Path(), report.Entries[key].Err)
	}
}
