// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
)

func queryCommand() *cli.Command {
	var flags lakeFlags

	return &cli.Command{
		Name:    "query",
		Summary: "Run a read-only SQL query against a lake catalog",
		Description: `Run a SELECT statement against the rootfs table of a lake catalog.
rootfs has one row per live entry: parent, name, size, checksum,
compression, stored_size, mode, mtime, then any metadata columns.`,
		Usage: "cdl query URL SQL [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("query", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Largest files", Command: `cdl query /data/lake "SELECT parent, name, size FROM rootfs ORDER BY size DESC LIMIT 10"`},
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: cdl query URL SQL")
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := view.SQL(ctx, args[1])
				if err != nil {
					return err
				}

				writer := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(writer, strings.Join(result.Columns, "\t"))
				for _, row := range result.Rows {
					cells := make([]string, len(row))
					for i, value := range row {
						cells[i] = formatValue(value)
					}
					fmt.Fprintln(writer, strings.Join(cells, "\t"))
				}
				return writer.Flush()
			})
		},
	}
}

func formatValue(value any) string {
	switch value := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("x'%x'", value)
	default:
		return fmt.Sprint(value)
	}
}
