// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/lakefs"
)

func catCommand() *cli.Command {
	var flags lakeFlags
	var where string

	return &cli.Command{
		Name:    "cat",
		Summary: "Write lake files to standard output",
		Description: `Write the content of the named lake files to standard output, in
argument order. Nothing is written unless every file can be read.`,
		Usage: "cdl cat URL PATH... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cat", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&where, "where", "", `select files with a predicate such as "parent = '/a' AND name LIKE 'b'"`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 1 || (len(args) == 1 && where == "") || (len(args) > 1 && where != "") {
				return fmt.Errorf("usage: cdl cat URL PATH... or cdl cat URL --where PREDICATE")
			}
			selector := lakefs.Paths(args[1:]...)
			if where != "" {
				selector = lakefs.Predicate(where)
			}
			return flags.withSession(func(s *session) error {
				view, err := s.view(ctx, args[0])
				if err != nil {
					return err
				}
				contents, err := view.ReadFiles(ctx, selector)
				if err != nil {
					return err
				}
				for _, content := range contents {
					if _, err := stdout.Write(content); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
