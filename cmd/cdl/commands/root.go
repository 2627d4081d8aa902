// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands holds the cdl subcommands.
package commands

import (
	"io"
	"os"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
)

// stdout receives command output. Tests redirect it.
var stdout io.Writer = os.Stdout

// Root returns the cdl command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:        "cdl",
		Description: "cdl works with connected data lakes: catalogued file trees stored on\nlocal disks or S3-compatible object stores.",
		Subcommands: []*cli.Command{
			lsCommand(),
			queryCommand(),
			catCommand(),
			cpCommand(),
			importCommand(),
			exportCommand(),
			checkpointCommand(),
			manifestCommand(),
			orphansCommand(),
			mountCommand(),
		},
		Examples: []cli.Example{
			{Description: "Import a directory into a local lake", Command: "cdl import /data/lake ./images"},
			{Description: "Copy it to object storage", Command: "cdl cp /data/lake s3://bucket/lake"},
			{Description: "Query the catalog", Command: `cdl query s3://bucket/lake "SELECT parent, count(*) FROM rootfs GROUP BY parent"`},
		},
	}
}
