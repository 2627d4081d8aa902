// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// cdl is the command-line client for connected data lakes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/connected-data-lake/cdl/cmd/cdl/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that report their own outcome return an error
		// carrying only an exit code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return commands.Root().Execute(ctx, os.Args[1:])
}
