// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError makes the binary exit with Code without printing an error
// line; the command has already reported the outcome itself, as cp
// does with its per-entry summary.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
