// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// FUSEAvailable reports whether /dev/fuse can be opened for reading and
// writing and a fusermount helper is installed.
func FUSEAvailable() bool {
	if err := unix.Access("/dev/fuse", unix.R_OK|unix.W_OK); err != nil {
		return false
	}
	if _, err := exec.LookPath("fusermount3"); err == nil {
		return true
	}
	_, err := exec.LookPath("fusermount")
	return err == nil
}
