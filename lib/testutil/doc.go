// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the lake's tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a test that would otherwise hang on a channel fails with a
// message instead.
//
// [FUSEAvailable] reports whether the host can mount FUSE filesystems,
// for tests that need a real mount.
package testutil
