// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package lakeerr defines the error taxonomy shared by every layer of the
// data lake. Each failure class is a sentinel; callers classify errors with
// errors.Is and never by message text.
//
// Parsing and validation failures (ErrInvalidLocation, ErrDuplicateEntry,
// ErrReadOnlyViolation, ErrUnsupportedCodec) are permanent. Only
// ErrBackendUnavailable is retried internally, at the granularity of a
// single entry.
package lakeerr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidLocation reports a location string with an unknown scheme
	// or a malformed body (for example an s3 URL without a bucket).
	ErrInvalidLocation = errors.New("invalid location")

	// ErrDuplicateEntry reports an append that would give two live
	// entries the same (parent, name).
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrReadOnlyViolation reports a query statement that attempts to
	// mutate the catalog.
	ErrReadOnlyViolation = errors.New("read-only violation")

	// ErrEntryNotFound reports a selected (parent, name) with no live
	// entry in the catalog snapshot.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnsupportedCodec reports a codec tag outside the closed set.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrCorruptData reports stored bytes that fail to decode or whose
	// decoded digest does not match the recorded checksum.
	ErrCorruptData = errors.New("corrupt data")

	// ErrBackendUnavailable reports a transient backend I/O failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrCancelled reports an operation stopped by its caller's context.
	ErrCancelled = errors.New("cancelled")
)

// EntryError attaches the catalog key of the entry a failure concerns.
type EntryError struct {
	Parent string
	Name   string
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", joinPath(e.Parent, e.Name), e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Entry wraps err with the entry it concerns. A nil err returns nil.
func Entry(err error, parent, name string) error {
	if err == nil {
		return nil
	}
	return &EntryError{Parent: parent, Name: name, Err: err}
}

// Unavailable marks err as a transient backend failure while keeping the
// original cause reachable through errors.Is and errors.As.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return &unavailableError{cause: err}
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrBackendUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.cause}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// Cancelled converts a context error into ErrCancelled. Errors that are not
// caused by cancellation or a deadline are returned unchanged.
func Cancelled(err error) error {
	if err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}

func joinPath(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
