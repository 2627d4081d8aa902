// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package lakefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/connected-data-lake/cdl/lib/catalog"
	"github.com/connected-data-lake/cdl/lib/checksum"
	"github.com/connected-data-lake/cdl/lib/compress"
	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/location"
	"github.com/connected-data-lake/cdl/lib/metrics"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// ErrIncompleteCopy reports a copy in which at least one entry failed
// after exhausting its retries.
var ErrIncompleteCopy = errors.New("incomplete copy")

// Outcome is the result of copying one entry.
type Outcome string

const (
	// OutcomeCopied: the stored object was transferred.
	OutcomeCopied Outcome = "copied"
	// OutcomeSkipped: the destination already held the object.
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	// OutcomeCancelled: the transfer never started or was abandoned
	// because the copy was cancelled.
	OutcomeCancelled Outcome = "cancelled"
)

// EntryOutcome is one entry's result.
type EntryOutcome struct {
	Outcome Outcome
	Err     error
}

// CopyReport describes a finished or stopped copy.
type CopyReport struct {
	Source      location.Location
	Destination location.Location

	// Entries holds the outcome of every source entry.
	Entries map[catalog.Key]EntryOutcome

	Copied    int
	Skipped   int
	Failed    int
	Cancelled int

	// Merge reports how the destination catalog changed.
	Merge catalog.MergeStats

	// Version is the destination catalog version after the merge.
	Version int64
}

// Complete reports whether every entry is present at the destination.
func (r *CopyReport) Complete() bool {
	return r.Failed == 0 && r.Cancelled == 0
}

func (r *CopyReport) record(key catalog.Key, outcome EntryOutcome) {
	r.Entries[key] = outcome
	switch outcome.Outcome {
	case OutcomeCopied:
		r.Copied++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	case OutcomeCancelled:
		r.Cancelled++
	}
	metrics.CopyEntries.WithLabelValues(string(outcome.Outcome)).Inc()
}

// CopyTo replicates the view into the lake at destination, which uses
// the same location grammar as Open. See CopyToView.
func (v *View) CopyTo(ctx context.Context, destination string) (*CopyReport, error) {
	if v.config.Resolve == nil {
		return nil, errors.New("lakefs: copy: view has no destination resolver")
	}
	target, err := v.config.Resolve(ctx, destination)
	if err != nil {
		return nil, err
	}
	return v.CopyToView(ctx, target)
}

// CopyToView replicates every live entry of a snapshot of this view into
// target: stored bytes are transferred in their encoded form, the
// entries are merged into the target catalog, and a manifest is
// written to the target backend.
//
// Transfers run in parallel up to the configured copy concurrency. Each
// transfer retries transient failures on its own; one entry's failure
// does not stop the others. Objects the target already holds are not
// transferred again, and entries the target catalog already has are
// left unchanged, so running a copy again after a partial failure
// completes it without duplicating anything.
//
// On cancellation no further transfers start, the entries that did
// complete are still merged, and the error wraps lakeerr.ErrCancelled.
// When any entry failed the error wraps ErrIncompleteCopy. The report is
// returned in every case where the copy got as far as transferring.
func (v *View) CopyToView(ctx context.Context, target *View) (*CopyReport, error) {
	if err := v.Wait(ctx); err != nil {
		return nil, err
	}
	if err := target.Wait(ctx); err != nil {
		return nil, err
	}
	listing, err := v.catalog.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := v.catalog.Schema(ctx)
	if err != nil {
		return nil, err
	}

	report := &CopyReport{
		Source:      v.location,
		Destination: target.location,
		Entries:     make(map[catalog.Key]EntryOutcome, len(listing.Entries)),
	}
	logger := v.logger.With("destination", target.location.String(), "version", listing.Version)
	logger.Info("copy starting", "entries", len(listing.Entries))

	// Entries sharing an object transfer it once.
	byObject := make(map[string][]int)
	var objects []string
	for i, entry := range listing.Entries {
		if _, ok := byObject[entry.StorageURI]; !ok {
			objects = append(objects, entry.StorageURI)
		}
		byObject[entry.StorageURI] = append(byObject[entry.StorageURI], i)
	}

	var (
		mu        sync.Mutex
		copied    []catalog.Entry
		firstFail error
	)
	finish := func(indices []int, outcome EntryOutcome, targetKey string) {
		mu.Lock()
		defer mu.Unlock()
		for _, i := range indices {
			entry := listing.Entries[i]
			report.record(entry.Key(), outcome)
			if outcome.Outcome == OutcomeCopied || outcome.Outcome == OutcomeSkipped {
				entry.StorageURI = targetKey
				copied = append(copied, entry)
			}
		}
		if outcome.Outcome == OutcomeFailed && firstFail == nil {
			firstFail = outcome.Err
		}
	}

	var group errgroup.Group
	group.SetLimit(v.config.CopyConcurrency)
	for _, object := range objects {
		indices := byObject[object]
		first := listing.Entries[indices[0]]
		targetKey := ObjectKey(first.Checksum, first.Compression)
		if ctx.Err() != nil {
			finish(indices, EntryOutcome{Outcome: OutcomeCancelled, Err: lakeerr.Cancelled(ctx.Err())}, targetKey)
			continue
		}
		group.Go(func() error {
			if ctx.Err() != nil {
				finish(indices, EntryOutcome{Outcome: OutcomeCancelled, Err: lakeerr.Cancelled(ctx.Err())}, targetKey)
				return nil
			}
			outcome := v.transfer(ctx, target, &first, targetKey)
			if outcome.Outcome == OutcomeFailed {
				logger.Warn("copy entry failed",
					"parent", first.Parent,
					"name", first.Name,
					"object", object,
					"error", outcome.Err,
				)
			}
			finish(indices, outcome, targetKey)
			return nil
		})
	}
	group.Wait()

	// Completed transfers are recorded even when the copy was cancelled,
	// so the next run skips them.
	commitCtx := context.WithoutCancel(ctx)
	if len(schema.Metadata) > 0 {
		if err := target.catalog.Declare(commitCtx, schema.Metadata); err != nil {
			return report, fmt.Errorf("lakefs: copy: declare columns: %w", err)
		}
	}
	if len(copied) > 0 {
		report.Merge, err = target.catalog.Merge(commitCtx, copied)
		if err != nil {
			return report, fmt.Errorf("lakefs: copy: merge catalog: %w", err)
		}
	}
	if report.Version, err = target.catalog.Version(commitCtx); err != nil {
		return report, fmt.Errorf("lakefs: copy: %w", err)
	}

	logger.Info("copy finished",
		"copied", report.Copied,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
		"added", report.Merge.Added,
		"replaced", report.Merge.Replaced,
	)

	switch {
	case report.Cancelled > 0:
		return report, fmt.Errorf("lakefs: copy to %s: %d of %d entries not transferred: %w",
			target.location, report.Cancelled+report.Failed, len(listing.Entries), lakeerr.Cancelled(ctx.Err()))
	case report.Failed > 0:
		return report, fmt.Errorf("lakefs: copy to %s: %d of %d entries failed: %w: %w",
			target.location, report.Failed, len(listing.Entries), ErrIncompleteCopy, firstFail)
	}
	if _, err := target.writeManifest(ctx, target.catalog, target.backend); err != nil {
		return report, err
	}
	return report, nil
}

// transfer moves one stored object to target unless target already
// holds it.
func (v *View) transfer(ctx context.Context, target *View, entry *catalog.Entry, targetKey string) EntryOutcome {
	fail := func(err error) EntryOutcome {
		err = lakeerr.Entry(err, entry.Parent, entry.Name)
		if errors.Is(err, lakeerr.ErrCancelled) || ctx.Err() != nil {
			return EntryOutcome{Outcome: OutcomeCancelled, Err: lakeerr.Cancelled(err)}
		}
		return EntryOutcome{Outcome: OutcomeFailed, Err: err}
	}

	present, err := v.holds(ctx, target.backend, targetKey, entry.StoredSize)
	if err != nil {
		return fail(err)
	}
	if present {
		return EntryOutcome{Outcome: OutcomeSkipped}
	}
	stored, err := v.get(ctx, v.backend, entry.StorageURI)
	if err != nil {
		return fail(err)
	}
	if err := verifyStored(entry, stored); err != nil {
		return fail(err)
	}
	err = retry.Do(ctx, v.config.Retry, "put", func(ctx context.Context) error {
		return target.backend.Put(ctx, targetKey, stored)
	})
	if err != nil {
		return fail(err)
	}
	return EntryOutcome{Outcome: OutcomeCopied}
}

// verifyStored checks that the stored bytes of entry decode to the
// content the catalog records. The encoded form is what gets copied, so
// a corrupt source object fails here instead of propagating.
func verifyStored(entry *catalog.Entry, stored []byte) error {
	if int64(len(stored)) != entry.StoredSize {
		return fmt.Errorf("%w: stored object %s is %d bytes, catalog records %d",
			lakeerr.ErrCorruptData, entry.StorageURI, len(stored), entry.StoredSize)
	}
	data, err := compress.Decode(entry.Compression, stored, entry.Size)
	if err != nil {
		return fmt.Errorf("stored object %s: %w", entry.StorageURI, err)
	}
	if err := checksum.Verify(data, entry.Checksum); err != nil {
		return fmt.Errorf("stored object %s: %w", entry.StorageURI, err)
	}
	return nil
}
