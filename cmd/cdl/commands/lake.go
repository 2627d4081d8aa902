// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/connected-data-lake/cdl/cmd/cdl/cli"
	"github.com/connected-data-lake/cdl/lib/backend"
	"github.com/connected-data-lake/cdl/lib/blobcache"
	"github.com/connected-data-lake/cdl/lib/config"
	"github.com/connected-data-lake/cdl/lib/lake"
	"github.com/connected-data-lake/cdl/lib/lakefs"
	"github.com/connected-data-lake/cdl/lib/retry"
)

// lakeFlags are the flags every lake-touching command accepts.
type lakeFlags struct {
	configPath string
	verbose    bool
}

func (f *lakeFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "configuration file (default $CDL_CONFIG)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
}

// session is an opened lake plus the logger built for the command.
type session struct {
	lake   *lake.Lake
	logger *slog.Logger
}

// open loads the configuration and creates the lake handle. The caller
// closes the session.
func (f *lakeFlags) open() (*session, error) {
	logger := cli.NewCommandLogger(f.verbose)

	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	handle, err := lake.New(lakeConfig(cfg, logger))
	if err != nil {
		return nil, err
	}
	return &session{lake: handle, logger: logger}, nil
}

func (s *session) Close() error {
	return s.lake.Close()
}

// view opens the lake at raw and waits until it is usable, so that a
// bad location or unreachable backend is reported before any output.
func (s *session) view(ctx context.Context, raw string) (*lakefs.View, error) {
	view, err := s.lake.Open(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := view.Wait(ctx); err != nil {
		return nil, fmt.Errorf("opening %s: %w", raw, err)
	}
	return view, nil
}

func lakeConfig(cfg *config.Config, logger *slog.Logger) lake.Config {
	return lake.Config{
		StateDir: cfg.Paths.State,
		Cache: blobcache.Config{
			MaxSize:              int64(cfg.Cache.MaxSize),
			MinObjectSize:        int64(cfg.Cache.MinObjectSize),
			MaxConcurrentFetches: cfg.Cache.MaxConcurrentFetches,
			Logger:               logger,
		},
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelay),
			MaxDelay:    time.Duration(cfg.Retry.MaxDelay),
			Logger:      logger,
		},
		Backend: backend.Options{
			S3: backend.S3Options{
				Endpoint:        cfg.S3.Endpoint,
				Region:          cfg.S3.Region,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
				PathStyle:       cfg.S3.PathStyle,
			},
			Logger: logger,
		},
		CopyConcurrency: cfg.Copy.Concurrency,
		Logger:          logger,
	}
}

// withSession runs fn against an opened session, closing it after.
func (f *lakeFlags) withSession(fn func(*session) error) (err error) {
	s, err := f.open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}
