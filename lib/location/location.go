// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package location parses lake location strings.
//
// A location is either a local directory ("/data/lake", "./lake",
// "file:///data/lake") or a remote object-store prefix
// ("s3://bucket/datasets/imagenet"). Parsing is pure: it never touches
// the filesystem or the network, so an unreachable backend is only
// discovered when it is first used.
package location

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

// Kind distinguishes the backend families.
type Kind int

const (
	// Local is a directory on the local filesystem.
	Local Kind = iota + 1

	// S3 is a bucket and key prefix on an S3-compatible object store.
	S3
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case S3:
		return "s3"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Location is a parsed lake location.
type Location struct {
	Kind Kind

	// Scheme is the scheme as written ("file", "s3", "s3a"). Empty for
	// bare local paths.
	Scheme string

	// Bucket is the object-store bucket. Empty for local locations.
	Bucket string

	// Path is the cleaned directory for local locations, or the key
	// prefix (no leading or trailing slash, possibly empty) for remote
	// ones.
	Path string
}

// Parse parses a location string. Unknown schemes and malformed bodies
// fail with lakeerr.ErrInvalidLocation.
func Parse(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Location{}, invalid(raw, "empty location")
	}

	scheme, body, hasScheme := strings.Cut(trimmed, "://")
	if !hasScheme {
		return Location{Kind: Local, Path: filepath.Clean(trimmed)}, nil
	}
	if !validScheme(scheme) {
		return Location{}, invalid(raw, "malformed scheme")
	}

	switch strings.ToLower(scheme) {
	case "file":
		return parseFile(raw, body)
	case "s3", "s3a":
		return parseS3(raw, strings.ToLower(scheme), body)
	default:
		return Location{}, invalid(raw, fmt.Sprintf("unsupported scheme %q", scheme))
	}
}

// MustParse is Parse for locations known to be valid, such as
// constants in tests. It panics on error.
func MustParse(raw string) Location {
	parsed, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return parsed
}

func parseFile(raw, body string) (Location, error) {
	host, rest, found := strings.Cut(body, "/")
	if host != "" && host != "localhost" {
		return Location{}, invalid(raw, fmt.Sprintf("file location with remote host %q", host))
	}
	if !found {
		return Location{}, invalid(raw, "file location without a path")
	}
	return Location{Kind: Local, Scheme: "file", Path: filepath.Clean("/" + rest)}, nil
}

func parseS3(raw, scheme, body string) (Location, error) {
	bucket, prefix, _ := strings.Cut(body, "/")
	if bucket == "" {
		return Location{}, invalid(raw, "missing bucket")
	}
	if !validBucket(bucket) {
		return Location{}, invalid(raw, fmt.Sprintf("malformed bucket name %q", bucket))
	}
	if strings.ContainsAny(prefix, "?#") {
		return Location{}, invalid(raw, "query and fragment are not supported")
	}
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	return Location{Kind: S3, Scheme: scheme, Bucket: bucket, Path: prefix}, nil
}

// String returns the canonical form: "file:///abs/dir" style for local
// locations (relative paths stay relative) and "s3://bucket/prefix" for
// remote ones. Canonical strings identify lake namespaces.
func (l Location) String() string {
	switch l.Kind {
	case Local:
		if filepath.IsAbs(l.Path) {
			return "file://" + filepath.ToSlash(l.Path)
		}
		return l.Path
	case S3:
		if l.Path == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Path
	default:
		return ""
	}
}

// IsZero reports whether l is the zero Location.
func (l Location) IsZero() bool {
	return l.Kind == 0
}

// Absolute returns l with a local relative path made absolute against
// the process working directory. Remote locations are returned as is.
func (l Location) Absolute() (Location, error) {
	if l.Kind != Local || filepath.IsAbs(l.Path) {
		return l, nil
	}
	absolute, err := filepath.Abs(l.Path)
	if err != nil {
		return Location{}, fmt.Errorf("resolving %q: %w", l.Path, err)
	}
	l.Path = absolute
	return l, nil
}

// Key joins relative object keys under the location's prefix, using
// forward slashes regardless of backend kind.
func (l Location) Key(elements ...string) string {
	joined := path.Join(elements...)
	if l.Kind == S3 && l.Path != "" {
		return l.Path + "/" + joined
	}
	return joined
}

func validScheme(scheme string) bool {
	if scheme == "" {
		return false
	}
	for i, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// validBucket applies the S3 naming rules that matter for addressing:
// 3-63 characters of lowercase letters, digits, dots and hyphens,
// starting and ending with a letter or digit.
func validBucket(bucket string) bool {
	if len(bucket) < 3 || len(bucket) > 63 {
		return false
	}
	for i := 0; i < len(bucket); i++ {
		c := bucket[i]
		alnum := c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
		if !alnum && c != '.' && c != '-' {
			return false
		}
		if (i == 0 || i == len(bucket)-1) && !alnum {
			return false
		}
	}
	return true
}

func invalid(raw, reason string) error {
	return fmt.Errorf("%w: %q: %s", lakeerr.ErrInvalidLocation, raw, reason)
}
