// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw       string
		want      Location
		canonical string
	}{
		{
			raw:       "/data/lake/",
			want:      Location{Kind: Local, Path: "/data/lake"},
			canonical: "file:///data/lake",
		},
		{
			raw:       "relative/lake",
			want:      Location{Kind: Local, Path: "relative/lake"},
			canonical: "relative/lake",
		},
		{
			raw:       "file:///srv/lake",
			want:      Location{Kind: Local, Scheme: "file", Path: "/srv/lake"},
			canonical: "file:///srv/lake",
		},
		{
			raw:       "file://localhost/srv/lake",
			want:      Location{Kind: Local, Scheme: "file", Path: "/srv/lake"},
			canonical: "file:///srv/lake",
		},
		{
			raw:       "s3://datasets",
			want:      Location{Kind: S3, Scheme: "s3", Bucket: "datasets"},
			canonical: "s3://datasets",
		},
		{
			raw:       "s3://datasets/imagenet/train/",
			want:      Location{Kind: S3, Scheme: "s3", Bucket: "datasets", Path: "imagenet/train"},
			canonical: "s3://datasets/imagenet/train",
		},
		{
			raw:       "S3A://datasets//coco",
			want:      Location{Kind: S3, Scheme: "s3a", Bucket: "datasets", Path: "coco"},
			canonical: "s3://datasets/coco",
		},
	}

	for _, test := range tests {
		t.Run(test.raw, func(t *testing.T) {
			got, err := Parse(test.raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", test.raw, err)
			}
			if got != test.want {
				t.Errorf("Parse(%q) = %+v, want %+v", test.raw, got, test.want)
			}
			if canonical := got.String(); canonical != test.canonical {
				t.Errorf("String() = %q, want %q", canonical, test.canonical)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"gs://bucket/prefix",
		"ftp://host/file",
		"://missing-scheme",
		"s3://",
		"s3:///prefix-without-bucket",
		"s3://UPPER/prefix",
		"s3://ab",
		"s3://-leading/x",
		"s3://bucket/key?versionId=1",
		"file://remote-host/path",
		"file://",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			if !errors.Is(err, lakeerr.ErrInvalidLocation) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidLocation", raw, err)
			}
		})
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, raw := range []string{"file:///a/b", "s3://bucket-1/x/y", "s3://bucket-1"} {
		first := MustParse(raw)
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", first.String(), err)
		}
		if second.String() != first.String() {
			t.Errorf("canonical form not stable: %q -> %q", first.String(), second.String())
		}
	}
}

func TestAbsolute(t *testing.T) {
	relative := MustParse("lake")
	absolute, err := relative.Absolute()
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(absolute.Path) {
		t.Errorf("Absolute().Path = %q, want absolute", absolute.Path)
	}
	remote := MustParse("s3://bucket/p")
	if same, _ := remote.Absolute(); same != remote {
		t.Errorf("Absolute changed a remote location: %+v", same)
	}
}

func TestKey(t *testing.T) {
	if got := MustParse("s3://bucket/prefix").Key("objects", "ab", "cd"); got != "prefix/objects/ab/cd" {
		t.Errorf("remote Key = %q", got)
	}
	if got := MustParse("s3://bucket").Key("_cdl", "catalog.cbor"); got != "_cdl/catalog.cbor" {
		t.Errorf("bucket-root Key = %q", got)
	}
	if got := MustParse("/data").Key("objects", "x"); got != "objects/x" {
		t.Errorf("local Key = %q", got)
	}
}
