// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"errors"
	"testing"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

func TestContentDeterministic(t *testing.T) {
	first := Content([]byte("hello lake"))
	second := Content([]byte("hello lake"))
	if first != second {
		t.Fatal("Content is not deterministic")
	}
	if first == Content([]byte("hello lakf")) {
		t.Fatal("different inputs share a digest")
	}
	if len(first.String()) != 64 {
		t.Errorf("hex length = %d, want 64", len(first.String()))
	}
}

func TestDomainSeparation(t *testing.T) {
	if Content([]byte("s3://bucket")) == Namespace("s3://bucket") {
		t.Error("content and namespace domains collide")
	}
}

func TestParse(t *testing.T) {
	sum := Content([]byte("payload"))
	parsed, err := Parse(sum.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != sum {
		t.Error("Parse(String()) changed the digest")
	}
	for _, bad := range []string{"", "zz", "abcd"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should fail", bad)
		}
	}
}

func TestVerify(t *testing.T) {
	data := []byte("training sample 0001")
	want := Content(data).String()
	if err := Verify(data, want); err != nil {
		t.Fatalf("Verify(good) = %v", err)
	}

	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0x01
	if err := Verify(flipped, want); !errors.Is(err, lakeerr.ErrCorruptData) {
		t.Errorf("Verify(flipped) = %v, want ErrCorruptData", err)
	}
}
