// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes the content digests that identify lake
// objects. Digests are BLAKE3 keyed hashes of decoded content, so the
// same file stored with two different codecs has one checksum and one
// cache slot.
package checksum

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

// Sum is a 32-byte BLAKE3 digest.
type Sum [32]byte

// Domain separation keys: the ASCII domain name zero-padded to 32
// bytes. Changing a key invalidates every digest in its domain.
var (
	contentKey = [32]byte{
		'c', 'd', 'l', '.', 'l', 'a', 'k', 'e', '.', 'c', 'o', 'n', 't', 'e', 'n', 't',
	}
	namespaceKey = [32]byte{
		'c', 'd', 'l', '.', 'l', 'a', 'k', 'e', '.', 'n', 'a', 'm', 'e', 's', 'p', 'a', 'c', 'e',
	}
)

// Content returns the digest of decoded object content.
func Content(data []byte) Sum {
	return keyed(contentKey, data)
}

// Namespace returns the digest used to name the local state of a lake
// namespace (its canonical location string).
func Namespace(canonical string) Sum {
	return keyed(namespaceKey, []byte(canonical))
}

func keyed(key [32]byte, data []byte) Sum {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("checksum: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var sum Sum
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// String returns the lowercase hex form stored in catalogs.
func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Parse parses a 64-character hex digest.
func Parse(text string) (Sum, error) {
	var sum Sum
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return sum, fmt.Errorf("parsing checksum: %w", err)
	}
	if len(decoded) != len(sum) {
		return sum, fmt.Errorf("parsing checksum: got %d bytes, want %d", len(decoded), len(sum))
	}
	copy(sum[:], decoded)
	return sum, nil
}

// Verify checks data against the hex digest want. A mismatch is
// reported as lakeerr.ErrCorruptData.
func Verify(data []byte, want string) error {
	got := Content(data).String()
	if got != want {
		return fmt.Errorf("%w: checksum %s, expected %s", lakeerr.ErrCorruptData, short(got), short(want))
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
