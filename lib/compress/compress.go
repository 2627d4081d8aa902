// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress implements the closed set of codecs used for stored
// payloads. The codec is recorded per catalog entry at write time, and
// decoding always verifies the decoded length against the entry size.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
)

// Codec identifies the encoding of a stored payload. The string forms
// are persisted in catalogs and manifests.
type Codec uint8

const (
	// CodecNone stores payloads verbatim. Used for content that is
	// already compressed (images, video, archives).
	CodecNone Codec = 0

	// CodecFast is LZ4 block compression: modest ratio, very cheap
	// decode. Suited to mixed binary data read in training loops.
	CodecFast Codec = 1

	// CodecGeneral is zstd at the default level. Better ratio for
	// text-like data (CSV, JSON, logs).
	CodecGeneral Codec = 2
)

// Codecs lists every supported codec.
var Codecs = []Codec{CodecNone, CodecFast, CodecGeneral}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecFast:
		return "fast"
	case CodecGeneral:
		return "general"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the supported codecs.
func (c Codec) Valid() bool {
	return c <= CodecGeneral
}

// ParseCodec parses a codec tag. The algorithm names "lz4" and "zstd"
// are accepted as aliases for "fast" and "general".
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "fast", "lz4":
		return CodecFast, nil
	case "general", "zstd":
		return CodecGeneral, nil
	default:
		return 0, fmt.Errorf("%w: %q", lakeerr.ErrUnsupportedCodec, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Codec) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", lakeerr.ErrUnsupportedCodec, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Encode encodes raw with the given codec. For CodecNone the input
// slice is returned without copying.
func Encode(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return raw, nil
	case CodecFast:
		return encodeLZ4(raw)
	case CodecGeneral:
		return zstdEncoder.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", lakeerr.ErrUnsupportedCodec, uint8(codec))
	}
}

// Decode reverses Encode. size is the decoded length recorded for the
// entry; any disagreement is reported as lakeerr.ErrCorruptData, as is
// any malformed input.
func Decode(codec Codec, encoded []byte, size int64) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch codec {
	case CodecNone:
		raw = encoded
	case CodecFast:
		raw, err = decodeLZ4(encoded, size)
	case CodecGeneral:
		raw, err = decodeZstd(encoded, size)
	default:
		return nil, fmt.Errorf("%w: %d", lakeerr.ErrUnsupportedCodec, uint8(codec))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s decode: %w", lakeerr.ErrCorruptData, codec, err)
	}
	if int64(len(raw)) != size {
		return nil, fmt.Errorf("%w: %s decode: got %d bytes, expected %d",
			lakeerr.ErrCorruptData, codec, len(raw), size)
	}
	return raw, nil
}

// LZ4 block format. With a destination of CompressBlockBound bytes the
// encoder always succeeds, falling back to literal runs for data it
// cannot shrink.

func encodeLZ4(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte{}, nil
	}
	destination := make([]byte, lz4.CompressBlockBound(len(raw)))
	written, err := lz4.CompressBlock(raw, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 encode: %w", err)
	}
	if written == 0 {
		return nil, errors.New("lz4 encode: encoder produced no output")
	}
	return destination[:written], nil
}

func decodeLZ4(encoded []byte, size int64) ([]byte, error) {
	if size < 0 || size > maxDecodedSize {
		return nil, fmt.Errorf("implausible decoded size %d", size)
	}
	if size == 0 {
		if len(encoded) != 0 {
			return nil, fmt.Errorf("%d trailing bytes for empty payload", len(encoded))
		}
		return []byte{}, nil
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(encoded, destination)
	if err != nil {
		return nil, err
	}
	return destination[:read], nil
}

// zstd encoder and decoder are safe for concurrent use and expensive to
// build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func decodeZstd(encoded []byte, size int64) ([]byte, error) {
	if size < 0 || size > maxDecodedSize {
		return nil, fmt.Errorf("implausible decoded size %d", size)
	}
	return zstdDecoder.DecodeAll(encoded, make([]byte, 0, size))
}

// maxDecodedSize bounds the allocation made on behalf of a catalog size
// field, so a damaged row cannot request an absurd buffer.
const maxDecodedSize = 1 << 36

// sampleSize is how much of a payload Select compresses to estimate its
// ratio.
const sampleSize = 256 << 10

// Select picks a codec for raw by compressing a prefix with zstd: a
// ratio of at least 1.5 selects CodecGeneral, at least 1.1 selects
// CodecFast, anything less is treated as incompressible.
func Select(raw []byte) Codec {
	if len(raw) == 0 {
		return CodecNone
	}
	sample := raw
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	compressed := zstdEncoder.EncodeAll(sample, nil)
	ratio := float64(len(sample)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CodecGeneral
	case ratio >= 1.1:
		return CodecFast
	default:
		return CodecNone
	}
}

// EncodeAuto selects a codec for raw and encodes it. When the chosen
// codec does not shrink the payload, the raw bytes are kept with
// CodecNone.
func EncodeAuto(raw []byte) ([]byte, Codec, error) {
	codec := Select(raw)
	encoded, err := Encode(codec, raw)
	if err != nil {
		return nil, 0, err
	}
	if codec != CodecNone && len(encoded) >= len(raw) {
		return raw, CodecNone, nil
	}
	return encoded, codec, nil
}
