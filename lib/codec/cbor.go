// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for everything the lake
// serializes outside SQLite: catalog manifests stored next to blobs.
//
// Encoding is Core Deterministic (RFC 8949 §4.2), so the same logical
// manifest always produces identical bytes and re-copying an unchanged
// lake rewrites an identical manifest object.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Enum types such as compress.Codec serialize through MarshalText
	// as readable strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Metadata values decode into map[string]any rather than
		// map[any]any.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose returns the RFC 8949 diagnostic notation of data, for
// inspecting manifests by hand.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
