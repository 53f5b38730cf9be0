// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// maxReadLen bounds any single length-prefixed read. The source format has
// no explicit bound on string/array length; crafted input could otherwise
// request an enormous allocation (SPEC_FULL.md §9 design note).
const maxReadLen = 64 << 20 // 64 MiB

// reader is a cursor over the raw attributedBody bytes. It never panics;
// every read method returns a *DecodeError on failure.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) offset() int { return r.pos }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, newDecodeError(Truncated, r.pos, "expected one more byte")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > maxReadLen {
		return nil, newDecodeError(Truncated, r.pos, "length out of bounds")
	}
	if r.pos+n > len(r.data) {
		return nil, newDecodeError(Truncated, r.pos, "not enough bytes remaining")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) peek() (byte, bool) {
	if r.pos >= len(r.data) {
		return 0, false
	}
	return r.data[r.pos], true
}

func (r *reader) atEnd() bool { return r.pos >= len(r.data) }

// prefixedWidth reads a width-selector byte and returns the raw little-endian
// magnitude it introduces, plus whether the value came from the single
// literal byte (no width marker) case.
//
// Width markers: 0x81 selects a 2-byte field, 0x82 and 0x83 select a 4-byte
// field (0x83 is accepted as an alias of 0x82, so four markers cover three
// widths), 0x84 selects an 8-byte field. Any other byte
// value is the magnitude itself.
func (r *reader) prefixedUint() (uint64, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0x81:
		buf, err := r.bytes(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 0x82, 0x83:
		buf, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 0x84:
		buf, err := r.bytes(8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return uint64(b), nil
	}
}

// signedInt mirrors prefixedUint but sign-extends from the width actually
// present on the wire, matching the literal-byte case's signed interpretation.
func (r *reader) signedInt() (int64, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0x81:
		buf, err := r.bytes(2)
		if err != nil {
			return 0, err
		}
		return int64(int16(binary.LittleEndian.Uint16(buf))), nil
	case 0x82, 0x83:
		buf, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return int64(int32(binary.LittleEndian.Uint32(buf))), nil
	case 0x84:
		buf, err := r.bytes(8)
		if err != nil {
			return 0, err
		}
		return int64(binary.LittleEndian.Uint64(buf)), nil
	default:
		return int64(int8(b)), nil
	}
}

func (r *reader) float32() (float32, error) {
	buf, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint32(buf)
	return math.Float32frombits(bits), nil
}

func (r *reader) float64() (float64, error) {
	buf, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(buf)
	return math.Float64frombits(bits), nil
}

// prefixedString reads a prefixedUint length followed by that many UTF-8
// bytes. It rejects invalid UTF-8 with InvalidUTF8 rather than silently
// producing a mangled string.
func (r *reader) prefixedString() (string, error) {
	n, err := r.prefixedUint()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newDecodeError(InvalidUTF8, r.pos, "string payload is not valid utf-8")
	}
	return string(b), nil
}
