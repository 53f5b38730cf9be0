// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// streamBuilder constructs well-formed typedstream byte sequences for tests.
// No golden Apple fixtures are available to this repo, so tests exercise the
// decoder against self-built wire data that follows the same tag scheme
// decoder.go implements.
type streamBuilder struct {
	buf bytes.Buffer
}

func newStream() *streamBuilder {
	b := &streamBuilder{}
	b.buf.WriteByte(byte(len(headerMagic)))
	b.buf.WriteString(headerMagic)
	b.uint(1) // version block
	return b
}

func (b *streamBuilder) bytes() []byte { return b.buf.Bytes() }

func (b *streamBuilder) uint(v uint64) *streamBuilder {
	switch {
	case v < 0x81:
		b.buf.WriteByte(byte(v))
	case v <= 0xFFFF:
		b.buf.WriteByte(0x81)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(v))
		b.buf.Write(tmp[:])
	case v <= 0xFFFFFFFF:
		b.buf.WriteByte(0x82)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		b.buf.Write(tmp[:])
	default:
		b.buf.WriteByte(0x84)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		b.buf.Write(tmp[:])
	}
	return b
}

func (b *streamBuilder) signed(v int64) *streamBuilder {
	if v >= 0 {
		return b.uint(uint64(v))
	}
	switch {
	case v >= math.MinInt16:
		b.buf.WriteByte(0x81)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(int16(v)))
		b.buf.Write(tmp[:])
	case v >= math.MinInt32:
		b.buf.WriteByte(0x82)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		b.buf.Write(tmp[:])
	default:
		b.buf.WriteByte(0x84)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		b.buf.Write(tmp[:])
	}
	return b
}

func (b *streamBuilder) str(s string) *streamBuilder {
	b.uint(uint64(len(s)))
	b.buf.WriteString(s)
	return b
}

func (b *streamBuilder) byte(v byte) *streamBuilder {
	b.buf.WriteByte(v)
	return b
}

// classDef appends one class link. The first link of a chain is the leaf
// class; each later link appears as its own ArchivableClassRef entry.
func (b *streamBuilder) classDef(name string, version uint64) *streamBuilder {
	b.byte(classTagDef)
	b.str(name)
	b.uint(version)
	return b
}

func (b *streamBuilder) chainEnd() *streamBuilder {
	b.byte(classTagChainEnd)
	return b
}

func (b *streamBuilder) beginObject() *streamBuilder {
	b.byte(tagNewObject)
	return b
}

func (b *streamBuilder) end() *streamBuilder {
	b.byte(tagEndOfStream)
	return b
}

func parseOrFatal(t *testing.T, data []byte) []Archivable {
	t.Helper()
	out, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return out
}

func TestParseEmptyAttributedBody(t *testing.T) {
	data := newStream().end().bytes()
	out := parseOrFatal(t, data)
	if len(out) != 0 {
		t.Fatalf("expected no entries, got %d", len(out))
	}
}

func TestParseNSString(t *testing.T) {
	b := newStream().beginObject()
	b.classDef("NSString", 1).chainEnd()
	b.str("hello")
	b.end()
	out := parseOrFatal(t, b.bytes())
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	s, ok := out[0].AsNSString()
	if !ok || s != "hello" {
		t.Fatalf("expected NSString %q, got %q (ok=%v)", "hello", s, ok)
	}
}

func TestParseNSStringTwoByte(t *testing.T) {
	// A two-character string still round-trips through the generic
	// length-prefix path (no special casing at small sizes).
	b := newStream().beginObject()
	b.classDef("NSMutableString", 1).chainEnd()
	b.str("ab")
	b.end()
	out := parseOrFatal(t, b.bytes())
	s, ok := out[0].AsNSString()
	if !ok || s != "ab" {
		t.Fatalf("got %q, ok=%v", s, ok)
	}
}

func TestParseIntegerWidths(t *testing.T) {
	cases := []struct {
		name string
		v    uint64
	}{
		{"byte-literal", 5},
		{"two-byte-boundary", 0x81},
		{"four-byte-boundary", 0x10000},
		{"eight-byte-boundary", 0x100000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newStream().beginObject()
			b.classDef("NSNumber", 0).chainEnd()
			b.byte('Q').uint(tc.v)
			b.end()
			out := parseOrFatal(t, b.bytes())
			got, ok := out[0].AsNSNumberInt()
			if !ok || uint64(got) != tc.v {
				t.Fatalf("expected %#x, got %#x (ok=%v)", tc.v, got, ok)
			}
		})
	}
}

func TestParseNSNumberSignedMin(t *testing.T) {
	b := newStream().beginObject()
	b.classDef("NSNumber", 0).chainEnd()
	b.byte('q').signed(math.MinInt64)
	b.end()
	out := parseOrFatal(t, b.bytes())
	got, ok := out[0].AsNSNumberInt()
	if !ok || got != math.MinInt64 {
		t.Fatalf("expected MinInt64, got %d (ok=%v)", got, ok)
	}
}

func TestParseNSNumberDoubleNaN(t *testing.T) {
	b := newStream().beginObject()
	b.classDef("NSNumber", 0).chainEnd()
	b.byte('d')
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(math.NaN()))
	b.buf.Write(tmp[:])
	b.end()
	out := parseOrFatal(t, b.bytes())
	got, ok := out[0].AsNSNumberFloat()
	if !ok || !math.IsNaN(got) {
		t.Fatalf("expected NaN, got %v (ok=%v)", got, ok)
	}
}

func TestParseSuperclassChain(t *testing.T) {
	// NSMutableString derives from NSString in a real archive; the leaf is
	// NSMutableString and NSString appears as a separate ClassRef entry.
	b := newStream().beginObject()
	b.classDef("NSMutableString", 1)
	b.classDef("NSString", 1)
	b.chainEnd()
	b.str("edited")
	b.end()
	out := parseOrFatal(t, b.bytes())
	if len(out) != 2 {
		t.Fatalf("expected object + superclass ref, got %d entries", len(out))
	}
	if out[1].Kind != ArchivableClassRef || out[1].Class.Name != "NSString" {
		t.Fatalf("expected NSString class ref, got %+v", out[1])
	}
	s, ok := out[0].AsNSString()
	if !ok || s != "edited" {
		t.Fatalf("got %q, ok=%v", s, ok)
	}
}

func TestParseAttributedStringWithRun(t *testing.T) {
	// NSAttributedString { NSString backing; Data([run-len]) } — a minimal
	// stand-in for the real attribute-run shape described in §4.1's output
	// contract: the attributed string object contributes no Values of its
	// own, and its backing text plus attribute run follow as flat entries.
	b := newStream()
	b.beginObject()
	b.classDef("NSAttributedString", 0).chainEnd()

	b.beginObject()
	b.classDef("NSString", 1).chainEnd()
	b.str("hi")

	b.byte(tagNewData)
	b.uint(1)
	b.byte('Q').uint(2)

	b.end()

	out := parseOrFatal(t, b.bytes())
	if len(out) != 3 {
		t.Fatalf("expected attributed-string + backing string + data run, got %d", len(out))
	}
	if out[0].Kind != ArchivableObject || out[0].Class.Name != "NSAttributedString" {
		t.Fatalf("entry 0: expected NSAttributedString object, got %+v", out[0])
	}
	if s, ok := out[1].AsNSString(); !ok || s != "hi" {
		t.Fatalf("entry 1: expected backing string %q, got %q (ok=%v)", "hi", s, ok)
	}
	if out[2].Kind != ArchivableData || len(out[2].Values) != 1 {
		t.Fatalf("entry 2: expected one-value data run, got %+v", out[2])
	}
	if v, ok := out[2].Values[0].AsSignedInt(); !ok || v != 2 {
		t.Fatalf("entry 2: expected run length 2, got %d (ok=%v)", v, ok)
	}
}

func TestParseBackreference(t *testing.T) {
	b := newStream()
	b.beginObject()
	b.classDef("NSString", 1).chainEnd()
	b.str("shared")

	b.byte(tagBackrefObject).uint(0)
	b.end()

	out := parseOrFatal(t, b.bytes())
	if len(out) != 1 {
		t.Fatalf("expected back-reference to append no new entry, got %d entries", len(out))
	}
}

func TestParseBackreferenceOutOfRange(t *testing.T) {
	b := newStream()
	b.byte(tagBackrefObject).uint(9)
	b.end()
	_, err := Parse(b.bytes())
	if err == nil {
		t.Fatal("expected error for out-of-range back-reference")
	}
	var de *DecodeError
	if !errorsAs(err, &de) || de.Kind != BadReference {
		t.Fatalf("expected BadReference DecodeError, got %v", err)
	}
}

func TestParseUnknownClassPreservesEmptyValues(t *testing.T) {
	b := newStream().beginObject()
	b.classDef("NSAttachment", 0).chainEnd()
	b.end()
	out := parseOrFatal(t, b.bytes())
	if len(out) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(out))
	}
	if out[0].Kind != ArchivableObject || out[0].Class.Name != "NSAttachment" {
		t.Fatalf("expected NSAttachment object, got %+v", out[0])
	}
	if len(out[0].Values) != 0 {
		t.Fatalf("expected no field values for unknown class, got %v", out[0].Values)
	}
}

func TestParseInvalidHeaderRejected(t *testing.T) {
	_, err := Parse([]byte("not a typedstream"))
	if err == nil {
		t.Fatal("expected header error")
	}
	var de *DecodeError
	if !errorsAs(err, &de) || de.Kind != InvalidHeader {
		t.Fatalf("expected InvalidHeader DecodeError, got %v", err)
	}
}

func TestParseTruncatedStreamRejected(t *testing.T) {
	full := newStream().beginObject()
	full.classDef("NSString", 1).chainEnd()
	full.str("hello")
	data := full.bytes()
	_, err := Parse(data[:len(data)-2])
	if err == nil {
		t.Fatal("expected truncation error")
	}
	var de *DecodeError
	if !errorsAs(err, &de) || de.Kind != Truncated {
		t.Fatalf("expected Truncated DecodeError, got %v", err)
	}
}

// errorsAs is a tiny local wrapper so these tests don't need to import
// "errors" solely for one call site repeated throughout the table above.
func errorsAs(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if !ok {
		return false
	}
	*target = de
	return true
}
