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
	"unicode/utf8"
)

// startPattern and endPattern bracket the plain-text payload inside a
// typedstream blob that the structured Parse decoder couldn't make sense of.
// They are the same two-byte markers real attributedBody blobs carry right
// before and after the message text, per SPEC_FULL.md §4.2.
var (
	startPattern = []byte{0x01, 0x2B}
	endPattern   = []byte{0x86, 0x84}
)

// ParseStreamtyped recovers the message text from a typedstream blob by
// pattern matching instead of structurally decoding it. It is the fallback
// Parse's caller should use whenever Parse returns an error: real-world
// attributedBody values occasionally use archiver features this decoder
// does not model, but the text is still recoverable by this cruder method.
func ParseStreamtyped(data []byte) (string, error) {
	start := bytes.Index(data, startPattern)
	if start < 0 {
		return "", newDecodeError(InvalidHeader, 0, "start pattern not found")
	}
	rest := data[start+len(startPattern):]

	end := bytes.Index(rest, endPattern)
	if end < 0 {
		return "", newDecodeError(Truncated, start+len(startPattern), "end pattern not found")
	}
	payload := rest[:end]

	if utf8.Valid(payload) {
		return dropPrefix(string(payload), 1), nil
	}
	// A lossy conversion means the leading bytes include part of the NSString
	// length prefix rather than pure text; three runes of that prefix are
	// dropped instead of one.
	return dropPrefix(string([]rune(string(payload))), 3), nil
}

// dropPrefix removes the first n runes from s, matching streamtyped.rs's
// `chars().skip(n)` behavior rather than a byte-offset skip.
func dropPrefix(s string, n int) string {
	for i := 0; i < n; i++ {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size <= 1 {
			break
		}
		s = s[size:]
	}
	return s
}
