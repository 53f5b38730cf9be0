// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sanitize escapes text for the two contexts it ends up written to
// on disk: a filesystem path component (§4.7) and an HTML fragment (§S.1).
// Grounded on imessage-undeleter's app/sanitizers.rs.
package sanitize

import (
	"strings"
	"unicode"
)

// filenameReplacement is substituted for any control character or character
// in filenameDisallowed, mirroring sanitizers.rs's sanitize_filename.
const filenameReplacement = '_'

var filenameDisallowed = map[rune]bool{
	'*': true, '"': true, '/': true, '\\': true,
	'<': true, '>': true, ':': true, '|': true, '?': true,
}

// Filename replaces every control character or character in
// filenameDisallowed with filenameReplacement (spec.md §4.7).
func Filename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsControl(r) || filenameDisallowed[r] {
			b.WriteRune(filenameReplacement)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// htmlDisallowed maps a character to its HTML entity, mirroring
// sanitizers.rs's sanitize_html (used by the archival writer's §4.6 HTML
// record, SUPPLEMENTED FEATURE S.1).
var htmlDisallowed = map[rune]string{
	'>':      "&gt;",
	'<':      "&lt;",
	'"':      "&quot;",
	'\'':     "&apos;",
	'`':      "&grave;",
	'&':      "&amp;",
	'\u00a0': "&nbsp;", // non-breaking space
}

// HTML escapes HTML special characters in input.
func HTML(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if replacement, ok := htmlDisallowed[r]; ok {
			b.WriteString(replacement)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
