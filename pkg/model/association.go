// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package model

import (
	"strconv"
	"strings"
)

// guidLength is the fixed length of an Apple message GUID.
const guidLength = 36

// Association is the parsed form of associated_message_guid, SPEC_FULL.md
// §3.3: a target message GUID plus the body-part index within it a tapback
// or reply refers to.
type Association struct {
	PartIndex int
	GUID      string
}

// ParseAssociation extracts (index, 36-char guid) from associated_message_guid.
// Three shapes are recognized:
//
//   - "<guid>"        — bare guid, index defaults to 0.
//   - "bp:<guid>"     — balloon-part target, index defaults to 0.
//   - "p:<index>/<guid>" — normal-part target; a non-numeric index defaults
//     to 0 rather than failing the parse.
//
// Any other shape, or a guid segment not exactly 36 characters, returns ok=false.
func ParseAssociation(raw string) (Association, bool) {
	switch {
	case len(raw) >= 3 && raw[:3] == "bp:":
		return finishAssociation(0, raw[3:])
	case len(raw) >= 2 && raw[:2] == "p:":
		rest := raw[2:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return Association{}, false
		}
		idxStr, guid := rest[:slash], rest[slash+1:]
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			idx = 0
		}
		return finishAssociation(idx, guid)
	default:
		return finishAssociation(0, raw)
	}
}

func finishAssociation(idx int, guid string) (Association, bool) {
	if len(guid) != guidLength {
		return Association{}, false
	}
	return Association{PartIndex: idx, GUID: guid}, true
}

