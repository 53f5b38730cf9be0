// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package differ

import (
	"fmt"
	"time"
)

// appleEpoch is 2001-01-01 00:00:00 UTC, the reference date every Messages
// timestamp column (date, date_read, date_delivered, date_edited) counts
// nanoseconds from.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// appleTime converts a nanoseconds-since-appleEpoch column value to a wall
// clock time.
func appleTime(ns int64) time.Time {
	return appleEpoch.Add(time.Duration(ns))
}

// formatMessageTime renders the send time for an archival record.
func formatMessageTime(dateNS int64) string {
	return appleTime(dateNS).Local().Format("2006-01-02 15:04:05")
}

// readLatency reports how long after sending a message was read, formatted
// for the archival record's optional latency annotation (spec.md §4.6). It
// reports ok=false when the message was never marked read.
func readLatency(dateNS, dateReadNS int64) (string, bool) {
	if dateReadNS <= dateNS {
		return "", false
	}
	d := appleTime(dateReadNS).Sub(appleTime(dateNS))
	return fmt.Sprintf("read %s after sending", d.Round(time.Second)), true
}

// previewText returns at most the first 50 runes of text, appending "..."
// whenever that truncated preview's byte length is at least 50 — mirroring
// runtime.rs's handle_deleted_message preview logic exactly, including its
// quirk of checking the truncated copy's byte length rather than the
// original rune count (SUPPLEMENTED FEATURE §S.7).
func previewText(text string) string {
	runes := []rune(text)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	preview := string(runes)
	if len(preview) >= 50 {
		return preview + "..."
	}
	return preview
}
