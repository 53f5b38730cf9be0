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
	"sort"
	"strings"

	"github.com/lrhodin/imessage-undelete/pkg/chatdb"
	"github.com/lrhodin/imessage-undelete/pkg/sanitize"
)

// maxFilenameLength bounds a chat-derived filename, mirroring runtime.rs's
// MAX_LENGTH (spec.md §4.7).
const maxFilenameLength = 235

// chatFilename returns the sanitized per-chatroom directory/filename used
// under the archive (spec.md §4.7): the chatroom's display name truncated
// and suffixed with its rowid when it has one, otherwise a comma-joined
// list of participant labels, falling back to the bare chat_identifier if
// even that can't be built.
func (d *Differ) chatFilename(room chatdb.Chatroom) string {
	if room.HasDisplayName {
		name := room.DisplayName
		if len(name) > maxFilenameLength {
			name = name[:maxFilenameLength]
		}
		return sanitize.Filename(fmt.Sprintf("%s - %d", name, room.RowID))
	}

	participants, ok := d.chatroomParticipants[room.RowID]
	if !ok || len(participants) == 0 {
		d.log.Warn().Int64("chat_id", room.RowID).Msg("chat has no members; falling back to chat_identifier")
		return sanitize.Filename(room.ChatIdentifier)
	}
	return sanitize.Filename(d.filenameFromParticipants(participants))
}

// filenameFromParticipants builds a comma-joined label list, switching to
// "…, and N others" on overflow, mirroring runtime.rs's
// filename_from_participants exactly (including its last-resort hard
// truncation of the very first label when even that alone doesn't fit).
func (d *Differ) filenameFromParticipants(handleIDs []int64) string {
	sorted := append([]int64(nil), handleIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out strings.Builder
	added := 0
	for _, handleID := range sorted {
		participant := d.who(handleID, false, "")
		if len(participant)+out.Len() < maxFilenameLength {
			if out.Len() > 0 {
				out.WriteString(", ")
			}
			out.WriteString(participant)
			added++
			continue
		}

		extra := fmt.Sprintf(", and %d others", len(sorted)-added)
		current := out.String()
		spaceRemaining := len(extra) + len(current)
		switch {
		case spaceRemaining >= maxFilenameLength:
			cut := maxFilenameLength - len(extra)
			if cut < 0 {
				cut = 0
			}
			if cut > len(current) {
				cut = len(current)
			}
			return current[:cut] + extra
		case current == "":
			end := participant
			if len(end) > maxFilenameLength {
				end = end[:maxFilenameLength]
			}
			return end
		default:
			return current + extra
		}
	}
	return out.String()
}
