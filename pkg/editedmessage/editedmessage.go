// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package editedmessage parses the message_summary_info payload attached to
// an edited or unsent Messages row, per SPEC_FULL.md §4.4.
//
// iMessage permits editing a sent message up to five times within fifteen
// minutes of sending it, and unsending it within two minutes. Edited or
// unsent rows carry a NULL text column; the history instead lives in
// message_summary_info, parsed from NSKeyedArchiver plist data:
//
//   - "otr" is a dictionary keyed by message-part index, one entry per part
//     of the message that may have been altered.
//   - "ec" maps part index (as a string key) to an array of edit events; each
//     event's "d" key is the edit timestamp (Apple epoch, seconds) and "t" is
//     the part's attributedBody at that point in typedstream form.
//   - "rp" lists the indexes of parts that were unsent outright.
package editedmessage

import (
	"fmt"
	"strconv"

	"github.com/lrhodin/imessage-undelete/pkg/typedstream"
)

// timestampFactor converts the Apple-epoch second counts found in
// message_summary_info into the nanosecond-since-Apple-epoch unit the rest
// of this module uses for every other timestamp column.
const timestampFactor = 1_000_000_000

// Status is the kind of edit applied to one message body part.
type Status int

const (
	StatusOriginal Status = iota
	StatusEdited
	StatusUnsent
)

func (s Status) String() string {
	switch s {
	case StatusEdited:
		return "edited"
	case StatusUnsent:
		return "unsent"
	default:
		return "original"
	}
}

// Event is a single historical state of an edited message part.
type Event struct {
	// Date is the edit timestamp in nanoseconds since the Apple epoch.
	Date int64
	// Text is the decoded attributedBody text at this point in history, if
	// the typedstream payload could be decoded at all (by Parse or, failing
	// that, ParseStreamtyped).
	Text string
	HasText bool
	// Components holds the full decoded typedstream sequence, used for
	// downstream attribute-run extraction (bold, strikethrough, links, ...).
	Components []typedstream.Archivable
	// GUID references another message this edit links to (e.g. a message
	// edited into a rich link preview), if present.
	GUID    string
	HasGUID bool
}

// Part tracks the edit status and full history of one message body part.
type Part struct {
	Status  Status
	History []Event
}

// Message is the parsed message_summary_info payload for one Messages row.
// Parts is indexed the same way the "otr" dictionary's keys are: position
// in the message body.
type Message struct {
	Parts []Part
}

// Part returns Parts[index], or false if index is out of range.
func (m *Message) Part(index int) (Part, bool) {
	if index < 0 || index >= len(m.Parts) {
		return Part{}, false
	}
	return m.Parts[index], true
}

// IsUneditedAt reports whether the part at index has never been edited or
// unsent. An out-of-range index is not considered unedited.
func (m *Message) IsUneditedAt(index int) bool {
	p, ok := m.Part(index)
	return ok && p.Status == StatusOriginal
}

// Items returns the number of message parts tracked, edited or not.
func (m *Message) Items() int {
	return len(m.Parts)
}

// Parse decodes a message_summary_info payload (already walked through the
// NSKeyedArchiver UID graph by pkg/plist) into a Message.
func Parse(payload any) (*Message, error) {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("editedmessage: payload is not a dictionary")
	}

	otr, ok := root["otr"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("editedmessage: missing otr key")
	}

	msg := &Message{Parts: make([]Part, len(otr))}

	if ec, ok := root["ec"].(map[string]any); ok {
		for key, rawEvents := range ec {
			idx, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("editedmessage: non-numeric ec key %q: %w", key, err)
			}
			events, ok := rawEvents.([]any)
			if !ok {
				return nil, fmt.Errorf("editedmessage: ec[%q] is not an array", key)
			}
			for _, rawEvent := range events {
				eventDict, ok := rawEvent.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("editedmessage: ec[%q] entry is not a dictionary", key)
				}
				event, err := parseEvent(eventDict)
				if err != nil {
					return nil, err
				}
				if idx >= 0 && idx < len(msg.Parts) {
					msg.Parts[idx].Status = StatusEdited
					msg.Parts[idx].History = append(msg.Parts[idx].History, event)
				}
			}
		}
	}

	if rp, ok := root["rp"].([]any); ok {
		for _, raw := range rp {
			idx, ok := asInt(raw)
			if !ok {
				return nil, fmt.Errorf("editedmessage: rp entry is not an integer")
			}
			if idx >= 0 && idx < int64(len(msg.Parts)) {
				msg.Parts[idx].Status = StatusUnsent
			}
		}
	}

	return msg, nil
}

func parseEvent(dict map[string]any) (Event, error) {
	rawDate, ok := dict["d"]
	if !ok {
		return Event{}, fmt.Errorf("editedmessage: event missing d key")
	}
	dateSeconds, ok := asInt(rawDate)
	if !ok {
		return Event{}, fmt.Errorf("editedmessage: event d key is not an integer")
	}

	rawTyped, ok := dict["t"]
	if !ok {
		return Event{}, fmt.Errorf("editedmessage: event missing t key")
	}
	typedBytes, ok := rawTyped.([]byte)
	if !ok {
		return Event{}, fmt.Errorf("editedmessage: event t key is not data")
	}

	event := Event{Date: dateSeconds * timestampFactor}

	if components, err := typedstream.Parse(typedBytes); err == nil {
		event.Components = components
		if len(components) > 0 {
			if s, ok := components[0].AsNSString(); ok {
				event.Text, event.HasText = s, true
			}
		}
	}
	if !event.HasText {
		if s, err := typedstream.ParseStreamtyped(typedBytes); err == nil {
			event.Text, event.HasText = s, true
		}
	}

	if guid, ok := dict["bcg"].(string); ok {
		event.GUID, event.HasGUID = guid, true
	}

	return event, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
