// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package model holds the canonical row identity the rest of the pipeline
// operates on: Message, its Variant classification, tapback associations,
// group actions, and the Attachment record, per SPEC_FULL.md §3.
package model

import (
	"github.com/lrhodin/imessage-undelete/pkg/editedmessage"
	"github.com/lrhodin/imessage-undelete/pkg/typedstream"
)

// Service identifies the transport a message traveled over.
type Service int

const (
	ServiceUnknown Service = iota
	ServiceIMessage
	ServiceSMS
	ServiceRCS
	ServiceSatellite
	ServiceOther
)

// ServiceFromColumn maps the free-text `service` column to a Service,
// preserving the original string for ServiceOther.
func ServiceFromColumn(s string) (kind Service, other string) {
	switch s {
	case "iMessage":
		return ServiceIMessage, ""
	case "SMS":
		return ServiceSMS, ""
	case "rcs", "RCS":
		return ServiceRCS, ""
	case "satellite", "Satellite":
		return ServiceSatellite, ""
	case "":
		return ServiceUnknown, ""
	default:
		return ServiceOther, s
	}
}

// Message is the canonical row identity, SPEC_FULL.md §3.1. Components and
// EditedParts are populated lazily — decoding attributedBody and
// message_summary_info is expensive and unneeded for rows the differ only
// checks for full-unsend status, which depends solely on EditedParts.
type Message struct {
	RowID               int64
	GUID                string
	Text                string
	HasText             bool
	Service             Service
	ServiceOther        string
	HandleID            int64
	DestinationCallerID string

	Date          int64
	DateRead      int64
	DateDelivered int64
	DateEdited    int64

	IsFromMe bool
	IsRead   bool

	ItemType        int
	GroupActionType int
	OtherHandle     int64
	GroupTitle      string
	HasGroupTitle   bool

	AssociatedMessageGUID    string
	HasAssociatedMessage     bool
	AssociatedMessageType    int
	HasAssociatedMessageType bool
	AssociatedMessageEmoji   string
	HasAssociatedEmoji       bool

	BalloonBundleID    string
	HasBalloonBundleID bool
	ExpressiveSendStyleID string
	HasExpressiveStyle    bool

	ThreadOriginatorGUID string
	HasThreadOriginator  bool
	ThreadOriginatorPart int

	ChatID        int64
	HasChatID     bool
	DeletedFrom   int64
	HasDeletedFrom bool

	NumAttachments int
	NumReplies     int

	Components    []typedstream.Archivable
	HasComponents bool
	EditedParts   *editedmessage.Message
}

// HasAttachments reports whether any attachment rows reference this message.
func (m *Message) HasAttachments() bool { return m.NumAttachments > 0 }

// HasReplies reports whether any other message threads off this one.
func (m *Message) HasReplies() bool { return m.NumReplies > 0 }

// IsFullyUnsent reports whether every body part of the message has been
// retracted. Per SPEC_FULL.md §3.1's invariant, this implies EditedParts is
// populated and every part's status is Unsent.
func (m *Message) IsFullyUnsent() bool {
	if m.EditedParts == nil || m.EditedParts.Items() == 0 {
		return false
	}
	for _, part := range m.EditedParts.Parts {
		if part.Status != editedmessage.StatusUnsent {
			return false
		}
	}
	return true
}
