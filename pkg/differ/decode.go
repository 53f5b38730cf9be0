// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package differ

import (
	"github.com/lrhodin/imessage-undelete/pkg/chatdb"
	"github.com/lrhodin/imessage-undelete/pkg/editedmessage"
	"github.com/lrhodin/imessage-undelete/pkg/model"
	"github.com/lrhodin/imessage-undelete/pkg/plist"
	"github.com/lrhodin/imessage-undelete/pkg/typedstream"
)

// decodeRow populates m.Components/m.Text (§4.1/§4.2) and m.EditedParts
// (§4.3/§4.4) from its BLOB columns, mirroring Message::generate_text. A
// row-decode failure here is the caller's to log and skip — it must never
// be mistaken for a deletion (spec.md §4.5's failure-semantics note).
func (d *Differ) decodeRow(db *chatdb.DB, m *model.Message) error {
	body, err := db.AttributedBody(m.RowID)
	if err != nil {
		return err
	}
	if body != nil {
		if components, perr := typedstream.Parse(body); perr == nil {
			m.Components = components
			m.HasComponents = true
			if len(components) > 0 {
				if text, ok := components[0].AsNSString(); ok {
					m.Text = text
					m.HasText = text != ""
				}
			}
		}
		if !m.HasText {
			if text, serr := typedstream.ParseStreamtyped(body); serr == nil {
				m.Text = text
				m.HasText = text != ""
			}
		}
	}

	if m.DateEdited == 0 {
		return nil
	}
	summary, err := db.SummaryInfo(m.RowID)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}
	payload, err := plist.ParseNSKeyedArchiver(summary)
	if err != nil {
		// A malformed summary blob leaves EditedParts unset; it isn't
		// treated as a row-decode failure since the message text already
		// decoded fine above.
		return nil
	}
	edited, err := editedmessage.Parse(payload)
	if err != nil {
		return nil
	}
	m.EditedParts = edited
	return nil
}
