// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatdb

import (
	"database/sql"
	"fmt"
)

// Chatroom mirrors imessage-database's tables::chat::Chat — just enough of
// the chat table for filename derivation (SPEC_FULL.md §4.7) and sender
// resolution, not the full row.
type Chatroom struct {
	RowID          int64
	ChatIdentifier string
	DisplayName    string
	HasDisplayName bool
}

// Name returns the chatroom's display name, falling back to its
// chat_identifier, mirroring Chat::name.
func (c Chatroom) Name() string {
	if c.HasDisplayName {
		return c.DisplayName
	}
	return c.ChatIdentifier
}

// Handle mirrors just enough of imessage-database's tables::handle::Handle
// to label a sender: its canonical id (phone number or email).
type Handle struct {
	RowID int64
	ID    string
}

// Chatrooms loads every row of the chat table, mirroring Chat::cache.
func (db *DB) Chatrooms() (map[int64]Chatroom, error) {
	rows, err := db.sql.Query("SELECT ROWID, chat_identifier, display_name FROM chat")
	if err != nil {
		return nil, fmt.Errorf("query chatrooms: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Chatroom)
	for rows.Next() {
		var (
			rowID          int64
			chatIdentifier string
			displayName    sql.NullString
		)
		if err := rows.Scan(&rowID, &chatIdentifier, &displayName); err != nil {
			return nil, fmt.Errorf("scan chatroom: %w", err)
		}
		out[rowID] = Chatroom{
			RowID:          rowID,
			ChatIdentifier: chatIdentifier,
			DisplayName:    displayName.String,
			HasDisplayName: displayName.Valid && displayName.String != "",
		}
	}
	return out, rows.Err()
}

// Handles loads every row of the handle table, keyed by ROWID.
func (db *DB) Handles() (map[int64]Handle, error) {
	rows, err := db.sql.Query("SELECT ROWID, id FROM handle")
	if err != nil {
		return nil, fmt.Errorf("query handles: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]Handle)
	for rows.Next() {
		var h Handle
		if err := rows.Scan(&h.RowID, &h.ID); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		out[h.RowID] = h
	}
	return out, rows.Err()
}

// ChatroomParticipants maps each chat_id to the set of handle_ids that
// belong to it, via chat_handle_join — used to build the participant-list
// fallback filename (SPEC_FULL.md §4.7) when a chatroom has no display name.
func (db *DB) ChatroomParticipants() (map[int64][]int64, error) {
	rows, err := db.sql.Query("SELECT chat_id, handle_id FROM chat_handle_join")
	if err != nil {
		return nil, fmt.Errorf("query chat_handle_join: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var chatID, handleID int64
		if err := rows.Scan(&chatID, &handleID); err != nil {
			return nil, fmt.Errorf("scan chat_handle_join: %w", err)
		}
		out[chatID] = append(out[chatID], handleID)
	}
	return out, rows.Err()
}
