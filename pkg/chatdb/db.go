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

	_ "github.com/mattn/go-sqlite3"
)

// DB is a read-only handle onto a chat.db, bound to whichever schema
// variant it was detected to speak.
type DB struct {
	sql     *sql.DB
	variant SchemaVariant
}

// readOnlyPragmas mirror Napageneral-eve's OpenChatDB: safe to apply against
// a live, WAL-mode Messages database since they only affect this
// connection's view, never the file on disk.
var readOnlyPragmas = []string{
	"PRAGMA query_only=ON",
	"PRAGMA synchronous=OFF",
	"PRAGMA temp_store=MEMORY",
}

// Open opens path read-only and probes it against the three known schema
// variants, newest first, settling on the first one whose head query
// prepares successfully (message.rs's own cascading prepare/or_else chain).
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open chat.db: %w", err)
	}
	for _, pragma := range readOnlyPragmas {
		// Pragmas are best-effort: an older sqlite3 build may reject one.
		_, _ = conn.Exec(pragma)
	}

	db := &DB{sql: conn}
	variant, err := detectSchema(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	db.variant = variant
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Variant reports which schema shape this database was detected as.
func (db *DB) Variant() SchemaVariant {
	return db.variant
}

func detectSchema(conn *sql.DB) (SchemaVariant, error) {
	candidates := []SchemaVariant{SchemaIOS16Newer, SchemaIOS1415, SchemaIOS13Older}
	var lastErr error
	for _, v := range candidates {
		stmt, err := conn.Prepare(buildQuery(v, "", "LIMIT 0"))
		if err == nil {
			stmt.Close()
			return v, nil
		}
		lastErr = err
	}
	return SchemaIOS13Older, fmt.Errorf("%w: %v", ErrNoSchemaMatch, lastErr)
}

// MaxRowID returns the highest message ROWID currently present, or 0 when
// the message table is empty.
func (db *DB) MaxRowID() (int64, error) {
	var max sql.NullInt64
	if err := db.sql.QueryRow("SELECT MAX(ROWID) FROM message").Scan(&max); err != nil {
		return 0, fmt.Errorf("read max rowid: %w", err)
	}
	return max.Int64, nil
}

// CountMessages returns the number of message rows matching ctx's filters,
// mirroring Message::get_count.
func (db *DB) CountMessages(ctx QueryContext) (int64, error) {
	var query string
	if ctx.HasFilters() {
		if db.variant == SchemaIOS16Newer {
			query = "SELECT COUNT(*) FROM message as m " +
				"LEFT JOIN chat_message_join as c ON m.ROWID = c.message_id " +
				"LEFT JOIN chat_recoverable_message_join as d ON m.ROWID = d.message_id " +
				generateFilterStatement(ctx, true)
		} else {
			query = "SELECT COUNT(*) FROM message as m " +
				"LEFT JOIN chat_message_join as c ON m.ROWID = c.message_id " +
				generateFilterStatement(ctx, false)
		}
	} else {
		query = "SELECT COUNT(*) FROM message"
	}

	var count int64
	if err := db.sql.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
