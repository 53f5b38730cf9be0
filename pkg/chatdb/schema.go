// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chatdb builds and runs the SQL queries used to pull rows out of a
// Messages chat.db, across the three historical schema shapes a copy of the
// database can be in. Grounded on imessage-database's
// tables/messages/query_parts.rs and tables/messages/message.rs
// (generate_filter_statement/generate_limit_statement), and on the
// read-only connection idiom used by sibling chat.db readers in the pack
// (Napageneral-eve's internal/etl.OpenChatDB, bagoup, danewalton/imessage-cli).
package chatdb

import (
	"fmt"
	"strconv"
	"strings"
)

// messageColsPrefix/messageColsSuffix bracket the columns every schema
// variant has always had. The columns between them (thread_originator_*,
// date_edited) were added in later iMessage database revisions, so each
// variant's full column list (below) substitutes a literal for whichever of
// those its era's chat.db lacks. Referencing a nonexistent column by name
// fails to prepare in sqlite, which is what lets Open cascade through
// variants newest first. Row scanning (scan.go) depends on the
// resulting column order being identical across all three lists.
const messageColsPrefix = "rowid, guid, text, service, handle_id, destination_caller_id, " +
	"subject, date, date_read, date_delivered, is_from_me, is_read, item_type, " +
	"other_handle, share_status, share_direction, group_title, group_action_type, " +
	"associated_message_guid, associated_message_type, balloon_bundle_id, " +
	"expressive_send_style_id, "
const messageColsSuffix = ", associated_message_emoji"

// fullMessageCols is every named column as it exists on macOS Ventura+ /
// iOS 16+, which introduced date_edited (edit/unsend).
const fullMessageCols = messageColsPrefix + "thread_originator_guid, thread_originator_part, date_edited" + messageColsSuffix

// midMessageCols is macOS Big Sur-Monterey / iOS 14-15: has
// thread_originator_guid/part (replies), predates date_edited.
const midMessageCols = messageColsPrefix + "thread_originator_guid, thread_originator_part, 0 as date_edited" + messageColsSuffix

// oldMessageCols is macOS Catalina / iOS 13 and earlier: predates reply
// threading entirely.
const oldMessageCols = messageColsPrefix + "'' as thread_originator_guid, '' as thread_originator_part, 0 as date_edited" + messageColsSuffix

// SchemaVariant identifies which of the three historical message-table
// shapes a given chat.db exposes.
type SchemaVariant int

const (
	// SchemaIOS16Newer is macOS Ventura+ / iOS 16+: adds
	// chat_recoverable_message_join, so deleted-but-recoverable rows can be
	// surfaced via a LEFT JOIN against it.
	SchemaIOS16Newer SchemaVariant = iota
	// SchemaIOS1415 is macOS Big Sur through Monterey / iOS 14-15: has
	// thread_originator_guid but no recoverable-message join.
	SchemaIOS1415
	// SchemaIOS13Older is macOS Catalina / iOS 13 and earlier: has neither;
	// reply threading and num_replies are unavailable (default to 0).
	SchemaIOS13Older
)

func (v SchemaVariant) String() string {
	switch v {
	case SchemaIOS16Newer:
		return "ios16-newer"
	case SchemaIOS1415:
		return "ios14-15"
	case SchemaIOS13Older:
		return "ios13-older"
	default:
		return "unknown"
	}
}

// headQuery returns the SELECT...FROM...JOIN head for a schema variant,
// without filter, order, or limit clauses.
func headQuery(variant SchemaVariant) string {
	switch variant {
	case SchemaIOS16Newer:
		return `
SELECT
    ` + fullMessageCols + `,
    c.chat_id,
    (SELECT COUNT(*) FROM message_attachment_join a WHERE m.ROWID = a.message_id) as num_attachments,
    d.chat_id as deleted_from,
    (SELECT COUNT(*) FROM message m2 WHERE m2.thread_originator_guid = m.guid) as num_replies
FROM
    message as m
LEFT JOIN chat_message_join as c ON m.ROWID = c.message_id
LEFT JOIN chat_recoverable_message_join as d ON m.ROWID = d.message_id
`
	case SchemaIOS1415:
		return `
SELECT
    ` + midMessageCols + `,
    c.chat_id,
    (SELECT COUNT(*) FROM message_attachment_join a WHERE m.ROWID = a.message_id) as num_attachments,
    NULL as deleted_from,
    (SELECT COUNT(*) FROM message m2 WHERE m2.thread_originator_guid = m.guid) as num_replies
FROM
    message as m
LEFT JOIN chat_message_join as c ON m.ROWID = c.message_id
`
	default: // SchemaIOS13Older
		return `
SELECT
    ` + oldMessageCols + `,
    c.chat_id,
    (SELECT COUNT(*) FROM message_attachment_join a WHERE m.ROWID = a.message_id) as num_attachments,
    NULL as deleted_from,
    0 as num_replies
FROM
    message as m
LEFT JOIN chat_message_join as c ON m.ROWID = c.message_id
`
	}
}

const orderByClause = "\nORDER BY\n    m.date DESC\n"

// buildQuery assembles a schema variant's final query string.
func buildQuery(variant SchemaVariant, filter, limit string) string {
	return headQuery(variant) + filter + orderByClause + limit + ";"
}

// QueryContext carries the optional filters a poll cycle or export run can
// apply, mirroring imessage-database's util::query_context::QueryContext.
type QueryContext struct {
	Limit             int
	HasLimit          bool
	SelectedChatIDs   []int64
	SelectedHandleIDs []int64
	// SinceRowID restricts the scan to rows inserted after a previous poll
	// cycle's high-water mark (SPEC_FULL.md §4.5); it has no Rust analogue
	// since the original is a one-shot exporter, not a poller.
	SinceRowID    int64
	HasSinceRowID bool
}

// HasFilters reports whether any filter is set, matching QueryContext::has_filters.
func (c QueryContext) HasFilters() bool {
	return c.HasLimit || len(c.SelectedChatIDs) > 0 || len(c.SelectedHandleIDs) > 0 || c.HasSinceRowID
}

// generateFilterStatement builds the WHERE clause. includeRecoverable only
// has an effect when SelectedChatIDs is set, and only makes sense against
// SchemaIOS16Newer, which alone has the "d" alias in scope.
func generateFilterStatement(ctx QueryContext, includeRecoverable bool) string {
	var clauses []string

	if len(ctx.SelectedChatIDs) > 0 {
		ids := joinInts(ctx.SelectedChatIDs)
		if includeRecoverable {
			clauses = append(clauses, fmt.Sprintf("(c.chat_id IN (%s) OR d.chat_id IN (%s))", ids, ids))
		} else {
			clauses = append(clauses, fmt.Sprintf("c.chat_id IN (%s)", ids))
		}
	}
	if len(ctx.SelectedHandleIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("m.handle_id IN (%s)", joinInts(ctx.SelectedHandleIDs)))
	}
	if ctx.HasSinceRowID {
		clauses = append(clauses, fmt.Sprintf("m.ROWID > %d", ctx.SinceRowID))
	}

	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

// generateLimitStatement builds the LIMIT clause.
func generateLimitStatement(ctx QueryContext) string {
	if !ctx.HasLimit {
		return ""
	}
	return fmt.Sprintf("LIMIT %d", ctx.Limit)
}

func joinInts(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
