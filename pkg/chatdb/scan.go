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

	"github.com/lrhodin/imessage-undelete/pkg/model"
)

// Rows streams message.rs's column scan into model.Message values, applying
// ctx's filters. The caller owns the returned *sql.Rows and must Close it.
func (db *DB) Rows(ctx QueryContext) (*sql.Rows, error) {
	includeRecoverable := db.variant == SchemaIOS16Newer
	query := buildQuery(db.variant, generateFilterStatement(ctx, includeRecoverable), generateLimitStatement(ctx))
	rows, err := db.sql.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return rows, nil
}

// ScanMessage reads one row produced by Rows into a model.Message. It does
// not populate Components or EditedParts — those require separate blob
// fetches (AttributedBody, SummaryInfo) the differ only issues for rows it
// actually needs to render.
func ScanMessage(rows *sql.Rows) (*model.Message, error) {
	var (
		rowID                                         int64
		guid                                          string
		text, service, destinationCallerID, subject   sql.NullString
		handleID                                      sql.NullInt64
		date, dateRead, dateDelivered                 sql.NullInt64
		isFromMe, isRead                              bool
		itemType                                      int
		otherHandle                                   sql.NullInt64
		shareStatus, shareDirection                   sql.NullInt64
		groupTitle                                    sql.NullString
		groupActionType                               int
		associatedMessageGUID                         sql.NullString
		associatedMessageType                         sql.NullInt64
		balloonBundleID                               sql.NullString
		expressiveSendStyleID                         sql.NullString
		threadOriginatorGUID                          sql.NullString
		threadOriginatorPart                          sql.NullString
		dateEdited                                    sql.NullInt64
		associatedMessageEmoji                        sql.NullString
		chatID                                        sql.NullInt64
		numAttachments                                int
		deletedFrom                                   sql.NullInt64
		numReplies                                    int
	)

	err := rows.Scan(
		&rowID, &guid, &text, &service, &handleID, &destinationCallerID, &subject,
		&date, &dateRead, &dateDelivered, &isFromMe, &isRead, &itemType,
		&otherHandle, &shareStatus, &shareDirection, &groupTitle, &groupActionType,
		&associatedMessageGUID, &associatedMessageType, &balloonBundleID,
		&expressiveSendStyleID, &threadOriginatorGUID, &threadOriginatorPart,
		&dateEdited, &associatedMessageEmoji,
		&chatID, &numAttachments, &deletedFrom, &numReplies,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}

	m := &model.Message{
		RowID:               rowID,
		GUID:                guid,
		Text:                text.String,
		HasText:             text.Valid && text.String != "",
		HandleID:            handleID.Int64,
		DestinationCallerID: destinationCallerID.String,
		Date:                date.Int64,
		DateRead:            dateRead.Int64,
		DateDelivered:       dateDelivered.Int64,
		DateEdited:          dateEdited.Int64,
		IsFromMe:            isFromMe,
		IsRead:              isRead,
		ItemType:            itemType,
		GroupActionType:     groupActionType,
		OtherHandle:         otherHandle.Int64,
		GroupTitle:          groupTitle.String,
		HasGroupTitle:       groupTitle.Valid && groupTitle.String != "",

		AssociatedMessageGUID:    associatedMessageGUID.String,
		HasAssociatedMessage:     associatedMessageGUID.Valid && associatedMessageGUID.String != "",
		AssociatedMessageType:    int(associatedMessageType.Int64),
		HasAssociatedMessageType: associatedMessageType.Valid,

		AssociatedMessageEmoji: associatedMessageEmoji.String,
		HasAssociatedEmoji:     associatedMessageEmoji.Valid && associatedMessageEmoji.String != "",

		BalloonBundleID:    balloonBundleID.String,
		HasBalloonBundleID: balloonBundleID.Valid && balloonBundleID.String != "",

		ExpressiveSendStyleID: expressiveSendStyleID.String,
		HasExpressiveStyle:    expressiveSendStyleID.Valid && expressiveSendStyleID.String != "",

		ThreadOriginatorGUID: threadOriginatorGUID.String,
		HasThreadOriginator:  threadOriginatorGUID.Valid && threadOriginatorGUID.String != "",

		ChatID:         chatID.Int64,
		HasChatID:      chatID.Valid,
		DeletedFrom:    deletedFrom.Int64,
		HasDeletedFrom: deletedFrom.Valid,

		NumAttachments: numAttachments,
		NumReplies:     numReplies,
	}
	m.Service, m.ServiceOther = model.ServiceFromColumn(service.String)
	if threadOriginatorPart.Valid {
		m.ThreadOriginatorPart = parseLeadingInt(threadOriginatorPart.String)
	}
	return m, nil
}

// parseLeadingInt parses the numeric prefix of thread_originator_part, which
// stores "<part>:<guid>" in newer schemas and a bare index in older ones.
func parseLeadingInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// AttributedBody fetches the attributedBody BLOB for one row on demand,
// mirroring Message::attributed_body.
func (db *DB) AttributedBody(rowID int64) ([]byte, error) {
	return db.blobColumn(rowID, "attributedBody")
}

// SummaryInfo fetches the message_summary_info BLOB (edited-message plist)
// for one row on demand, mirroring Message::message_summary_info.
func (db *DB) SummaryInfo(rowID int64) ([]byte, error) {
	return db.blobColumn(rowID, "message_summary_info")
}

// PayloadData fetches the payload_data BLOB (app balloon plist) for one row
// on demand, mirroring Message::payload_data.
func (db *DB) PayloadData(rowID int64) ([]byte, error) {
	return db.blobColumn(rowID, "payload_data")
}

func (db *DB) blobColumn(rowID int64, column string) ([]byte, error) {
	var blob []byte
	query := fmt.Sprintf("SELECT %s FROM message WHERE ROWID = ?", column)
	err := db.sql.QueryRow(query, rowID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s for row %d: %w", column, rowID, err)
	}
	return blob, nil
}
