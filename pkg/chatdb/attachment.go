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

// attachmentCols mirrors imessage-database's attachment::COLS.
const attachmentCols = "a.rowid, a.filename, a.uti, a.mime_type, a.transfer_name, " +
	"a.total_bytes, a.is_sticker, a.hide_attachment, a.emoji_image_short_description"

const attachmentsForMessageQuery = `
SELECT
    ` + attachmentCols + `
FROM message_attachment_join j
LEFT JOIN attachment a ON j.attachment_id = a.ROWID
WHERE j.message_id = ?
`

// AttachmentsForMessage returns every attachment row joined to a message,
// mirroring Attachment::from_message.
func (db *DB) AttachmentsForMessage(messageRowID int64) ([]*model.Attachment, error) {
	rows, err := db.sql.Query(attachmentsForMessageQuery, messageRowID)
	if err != nil {
		return nil, fmt.Errorf("query attachments for message %d: %w", messageRowID, err)
	}
	defer rows.Close()

	var out []*model.Attachment
	for rows.Next() {
		var (
			rowID            int64
			filename, uti    sql.NullString
			mimeType         sql.NullString
			transferName     sql.NullString
			totalBytes       int64
			isSticker        bool
			hideAttachment   int
			emojiDescription sql.NullString
		)
		if err := rows.Scan(&rowID, &filename, &uti, &mimeType, &transferName,
			&totalBytes, &isSticker, &hideAttachment, &emojiDescription); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		out = append(out, &model.Attachment{
			RowID:            rowID,
			Filename:         filename.String,
			HasFilename:      filename.Valid && filename.String != "",
			UTI:              uti.String,
			HasUTI:           uti.Valid && uti.String != "",
			MimeType:         mimeType.String,
			HasMimeType:      mimeType.Valid && mimeType.String != "",
			TransferName:     transferName.String,
			HasTransferName:  transferName.Valid && transferName.String != "",
			TotalBytes:       totalBytes,
			IsSticker:        isSticker,
			HideAttachment:   hideAttachment != 0,
			EmojiDescription: emojiDescription.String,
			HasEmoji:         emojiDescription.Valid && emojiDescription.String != "",
		})
	}
	return out, rows.Err()
}
