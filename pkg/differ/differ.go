// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package differ implements the polling snapshot differ (spec.md §4.5): it
// re-reads the recent window of a chat.db on a fixed interval, decodes each
// row's body and edit history, and diffs the new snapshot against the
// previous one to recognize deletions (a message that became fully unsent)
// and untracked messages (one that scrolled out of the observed window).
// Grounded on imessage-undeleter's app/runtime.rs (Config::start and its
// handle_deleted_message/handle_untracked_message/who helpers).
package differ

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/lrhodin/imessage-undelete/pkg/archive"
	"github.com/lrhodin/imessage-undelete/pkg/attachment"
	"github.com/lrhodin/imessage-undelete/pkg/chatdb"
	"github.com/lrhodin/imessage-undelete/pkg/model"
)

// Config carries a poll cycle's tunables, mirroring the filter fields of
// chatdb.QueryContext plus the sender-label options runtime.rs's Options
// struct exposes (use_caller_id, custom_name).
type Config struct {
	PollInterval time.Duration

	Limit             int
	HasLimit          bool
	SelectedChatIDs   []int64
	SelectedHandleIDs []int64

	// CustomName overrides the "Me" label for outgoing messages.
	CustomName string
	// UseCallerID prefers a message's destination_caller_id over CustomName
	// for the outgoing sender label, when present.
	UseCallerID bool

	// WatchDir, when set, is watched with fsnotify so a write to the
	// database's WAL/journal files can wake the loop early instead of
	// waiting out the rest of PollInterval. This is purely a latency
	// optimization: the fixed-interval poll still runs regardless, so a
	// missed or coalesced event never delays detection past PollInterval.
	WatchDir string
}

// tracked is one entry of the differ's `last` state (spec.md §4.5): the
// most recently observed decoding of a row, plus whatever attachment paths
// are already staged or promoted for it.
type tracked struct {
	Message         *model.Message
	AttachmentPaths []string
}

// Differ holds the cross-cycle state described in spec.md §4.5: the `last`
// snapshot map and the running min_attachment_number counter.
type Differ struct {
	db       *chatdb.DB
	resolver *attachment.Resolver
	writer   *archive.Writer
	cfg      Config
	log      zerolog.Logger

	last                 map[int64]tracked
	minAttachmentNumber  int
	chatrooms            map[int64]chatdb.Chatroom
	handles              map[int64]chatdb.Handle
	chatroomParticipants map[int64][]int64
}

// New builds a Differ, loading the chatroom/handle/participant maps needed
// for sender and filename labeling and finding the first free attachment
// slot (spec.md §5's startup sequence).
func New(db *chatdb.DB, resolver *attachment.Resolver, writer *archive.Writer, cfg Config, log zerolog.Logger) (*Differ, error) {
	chatrooms, err := db.Chatrooms()
	if err != nil {
		return nil, err
	}
	handles, err := db.Handles()
	if err != nil {
		return nil, err
	}
	participants, err := db.ChatroomParticipants()
	if err != nil {
		return nil, err
	}
	minAttachmentNumber, err := writer.FindMinAttachmentNumber(0)
	if err != nil {
		return nil, err
	}

	return &Differ{
		db:                   db,
		resolver:             resolver,
		writer:               writer,
		cfg:                  cfg,
		log:                  log.With().Str("component", "differ").Logger(),
		last:                 make(map[int64]tracked),
		minAttachmentNumber:  minAttachmentNumber,
		chatrooms:            chatrooms,
		handles:              handles,
		chatroomParticipants: participants,
	}, nil
}

// who resolves a sender label for a message, mirroring Config::who.
func (d *Differ) who(handleID int64, isFromMe bool, destinationCallerID string) string {
	if isFromMe {
		if d.cfg.UseCallerID && destinationCallerID != "" {
			return destinationCallerID
		}
		if d.cfg.CustomName != "" {
			return d.cfg.CustomName
		}
		return "Me"
	}
	if h, ok := d.handles[handleID]; ok {
		return h.ID
	}
	return "Unknown"
}

// Run polls the database on cfg.PollInterval until ctx is canceled. When
// cfg.WatchDir is set, a filesystem change there can shorten the wait for
// the *next* cycle, but never substitutes for the fixed-interval poll
// itself — a watcher that fails to start, or that misses an event
// coalesced by the OS, degrades silently back to plain interval polling.
func (d *Differ) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	if d.cfg.WatchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			d.log.Warn().Err(err).Msg("failed to create filesystem watcher; falling back to plain interval polling")
		} else {
			defer watcher.Close()
			if err := watcher.Add(d.cfg.WatchDir); err != nil {
				d.log.Warn().Err(err).Str("dir", d.cfg.WatchDir).Msg("failed to watch database directory; falling back to plain interval polling")
			} else {
				events = watcher.Events
			}
		}
	}

	for {
		if err := d.pollOnce(); err != nil {
			return err
		}
		timer := time.NewTimer(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-events:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pollOnce runs exactly one cycle of spec.md §4.5's algorithm.
func (d *Differ) pollOnce() error {
	qctx := chatdb.QueryContext{
		Limit:             d.cfg.Limit,
		HasLimit:          d.cfg.HasLimit,
		SelectedChatIDs:   d.cfg.SelectedChatIDs,
		SelectedHandleIDs: d.cfg.SelectedHandleIDs,
	}
	rows, err := d.db.Rows(qctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	next := make(map[int64]tracked, len(d.last))
	for rows.Next() {
		m, err := chatdb.ScanMessage(rows)
		if err != nil {
			d.log.Warn().Err(err).Msg("failed to scan message row; skipping this cycle")
			continue
		}
		if err := d.decodeRow(d.db, m); err != nil {
			d.log.Warn().Err(err).Int64("row_id", m.RowID).Msg("failed to decode message body; skipping this cycle")
			continue
		}

		var paths []string
		if prior, ok := d.last[m.RowID]; ok {
			if m.IsFullyUnsent() && !prior.Message.IsFullyUnsent() {
				d.handleDeletedMessage(prior.Message, prior.AttachmentPaths)
			}
			paths = prior.AttachmentPaths
			delete(d.last, m.RowID)
		} else if m.HasAttachments() {
			paths = d.stageAttachments(m)
		}
		next[m.RowID] = tracked{Message: m, AttachmentPaths: paths}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for rowID, t := range d.last {
		d.handleUntrackedMessage(rowID, t.AttachmentPaths)
	}
	d.last = next
	return nil
}

// stageAttachments copies every attachment referenced by m into the
// provisional staging area, advancing minAttachmentNumber past any slot
// already on disk (spec.md §4.5 step 3). A per-attachment copy failure is
// logged and skipped; the rest of the message's attachments still stage.
func (d *Differ) stageAttachments(m *model.Message) []string {
	attachments, err := d.db.AttachmentsForMessage(m.RowID)
	if err != nil {
		d.log.Warn().Err(err).Int64("row_id", m.RowID).Msg("failed to list attachments; none staged this cycle")
		return nil
	}

	var paths []string
	for _, a := range attachments {
		rc, resolvedPath, err := d.resolver.Open(a)
		if err != nil {
			d.log.Warn().Err(err).Int64("row_id", m.RowID).Msg("failed to open attachment; skipping")
			continue
		}

		number := d.minAttachmentNumber
		staged, err := d.writer.StageAttachment(number, filepath.Base(resolvedPath), rc)
		rc.Close()
		if err != nil {
			d.log.Warn().Err(err).Int64("row_id", m.RowID).Msg("failed to stage attachment copy")
			continue
		}
		paths = append(paths, staged)

		next, err := d.writer.FindMinAttachmentNumber(number + 1)
		if err != nil {
			d.log.Warn().Err(err).Msg("failed to advance attachment slot counter")
			continue
		}
		d.minAttachmentNumber = next
	}
	return paths
}

// handleDeletedMessage promotes m's staged attachments into the permanent
// archive and appends one HTML record describing the deletion (spec.md
// §4.6), mirroring Config::handle_deleted_message.
func (d *Differ) handleDeletedMessage(m *model.Message, stagedPaths []string) {
	d.log.Info().
		Int64("row_id", m.RowID).
		Str("preview", previewText(m.Text)).
		Int("attachment_count", len(stagedPaths)).
		Msgf("deleted message detected: %s (%d attachment(s))", previewText(m.Text), len(stagedPaths))

	var promoted []string
	for _, staged := range stagedPaths {
		dest, err := d.writer.PromoteAttachment(staged)
		if err != nil {
			d.log.Warn().Err(err).Str("staged_path", staged).Msg("failed to promote attachment")
			continue
		}
		promoted = append(promoted, dest)
	}

	record := archive.Record{
		Sender:          d.who(m.HandleID, m.IsFromMe, m.DestinationCallerID),
		MessageTime:     formatMessageTime(m.Date),
		Text:            m.Text,
		AttachmentPaths: promoted,
	}
	if latency, ok := readLatency(m.Date, m.DateRead); ok {
		record.ReadLatency = latency
	}

	if err := d.writer.AppendRecord(record.Render()); err != nil {
		d.log.Error().Err(err).Int64("row_id", m.RowID).Msg("failed to append deletion record")
	}
}

// handleUntrackedMessage discards any attachments staged for a row that has
// disappeared from the observed window without ever having unsent, since
// they were never promoted (spec.md §4.5 step 4).
func (d *Differ) handleUntrackedMessage(rowID int64, stagedPaths []string) {
	d.log.Info().Int64("row_id", rowID).Msg("untracked message")
	if len(stagedPaths) == 0 {
		return
	}
	d.log.Debug().Int64("row_id", rowID).Int("count", len(stagedPaths)).Msg("cleaning up staged attachments for untracked message")
	for _, path := range stagedPaths {
		if err := d.writer.DiscardStaged(path); err != nil {
			d.log.Warn().Err(err).Str("path", path).Msg("failed to discard staged attachment")
		}
	}
}
