// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package archive owns the on-disk output layout (spec.md §6.3) and the
// append-only HTML deletion log (§4.6): a provisional staging area for
// attachment copies still in flight, a permanent attachments directory they
// get renamed into once a deletion is confirmed, and LOGFILE.html itself.
// Grounded on imessage-undeleter's app/runtime.rs (Config::start,
// handle_deleted_message, attachment_path/tmp_attachment_path) and its
// sanitizers.rs (ported as pkg/sanitize).
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

const logFileName = "LOGFILE.html"

// Writer owns the archive directory tree and the open log file handle for
// the lifetime of one run.
type Writer struct {
	exportRoot     string
	attachmentsDir string
	tmpDir         string
	logPath        string
	logFile        *os.File
	log            zerolog.Logger
}

// Open prepares the archive layout under exportRoot: creates attachments/
// and a freshly-emptied attachments/tmp/ (spec.md §5's startup sequence —
// a staging directory left over from a killed previous run is discarded,
// never replayed), and opens LOGFILE.html in append/create mode.
func Open(exportRoot string, log zerolog.Logger) (*Writer, error) {
	attachmentsDir := filepath.Join(exportRoot, "attachments")
	tmpDir := filepath.Join(attachmentsDir, "tmp")

	if err := os.MkdirAll(exportRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("clear stale staging dir: %w", err)
	}
	if err := os.MkdirAll(attachmentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	logPath := filepath.Join(exportRoot, logFileName)
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Writer{
		exportRoot:     exportRoot,
		attachmentsDir: attachmentsDir,
		tmpDir:         tmpDir,
		logPath:        logPath,
		logFile:        f,
		log:            log.With().Str("component", "archive").Logger(),
	}, nil
}

// Close closes the log file handle.
func (w *Writer) Close() error {
	return w.logFile.Close()
}

// FindMinAttachmentNumber returns the lowest integer at or after start that
// has no corresponding attachments/<n> directory yet, mirroring
// Config::find_min_attachment_number.
func (w *Writer) FindMinAttachmentNumber(start int) (int, error) {
	n := start
	for {
		_, err := os.Stat(filepath.Join(w.attachmentsDir, strconv.Itoa(n)))
		if os.IsNotExist(err) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("probe attachment slot %d: %w", n, err)
		}
		n++
	}
}

// StageAttachment copies src into the provisional staging area under
// attachments/tmp/<number>/<filename>, returning the staged path. The
// caller (the differ) records this path so it can be renamed into the
// permanent archive on a later deletion event, or removed if the message
// turns out to have simply been sent and never unsent (spec.md §4.5 step
// 3/4).
func (w *Writer) StageAttachment(number int, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(w.tmpDir, strconv.Itoa(number))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging slot %d: %w", number, err)
	}
	dest := filepath.Join(dir, filename)
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create staged attachment: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("copy staged attachment: %w", err)
	}
	return dest, nil
}

// DiscardStaged removes a staged attachment slot entirely — used when a
// message disappears from the observable window without ever having been
// promoted (spec.md §4.5 step 4, the untracked-event path).
func (w *Writer) DiscardStaged(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged attachment %s: %w", path, err)
	}
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// PromoteAttachment renames a staged file from attachments/tmp/<n>/... into
// its permanent location under attachments/<n>/..., in place — no re-copy,
// per spec.md §4.6. It returns the promoted path.
func (w *Writer) PromoteAttachment(stagedPath string) (string, error) {
	rel, err := filepath.Rel(w.tmpDir, stagedPath)
	if err != nil {
		return "", fmt.Errorf("resolve staged attachment path: %w", err)
	}
	dest := filepath.Join(w.attachmentsDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create promoted attachment dir: %w", err)
	}
	if err := os.Rename(stagedPath, dest); err != nil {
		return "", fmt.Errorf("promote staged attachment: %w", err)
	}
	_ = os.Remove(filepath.Dir(stagedPath))
	return dest, nil
}

// AppendRecord writes one HTML deletion record to the log file. Records are
// never rewritten or referenced by later ones (spec.md §4.6): html must
// already be a complete, self-contained fragment.
func (w *Writer) AppendRecord(html string) error {
	if _, err := w.logFile.WriteString(html); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return nil
}
