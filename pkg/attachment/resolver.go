// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package attachment resolves an attachment row to a concrete, readable
// file: synthesizing its on-disk path (model.ResolveAttachmentPath),
// decrypting it through an optional collaborator when the source is a
// password-protected iOS backup, and classifying its MIME type when the
// database didn't already record one. Grounded on imessage-database's
// tables/attachment.rs (path synthesis, mime classification) and
// imessage-undeleter's app/compatibility/backup.rs (the crabapple-based
// decryption collaborator shape), per SPEC_FULL.md §6.5.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lrhodin/imessage-undelete/pkg/model"
)

// sniffWindow is how many leading bytes of a file get sniffed when no
// mime_type column or special-cased UTI already settles the classification
// (SPEC_FULL.md's domain-stack wiring for mimetype).
const sniffWindow = 3072

// ErrPathMissing is returned when an attachment carries no filename at all,
// matching spec.md §7's AttachmentResolve::PathMissing.
var ErrPathMissing = errors.New("attachment has no filename to resolve")

// Decryptor is the decryption collaborator the core asks for file bytes
// when the source is a password-protected iOS backup (§6.5). The core
// never derives keys itself; Decryptor is satisfied by whatever backend
// wraps crabapple or an equivalent.
type Decryptor interface {
	// DecryptFile returns a reader over the plaintext bytes of the backup
	// entry at path, the location Resolve synthesized for the attachment.
	// Large entries may
	// stream from disk; small ones may be served from memory — both satisfy
	// io.ReadCloser identically from the resolver's point of view.
	DecryptFile(relativePath string) (io.ReadCloser, error)
}

// passthroughDecryptor is used on macOS, and on iOS when the backup is
// unencrypted: files are read directly off disk.
type passthroughDecryptor struct{}

func (passthroughDecryptor) DecryptFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Resolver binds the platform-specific roots and decryption collaborator
// needed to turn attachment rows into readable files.
type Resolver struct {
	Platform   model.Platform
	Home       string
	BackupRoot string
	CustomRoot string
	Decryptor  Decryptor
}

// NewResolver builds a Resolver; a nil decryptor defaults to reading files
// directly off disk (the macOS case, and the unencrypted-iOS-backup case).
func NewResolver(platform model.Platform, home, backupRoot, customRoot string, decryptor Decryptor) *Resolver {
	if decryptor == nil {
		decryptor = passthroughDecryptor{}
	}
	return &Resolver{Platform: platform, Home: home, BackupRoot: backupRoot, CustomRoot: customRoot, Decryptor: decryptor}
}

// ResolvedAttachment pairs an attachment row with its synthesized path and
// final classified MIME type.
type ResolvedAttachment struct {
	Attachment *model.Attachment
	Path       string
	MimeType   model.MediaType
}

// Resolve synthesizes the on-disk (or in-backup) path for a, per
// SPEC_FULL.md §3.7's two path-resolution strategies.
func (r *Resolver) Resolve(a *model.Attachment) (string, error) {
	if !a.HasFilename || a.Filename == "" {
		return "", ErrPathMissing
	}
	path, ok := model.ResolveAttachmentPath(a.Filename, r.Platform, r.Home, r.BackupRoot, r.CustomRoot)
	if !ok {
		return "", ErrPathMissing
	}
	return path, nil
}

// Open returns a reader over a's decrypted bytes at its resolved path,
// routed through the Resolver's Decryptor.
func (r *Resolver) Open(a *model.Attachment) (io.ReadCloser, string, error) {
	path, err := r.Resolve(a)
	if err != nil {
		return nil, "", err
	}
	rc, err := r.Decryptor.DecryptFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("open attachment %s: %w", path, err)
	}
	return rc, path, nil
}

// Classify determines a's MIME type. The mime_type column and the
// coreaudio-format UTI special case (model.Attachment.ClassifyMimeType) are
// checked first since they require no I/O; only when both are silent does
// Classify open the resolved file and sniff its header bytes.
func (r *Resolver) Classify(a *model.Attachment) (model.MediaType, error) {
	if mt := a.ClassifyMimeType(); mt.Kind != model.MediaUnknown {
		return mt, nil
	}

	rc, _, err := r.Open(a)
	if err != nil {
		return model.MediaType{Kind: model.MediaUnknown}, err
	}
	defer rc.Close()

	header := make([]byte, sniffWindow)
	n, err := io.ReadFull(rc, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return model.MediaType{Kind: model.MediaUnknown}, fmt.Errorf("sniff attachment: %w", err)
	}
	detected := mimetype.Detect(header[:n])
	return classifyDetected(detected.String()), nil
}

func classifyDetected(mime string) model.MediaType {
	a := &model.Attachment{HasMimeType: true, MimeType: mime}
	return a.ClassifyMimeType()
}
