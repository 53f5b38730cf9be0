// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// MediaKind is the coarse classification of an attachment's MIME type.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
	MediaAudio
	MediaText
	MediaApplication
	MediaOther
	MediaUnknown
)

// MediaType is the classified attachment MIME type, carrying the subtype
// string for the Unknown and Other variants.
type MediaType struct {
	Kind    MediaKind
	Subtype string
}

// AsMimeType renders the classification back to a MIME type string.
func (mt MediaType) AsMimeType() string {
	switch mt.Kind {
	case MediaImage:
		return "image/" + mt.Subtype
	case MediaVideo:
		return "video/" + mt.Subtype
	case MediaAudio:
		return "audio/" + mt.Subtype
	case MediaText:
		return "text/" + mt.Subtype
	case MediaApplication:
		return "application/" + mt.Subtype
	default:
		return mt.Subtype
	}
}

// Attachment is the essential attachment row, SPEC_FULL.md §3.7.
type Attachment struct {
	RowID            int64
	Filename         string
	HasFilename      bool
	UTI              string
	HasUTI           bool
	MimeType         string
	HasMimeType      bool
	TransferName     string
	HasTransferName  bool
	TotalBytes       int64
	IsSticker        bool
	HideAttachment   bool
	EmojiDescription string
	HasEmoji         bool

	// CopiedPath is set after the archival writer stages or promotes the
	// attachment's bytes to a path on disk.
	CopiedPath    string
	HasCopiedPath bool
}

// ClassifyMimeType applies SPEC_FULL.md §3.7's classifier: parse the stored
// mime_type column, falling back to a UTI-derived guess when it's absent.
func (a *Attachment) ClassifyMimeType() MediaType {
	if a.HasMimeType && a.MimeType != "" {
		return classifyMimeString(a.MimeType)
	}
	if a.HasUTI && a.UTI == "com.apple.coreaudio-format" {
		return MediaType{Kind: MediaAudio, Subtype: "x-caf; codecs=opus"}
	}
	return MediaType{Kind: MediaUnknown, Subtype: ""}
}

func classifyMimeString(mime string) MediaType {
	top, sub, ok := strings.Cut(mime, "/")
	if !ok {
		return MediaType{Kind: MediaUnknown, Subtype: mime}
	}
	switch top {
	case "image":
		return MediaType{Kind: MediaImage, Subtype: sub}
	case "video":
		return MediaType{Kind: MediaVideo, Subtype: sub}
	case "audio":
		return MediaType{Kind: MediaAudio, Subtype: sub}
	case "text":
		return MediaType{Kind: MediaText, Subtype: sub}
	case "application":
		return MediaType{Kind: MediaApplication, Subtype: sub}
	default:
		return MediaType{Kind: MediaOther, Subtype: mime}
	}
}

// Platform selects which of the two path-resolution strategies applies.
type Platform int

const (
	PlatformMacOS Platform = iota
	PlatformIOS
)

const attachmentsPrefix = "~/Library/Messages/Attachments"

// ResolveAttachmentPath implements SPEC_FULL.md §3.7's path resolution.
//
// macOS: if customRoot is set, first rewrite a leading attachmentsPrefix to
// customRoot; then substitute a leading "~" with home.
//
// iOS: drop the first two characters of the stored filename (the "~/"
// prefix marker) to get the relative path R, then return
// backupRoot/digest[0:2]/digest where digest = sha1("MediaDomain-"+R) in
// lowercase hex.
func ResolveAttachmentPath(filename string, platform Platform, home, backupRoot, customRoot string) (string, bool) {
	if filename == "" {
		return "", false
	}

	switch platform {
	case PlatformMacOS:
		path := filename
		if customRoot != "" && strings.HasPrefix(path, attachmentsPrefix) {
			path = customRoot + path[len(attachmentsPrefix):]
		}
		if strings.HasPrefix(path, "~") {
			path = home + path[1:]
		}
		return path, true

	case PlatformIOS:
		if len(filename) < 2 {
			return "", false
		}
		relative := filename[2:]
		sum := sha1.Sum([]byte("MediaDomain-" + relative))
		digest := hex.EncodeToString(sum[:])
		return fmt.Sprintf("%s/%s/%s", backupRoot, digest[:2], digest), true

	default:
		return "", false
	}
}
