// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package archive

import (
	"fmt"
	"strings"

	"github.com/lrhodin/imessage-undelete/pkg/sanitize"
)

// Record is one deletion event, ready to render as an HTML log fragment
// (spec.md §4.6).
type Record struct {
	// Sender is the already-resolved sender label (handle-id lookup,
	// is_from_me, custom-name/caller-id — the differ's `who`).
	Sender string
	// MessageTime is the pre-formatted send timestamp.
	MessageTime string
	// ReadLatency is an optional pre-formatted "read N after sending"
	// string; empty when the message was never marked read.
	ReadLatency string
	// Text is the message body; omitted from the record entirely when
	// empty or a single space (matching Messages' own placeholder for a
	// body that is pure attachment).
	Text string
	// AttachmentPaths are the promoted attachment paths as returned by
	// Writer.PromoteAttachment (joined onto the export root's attachments/
	// directory), one <img> tag emitted per entry.
	AttachmentPaths []string
}

// Render produces the HTML fragment runtime.rs's handle_deleted_message
// writes to LOGFILE.html: an <h2> header naming the sender and time, an
// optional text paragraph, and one image tag per attachment.
func (r Record) Render() string {
	var b strings.Builder

	header := sanitize.HTML(r.Sender) + ":" + sanitize.HTML(r.MessageTime)
	if r.ReadLatency != "" {
		header += " (" + sanitize.HTML(r.ReadLatency) + ")"
	}
	fmt.Fprintf(&b, "<h2>===%s</h2>\n", header)

	if r.Text != "" && r.Text != " " {
		fmt.Fprintf(&b, "<p>Text: %s</p><br>\n", sanitize.HTML(r.Text))
	}

	if len(r.AttachmentPaths) > 0 {
		b.WriteString("<p>Attachments:</p><br>\n")
		for _, path := range r.AttachmentPaths {
			fmt.Fprintf(&b, "<img src=\"%s\" style='width:300px'><br>\n", sanitize.HTML(path))
		}
	}

	return b.String()
}
