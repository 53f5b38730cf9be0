// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package attachment

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/lrhodin/imessage-undelete/pkg/model"
)

// Dimensions is the decoded width/height of an image attachment. Probing
// reads only the format header via image.DecodeConfig — it never
// re-encodes or converts, since transcoding is a named non-goal (spec.md
// §1); a HEIC attachment (common for iOS-originated photos) has no
// registered Go decoder, so probing it simply reports ok=false.
type Dimensions struct {
	Width, Height int
}

// ProbeDimensions reads just enough of a to decode its image header, for
// attachments the MIME classifier placed in model.MediaImage.
func (r *Resolver) ProbeDimensions(a *model.Attachment) (Dimensions, bool) {
	rc, _, err := r.Open(a)
	if err != nil {
		return Dimensions{}, false
	}
	defer rc.Close()

	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return Dimensions{}, false
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, true
}
