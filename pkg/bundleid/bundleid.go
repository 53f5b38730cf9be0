// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bundleid parses the balloon_bundle_id column, which for a custom
// iMessage app extension is namespaced as
// "com.apple.messages.MSMessageExtensionBalloonPlugin:<id>:<bundle>", per
// SPEC_FULL.md S.3.
package bundleid

import "strings"

// Parse returns the trailing bundle identifier segment of a balloon bundle
// id. A plain (unnamespaced) id is returned as-is. A namespaced id (at least
// one colon) returns its third colon-separated segment, or ok=false if that
// segment is absent.
func Parse(bundleID string) (string, bool) {
	parts := strings.Split(bundleID, ":")
	switch len(parts) {
	case 1:
		return parts[0], true
	case 2:
		return "", false
	default:
		return parts[2], true
	}
}
