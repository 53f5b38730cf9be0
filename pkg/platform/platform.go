// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package platform determines whether a chat.db root was sourced from a
// macOS Messages install or an unpacked iOS backup, per SPEC_FULL.md §3.7/§6.4.
package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrhodin/imessage-undelete/pkg/model"
)

// defaultPathIOS is the path, relative to the root of an iOS backup, at
// which the Messages sqlite database is stored under its hashed-filename
// scheme. Its presence under a candidate root is what distinguishes an iOS
// backup root from a macOS chat.db.
const defaultPathIOS = "3d/3d0d7e5fb2ce288813306e4d4636395e047a3d28"

// ErrPointsInsideBackup is returned when dbPath itself ends with
// defaultPathIOS: the caller passed the path to the database file inside an
// iOS backup rather than the root of the backup.
var ErrPointsInsideBackup = errors.New("path points to a database inside an iOS backup, not the root of the backup")

// Determine inspects dbPath and reports which platform produced it,
// defaulting to macOS when neither shape is recognized (SPEC_FULL.md S.4:
// a missing database is a connection-time error, not a platform-detection
// one, so Determine never fails for that reason).
func Determine(dbPath string) (model.Platform, error) {
	clean := filepath.Clean(dbPath)
	if strings.HasSuffix(clean, defaultPathIOS) {
		return model.PlatformMacOS, ErrPointsInsideBackup
	}

	if info, err := os.Stat(filepath.Join(clean, defaultPathIOS)); err == nil && !info.IsDir() {
		return model.PlatformIOS, nil
	}
	if info, err := os.Stat(clean); err == nil && !info.IsDir() {
		return model.PlatformMacOS, nil
	}
	return model.PlatformMacOS, nil
}

// FromCLI parses a user-supplied platform name, case-insensitively.
func FromCLI(value string) (model.Platform, bool) {
	switch strings.ToLower(value) {
	case "macos":
		return model.PlatformMacOS, true
	case "ios":
		return model.PlatformIOS, true
	default:
		return model.PlatformMacOS, false
	}
}

// String renders a platform for logging and CLI help text.
func String(p model.Platform) string {
	switch p {
	case model.PlatformIOS:
		return "iOS"
	default:
		return "macOS"
	}
}
