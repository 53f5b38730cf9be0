// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package attachment

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lrhodin/imessage-undelete/pkg/model"
)

func TestResolveMacOSTildeExpansion(t *testing.T) {
	r := NewResolver(model.PlatformMacOS, "/Users/me", "", "", nil)
	a := &model.Attachment{HasFilename: true, Filename: "~/Library/Messages/Attachments/a/b/c.png"}

	path, err := r.Resolve(a)
	if err != nil {
		t.Fatal(err)
	}
	want := "/Users/me/Library/Messages/Attachments/a/b/c.png"
	if path != want {
		t.Fatalf("expected %q, got %q", want, path)
	}
}

func TestResolveMissingFilename(t *testing.T) {
	r := NewResolver(model.PlatformMacOS, "/Users/me", "", "", nil)
	if _, err := r.Resolve(&model.Attachment{}); err != ErrPathMissing {
		t.Fatalf("expected ErrPathMissing, got %v", err)
	}
}

func TestClassifyPrefersMimeColumn(t *testing.T) {
	r := NewResolver(model.PlatformMacOS, "/Users/me", "", "", nil)
	a := &model.Attachment{HasMimeType: true, MimeType: "image/png"}

	mt, err := r.Classify(a)
	if err != nil {
		t.Fatal(err)
	}
	if mt.Kind != model.MediaImage || mt.Subtype != "png" {
		t.Fatalf("expected image/png without touching disk, got %+v", mt)
	}
}

func TestClassifySniffsWhenColumnAbsent(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "photo.png")
	writeTestPNG(t, pngPath, 4, 4)

	r := NewResolver(model.PlatformMacOS, dir, "", "", nil)
	a := &model.Attachment{HasFilename: true, Filename: "~/photo.png"}

	mt, err := r.Classify(a)
	if err != nil {
		t.Fatal(err)
	}
	if mt.Kind != model.MediaImage {
		t.Fatalf("expected sniffed image classification, got %+v", mt)
	}
}

func TestOpenRoutesThroughDecryptor(t *testing.T) {
	calls := 0
	fake := fakeDecryptor{fn: func(path string) (io.ReadCloser, error) {
		calls++
		return io.NopCloser(bytes.NewReader([]byte("payload"))), nil
	}}

	r := NewResolver(model.PlatformIOS, "", "/backup-root", "", fake)
	a := &model.Attachment{HasFilename: true, Filename: "a/b/c.png"}

	rc, path, err := r.Open(a)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	if calls != 1 {
		t.Fatalf("expected decryptor to be invoked once, got %d", calls)
	}
	if path == "" {
		t.Fatal("expected a non-empty resolved path")
	}
}

func TestProbeDimensions(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "photo.png")
	writeTestPNG(t, pngPath, 12, 8)

	r := NewResolver(model.PlatformMacOS, dir, "", "", nil)
	a := &model.Attachment{HasFilename: true, Filename: "~/photo.png"}

	dims, ok := r.ProbeDimensions(a)
	if !ok {
		t.Fatal("expected dimensions to be probed")
	}
	if dims.Width != 12 || dims.Height != 8 {
		t.Fatalf("expected 12x8, got %+v", dims)
	}
}

func TestProbeDimensionsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(model.PlatformMacOS, dir, "", "", nil)
	a := &model.Attachment{HasFilename: true, Filename: "~/note.txt"}

	if _, ok := r.ProbeDimensions(a); ok {
		t.Fatal("expected probing a non-image file to fail")
	}
}

type fakeDecryptor struct {
	fn func(path string) (io.ReadCloser, error)
}

func (f fakeDecryptor) DecryptFile(path string) (io.ReadCloser, error) {
	return f.fn(path)
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
