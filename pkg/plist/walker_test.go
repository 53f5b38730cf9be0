// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package plist

import (
	"testing"

	"howett.net/plist"
)

// buildArchive constructs the minimal $top/$objects shell around a supplied
// objects table, the wire shape every NSKeyedArchiver payload_data blob uses.
func buildArchive(objects []any) map[string]any {
	return map[string]any{
		"$top":     map[string]any{"root": plist.UID(0)},
		"$objects": objects,
	}
}

func TestParseValueSimpleIndirection(t *testing.T) {
	// objects[0] is an array whose single element points at objects[1], a
	// plain string — the doc-comment example from the grounding source.
	objects := []any{
		[]any{plist.UID(1)},
		"https://chrissardegna.com",
	}
	got, err := parseValue(buildArchive(objects))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 1 || arr[0] != "https://chrissardegna.com" {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestParseValueNSRelativeIndirection(t *testing.T) {
	objects := []any{
		map[string]any{"NS.relative": plist.UID(1)},
		"resolved-value",
	}
	archive := buildArchive(objects)
	archive["$top"] = map[string]any{"root": plist.UID(0)}
	got, err := followUID(objects, 0, "link", nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict, ok := got.(map[string]any)
	if !ok || dict["link"] != "resolved-value" {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestParseValueNSKeysNSObjects(t *testing.T) {
	// A dictionary with NS.keys/NS.objects arrays of UIDs, the
	// NSDictionary/NSMutableDictionary archived shape.
	objects := []any{
		map[string]any{
			"NS.keys":    []any{plist.UID(1)},
			"NS.objects": []any{plist.UID(2)},
		},
		"color",
		"red",
	}
	got, err := followUID(objects, 0, "", nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict, ok := got.(map[string]any)
	if !ok || dict["color"] != "red" {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestParseValueGenericDictionarySkipsClass(t *testing.T) {
	objects := []any{
		map[string]any{
			"$class": plist.UID(2),
			"name":   plist.UID(1),
		},
		"Ada",
		map[string]any{"$classname": "Person"},
	}
	got, err := followUID(objects, 0, "", nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dict, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected dictionary, got %#v", got)
	}
	if _, hasClass := dict["$class"]; hasClass {
		t.Fatal("expected $class to be skipped")
	}
	if dict["name"] != "Ada" {
		t.Fatalf("expected name=Ada, got %#v", dict["name"])
	}
}

func TestParseValueMismatchedDictionarySize(t *testing.T) {
	objects := []any{
		map[string]any{
			"NS.keys":    []any{plist.UID(1), plist.UID(2)},
			"NS.objects": []any{plist.UID(1)},
		},
		"a",
		"b",
	}
	_, err := followUID(objects, 0, "", nil, true)
	if err == nil {
		t.Fatal("expected InvalidDictionarySize error")
	}
	we, ok := err.(*WalkError)
	if !ok || we.Kind != InvalidDictionarySize {
		t.Fatalf("expected InvalidDictionarySize, got %v", err)
	}
}

func TestParseValueMissingTopKey(t *testing.T) {
	_, err := parseValue(map[string]any{"$objects": []any{}})
	if err == nil {
		t.Fatal("expected MissingKey error")
	}
	we, ok := err.(*WalkError)
	if !ok || we.Kind != MissingKey {
		t.Fatalf("expected MissingKey, got %v", err)
	}
}

func TestGetStringHelpers(t *testing.T) {
	payload := map[string]any{
		"otr": "edit-id",
		"nested": map[string]any{
			"nested": "inner-value",
		},
	}
	if s, ok := GetString(payload, "otr"); !ok || s != "edit-id" {
		t.Fatalf("GetString got %q, ok=%v", s, ok)
	}
	if s, ok := GetStringFromNestedDict(payload, "nested"); !ok || s != "inner-value" {
		t.Fatalf("GetStringFromNestedDict got %q, ok=%v", s, ok)
	}
	if _, ok := GetString(payload, "missing"); ok {
		t.Fatal("expected missing key to report ok=false")
	}
}
