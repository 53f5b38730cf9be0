// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package model

import (
	"testing"

	"github.com/lrhodin/imessage-undelete/pkg/editedmessage"
)

func TestIsFullyUnsent(t *testing.T) {
	m := &Message{EditedParts: &editedmessage.Message{Parts: []editedmessage.Part{
		{Status: editedmessage.StatusUnsent},
		{Status: editedmessage.StatusUnsent},
	}}}
	if !m.IsFullyUnsent() {
		t.Fatal("expected fully unsent")
	}

	m.EditedParts.Parts[1].Status = editedmessage.StatusOriginal
	if m.IsFullyUnsent() {
		t.Fatal("expected not fully unsent once one part reverts to original")
	}
}

func TestIsFullyUnsentNilParts(t *testing.T) {
	m := &Message{}
	if m.IsFullyUnsent() {
		t.Fatal("expected false when edited parts were never populated")
	}
}

func TestClassifyVariantEditedWinsOverAssociated(t *testing.T) {
	m := &Message{DateEdited: 123, HasAssociatedMessage: true, HasAssociatedMessageType: true, AssociatedMessageType: assocLoved}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantEdited {
		t.Fatalf("expected VariantEdited, got %v", v.Kind)
	}
}

func TestClassifyVariantTapbackEmoji(t *testing.T) {
	// Scenario 5 from SPEC_FULL.md: associated_message_type=2006 with emoji
	// and a p:2/<guid> association classifies to Tapback(2, Added, Emoji).
	m := &Message{
		HasAssociatedMessage:     true,
		HasAssociatedMessageType: true,
		AssociatedMessageType:    2006,
		AssociatedMessageEmoji:   "🎉",
		HasAssociatedEmoji:       true,
	}
	assoc, ok := ParseAssociation("p:2/A44CE9D7-AAAA-BBBB-CCCC-23C54E1A9B6A")
	if !ok {
		t.Fatal("expected association to parse")
	}
	v := ClassifyVariant(m, &assoc)
	if v.Kind != VariantTapback || v.TapbackPartIndex != 2 || v.TapbackAction != TapbackAdded || v.TapbackKind != TapbackEmoji {
		t.Fatalf("unexpected variant: %+v", v)
	}
	if !v.HasTapbackEmoji || v.TapbackEmoji != "🎉" {
		t.Fatalf("expected emoji to carry through, got %+v", v)
	}
}

func TestClassifyVariantSharePlay(t *testing.T) {
	m := &Message{ItemType: 6}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantSharePlay {
		t.Fatalf("expected VariantSharePlay, got %v", v.Kind)
	}
}

func TestClassifyVariantApp(t *testing.T) {
	m := &Message{
		HasAssociatedMessageType: true,
		AssociatedMessageType:    0,
		HasBalloonBundleID:       true,
		BalloonBundleID:          "com.apple.messages.URLBalloonProvider",
	}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantApp || v.BalloonKind != BalloonURL {
		t.Fatalf("expected BalloonURL app variant, got %+v", v)
	}
}

func TestClassifyVariantNormalPlainMessage(t *testing.T) {
	// An ordinary message has no associated_message_guid but still carries
	// associated_message_type=0 (message.rs:929-931's "most common case").
	m := &Message{AssociatedMessageType: 0, HasAssociatedMessageType: true}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantNormal {
		t.Fatalf("expected VariantNormal, got %v", v.Kind)
	}
}

func TestClassifyVariantAbsentTypeFallsBackToNormal(t *testing.T) {
	// A zero-valued Message has associated_message_type entirely absent
	// (HasAssociatedMessageType false), which per message.rs:1039-1044 falls
	// through to VariantNormal, not VariantUnknown.
	m := &Message{}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantNormal {
		t.Fatalf("expected VariantNormal, got %v", v.Kind)
	}
}

func TestClassifyVariantUnknownCode(t *testing.T) {
	// A present but unrecognized associated_message_type code is the only
	// path that still reaches VariantUnknown.
	m := &Message{HasAssociatedMessageType: true, AssociatedMessageType: 4242}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantUnknown || v.UnknownCode != 4242 {
		t.Fatalf("expected VariantUnknown(4242), got %+v", v)
	}
}

func TestClassifyVariantLegacySticker(t *testing.T) {
	// Legacy sticker code 1000, distinct from the modern 2007 code
	// (message.rs:960-962, exercised by the Rust test_sticker test).
	m := &Message{HasAssociatedMessageType: true, AssociatedMessageType: 1000}
	v := ClassifyVariant(m, nil)
	if v.Kind != VariantTapback || v.TapbackAction != TapbackAdded || v.TapbackKind != TapbackSticker {
		t.Fatalf("expected Tapback(Added, Sticker), got %+v", v)
	}
}

func TestParseAssociationBareGUID(t *testing.T) {
	guid := "A44CE9D7-AAAA-BBBB-CCCC-23C54E1A9B6A"
	assoc, ok := ParseAssociation(guid)
	if !ok || assoc.PartIndex != 0 || assoc.GUID != guid {
		t.Fatalf("expected bare guid to parse with index 0, got %+v (ok=%v)", assoc, ok)
	}
}

func TestParseAssociationBalloonPart(t *testing.T) {
	guid := "A44CE9D7-AAAA-BBBB-CCCC-23C54E1A9B6A"
	assoc, ok := ParseAssociation("bp:" + guid)
	if !ok || assoc.PartIndex != 0 || assoc.GUID != guid {
		t.Fatalf("expected bp: form to parse with index 0, got %+v (ok=%v)", assoc, ok)
	}
}

func TestParseAssociationNormalPartNonNumericIndex(t *testing.T) {
	guid := "A44CE9D7-AAAA-BBBB-CCCC-23C54E1A9B6A"
	assoc, ok := ParseAssociation("p:xx/" + guid)
	if !ok || assoc.PartIndex != 0 {
		t.Fatalf("expected non-numeric index to default to 0, got %+v (ok=%v)", assoc, ok)
	}
}

func TestParseAssociationRejectsWrongGUIDLength(t *testing.T) {
	if _, ok := ParseAssociation("too-short"); ok {
		t.Fatal("expected short guid to be rejected")
	}
}

func TestClassifyGroupAction(t *testing.T) {
	cases := []struct {
		name string
		m    *Message
		want GroupActionKind
	}{
		{"added", &Message{ItemType: 1, GroupActionType: 0, OtherHandle: 5}, GroupActionParticipantAdded},
		{"removed", &Message{ItemType: 1, GroupActionType: 1, OtherHandle: 5}, GroupActionParticipantRemoved},
		{"rename", &Message{ItemType: 2, HasGroupTitle: true, GroupTitle: "Trip"}, GroupActionNameChange},
		{"left", &Message{ItemType: 3, GroupActionType: 0}, GroupActionParticipantLeft},
		{"icon-changed", &Message{ItemType: 3, GroupActionType: 1}, GroupActionIconChanged},
		{"icon-removed", &Message{ItemType: 3, GroupActionType: 2}, GroupActionIconRemoved},
		{"none", &Message{ItemType: 0}, GroupActionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyGroupAction(tc.m)
			if got.Kind != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got.Kind)
			}
		})
	}
}

func TestResolveAttachmentPathIOS(t *testing.T) {
	// Grounded on imessage-database's sample_attachment fixture: stored
	// filename "a/b/c.png", backup root "fake_root".
	got, ok := ResolveAttachmentPath("a/b/c.png", PlatformIOS, "", "fake_root", "")
	if !ok {
		t.Fatal("expected resolution to succeed")
	}
	want := "fake_root/41/41746ffc65924078eae42725c979305626f57cca"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveAttachmentPathMacOSTilde(t *testing.T) {
	got, ok := ResolveAttachmentPath("~/Library/Messages/Attachments/a/b/c.png", PlatformMacOS, "/Users/me", "", "")
	if !ok {
		t.Fatal("expected resolution to succeed")
	}
	want := "/Users/me/Library/Messages/Attachments/a/b/c.png"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveAttachmentPathMacOSCustomRoot(t *testing.T) {
	got, ok := ResolveAttachmentPath("~/Library/Messages/Attachments/a/b/c.png", PlatformMacOS, "/Users/me", "", "/custom/root")
	if !ok {
		t.Fatal("expected resolution to succeed")
	}
	want := "/custom/root/a/b/c.png"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveAttachmentPathMissingFilename(t *testing.T) {
	if _, ok := ResolveAttachmentPath("", PlatformMacOS, "/Users/me", "", ""); ok {
		t.Fatal("expected empty filename to fail resolution")
	}
}

func TestClassifyMimeTypeCoreAudioFallback(t *testing.T) {
	a := &Attachment{HasUTI: true, UTI: "com.apple.coreaudio-format"}
	mt := a.ClassifyMimeType()
	if mt.Kind != MediaAudio || mt.Subtype != "x-caf; codecs=opus" {
		t.Fatalf("expected coreaudio fallback, got %+v", mt)
	}
}

func TestClassifyMimeTypeFromColumn(t *testing.T) {
	a := &Attachment{HasMimeType: true, MimeType: "image/png"}
	mt := a.ClassifyMimeType()
	if mt.Kind != MediaImage || mt.Subtype != "png" {
		t.Fatalf("expected image/png classification, got %+v", mt)
	}
}
