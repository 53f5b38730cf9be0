// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package model

// TapbackAction distinguishes adding a reaction from removing one.
type TapbackAction int

const (
	TapbackAdded TapbackAction = iota
	TapbackRemoved
)

// TapbackKind enumerates the reaction types Messages supports.
type TapbackKind int

const (
	TapbackLoved TapbackKind = iota
	TapbackLiked
	TapbackDisliked
	TapbackLaughed
	TapbackEmphasized
	TapbackQuestioned
	TapbackEmoji
	TapbackSticker
)

// CustomBalloonKind enumerates the iMessage app-extension bubble types.
type CustomBalloonKind int

const (
	BalloonURL CustomBalloonKind = iota
	BalloonHandwriting
	BalloonDigitalTouch
	BalloonApplePay
	BalloonFitness
	BalloonSlideshow
	BalloonCheckIn
	BalloonFindMy
	BalloonApplication
)

// VariantKind discriminates the Variant tagged union.
type VariantKind int

const (
	VariantNormal VariantKind = iota
	VariantEdited
	VariantSharePlay
	VariantTapback
	VariantApp
	VariantUnknown
)

// Variant is the classification of a message, SPEC_FULL.md §3.2.
type Variant struct {
	Kind VariantKind

	// VariantTapback fields.
	TapbackPartIndex int
	TapbackAction    TapbackAction
	TapbackKind      TapbackKind
	TapbackEmoji     string
	HasTapbackEmoji  bool

	// VariantApp fields.
	BalloonKind       CustomBalloonKind
	BalloonBundleID   string

	// VariantUnknown fields.
	UnknownCode int
}

// associated_message_type codes Messages uses to encode tapback add/remove.
// 2000-series codes add a tapback; the matching 3000-series code (the same
// code plus 1000) removes it. Code 1000 is the legacy sticker.
const (
	assocLoved      = 2000
	assocLiked      = 2001
	assocDisliked   = 2002
	assocLaughed    = 2003
	assocEmphasized = 2004
	assocQuestioned = 2005
	assocEmoji      = 2006
	assocSticker    = 2007

	assocLovedRemoved      = 3000
	assocLikedRemoved      = 3001
	assocDislikedRemoved   = 3002
	assocLaughedRemoved    = 3003
	assocEmphasizedRemoved = 3004
	assocQuestionedRemoved = 3005
	assocEmojiRemoved      = 3006
	assocStickerRemoved    = 3007
)

// ClassifyVariant implements §3.2's classification precedence: edited wins
// over associated-type routing, which wins over item_type==6 (SharePlay).
// The routing gate is associated_message_type's own nullability, not
// associated_message_guid's — a plain message has no guid but still carries
// associated_message_type=0, and must classify as VariantNormal rather than
// falling through to VariantUnknown.
func ClassifyVariant(m *Message, assoc *Association) Variant {
	if m.DateEdited != 0 {
		return Variant{Kind: VariantEdited}
	}

	if m.HasAssociatedMessageType {
		switch m.AssociatedMessageType {
		// Standard iMessages with either text or a message payload.
		case 0, 2, 3:
			if m.HasBalloonBundleID && m.BalloonBundleID != "" {
				return classifyApp(m.BalloonBundleID)
			}
			return Variant{Kind: VariantNormal}
		default:
			if v, ok := classifyTapback(m, assoc); ok {
				return v
			}
			return Variant{Kind: VariantUnknown, UnknownCode: m.AssociatedMessageType}
		}
	}

	if m.ItemType == 6 {
		return Variant{Kind: VariantSharePlay}
	}

	return Variant{Kind: VariantNormal}
}

func classifyTapback(m *Message, assoc *Association) (Variant, bool) {
	partIndex := 0
	if assoc != nil {
		partIndex = assoc.PartIndex
	}

	switch m.AssociatedMessageType {
	case 1000:
		return tapback(partIndex, TapbackAdded, TapbackSticker, "", false), true
	case assocLoved:
		return tapback(partIndex, TapbackAdded, TapbackLoved, "", false), true
	case assocLiked:
		return tapback(partIndex, TapbackAdded, TapbackLiked, "", false), true
	case assocDisliked:
		return tapback(partIndex, TapbackAdded, TapbackDisliked, "", false), true
	case assocLaughed:
		return tapback(partIndex, TapbackAdded, TapbackLaughed, "", false), true
	case assocEmphasized:
		return tapback(partIndex, TapbackAdded, TapbackEmphasized, "", false), true
	case assocQuestioned:
		return tapback(partIndex, TapbackAdded, TapbackQuestioned, "", false), true
	case assocEmoji:
		return tapback(partIndex, TapbackAdded, TapbackEmoji, m.AssociatedMessageEmoji, m.HasAssociatedEmoji), true
	case assocSticker:
		return tapback(partIndex, TapbackAdded, TapbackSticker, "", false), true
	case assocLovedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackLoved, "", false), true
	case assocLikedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackLiked, "", false), true
	case assocDislikedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackDisliked, "", false), true
	case assocLaughedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackLaughed, "", false), true
	case assocEmphasizedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackEmphasized, "", false), true
	case assocQuestionedRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackQuestioned, "", false), true
	case assocEmojiRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackEmoji, m.AssociatedMessageEmoji, m.HasAssociatedEmoji), true
	case assocStickerRemoved:
		return tapback(partIndex, TapbackRemoved, TapbackSticker, "", false), true
	default:
		return Variant{}, false
	}
}

func tapback(part int, action TapbackAction, kind TapbackKind, emoji string, hasEmoji bool) Variant {
	return Variant{
		Kind:             VariantTapback,
		TapbackPartIndex: part,
		TapbackAction:    action,
		TapbackKind:      kind,
		TapbackEmoji:     emoji,
		HasTapbackEmoji:  hasEmoji,
	}
}

// classifyApp maps a raw balloon_bundle_id to its custom-balloon kind.
// Namespaced extension ids are matched in full; any id not listed here is
// BalloonApplication.
func classifyApp(bundleID string) Variant {
	switch bundleID {
	case "com.apple.messages.URLBalloonProvider":
		return Variant{Kind: VariantApp, BalloonKind: BalloonURL, BalloonBundleID: bundleID}
	case "com.apple.Handwriting.HandwritingProvider":
		return Variant{Kind: VariantApp, BalloonKind: BalloonHandwriting, BalloonBundleID: bundleID}
	case "com.apple.DigitalTouchBalloonProvider":
		return Variant{Kind: VariantApp, BalloonKind: BalloonDigitalTouch, BalloonBundleID: bundleID}
	case "com.apple.messages.MSMessageExtensionBalloonPlugin:0000000000:com.apple.PassbookUIService.PeerPaymentMessagesExtension":
		return Variant{Kind: VariantApp, BalloonKind: BalloonApplePay, BalloonBundleID: bundleID}
	case "com.apple.messages.MSMessageExtensionBalloonPlugin:0000000000:com.apple.Fitness.FitnessMessagesApp":
		return Variant{Kind: VariantApp, BalloonKind: BalloonFitness, BalloonBundleID: bundleID}
	case "com.apple.SlideshowBalloonProvider":
		return Variant{Kind: VariantApp, BalloonKind: BalloonSlideshow, BalloonBundleID: bundleID}
	case "com.apple.messages.MSMessageExtensionBalloonPlugin:0000000000:com.apple.findmy.FindMyMessagesApp":
		return Variant{Kind: VariantApp, BalloonKind: BalloonFindMy, BalloonBundleID: bundleID}
	case "com.apple.messages.MSMessageExtensionBalloonPlugin:0000000000:com.apple.SafetyMonitorApp.CheckIn":
		return Variant{Kind: VariantApp, BalloonKind: BalloonCheckIn, BalloonBundleID: bundleID}
	default:
		return Variant{Kind: VariantApp, BalloonKind: BalloonApplication, BalloonBundleID: bundleID}
	}
}
