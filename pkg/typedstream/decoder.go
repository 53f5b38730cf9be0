// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

// Wire tags for entries at the top of the stream and inside array/dictionary
// bodies. These sit outside the printable-ASCII range used by the type
// characters (@ + * c i l q s C I L Q S f d [ ]) so the two tag spaces never
// collide.
const (
	tagEndOfStream   byte = 0x00
	tagNewObject     byte = 0x01 // matches the streamtyped fallback's START_PATTERN first byte
	tagBackrefObject byte = 0x02
	tagNewData       byte = 0x03
)

// Class-chain link tags, read inside readClassChain.
const (
	classTagDef      byte = 0x10
	classTagBackref  byte = 0x11
	classTagChainEnd byte = 0x12
)

// headerMagic is the literal text every typedstream begins with, per
// SPEC_FULL.md §4.1 ("The stream begins with a fixed magic sequence
// identifying streamtyped"). It is the same text the streamtyped fallback
// (§4.2) and real Messages attributedBody blobs are named after.
const headerMagic = "streamtyped"

// knownClassFields lists the classes the decoder understands well enough to
// read field data for (§4.1 "Heuristic for Messages payloads"). Any other
// class is preserved as Object(Class, []) with no attempt at its fields.
var knownClassFields = map[string]bool{
	"NSString": true, "NSMutableString": true,
	"NSNumber":          true,
	"NSData":            true, "NSMutableData": true,
	"NSArray": true, "NSMutableArray": true,
	"NSDictionary": true, "NSMutableDictionary": true,
	"NSURL":               true,
	"NSAttributedString":  true,
	"NSMutableAttributedString": true,
}

// decoder holds parser state across one Parse call: the class back-reference
// table and the flat output sequence (which doubles as the object
// back-reference table, since every Object/Data/Class/Placeholder entry is
// addressable by its position).
type decoder struct {
	r        *reader
	classes  []Class
	output   []Archivable
}

// Parse decodes the raw bytes of an attributedBody column into the ordered
// Archivable sequence described in SPEC_FULL.md §3.6 / §4.1. On header
// mismatch or any structural failure it returns a *DecodeError; callers
// should fall back to ParseStreamtyped (§4.2) on any error.
func Parse(data []byte) ([]Archivable, error) {
	r := newReader(data)
	if err := readHeader(r); err != nil {
		return nil, err
	}
	d := &decoder{r: r}
	for !d.r.atEnd() {
		if err := d.readEntry(); err != nil {
			return nil, err
		}
	}
	return d.output, nil
}

func readHeader(r *reader) error {
	lenByte, err := r.byte()
	if err != nil {
		return newDecodeError(InvalidHeader, 0, "empty stream")
	}
	if int(lenByte) != len(headerMagic) {
		return newDecodeError(InvalidHeader, 0, "unexpected magic length")
	}
	magic, err := r.bytes(len(headerMagic))
	if err != nil {
		return newDecodeError(InvalidHeader, r.offset(), "truncated magic")
	}
	if string(magic) != headerMagic {
		return newDecodeError(InvalidHeader, r.offset(), "magic mismatch")
	}
	// Version/signature block: a single prefixed integer. Its value isn't
	// meaningful to this decoder, only its well-formedness is checked.
	if _, err := r.prefixedUint(); err != nil {
		return newDecodeError(InvalidHeader, r.offset(), "truncated version block")
	}
	return nil
}

// readEntry consumes exactly one top-level stream entry and appends zero or
// more Archivables to d.output (zero for end-of-stream and back-references).
func (d *decoder) readEntry() error {
	tag, err := d.r.byte()
	if err != nil {
		return err
	}
	switch tag {
	case tagEndOfStream:
		// Force atEnd() so Parse's loop stops even if trailing bytes remain.
		d.r.pos = len(d.r.data)
		return nil
	case tagNewObject:
		_, err := d.readObject()
		return err
	case tagBackrefObject:
		idx, err := d.r.prefixedUint()
		if err != nil {
			return err
		}
		if int(idx) >= len(d.output) {
			return newDecodeError(BadReference, d.r.offset(), "object back-reference out of range")
		}
		return nil
	case tagNewData:
		return d.readData()
	default:
		run, err := d.readTypeRun(tag)
		if err != nil {
			return err
		}
		d.output = append(d.output, Archivable{Kind: ArchivableTypeRun, Types: run})
		return nil
	}
}

// readObject reserves a Placeholder slot (so a self-reference inside the
// class chain resolves to a valid, if incomplete, entry), decodes the class
// chain and field values, then replaces the placeholder with the finished
// Object — exactly the sequencing SPEC_FULL.md §4.1 and §9 describe.
func (d *decoder) readObject() (Archivable, error) {
	slot := len(d.output)
	d.output = append(d.output, Archivable{Kind: ArchivablePlaceholder})

	leaf, err := d.readClassChain()
	if err != nil {
		return Archivable{}, err
	}

	var values []OutputData
	if knownClassFields[leaf.Name] {
		values, err = d.readKnownFields(leaf)
		if err != nil {
			return Archivable{}, err
		}
	}

	obj := Archivable{Kind: ArchivableObject, Class: leaf, Values: values}
	d.output[slot] = obj
	return obj, nil
}

// readClassChain reads the definition-or-back-reference chain terminated by
// classTagChainEnd. The first link read is the leaf (most-derived) class;
// every subsequent link is a superclass and is appended to the output
// sequence as an Archivable Class entry, per the enum's "a class reference
// appearing as part of an inheritance chain" variant.
func (d *decoder) readClassChain() (Class, error) {
	var leaf Class
	first := true
	for {
		tag, err := d.r.byte()
		if err != nil {
			return Class{}, err
		}
		switch tag {
		case classTagChainEnd:
			if first {
				return Class{}, newDecodeError(BadReference, d.r.offset(), "empty class chain")
			}
			return leaf, nil
		case classTagDef:
			name, err := d.r.prefixedString()
			if err != nil {
				return Class{}, err
			}
			version, err := d.r.prefixedUint()
			if err != nil {
				return Class{}, err
			}
			c := Class{Name: name, Version: version}
			d.classes = append(d.classes, c)
			if first {
				leaf = c
				first = false
			} else {
				d.output = append(d.output, Archivable{Kind: ArchivableClassRef, Class: c})
			}
		case classTagBackref:
			idx, err := d.r.prefixedUint()
			if err != nil {
				return Class{}, err
			}
			if int(idx) >= len(d.classes) {
				return Class{}, newDecodeError(BadReference, d.r.offset(), "class back-reference out of range")
			}
			c := d.classes[idx]
			if first {
				leaf = c
				first = false
			} else {
				d.output = append(d.output, Archivable{Kind: ArchivableClassRef, Class: c})
			}
		default:
			return Class{}, newDecodeError(UnknownTag, d.r.offset(), "unexpected class-chain tag")
		}
	}
}

// readData handles a tagNewData entry: a count-prefixed run of inline
// primitive values attached to the preceding object, e.g. the
// Data([SignedInteger(run-id), UnsignedInteger(run-length)]) attribute-run
// markers described in the §4.1 output contract.
func (d *decoder) readData() error {
	n, err := d.r.prefixedUint()
	if err != nil {
		return err
	}
	values := make([]OutputData, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := d.readValue()
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	d.output = append(d.output, Archivable{Kind: ArchivableData, Values: values})
	return nil
}

// readValue reads one type-tagged primitive: a type character followed by
// its payload, matching the `Type` wire codes in SPEC_FULL.md §3.6.
func (d *decoder) readValue() (OutputData, error) {
	tagByte, err := d.r.byte()
	if err != nil {
		return OutputData{}, err
	}
	tt := typeFromByte(tagByte)
	switch tt.Kind {
	case TypeSignedInt:
		v, err := d.r.signedInt()
		return SignedData(v), err
	case TypeUnsignedInt:
		v, err := d.r.prefixedUint()
		return UnsignedData(v), err
	case TypeFloatKind:
		v, err := d.r.float32()
		return FloatData(v), err
	case TypeDoubleKind:
		v, err := d.r.float64()
		return DoubleData(v), err
	case TypeUTF8String:
		s, err := d.r.prefixedString()
		return StringData(s), err
	case TypeEmbeddedData:
		n, err := d.r.prefixedUint()
		if err != nil {
			return OutputData{}, err
		}
		b, err := d.r.bytes(int(n))
		return ArrayData(append([]byte(nil), b...)), err
	default:
		return OutputData{}, newDecodeError(UnknownTag, d.r.offset(), "unsupported inline value tag")
	}
}

// readKnownFields reads the field data for one of the classes Messages
// actually uses. Container classes (NSArray/NSDictionary) record only their
// element count here; their elements are independent entries that follow
// immediately in the output sequence, read by recursing into readEntry —
// this is what keeps attribute runs "flat" per the §4.1 output contract.
func (d *decoder) readKnownFields(class Class) ([]OutputData, error) {
	switch class.Name {
	case "NSString", "NSMutableString":
		s, err := d.r.prefixedString()
		if err != nil {
			return nil, err
		}
		return []OutputData{StringData(s)}, nil

	case "NSNumber":
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		return []OutputData{v}, nil

	case "NSData", "NSMutableData":
		n, err := d.r.prefixedUint()
		if err != nil {
			return nil, err
		}
		b, err := d.r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return []OutputData{ArrayData(append([]byte(nil), b...))}, nil

	case "NSURL":
		s, err := d.r.prefixedString()
		if err != nil {
			return nil, err
		}
		return []OutputData{StringData(s)}, nil

	case "NSArray", "NSMutableArray":
		n, err := d.r.prefixedUint()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < n; i++ {
			if err := d.readEntry(); err != nil {
				return nil, err
			}
		}
		return []OutputData{UnsignedData(n)}, nil

	case "NSDictionary", "NSMutableDictionary":
		n, err := d.r.prefixedUint()
		if err != nil {
			return nil, err
		}
		for i := uint64(0); i < 2*n; i++ {
			if err := d.readEntry(); err != nil {
				return nil, err
			}
		}
		return []OutputData{UnsignedData(n)}, nil

	case "NSAttributedString", "NSMutableAttributedString":
		// No fields of its own; the backing NSString and its attribute runs
		// are independent entries immediately following in the stream.
		return nil, nil

	default:
		return nil, nil
	}
}

// readTypeRun collects a run of bare primitive type tags the decoder did not
// consume into a recognized object, starting with the tag already read.
// Array tags carry a decimal length between '[' and ']'.
func (d *decoder) readTypeRun(first byte) ([]TypeTag, error) {
	run := []TypeTag{}
	tag := first
	for {
		if tag == '[' {
			length := 0
			for {
				b, err := d.r.byte()
				if err != nil {
					return nil, err
				}
				if b == ']' {
					break
				}
				if b < '0' || b > '9' {
					return nil, newDecodeError(UnknownTag, d.r.offset(), "malformed array length")
				}
				length = length*10 + int(b-'0')
			}
			elemTag, err := d.r.byte()
			if err != nil {
				return nil, err
			}
			run = append(run, TypeTag{Kind: TypeArrayKind, ArrayLen: length, Raw: elemTag})
		} else {
			tt := typeFromByte(tag)
			if tt.Kind == TypeUnknownKind {
				return nil, newDecodeError(UnknownTag, d.r.offset(), "unrecognized type tag in run")
			}
			run = append(run, tt)
		}
		next, ok := d.r.peek()
		if !ok || isControlTag(next) {
			return run, nil
		}
		tag, _ = d.r.byte()
	}
}

func isControlTag(b byte) bool {
	switch b {
	case tagEndOfStream, tagNewObject, tagBackrefObject, tagNewData:
		return true
	default:
		return false
	}
}
