// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package plist

import (
	"bytes"
	"strconv"

	"howett.net/plist"
)

// ParseNSKeyedArchiver decodes a message's payload_data BLOB (binary or XML
// NSKeyedArchiver format) and walks its $top/$objects UID graph, returning
// a plain map[string]any / []any / scalar tree with every pointer resolved
// in place — the same promotion parse_ns_keyed_archiver performs.
func ParseNSKeyedArchiver(data []byte) (any, error) {
	var root any
	if _, err := plist.Unmarshal(bytes.NewReader(data), &root); err != nil {
		return nil, newWalkError(InvalidType, "payload is not a valid plist: "+err.Error())
	}
	return parseValue(root)
}

// parseValue implements parse_ns_keyed_archiver: locate $objects and $top.root,
// then follow the UID graph from there.
func parseValue(root any) (any, error) {
	body, ok := root.(map[string]any)
	if !ok {
		return nil, newWalkError(InvalidType, "body: expected dictionary")
	}
	objects, err := extractArrayKey(body, "$objects")
	if err != nil {
		return nil, err
	}
	top, err := extractDictionary(body, "$top")
	if err != nil {
		return nil, err
	}
	rootIdx, err := extractUIDKey(top, "root")
	if err != nil {
		return nil, err
	}
	return followUID(objects, rootIdx, "", nil, true)
}

// followUID recursively follows pointers in the archive, promoting values to
// the positions where their pointers live. parent is the enclosing key (used
// when a dictionary is a pure NS.relative indirection), and item/noItem let
// a caller supply an already-resolved value (noItem=false) instead of
// indexing objects[root] (noItem=true).
func followUID(objects []any, root int, parent string, item any, noItem bool) (any, error) {
	var value any
	if noItem {
		if root < 0 || root >= len(objects) {
			return nil, newWalkError(NoValueAtIndex, strconv.Itoa(root))
		}
		value = objects[root]
	} else {
		value = item
	}

	switch v := value.(type) {
	case []any:
		var arr []any
		for _, elem := range v {
			if idx, ok := asUID(elem); ok {
				resolved, err := followUID(objects, idx, parent, nil, true)
				if err != nil {
					return nil, err
				}
				arr = append(arr, resolved)
			}
		}
		if arr == nil {
			arr = []any{}
		}
		return arr, nil

	case map[string]any:
		return followDictionary(objects, v, parent)

	case plist.UID:
		return followUID(objects, int(v), parent, nil, true)

	default:
		return value, nil
	}
}

func followDictionary(objects []any, dict map[string]any, parent string) (any, error) {
	result := map[string]any{}

	if relative, ok := dict["NS.relative"]; ok {
		if idx, ok := asUID(relative); ok && parent != "" {
			resolved, err := followUID(objects, idx, parent, nil, true)
			if err != nil {
				return nil, err
			}
			result[parent] = resolved
			return result, nil
		}
	}

	_, hasKeys := dict["NS.keys"]
	_, hasObjects := dict["NS.objects"]
	if hasKeys && hasObjects {
		keys, err := extractArrayKey(dict, "NS.keys")
		if err != nil {
			return nil, err
		}
		values, err := extractArrayKey(dict, "NS.objects")
		if err != nil {
			return nil, err
		}
		if len(keys) != len(values) {
			return nil, newWalkError(InvalidDictionarySize, strconv.Itoa(len(keys))+" != "+strconv.Itoa(len(values)))
		}
		for i := range keys {
			keyIdx, err := uidAtIndex(keys, i)
			if err != nil {
				return nil, err
			}
			valueIdx, err := uidAtIndex(values, i)
			if err != nil {
				return nil, err
			}
			key, err := stringAtIndex(objects, keyIdx)
			if err != nil {
				return nil, err
			}
			resolved, err := followUID(objects, valueIdx, key, nil, true)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil
	}

	for key, val := range dict {
		if key == "$class" {
			continue
		}
		if idx, ok := asUID(val); ok {
			resolved, err := followUID(objects, idx, key, nil, true)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		} else if parent != "" {
			resolved, err := followUID(objects, 0, parent, val, false)
			if err != nil {
				return nil, err
			}
			result[parent] = resolved
		}
	}
	return result, nil
}

func asUID(v any) (int, bool) {
	switch u := v.(type) {
	case plist.UID:
		return int(u), true
	case uint64:
		return int(u), true
	}
	return 0, false
}

func extractArrayKey(body map[string]any, key string) ([]any, error) {
	raw, ok := body[key]
	if !ok {
		return nil, newWalkError(MissingKey, key)
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, newWalkError(InvalidType, key+": expected array")
	}
	return arr, nil
}

func extractDictionary(body map[string]any, key string) (map[string]any, error) {
	raw, ok := body[key]
	if !ok {
		return nil, newWalkError(MissingKey, key)
	}
	dict, ok := raw.(map[string]any)
	if !ok {
		return nil, newWalkError(InvalidType, key+": expected dictionary")
	}
	return dict, nil
}

func extractUIDKey(body map[string]any, key string) (int, error) {
	raw, ok := body[key]
	if !ok {
		return 0, newWalkError(MissingKey, key)
	}
	idx, ok := asUID(raw)
	if !ok {
		return 0, newWalkError(InvalidType, key+": expected uid")
	}
	return idx, nil
}

func uidAtIndex(arr []any, idx int) (int, error) {
	if idx < 0 || idx >= len(arr) {
		return 0, newWalkError(NoValueAtIndex, strconv.Itoa(idx))
	}
	uid, ok := asUID(arr[idx])
	if !ok {
		return 0, newWalkError(InvalidTypeIndex, strconv.Itoa(idx)+": expected uid")
	}
	return uid, nil
}

func stringAtIndex(arr []any, idx int) (string, error) {
	if idx < 0 || idx >= len(arr) {
		return "", newWalkError(NoValueAtIndex, strconv.Itoa(idx))
	}
	s, ok := arr[idx].(string)
	if !ok {
		return "", newWalkError(InvalidTypeIndex, strconv.Itoa(idx)+": expected string")
	}
	return s, nil
}

