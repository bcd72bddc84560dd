// Package jsonlist provides a string-list field stored as JSON text.
//
// Workflow records keep their inputs/outputs/skills lists as serialized JSON
// so they survive any storage backend unchanged. Decoding is deliberately
// forgiving: malformed text decodes to an empty list rather than failing the
// whole record load.
package jsonlist

import "encoding/json"

// Decode parses a JSON array of strings. Empty input and malformed input both
// yield nil; this fallback is part of the contract, not an accident.
func Decode(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

// Encode serializes a string list to JSON text. A nil or empty list encodes
// to the empty string so absent lists stay absent in storage.
func Encode(list []string) string {
	if len(list) == 0 {
		return ""
	}
	data, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(data)
}

// Strings is a string list that unmarshals from either a JSON array or the
// legacy form, a JSON-encoded array inside a string. Malformed content falls
// back to empty per the Decode contract.
type Strings []string

func (l *Strings) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*l = Decode(raw)
		return nil
	}
	*l = nil
	return nil
}
