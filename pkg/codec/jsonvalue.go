package codec

import (
	"encoding/json"
	"fmt"

	"kv/pkg/branch"
)

// EncodeJSON marshals v as the canonical JSON a JSON-valued key stores.
func EncodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeJSON unmarshals a JSON value into v (a pointer), as Get/Read
// would hand back from a key written via EncodeJSON.
func DecodeJSON(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

// JSONFieldMergeResolver merges two JSON objects field by field: a field
// changed on only one side is taken from that side; a field changed on
// both sides with different results prefers theirs. Values that aren't
// JSON objects fall back to theirs outright. This is a default-friendly
// policy for document-shaped values, not a replacement for a
// domain-specific resolver.
func JSONFieldMergeResolver(old, ours, theirs branch.Value) (branch.Value, error) {
	oldFields, oldIsObj := decodeObject(old)
	oursFields, oursIsObj := decodeObject(ours)
	theirsFields, theirsIsObj := decodeObject(theirs)

	if !oldIsObj || !oursIsObj || !theirsIsObj {
		if !theirs.Present() {
			return branch.Absent(), nil
		}
		return theirs, nil
	}

	merged := make(map[string]json.RawMessage, len(theirsFields))
	for k, v := range oldFields {
		merged[k] = v
	}
	for k := range allFieldNames(oldFields, oursFields, theirsFields) {
		oldV, oldOK := oldFields[k]
		oursV, oursOK := oursFields[k]
		theirsV, theirsOK := theirsFields[k]

		oursChanged := !bytesEqualRaw(oldV, oursV) || oldOK != oursOK
		theirsChanged := !bytesEqualRaw(oldV, theirsV) || oldOK != theirsOK

		switch {
		case theirsChanged:
			if theirsOK {
				merged[k] = theirsV
			} else {
				delete(merged, k)
			}
		case oursChanged:
			if oursOK {
				merged[k] = oursV
			} else {
				delete(merged, k)
			}
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: json field merge: %w", err)
	}
	return branch.Bytes(out), nil
}

func decodeObject(v branch.Value) (map[string]json.RawMessage, bool) {
	if !v.Present() {
		return nil, true
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(v.Data(), &m); err != nil {
		return nil, false
	}
	return m, true
}

func allFieldNames(maps ...map[string]json.RawMessage) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range maps {
		for k := range m {
			out[k] = struct{}{}
		}
	}
	return out
}

func bytesEqualRaw(a, b json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
