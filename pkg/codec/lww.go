package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"kv/pkg/branch"
)

// EncodeLWW prepends a big-endian float64 timestamp to value, the
// wire shape LWWResolver expects.
func EncodeLWW(timestamp float64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out[:8], math.Float64bits(timestamp))
	copy(out[8:], value)
	return out
}

// DecodeLWW splits an EncodeLWW-encoded value back into its timestamp
// and payload.
func DecodeLWW(b []byte) (timestamp float64, value []byte, err error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("codec: lww value too short (%d bytes)", len(b))
	}
	timestamp = math.Float64frombits(binary.BigEndian.Uint64(b[:8]))
	return timestamp, b[8:], nil
}

// LWWResolver resolves a contested key by keeping whichever of ours/
// theirs carries the later embedded timestamp; ties favor theirs. A
// missing side loses to a present side regardless of timestamp, since
// "deleted" has no timestamp to compare.
func LWWResolver(_, ours, theirs branch.Value) (branch.Value, error) {
	if !ours.Present() {
		return theirs, nil
	}
	if !theirs.Present() {
		return ours, nil
	}

	oursTS, _, err := DecodeLWW(ours.Data())
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: lww merge: ours: %w", err)
	}
	theirsTS, _, err := DecodeLWW(theirs.Data())
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: lww merge: theirs: %w", err)
	}

	if oursTS > theirsTS {
		return ours, nil
	}
	return theirs, nil
}
