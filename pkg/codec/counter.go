// Package codec provides built-in value codecs and merge resolvers for
// common value shapes: a commutative counter, arbitrary JSON, and
// last-writer-wins by embedded timestamp. None of this changes engine
// semantics — every codec here is just a branch.Resolver plus an
// encode/decode pair, built entirely on the public commit/branch API
// (codecs are an out-of-scope collaborator for the core engine).
package codec

import (
	"fmt"
	"strconv"

	"kv/pkg/branch"
)

// EncodeCounter renders n as the decimal byte string a counter value is
// stored as.
func EncodeCounter(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

// DecodeCounter parses a counter value. An absent value (empty Value)
// decodes to zero.
func DecodeCounter(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}

// CounterResolver merges a numeric counter commutatively: the result is
// ours + theirs - old, so two independent increments from the same base
// both land (e.g. base 100, branches to 115 and 120, merges to
// 135 — each side's delta from base is preserved).
func CounterResolver(old, ours, theirs branch.Value) (branch.Value, error) {
	oldN, err := DecodeCounter(old.Data())
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: counter merge: bad old value: %w", err)
	}
	oursN, err := DecodeCounter(ours.Data())
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: counter merge: bad ours value: %w", err)
	}
	theirsN, err := DecodeCounter(theirs.Data())
	if err != nil {
		return branch.Value{}, fmt.Errorf("codec: counter merge: bad theirs value: %w", err)
	}
	return branch.Bytes(EncodeCounter(oursN + theirsN - oldN)), nil
}
