// Package meta implements the per-key bookkeeping record GC uses to
// approximate recency and size: a monotonically increasing touch counter,
// the value's serialized size, and its creation time. Metadata is
// process-wide, not versioned, and best-effort — it treats
// concurrent touches as racy-but-monotonic-per-handle, not transactional.
package meta

import (
	"encoding/json"
	"fmt"

	"kv/pkg/backend"
)

// Record is the canonical serialization of meta/<user_key>: {last_touch,
// size, created_at}.
type Record struct {
	LastTouch uint64  `json:"last_touch"`
	Size      uint64  `json:"size"`
	CreatedAt float64 `json:"created_at"`
}

// Get loads userKey's metadata record, or ok=false if it has never been
// touched.
func Get(b backend.Backend, userKey string) (Record, bool, error) {
	raw, ok, err := b.Get(backend.MetaKey(userKey))
	if err != nil {
		return Record{}, false, fmt.Errorf("meta: get %s: %w", userKey, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("meta: decode %s: %w", userKey, err)
	}
	return rec, true, nil
}

// Touch stamps userKey's record with seq (a value from a process-wide
// monotonic sequence the caller hands in — see commit.Engine's sequence
// counter), refreshes its size to sizeBytes, and records a creation time
// on first touch. last_touch is the sequence value at the most recent
// touch, not a per-key tally: sorting keys by last_touch ascending
// recovers touch order across the whole store, which is what GC's
// coldest-first water policy needs (the S5 scenario
// only makes sense under this reading of "touch counter"). Approximate
// under concurrency: two racing Touch calls on the same key may interleave,
// but the sequence source itself only moves forward, so the recorded
// value is never older than the touch that produced it.
func Touch(b backend.Backend, userKey string, seq, sizeBytes uint64, now float64) error {
	rec, existed, err := Get(b, userKey)
	if err != nil {
		return err
	}
	if !existed {
		rec.CreatedAt = now
	}
	rec.LastTouch = seq
	rec.Size = sizeBytes

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("meta: encode %s: %w", userKey, err)
	}
	if err := b.Set(backend.MetaKey(userKey), raw); err != nil {
		return fmt.Errorf("meta: set %s: %w", userKey, err)
	}
	return nil
}

// Delete removes userKey's metadata record. Called by rebase when a key
// is dropped, so a later recreation of the same key starts cold again.
func Delete(b backend.Backend, userKey string) error {
	if err := b.Remove(backend.MetaKey(userKey)); err != nil {
		return fmt.Errorf("meta: delete %s: %w", userKey, err)
	}
	return nil
}
