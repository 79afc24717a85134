// Package staging implements a write-buffering front-end, an optional
// collaborator layered over the core engine: it batches Put/Delete
// calls in memory and flushes them through a single branch.Handle.Advance
// call, so a caller doing rich multi-key edits doesn't pay one commit per
// key. It holds no semantics of its own beyond batching — conflict
// resolution, fast-forward, and state recovery all come from Handle.
package staging

import (
	"kv/pkg/branch"
)

// Buffer accumulates pending updates/removals for one branch.Handle.
// Nothing is durable until Flush succeeds.
type Buffer struct {
	handle    *branch.Handle
	updates   map[string][]byte
	removals  map[string]bool
	resolvers map[string]branch.Resolver
}

// New creates an empty Buffer over h.
func New(h *branch.Handle) *Buffer {
	return &Buffer{
		handle:    h,
		updates:   make(map[string][]byte),
		removals:  make(map[string]bool),
		resolvers: make(map[string]branch.Resolver),
	}
}

// Put stages key=value. A key staged for removal is un-staged.
func (b *Buffer) Put(key string, value []byte) {
	delete(b.removals, key)
	b.updates[key] = value
}

// Delete stages key for removal. A key staged for update is un-staged.
func (b *Buffer) Delete(key string) {
	delete(b.updates, key)
	b.removals[key] = true
}

// UseResolver registers a per-key merge resolver to pass as this
// buffer's next Flush's per-call override, taking precedence over the
// handle's own registrations.
func (b *Buffer) UseResolver(key string, r branch.Resolver) {
	b.resolvers[key] = r
}

// Pending reports how many keys currently have staged changes.
func (b *Buffer) Pending() int {
	return len(b.updates) + len(b.removals)
}

// Discard clears all staged changes without advancing the branch.
// Callers should call this after switching the underlying handle to a
// different branch, since switching branches discards pending buffered
// work and this layer has no way to detect that on its own.
func (b *Buffer) Discard() {
	b.updates = make(map[string][]byte)
	b.removals = make(map[string]bool)
}

// Flush advances the handle with every staged change as one commit (or
// merge commit, if the branch moved underneath). On success the buffer
// is cleared. On failure — ConcurrencyError, MergeConflict, or
// OnConflictAbandon's falsy result — the buffer is left intact so the
// caller can refresh and retry without re-entering the same edits.
func (b *Buffer) Flush(info map[string]string, onConflict branch.OnConflict) (*branch.MergeResult, error) {
	removals := make([]string, 0, len(b.removals))
	for k := range b.removals {
		removals = append(removals, k)
	}

	result, err := b.handle.Advance(b.updates, removals, info, onConflict, b.resolvers)
	if err != nil {
		return nil, err
	}
	if !result.Ok {
		return result, nil
	}

	b.updates = make(map[string][]byte)
	b.removals = make(map[string]bool)
	return result, nil
}
