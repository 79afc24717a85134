// Package commit implements the commit engine: content-addressed commit
// objects, blob storage, and read/write/history/diff/lca operations. It
// has no notion of branches — that is the branch package, built on top
// of this one.
package commit

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"kv/pkg/backend"
	"kv/pkg/backend/disk"
	"kv/pkg/kverrors"
	"kv/pkg/meta"
)

// Commit is an immutable, content-addressed snapshot: an ordered parent
// list (0 = root, 1 = normal, 2 = merge), a key→pointer map, optional
// metadata, and a creation time. Two commits with identical content
// produce the same ID.
type Commit struct {
	ID        string
	Parents   []string
	Entries   map[string]string
	Info      map[string]string
	CreatedAt float64
}

// Engine is the commit engine over a single backend. It never updates
// branch refs; that responsibility belongs to package branch.
type Engine struct {
	Backend backend.Backend
	Scheme  disk.PointerScheme

	// seq is a process-wide monotonic source for meta.Record.LastTouch.
	// It is in-memory only and not durably persisted, so two Engines
	// opened on the same backend from different processes each keep
	// their own sequence — fine, since GC's water policy only needs
	// relative order within one process's view.
	seq atomic.Uint64
}

// New creates a commit Engine. scheme controls how blob pointers are
// derived; pass disk.ContentAddressed{} (the default, content-addressed,
// dedupes across commits) or disk.CommitScoped{} (simpler, one blob per
// write, scoped on a fresh identifier).
func New(b backend.Backend, scheme disk.PointerScheme) *Engine {
	if scheme == nil {
		scheme = disk.ContentAddressed{}
	}
	return &Engine{Backend: b, Scheme: scheme}
}

// Load fetches and decodes the commit stored under id, verifying the
// content-addressing invariant: re-serializing it must reproduce id. A
// mismatch means the store is corrupt and is a fatal StorageError, not a
// NotFound.
func (e *Engine) Load(id string) (*Commit, error) {
	raw, ok, err := e.Backend.Get(backend.CommitKey(id))
	if err != nil {
		return nil, kverrors.NewStorageError("load commit", err)
	}
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", id, kverrors.ErrNotFound)
	}
	c, err := decodeCommit(raw)
	if err != nil {
		return nil, kverrors.NewStorageError("decode commit", err)
	}
	c.ID = id
	got, err := c.computeID()
	if err != nil {
		return nil, kverrors.NewStorageError("rehash commit", err)
	}
	if got != id {
		return nil, kverrors.NewStorageError("verify commit id",
			fmt.Errorf("commit %s re-hashes to %s: store is corrupt", id, got))
	}
	return c, nil
}

// PutBlob stores value under the pointer the engine's scheme derives for
// it and returns that pointer. Each call mints its own fresh scope for
// schemes that need one (commit-scoped); callers must never pass the id
// of the commit that will end up owning this entry — that id isn't known
// yet (it depends on the entries map this pointer feeds into), and two
// diverging writes built on the same parent must not land on the same
// scope or the second Backend.Set silently overwrites the first writer's
// already-committed blob bytes.
func (e *Engine) PutBlob(userKey string, value []byte) (string, error) {
	pointer := e.Scheme.Pointer(uuid.NewString(), userKey, value)
	if err := e.Backend.Set(backend.DataKey(pointer), value); err != nil {
		return "", kverrors.NewStorageError("write blob", err)
	}
	return pointer, nil
}

// touch stamps key's metadata with the next value from the engine's
// sequence counter and sizeBytes. Errors are logged nowhere (this engine
// is a library with no logging, per the ambient stack) and deliberately
// not propagated to the caller's read/write result: metadata is
// best-effort bookkeeping for GC, not part of the operation's contract.
func (e *Engine) touch(key string, sizeBytes uint64, now float64) {
	_ = meta.Touch(e.Backend, key, e.seq.Add(1), sizeBytes, now)
}

// Touch is the exported form of touch, for collaborators outside this
// package (package branch's merge resolution) that write a new blob for
// a key outside Write/Read's own bookkeeping.
func (e *Engine) Touch(key string, sizeBytes uint64, now float64) {
	e.touch(key, sizeBytes, now)
}

func (e *Engine) getBlob(pointer string) ([]byte, error) {
	v, ok, err := e.Backend.Get(backend.DataKey(pointer))
	if err != nil {
		return nil, kverrors.NewStorageError("read blob", err)
	}
	if !ok {
		return nil, kverrors.NewStorageError("read blob",
			fmt.Errorf("pointer %s: %w", pointer, kverrors.ErrNotFound))
	}
	return v, nil
}

// WriteCommit persists a commit with an already-resolved entries map
// (pointers, not raw bytes) and the given parents. This is the primitive
// the branch engine's merge and the GC engine's rebase build on; both
// need to specify parents and a final key map directly rather than
// "parent map minus removals plus updates". If a commit with the computed
// id already exists, it is reused rather than rewritten — commit ids
// collide only on identical content, so this is safe idempotent reuse,
// not a conflict.
func (e *Engine) WriteCommit(parents []string, entries map[string]string, info map[string]string, now float64) (string, error) {
	c := &Commit{Parents: parents, Entries: entries, Info: info, CreatedAt: now}
	id, err := c.computeID()
	if err != nil {
		return "", kverrors.NewStorageError("serialize commit", err)
	}
	exists, err := e.Backend.Contains(backend.CommitKey(id))
	if err != nil {
		return "", kverrors.NewStorageError("check commit existence", err)
	}
	if exists {
		return id, nil
	}
	raw, err := c.canonicalBytes()
	if err != nil {
		return "", kverrors.NewStorageError("serialize commit", err)
	}
	if err := e.Backend.Set(backend.CommitKey(id), raw); err != nil {
		return "", kverrors.NewStorageError("write commit", err)
	}
	return id, nil
}

// Write constructs a new commit whose entries equal parentID's entries
// with removals dropped and updates applied, persisting updates' blobs
// first, then the commit, then — only at the branch layer — the ref.
// parentID == "" constructs a root commit.
func (e *Engine) Write(parentID string, updates map[string][]byte, removals []string, info map[string]string, now float64) (string, error) {
	for k := range updates {
		if err := backend.ValidateUserKey(k); err != nil {
			return "", err
		}
	}
	for _, k := range removals {
		if err := backend.ValidateUserKey(k); err != nil {
			return "", err
		}
	}

	entries := map[string]string{}
	var parents []string
	if parentID != "" {
		parent, err := e.Load(parentID)
		if err != nil {
			return "", err
		}
		for k, v := range parent.Entries {
			entries[k] = v
		}
		parents = []string{parentID}
	}
	for _, k := range removals {
		delete(entries, k)
	}
	for k, v := range updates {
		pointer, err := e.PutBlob(k, v)
		if err != nil {
			return "", err
		}
		entries[k] = pointer
		e.touch(k, uint64(len(v)), now)
	}
	return e.WriteCommit(parents, entries, info, now)
}

// Read fetches key's value at commitID, touching its per-key metadata.
// Returns ok=false if the key is absent in that commit. now stamps the
// metadata record's creation time on a key's first
// touch; it has no bearing on which value is returned, since commits are
// immutable and fully determine the read.
func (e *Engine) Read(commitID, key string, now float64) ([]byte, bool, error) {
	c, err := e.Load(commitID)
	if err != nil {
		return nil, false, err
	}
	pointer, ok := c.Entries[key]
	if !ok {
		return nil, false, nil
	}
	value, err := e.getBlob(pointer)
	if err != nil {
		return nil, false, err
	}
	e.touch(key, uint64(len(value)), now)
	return value, true, nil
}

// ReadMany is Read for a set of keys, returning only the keys present in
// commitID.
func (e *Engine) ReadMany(commitID string, keys []string, now float64) (map[string][]byte, error) {
	c, err := e.Load(commitID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		pointer, ok := c.Entries[key]
		if !ok {
			continue
		}
		value, err := e.getBlob(pointer)
		if err != nil {
			return nil, err
		}
		out[key] = value
		e.touch(key, uint64(len(value)), now)
	}
	return out, nil
}

// Keys enumerates commitID's keys in sorted order.
func (e *Engine) Keys(commitID string) ([]string, error) {
	c, err := e.Load(commitID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(c.Entries))
	for k := range c.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
