// Package kvstore is a convenience entry point and optional collaborator:
// it wires a backend, a commit engine, and an optional GC collector
// together behind a small set of constructors, so callers don't have to
// assemble the backend/engine/collector layers by hand.
package kvstore

import (
	"kv/pkg/backend"
	"kv/pkg/backend/disk"
	"kv/pkg/backend/memory"
	"kv/pkg/branch"
	"kv/pkg/commit"
	"kv/pkg/gc"
)

// Store bundles a backend with the commit engine built on it and an
// optional GC collector. It has no notion of "the current branch" — open
// a branch.Handle (via Store.Branch) for that, exactly as the engine
// itself separates the commit layer from the branch layer.
type Store struct {
	Backend backend.Backend
	Engine  *commit.Engine
	GC      *gc.Collector
}

// Open creates or reuses a disk-backed store rooted at dir, using the
// content-addressed blob pointer scheme (the dedup-friendly default).
func Open(dir string) (*Store, error) {
	b, err := disk.New(dir)
	if err != nil {
		return nil, err
	}
	return &Store{Backend: b, Engine: commit.New(b, disk.ContentAddressed{})}, nil
}

// OpenScoped is Open but selects the simpler commit-scoped blob pointer
// scheme, trading cross-commit dedup for not needing to hash every value.
func OpenScoped(dir string) (*Store, error) {
	b, err := disk.New(dir)
	if err != nil {
		return nil, err
	}
	return &Store{Backend: b, Engine: commit.New(b, disk.CommitScoped{})}, nil
}

// OpenMemory creates a fresh in-memory store. Useful for tests and
// throwaway data; nothing persists across process restarts.
func OpenMemory() *Store {
	b := memory.New()
	return &Store{Backend: b, Engine: commit.New(b, disk.ContentAddressed{})}
}

// WithGC attaches a size-bounded garbage collector configured by cfg,
// returning the same Store for chaining (s.GC is then non-nil).
func (s *Store) WithGC(cfg gc.Config) *Store {
	s.GC = gc.New(s.Engine, cfg)
	return s
}

// Branch opens a Handle positioned at branchName's current HEAD,
// creating no ref until the handle's first successful Advance.
func (s *Store) Branch(branchName string) (*branch.Handle, error) {
	return branch.Open(s.Engine, branchName)
}

// CreateBranch creates a new branch named name off fromCommit and
// returns a Handle already positioned on it — the Store-level entry
// point for create_branch(name, at=None) for callers that aren't already
// holding a Handle to default "at" from (see branch.Handle.CreateBranch
// for that case).
func (s *Store) CreateBranch(name, fromCommit string) (*branch.Handle, error) {
	if err := branch.CreateBranch(s.Engine, name, fromCommit); err != nil {
		return nil, err
	}
	return branch.Open(s.Engine, name)
}

// Checkout returns a new Handle for branchName positioned at commitID
// without moving branchName's ref, or ok=false if commitID doesn't
// exist.
func (s *Store) Checkout(commitID, branchName string) (*branch.Handle, bool, error) {
	return branch.CheckoutOnBranch(s.Engine, commitID, branchName)
}

// AdvanceAndCollect runs h.Advance and, if it succeeds and a GC collector
// is attached, checks the size trigger after the advance. The rebase
// result is nil when no GC is attached or the trigger wasn't crossed.
func (s *Store) AdvanceAndCollect(h *branch.Handle, updates map[string][]byte, removals []string, info map[string]string, onConflict branch.OnConflict, mergeFns map[string]branch.Resolver) (*branch.MergeResult, *gc.RebaseResult, error) {
	result, err := h.Advance(updates, removals, info, onConflict, mergeFns)
	if err != nil {
		return nil, nil, err
	}
	if s.GC == nil || !result.Ok {
		return result, nil, nil
	}
	rebaseResult, err := s.GC.MaybeRebase(h)
	if err != nil {
		return result, nil, err
	}
	return result, rebaseResult, nil
}
