package branch

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kv/pkg/backend"
	"kv/pkg/commit"
	"kv/pkg/kverrors"
)

// CreateBranch creates branchName pointing at fromCommit. Fails with
// ErrAlreadyExists if the branch already has a ref.
func CreateBranch(e *commit.Engine, branchName, fromCommit string) error {
	if err := backend.ValidateBranchName(branchName); err != nil {
		return err
	}
	if fromCommit != "" {
		if _, err := e.Load(fromCommit); err != nil {
			return err
		}
	}
	ok, err := e.Backend.CAS(backend.RefKey(branchName), []byte(fromCommit), nil)
	if err != nil {
		return kverrors.NewStorageError("create branch", err)
	}
	if !ok {
		return fmt.Errorf("branch %q: %w", branchName, kverrors.ErrAlreadyExists)
	}
	return nil
}

// CreateBranch creates a new branch named name off at (defaulting to h's
// own current commit when at == ""), matching
// create_branch(name, at=None) → handle, and returns a Handle already
// positioned on it. Fails with ErrAlreadyExists if name already has a
// ref.
func (h *Handle) CreateBranch(name, at string) (*Handle, error) {
	if at == "" {
		at = h.CurrentCommit
	}
	if err := CreateBranch(h.engine, name, at); err != nil {
		return nil, err
	}
	return Open(h.engine, name)
}

// DeleteBranch removes branchName's ref outright. Any Handle already open
// on it at a commit keeps working against its last-known commit but can no
// longer advance: its next Advance sees no head, takes the three-way path,
// and fails loading the missing head commit before any CAS.
func DeleteBranch(b backend.Backend, branchName string) error {
	if err := b.Remove(backend.RefKey(branchName)); err != nil {
		return kverrors.NewStorageError("delete branch", err)
	}
	return nil
}

// ListBranches returns every branch name with a ref, sorted.
func ListBranches(b backend.Backend) ([]string, error) {
	keys, err := b.Keys()
	if err != nil {
		return nil, kverrors.NewStorageError("list branches", err)
	}
	var names []string
	for _, k := range keys {
		if name, ok := stripPrefix(k, backend.RefsPrefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// Peek returns branchName's current commit id without opening a Handle.
func Peek(b backend.Backend, branchName string) (string, error) {
	raw, ok, err := b.Get(backend.RefKey(branchName))
	if err != nil {
		return "", kverrors.NewStorageError("peek branch", err)
	}
	if !ok {
		return "", fmt.Errorf("branch %q: %w", branchName, kverrors.ErrNotFound)
	}
	return string(raw), nil
}

// Switch repositions the handle onto a different branch, discarding any
// uncommitted cursor drift the handle had accrued (there is none — the
// handle has no working set of its own; every Advance call is immediately
// durable). Equivalent to Open(engine, branchName) but reuses the Handle.
func (h *Handle) Switch(branchName string) error {
	if err := backend.ValidateBranchName(branchName); err != nil {
		return err
	}
	h.Branch = branchName
	return h.Refresh()
}

// Checkout repositions the handle's cursor at commitID without moving the
// branch ref itself — a read-only time-travel view. The next Advance call
// from here is treated exactly like any other divergent write: it three-way
// merges against whatever the branch ref has moved to meanwhile.
func (h *Handle) Checkout(commitID string) error {
	if commitID != "" {
		if _, err := h.engine.Load(commitID); err != nil {
			return err
		}
	}
	h.CurrentCommit = commitID
	return nil
}

// CheckoutOnBranch resolves commit_id, branch=None → handle | none: it
// returns a fresh Handle for branchName (defaulting to h's own branch
// when branchName == "") positioned at commitID, without moving
// branchName's ref — h itself is left untouched. ok is false ("none")
// if commitID does not exist. The returned handle's next Advance call is
// treated exactly like Handle.Checkout's: a divergent write that
// three-way merges against wherever branchName's ref has moved to by
// then.
func (h *Handle) CheckoutOnBranch(commitID, branchName string) (*Handle, bool, error) {
	if branchName == "" {
		branchName = h.Branch
	}
	return CheckoutOnBranch(h.engine, commitID, branchName)
}

// CheckoutOnBranch is the package-level form of Handle.CheckoutOnBranch,
// for callers that don't already hold a handle to default branchName
// from; branchName must be given explicitly here.
func CheckoutOnBranch(e *commit.Engine, commitID, branchName string) (*Handle, bool, error) {
	if commitID != "" {
		if _, err := e.Load(commitID); err != nil {
			if errors.Is(err, kverrors.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
	}
	h, err := Open(e, branchName)
	if err != nil {
		return nil, false, err
	}
	h.CurrentCommit = commitID
	return h, true, nil
}

// ResetTo force-moves the branch ref to commitID without merging, retrying
// the CAS against whatever concurrent writers do with exponential backoff
// via backoff/v4. Retries stop after 10 seconds; ResetTo then returns the
// last "ref moved" error and leaves the handle unchanged.
func (h *Handle) ResetTo(commitID string) error {
	if commitID != "" {
		if _, err := h.engine.Load(commitID); err != nil {
			return err
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 10 * time.Second

	err := backoff.Retry(func() error {
		current, err := h.readRef()
		if err != nil {
			return backoff.Permanent(err)
		}
		var expected []byte
		if current != "" {
			expected = []byte(current)
		}
		ok, err := h.backend.CAS(backend.RefKey(h.Branch), []byte(commitID), expected)
		if err != nil {
			return backoff.Permanent(kverrors.NewStorageError("reset branch", err))
		}
		if !ok {
			return fmt.Errorf("branch %q: ref moved during reset", h.Branch)
		}
		return nil
	}, policy)
	if err != nil {
		return err
	}

	h.CurrentCommit = commitID
	h.BaseCommit = commitID
	return nil
}
