// Package branch implements the branch/merge engine: a Handle carries a
// branch name and a cursor commit, and advances the branch's HEAD via
// backend CAS — fast-forward when possible, three-way merge with
// per-key resolvers otherwise.
package branch

import (
	"fmt"
	"sort"
	"time"

	"kv/pkg/backend"
	"kv/pkg/commit"
	"kv/pkg/kverrors"
)

// OnConflict selects how advance behaves when a three-way merge can't
// resolve every contested key, or loses a merge-commit CAS race.
type OnConflict int

const (
	// OnConflictRaise returns MergeConflict/ConcurrencyError to the caller.
	OnConflictRaise OnConflict = iota
	// OnConflictAbandon returns a falsy MergeResult instead of an error.
	OnConflictAbandon
)

// Strategy names the path advance took to produce its result.
type Strategy string

const (
	StrategyNoOp        Strategy = "no_op"
	StrategyFastForward Strategy = "fast_forward"
	StrategyThreeWay    Strategy = "three_way"
)

// MergeResult is advance's outcome. Ok is false when on_conflict=abandon
// suppressed an error; callers should check Ok before trusting Commit.
type MergeResult struct {
	Ok              bool
	Strategy        Strategy
	Commit          string
	AutoMergedKeys  []string
	CarriedKeys     []string
	ConflictingKeys []string
}

// Handle is an in-memory cursor onto a specific branch and commit.
// Multiple Handles, in one process or many sharing a backend, may
// operate concurrently — correctness rests entirely on backend.CAS.
type Handle struct {
	Branch  string
	engine  *commit.Engine
	backend backend.Backend

	BaseCommit    string
	CurrentCommit string

	resolvers       map[string]Resolver
	defaultResolver Resolver

	// Now supplies the creation timestamp for commits this handle builds.
	// Defaults to the wall clock; tests substitute a fixed clock.
	Now func() float64
}

func defaultNow() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Open resolves branch's current ref and returns a Handle positioned
// there. If the branch has no ref yet, the handle starts at the empty
// commit id "" (no commits yet); the branch ref is created on its first
// successful advance.
func Open(e *commit.Engine, branchName string) (*Handle, error) {
	if err := backend.ValidateBranchName(branchName); err != nil {
		return nil, err
	}
	h := &Handle{
		Branch:    branchName,
		engine:    e,
		backend:   e.Backend,
		resolvers: make(map[string]Resolver),
		Now:       defaultNow,
	}
	if err := h.Refresh(); err != nil {
		return nil, err
	}
	return h, nil
}

// Backend returns the backend this handle's engine is built on, for
// collaborators (e.g. package gc) that need to touch refs directly.
func (h *Handle) Backend() backend.Backend { return h.backend }

// Engine returns the commit engine this handle advances against, for
// collaborators (e.g. package namespace, package staging) that need read
// access to the commit graph without duplicating it.
func (h *Handle) Engine() *commit.Engine { return h.engine }

// RefValue returns the branch's live ref value without moving the
// handle's cursor.
func (h *Handle) RefValue() (string, error) { return h.readRef() }

// Refresh reloads BaseCommit/CurrentCommit from the live ref.
func (h *Handle) Refresh() error {
	ref, err := h.readRef()
	if err != nil {
		return err
	}
	h.BaseCommit = ref
	h.CurrentCommit = ref
	return nil
}

func (h *Handle) readRef() (string, error) {
	raw, ok, err := h.backend.Get(backend.RefKey(h.Branch))
	if err != nil {
		return "", kverrors.NewStorageError("read ref", err)
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}

// RegisterResolver installs a handle-level resolver for key, used by
// advance calls that don't supply a per-call override for it.
func (h *Handle) RegisterResolver(key string, r Resolver) {
	h.resolvers[key] = r
}

// SetDefaultResolver installs the resolver used for any contested key
// with no per-call or handle-level registration.
func (h *Handle) SetDefaultResolver(r Resolver) {
	h.defaultResolver = r
}

// Advance is the primary write operation: it applies updates/removals/info
// against the branch, fast-forwarding
// when the handle is already at HEAD and falling back to a three-way
// merge (with per-key resolvers) when it is not.
func (h *Handle) Advance(updates map[string][]byte, removals []string, info map[string]string, onConflict OnConflict, mergeFns map[string]Resolver) (*MergeResult, error) {
	now := h.Now()

	head, err := h.readRef()
	if err != nil {
		return nil, err
	}

	// Case 1: no-op.
	if len(updates) == 0 && len(removals) == 0 && len(info) == 0 && h.CurrentCommit == head {
		return &MergeResult{Ok: true, Strategy: StrategyNoOp, Commit: head}, nil
	}

	// Case 2: fast-forward.
	if h.CurrentCommit == head {
		newID, err := h.engine.Write(h.CurrentCommit, updates, removals, info, now)
		if err != nil {
			return nil, err
		}
		var expected []byte
		if head != "" {
			expected = []byte(head)
		}
		ok, err := h.backend.CAS(backend.RefKey(h.Branch), []byte(newID), expected)
		if err != nil {
			return nil, kverrors.NewStorageError("cas ref", err)
		}
		if ok {
			h.CurrentCommit = newID
			h.BaseCommit = newID
			return &MergeResult{Ok: true, Strategy: StrategyFastForward, Commit: newID}, nil
		}
		// Lost the race: HEAD moved. h.CurrentCommit is untouched (state
		// recovery is implicit — we never assigned it). Refresh HEAD and
		// fall through to the three-way path below.
		head, err = h.readRef()
		if err != nil {
			return nil, err
		}
	}

	// Case 3: three-way merge.
	return h.threeWayMerge(updates, removals, info, head, onConflict, mergeFns, now)
}

func (h *Handle) threeWayMerge(updates map[string][]byte, removals []string, info map[string]string, head string, onConflict OnConflict, mergeFns map[string]Resolver, now float64) (*MergeResult, error) {
	oursID, err := h.engine.Write(h.CurrentCommit, updates, removals, info, now)
	if err != nil {
		return nil, err
	}

	baseID, found, err := h.engine.LCA(oursID, head)
	if err != nil {
		return nil, err
	}
	if !found && h.CurrentCommit != "" {
		return nil, fmt.Errorf("branch: commits %s and %s share no history", oursID, head)
	}

	// A handle that started on a branch with no commits yet shares the
	// empty state with whatever head it races: merge against an empty base.
	baseC := &commit.Commit{Entries: map[string]string{}}
	if found {
		baseC, err = h.engine.Load(baseID)
		if err != nil {
			return nil, err
		}
	}
	oursC, err := h.engine.Load(oursID)
	if err != nil {
		return nil, err
	}
	theirsC, err := h.engine.Load(head)
	if err != nil {
		return nil, err
	}

	final := make(map[string]string, len(baseC.Entries))
	for k, v := range baseC.Entries {
		final[k] = v
	}

	usDiff := commit.DiffResult{Added: oursC.Entries}
	themDiff := commit.DiffResult{Added: theirsC.Entries}
	if found {
		if usDiff, err = h.engine.Diff(baseID, oursID); err != nil {
			return nil, err
		}
		if themDiff, err = h.engine.Diff(baseID, head); err != nil {
			return nil, err
		}
	}
	touched := unionDiffKeys(usDiff, themDiff)

	var autoMerged, carried, conflicting []string
	mergeErrors := map[string]error{}

	for _, key := range touched {
		basePtr, baseOK := baseC.Entries[key]
		oursPtr, oursOK := oursC.Entries[key]
		theirsPtr, theirsOK := theirsC.Entries[key]

		oursChanged := oursPtr != basePtr || oursOK != baseOK
		theirsChanged := theirsPtr != basePtr || theirsOK != baseOK

		switch {
		case oursChanged && !theirsChanged:
			applyPointer(final, key, oursPtr, oursOK)
			carried = append(carried, key)
		case theirsChanged && !oursChanged:
			applyPointer(final, key, theirsPtr, theirsOK)
			carried = append(carried, key)
		case oursPtr == theirsPtr && oursOK == theirsOK:
			// Both sides changed, but landed on the same result.
			applyPointer(final, key, oursPtr, oursOK)
			carried = append(carried, key)
		default:
			resolver, ok := resolve(mergeFns, h.resolvers, h.defaultResolver, key)
			if !ok {
				conflicting = append(conflicting, key)
				continue
			}
			oldVal, err := loadValue(h.engine, basePtr, baseOK)
			if err != nil {
				mergeErrors[key] = err
				conflicting = append(conflicting, key)
				continue
			}
			oursVal, err := loadValue(h.engine, oursPtr, oursOK)
			if err != nil {
				mergeErrors[key] = err
				conflicting = append(conflicting, key)
				continue
			}
			theirsVal, err := loadValue(h.engine, theirsPtr, theirsOK)
			if err != nil {
				mergeErrors[key] = err
				conflicting = append(conflicting, key)
				continue
			}
			merged, err := resolver(oldVal, oursVal, theirsVal)
			if err != nil {
				mergeErrors[key] = err
				conflicting = append(conflicting, key)
				continue
			}
			if !merged.Present() {
				delete(final, key)
			} else {
				pointer, err := h.engine.PutBlob(key, merged.Data())
				if err != nil {
					return nil, err
				}
				final[key] = pointer
				h.engine.Touch(key, uint64(len(merged.Data())), now)
			}
			autoMerged = append(autoMerged, key)
		}
	}

	if len(conflicting) > 0 {
		if onConflict == OnConflictAbandon {
			return &MergeResult{Ok: false, Strategy: StrategyThreeWay, ConflictingKeys: conflicting}, nil
		}
		return nil, &kverrors.MergeConflict{ConflictingKeys: conflicting, MergeErrors: mergeErrors}
	}

	mergeID, err := h.engine.WriteCommit([]string{oursID, head}, final, info, now)
	if err != nil {
		return nil, err
	}

	ok, err := h.backend.CAS(backend.RefKey(h.Branch), []byte(mergeID), []byte(head))
	if err != nil {
		return nil, kverrors.NewStorageError("cas ref", err)
	}
	if !ok {
		// current_commit is NOT advanced on a lost race.
		if onConflict == OnConflictAbandon {
			return &MergeResult{Ok: false, Strategy: StrategyThreeWay}, nil
		}
		actual, err := h.readRef()
		if err != nil {
			return nil, err
		}
		return nil, &kverrors.ConcurrencyError{Branch: h.Branch, Expected: head, Actual: actual}
	}

	h.CurrentCommit = mergeID
	h.BaseCommit = mergeID
	return &MergeResult{
		Ok:             true,
		Strategy:       StrategyThreeWay,
		Commit:         mergeID,
		AutoMergedKeys: autoMerged,
		CarriedKeys:    carried,
	}, nil
}

// unionDiffKeys merges the added/removed/modified key sets of diff(base,
// ours) and diff(base, theirs) into one sorted, deduplicated candidate
// list — the Δ_us ∪ Δ_them set a three-way merge classifies. A key
// unchanged on both sides never appears in either diff, so it never
// reaches the classification loop and is carried over untouched as part
// of the base copy already seeded into final.
func unionDiffKeys(diffs ...commit.DiffResult) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, d := range diffs {
		for k := range d.Added {
			add(k)
		}
		for k := range d.Removed {
			add(k)
		}
		for k := range d.Modified {
			add(k)
		}
	}
	sort.Strings(keys)
	return keys
}

func applyPointer(final map[string]string, key, pointer string, present bool) {
	if present {
		final[key] = pointer
	} else {
		delete(final, key)
	}
}

func loadValue(e *commit.Engine, pointer string, present bool) (Value, error) {
	if !present {
		return Absent(), nil
	}
	data, ok, err := e.Backend.Get(backend.DataKey(pointer))
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, fmt.Errorf("branch: blob for pointer %s missing", pointer)
	}
	return Bytes(data), nil
}
