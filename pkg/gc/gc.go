// Package gc implements size-bounded rebase and orphan cleanup, the
// garbage collector layered over the commit/branch engines.
package gc

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"kv/pkg/backend"
	"kv/pkg/branch"
	"kv/pkg/commit"
	"kv/pkg/kverrors"
	"kv/pkg/meta"
)

// Config controls when and how rebase trims a branch.
type Config struct {
	// HighWaterBytes triggers a rebase once a branch's total persisted
	// size exceeds it.
	HighWaterBytes uint64
	// LowWaterBytes is the target a water-mode rebase drops down to.
	// Defaults to 80% of HighWaterBytes when zero.
	LowWaterBytes uint64
	// IsProtected reports whether a key must never be dropped. Defaults
	// to backend.DefaultIsProtected.
	IsProtected func(key string) bool
}

func (c Config) lowWater() uint64 {
	if c.LowWaterBytes != 0 {
		return c.LowWaterBytes
	}
	return c.HighWaterBytes * 8 / 10
}

func (c Config) isProtected(key string) bool {
	if c.IsProtected != nil {
		return c.IsProtected(key)
	}
	return backend.DefaultIsProtected(key)
}

// RebaseResult reports what a rebase did.
type RebaseResult struct {
	Performed       bool
	RebaseID        string
	NewCommit       string
	DroppedKeys     []string
	KeptKeys        []string
	TotalSizeBefore uint64
	TotalSizeAfter  uint64
	OrphansCleaned  int
}

// Collector ties a Config to the engine/handle it rebases.
type Collector struct {
	Engine *commit.Engine
	Config Config
}

// New creates a Collector over engine with cfg.
func New(engine *commit.Engine, cfg Config) *Collector {
	return &Collector{Engine: engine, Config: cfg}
}

// TotalSize sums meta/<key>.size over every key present in commitID,
// the trigger condition MaybeRebase checks after a successful Advance.
func (g *Collector) TotalSize(commitID string) (uint64, error) {
	keys, err := g.Engine.Keys(commitID)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, k := range keys {
		rec, ok, err := meta.Get(g.Engine.Backend, k)
		if err != nil {
			return 0, err
		}
		if ok {
			total += rec.Size
		}
	}
	return total, nil
}

// MaybeRebase checks h's branch against HighWaterBytes and, if crossed,
// performs a water-mode rebase. Call after every successful Advance.
func (g *Collector) MaybeRebase(h *branch.Handle) (*RebaseResult, error) {
	total, err := g.TotalSize(h.CurrentCommit)
	if err != nil {
		return nil, err
	}
	if g.Config.HighWaterBytes == 0 || total <= g.Config.HighWaterBytes {
		return &RebaseResult{Performed: false, TotalSizeBefore: total, TotalSizeAfter: total}, nil
	}
	return g.Rebase(h, nil, "high_water_exceeded")
}

// Rebase rewrites h's branch as a fresh root commit retaining only a
// selected key set, then cleans the now-unreachable history. keepKeys
// nil selects water mode (coldest-then-largest
// drop order until at or under LowWaterBytes); non-nil selects explicit
// mode (keepKeys plus every protected key).
func (g *Collector) Rebase(h *branch.Handle, keepKeys []string, reason string) (*RebaseResult, error) {
	head := h.CurrentCommit
	c, err := g.Engine.Load(head)
	if err != nil {
		return nil, err
	}

	totalBefore, err := g.TotalSize(head)
	if err != nil {
		return nil, err
	}

	var keepSet map[string]bool
	if keepKeys != nil {
		keepSet = make(map[string]bool, len(keepKeys))
		for _, k := range keepKeys {
			keepSet[k] = true
		}
		for k := range c.Entries {
			if g.Config.isProtected(k) {
				keepSet[k] = true
			}
		}
	} else {
		keepSet, err = g.waterKeepSet(c, totalBefore)
		if err != nil {
			return nil, err
		}
	}

	kept := map[string]string{}
	var keptKeys, droppedKeys []string
	for k, pointer := range c.Entries {
		if keepSet[k] {
			kept[k] = pointer
			keptKeys = append(keptKeys, k)
		} else {
			droppedKeys = append(droppedKeys, k)
		}
	}
	sort.Strings(keptKeys)
	sort.Strings(droppedKeys)

	rebaseID := uuid.NewString()
	info := map[string]string{
		"reason":        reason,
		"dropped_count": fmt.Sprintf("%d", len(droppedKeys)),
		"rebase_id":     rebaseID,
	}

	newID, err := g.Engine.WriteCommit(nil, kept, info, h.Now())
	if err != nil {
		return nil, err
	}

	ok, err := h.Backend().CAS(backend.RefKey(h.Branch), []byte(newID), []byte(head))
	if err != nil {
		return nil, kverrors.NewStorageError("cas ref", err)
	}
	if !ok {
		actual, refErr := h.RefValue()
		if refErr != nil {
			return nil, refErr
		}
		return nil, &kverrors.ConcurrencyError{Branch: h.Branch, Expected: head, Actual: actual}
	}

	for _, k := range droppedKeys {
		_ = meta.Delete(g.Engine.Backend, k)
	}

	if err := h.Refresh(); err != nil {
		return nil, err
	}

	orphansCleaned, err := g.CleanOrphans(0)
	if err != nil {
		return nil, err
	}

	totalAfter, err := g.TotalSize(newID)
	if err != nil {
		return nil, err
	}

	return &RebaseResult{
		Performed:       true,
		RebaseID:        rebaseID,
		NewCommit:       newID,
		DroppedKeys:     droppedKeys,
		KeptKeys:        keptKeys,
		TotalSizeBefore: totalBefore,
		TotalSizeAfter:  totalAfter,
		OrphansCleaned:  orphansCleaned,
	}, nil
}

// waterKeepSet implements the default rebase policy: sort keys by
// (touch_counter ASC, size DESC) and drop coldest-then-largest first
// until the remaining total is at or under LowWaterBytes, always
// retaining protected keys.
func (g *Collector) waterKeepSet(c *commit.Commit, total uint64) (map[string]bool, error) {
	type scored struct {
		key   string
		touch uint64
		size  uint64
	}
	entries := make([]scored, 0, len(c.Entries))
	for k := range c.Entries {
		rec, _, err := meta.Get(g.Engine.Backend, k)
		if err != nil {
			return nil, err
		}
		entries = append(entries, scored{key: k, touch: rec.LastTouch, size: rec.Size})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].touch != entries[j].touch {
			return entries[i].touch < entries[j].touch
		}
		return entries[i].size > entries[j].size
	})

	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[e.key] = true
	}

	low := g.Config.lowWater()
	for _, e := range entries {
		if total <= low {
			break
		}
		if g.Config.isProtected(e.key) {
			continue
		}
		delete(keep, e.key)
		total -= e.size
	}
	return keep, nil
}
