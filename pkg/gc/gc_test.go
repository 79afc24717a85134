package gc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kv/pkg/backend/disk"
	"kv/pkg/backend/memory"
	"kv/pkg/branch"
	"kv/pkg/commit"
	"kv/pkg/meta"
)

func newTestEngine(t *testing.T) *commit.Engine {
	t.Helper()
	return commit.New(memory.New(), disk.ContentAddressed{})
}

// TestGCWaterStrategyProperty is a property-based check of property 7: for
// a random set of keys with random sizes and a random scramble of extra
// touches (reads), a water-mode rebase always ends at or under low water,
// and every dropped key's last-touch value is no greater than every
// retained key's — coldest-first is never violated regardless of how the
// touch order was scrambled.
func TestGCWaterStrategyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newTestEngine(t)
		h, err := branch.Open(e, "main")
		require.NoError(rt, err)

		n := rapid.IntRange(2, 8).Draw(rt, "n")
		keys := make([]string, 0, n)
		for i := 0; i < n; i++ {
			key := fmt.Sprintf("k%d", i)
			size := rapid.IntRange(1, 50).Draw(rt, "size_"+key)
			_, err := h.Advance(map[string][]byte{key: make([]byte, size)}, nil, nil, branch.OnConflictRaise, nil)
			require.NoError(rt, err)
			keys = append(keys, key)
		}

		touches := rapid.IntRange(0, n*3).Draw(rt, "touches")
		for i := 0; i < touches; i++ {
			key := keys[rapid.IntRange(0, n-1).Draw(rt, "touch_key")]
			_, _, err := e.Read(h.CurrentCommit, key, 0)
			require.NoError(rt, err)
		}

		// Snapshot last-touch before rebase deletes metadata for dropped keys.
		lastTouch := make(map[string]uint64, n)
		for _, k := range keys {
			rec, ok, err := meta.Get(e.Backend, k)
			require.NoError(rt, err)
			require.True(rt, ok)
			lastTouch[k] = rec.LastTouch
		}

		g := New(e, Config{})
		total, err := g.TotalSize(h.CurrentCommit)
		require.NoError(rt, err)
		low := rapid.Uint64Range(0, total).Draw(rt, "low")
		g.Config.HighWaterBytes = total + 1
		g.Config.LowWaterBytes = low

		result, err := g.Rebase(h, nil, "property")
		require.NoError(rt, err)
		require.True(rt, result.Performed)
		// A drawn low of 0 selects the default low water (80% of high).
		require.LessOrEqual(rt, result.TotalSizeAfter, g.Config.lowWater())

		for _, d := range result.DroppedKeys {
			for _, k := range result.KeptKeys {
				require.LessOrEqual(rt, lastTouch[d], lastTouch[k],
					"dropped key %s must not be hotter than retained key %s", d, k)
			}
		}
	})
}

// TestS5WaterModeDropsColdestLargestFirst covers the literal
// S5 scenario: touching "hot" after "cold" keeps hot and drops cold once
// the high water mark is crossed.
func TestS5WaterModeDropsColdestLargestFirst(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)

	_, err = h.Advance(map[string][]byte{"cold": make([]byte, 100)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"hot": make([]byte, 10)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	// Re-touch hot so it sorts later than cold.
	_, err = h.Advance(map[string][]byte{"hot": make([]byte, 10)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{HighWaterBytes: 50, LowWaterBytes: 10})
	result, err := g.Rebase(h, nil, "test")
	require.NoError(t, err)
	require.True(t, result.Performed)
	require.Contains(t, result.DroppedKeys, "cold")
	require.NotContains(t, result.DroppedKeys, "hot")
	require.Contains(t, result.KeptKeys, "hot")

	_, ok, err := e.Read(h.CurrentCommit, "cold", 0)
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := e.Read(h.CurrentCommit, "hot", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v, 10)
}

// TestS6ProtectedKeySurvivesWaterMode covers the literal S6
// scenario: a "__"-prefixed key is never dropped, even cold and huge.
func TestS6ProtectedKeySurvivesWaterMode(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)

	_, err = h.Advance(map[string][]byte{"__config": make([]byte, 1000)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"small": make([]byte, 1)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{HighWaterBytes: 10, LowWaterBytes: 0})
	result, err := g.Rebase(h, nil, "test")
	require.NoError(t, err)
	require.NotContains(t, result.DroppedKeys, "__config")

	v, ok, err := e.Read(h.CurrentCommit, "__config", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v, 1000)
}

func TestExplicitModeKeepsOnlyGivenKeysPlusProtected(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)

	_, err = h.Advance(map[string][]byte{
		"a":        []byte("1"),
		"b":        []byte("2"),
		"__system": []byte("sys"),
	}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{})
	result, err := g.Rebase(h, []string{"a"}, "explicit")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "__system"}, result.KeptKeys)
	require.Equal(t, []string{"b"}, result.DroppedKeys)
}

func TestMaybeRebaseNoOpBelowHighWater(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"a": []byte("1")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{HighWaterBytes: 1_000_000})
	result, err := g.MaybeRebase(h)
	require.NoError(t, err)
	require.False(t, result.Performed)
}

func TestMaybeRebaseZeroHighWaterDisablesGC(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"a": make([]byte, 1000)}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{})
	result, err := g.MaybeRebase(h)
	require.NoError(t, err)
	require.False(t, result.Performed)
}

func TestRebaseProducesNewRootWithNoParents(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"a": []byte("1")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"b": []byte("2")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{})
	result, err := g.Rebase(h, []string{"a", "b"}, "test")
	require.NoError(t, err)

	c, err := e.Load(result.NewCommit)
	require.NoError(t, err)
	require.Empty(t, c.Parents, "a rebase commit must start fresh history")
}

// TestOrphanCleanupRemovesUnreachableHistory covers
// property 9: rebase's old history becomes unreachable and CleanOrphans
// removes it, but never touches anything still reachable from a ref.
func TestOrphanCleanupRemovesUnreachableHistory(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)
	r1, err := h.Advance(map[string][]byte{"a": []byte("1")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"b": []byte("2")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	g := New(e, Config{})
	result, err := g.Rebase(h, []string{"a", "b"}, "test")
	require.NoError(t, err)
	require.Positive(t, result.OrphansCleaned)

	_, err = e.Load(r1.Commit)
	require.Error(t, err, "old history must be gone after orphan cleanup")

	_, ok, err := e.Read(h.CurrentCommit, "a", 0)
	require.NoError(t, err)
	require.True(t, ok, "the rebased commit itself must remain reachable")
}

// TestCleanOrphansRemovesCommitScopedBlobs checks that orphan cleanup
// drops a removed commit's associated blobs when the store uses
// commit-scoped (not content-addressed) pointers, since nothing else
// references them by content.
func TestCleanOrphansRemovesCommitScopedBlobs(t *testing.T) {
	b := memory.New()
	e := commit.New(b, disk.CommitScoped{})
	h, err := branch.Open(e, "main")
	require.NoError(t, err)

	r1, err := h.Advance(map[string][]byte{"a": []byte("1")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	c1, err := e.Load(r1.Commit)
	require.NoError(t, err)
	pointer := c1.Entries["a"]

	_, err = h.Advance(map[string][]byte{"b": []byte("2")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	require.NoError(t, h.ResetTo(""))

	g := New(e, Config{})
	removed, err := g.CleanOrphans(0)
	require.NoError(t, err)
	require.Positive(t, removed)

	_, ok, err := b.Get("data/" + pointer)
	require.NoError(t, err)
	require.False(t, ok, "an orphaned commit-scoped blob must be removed along with its commit")
}

func TestCleanOrphansRespectsMinAge(t *testing.T) {
	e := newTestEngine(t)
	h, err := branch.Open(e, "main")
	require.NoError(t, err)
	r1, err := h.Advance(map[string][]byte{"a": []byte("1")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)
	_, err = h.Advance(map[string][]byte{"b": []byte("2")}, nil, nil, branch.OnConflictRaise, nil)
	require.NoError(t, err)

	// Manually orphan r1 by resetting the ref past it, then demand a huge
	// min age so the freshly-created (not-yet-old) orphan survives.
	require.NoError(t, h.ResetTo(""))

	g := New(e, Config{})
	removed, err := g.CleanOrphans(1_000_000)
	require.NoError(t, err)
	require.Zero(t, removed)

	_, err = e.Load(r1.Commit)
	require.NoError(t, err, "a too-young orphan must survive")
}
