package commit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kv/pkg/backend/disk"
	"kv/pkg/backend/memory"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(memory.New(), disk.ContentAddressed{})
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	e := newEngine(t)

	id, err := e.Write("", map[string][]byte{"a": []byte("1")}, nil, nil, 1.0)
	require.NoError(t, err)

	v, ok, err := e.Read(id, "a", 2.0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	_, ok, err = e.Read(id, "missing", 2.0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteBuildsOnParent(t *testing.T) {
	e := newEngine(t)

	c1, err := e.Write("", map[string][]byte{"a": []byte("1")}, nil, nil, 1.0)
	require.NoError(t, err)
	c2, err := e.Write(c1, map[string][]byte{"b": []byte("2")}, nil, nil, 2.0)
	require.NoError(t, err)

	v, ok, err := e.Read(c2, "a", 3.0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	v, ok, err = e.Read(c2, "b", 3.0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestWriteAppliesRemovals(t *testing.T) {
	e := newEngine(t)

	c1, err := e.Write("", map[string][]byte{"a": []byte("1"), "b": []byte("2")}, nil, nil, 1.0)
	require.NoError(t, err)
	c2, err := e.Write(c1, nil, []string{"a"}, nil, 2.0)
	require.NoError(t, err)

	_, ok, err := e.Read(c2, "a", 3.0)
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := e.Read(c2, "b", 3.0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestIdenticalContentYieldsIdenticalID(t *testing.T) {
	e := newEngine(t)

	id1, err := e.WriteCommit([]string{"p"}, map[string]string{"k": "ptr"}, map[string]string{"m": "1"}, 5.0)
	require.NoError(t, err)
	id2, err := e.WriteCommit([]string{"p"}, map[string]string{"k": "ptr"}, map[string]string{"m": "1"}, 5.0)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestDifferentContentYieldsDifferentID(t *testing.T) {
	e := newEngine(t)

	id1, err := e.WriteCommit(nil, map[string]string{"k": "ptr1"}, nil, 5.0)
	require.NoError(t, err)
	id2, err := e.WriteCommit(nil, map[string]string{"k": "ptr2"}, nil, 5.0)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestLoadVerifiesContentAddressing(t *testing.T) {
	e := newEngine(t)
	id, err := e.Write("", map[string][]byte{"a": []byte("1")}, nil, nil, 1.0)
	require.NoError(t, err)

	c, err := e.Load(id)
	require.NoError(t, err)
	require.Equal(t, id, c.ID)

	got, err := c.computeID()
	require.NoError(t, err)
	require.Equal(t, id, got, "re-serializing a loaded commit must reproduce its id")
}

func TestKeysAreSorted(t *testing.T) {
	e := newEngine(t)
	id, err := e.Write("", map[string][]byte{"z": []byte("1"), "a": []byte("2"), "m": []byte("3")}, nil, nil, 1.0)
	require.NoError(t, err)

	keys, err := e.Keys(id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "m", "z"}, keys)
}

// TestContentAddressingProperty is a property-based check
// property 1 describes: for every commit built from arbitrary parents/entries/
// info, re-serializing and rehashing must reproduce its stored id.
func TestContentAddressingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEngine(t)

		n := rapid.IntRange(0, 5).Draw(rt, "n")
		entries := map[string][]byte{}
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "key")
			val := rapid.SliceOf(rapid.Byte()).Draw(rt, "val")
			entries[key] = val
		}

		id, err := e.Write("", entries, nil, nil, rapid.Float64().Draw(rt, "now"))
		require.NoError(rt, err)

		c, err := e.Load(id)
		require.NoError(rt, err)
		got, err := c.computeID()
		require.NoError(rt, err)
		require.Equal(rt, id, got)
	})
}

func TestWriteIsIdempotentOnIdenticalCommit(t *testing.T) {
	e := newEngine(t)
	id1, err := e.WriteCommit(nil, map[string]string{"k": "ptr"}, nil, 1.0)
	require.NoError(t, err)

	before, err := e.Backend.Keys()
	require.NoError(t, err)

	id2, err := e.WriteCommit(nil, map[string]string{"k": "ptr"}, nil, 1.0)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	after, err := e.Backend.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, before, after, "rewriting an identical commit must not add new backend keys")
}
