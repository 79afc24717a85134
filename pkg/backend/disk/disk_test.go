package disk

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskGetSetRemove(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := b.Get("commits/abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Set("commits/abc", []byte("payload")))
	v, ok, err := b.Get("commits/abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)

	require.NoError(t, b.Remove("commits/abc"))
	_, ok, err = b.Get("commits/abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	b1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, b1.Set("refs/main", []byte("deadbeef")))

	b2, err := New(dir)
	require.NoError(t, err)
	v, ok, err := b2.Get("refs/main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("deadbeef"), v)
}

func TestDiskCASCreateIfAbsentAndCompare(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	ok, err := b.CAS("refs/main", []byte("c1"), nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.CAS("refs/main", []byte("c2"), nil)
	require.NoError(t, err)
	require.False(t, ok, "create-if-absent must fail once the key exists")

	ok, err = b.CAS("refs/main", []byte("c2"), []byte("wrong"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = b.CAS("refs/main", []byte("c2"), []byte("c1"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDiskKeysSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, b.Set("data/x", []byte("1")))
	require.NoError(t, b.Set("data/y", []byte("2")))
	// A leftover temp file from an interrupted atomicWrite.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", ".tmp-leftover"), []byte("partial"), 0o644))

	keys, err := b.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"data/x", "data/y"}, keys)
}

func TestDiskCASLinearizableUnderConcurrency(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := b.CAS("refs/race", []byte{byte(i)}, nil)
			require.NoError(t, err)
			wins <- ok
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for ok := range wins {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestDiskClear(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, b.Set("data/x", []byte("1")))
	require.NoError(t, b.Clear())

	keys, err := b.Keys()
	require.NoError(t, err)
	require.Empty(t, keys)
}
