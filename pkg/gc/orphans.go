package gc

import (
	"strings"
	"time"

	"kv/pkg/backend"
	"kv/pkg/backend/disk"
)

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// CleanOrphans removes commits unreachable from any branch ref whose
// creation timestamp is older than minAgeSeconds (wall-clock seconds,
// compared against the collector's own clock at call time), and returns
// how many it removed. A positive minAgeSeconds
// guards against racing a writer that has persisted a commit object but
// not yet CAS'd the ref pointing to it; rebase itself calls this with
// minAgeSeconds=0, accepting that narrow race as documented. Under
// disk.CommitScoped pointers a removed commit's blobs are removed too,
// except those a reachable commit still references.
func (g *Collector) CleanOrphans(minAgeSeconds float64) (int, error) {
	reachable, err := g.reachableSet()
	if err != nil {
		return 0, err
	}

	keys, err := g.Engine.Backend.Keys()
	if err != nil {
		return 0, err
	}

	// Under commit-scoped pointers a child commit inherits its parent's
	// pointers, so a blob may belong to an orphan and a live commit at once.
	_, commitScoped := g.Engine.Scheme.(disk.CommitScoped)
	livePointers := make(map[string]bool)
	if commitScoped {
		for id := range reachable {
			if c, err := g.Engine.Load(id); err == nil {
				for _, pointer := range c.Entries {
					livePointers[pointer] = true
				}
			}
		}
	}

	now := nowSeconds()
	removed := 0
	for _, key := range keys {
		id, ok := stripCommitPrefix(key)
		if !ok {
			continue
		}
		if reachable[id] {
			continue
		}
		c, err := g.Engine.Load(id)
		if err != nil {
			// A commit that fails to load (e.g. a concurrent cleaner
			// already removed it) is simply skipped.
			continue
		}
		if now-c.CreatedAt < minAgeSeconds {
			continue
		}
		if commitScoped {
			for _, pointer := range c.Entries {
				if livePointers[pointer] {
					continue
				}
				if err := g.Engine.Backend.Remove(backend.DataKey(pointer)); err != nil {
					return removed, err
				}
			}
		}
		if err := g.Engine.Backend.Remove(key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// reachableSet walks the DAG from every branch ref and unions the
// visited commit ids.
func (g *Collector) reachableSet() (map[string]bool, error) {
	branches, err := listRefs(g.Engine.Backend)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]bool)
	for _, head := range branches {
		if head == "" {
			continue
		}
		queue := []string{head}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if reachable[id] {
				continue
			}
			reachable[id] = true
			c, err := g.Engine.Load(id)
			if err != nil {
				continue
			}
			queue = append(queue, c.Parents...)
		}
	}
	return reachable, nil
}

func listRefs(b backend.Backend) ([]string, error) {
	keys, err := b.Keys()
	if err != nil {
		return nil, err
	}
	var heads []string
	for _, k := range keys {
		if !strings.HasPrefix(k, backend.RefsPrefix) {
			continue
		}
		v, ok, err := b.Get(k)
		if err != nil {
			return nil, err
		}
		if ok {
			heads = append(heads, string(v))
		}
	}
	return heads, nil
}

func stripCommitPrefix(key string) (string, bool) {
	if !strings.HasPrefix(key, backend.CommitsPrefix) {
		return "", false
	}
	return key[len(backend.CommitsPrefix):], true
}
