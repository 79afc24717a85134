package commit

// HistoryIterator walks a commit's ancestry, newest to oldest. Calling
// Engine.History again starts a fresh, independent traversal — the
// iterator itself holds no backend-side cursor, only an in-memory queue.
type HistoryIterator struct {
	e          *Engine
	allParents bool
	queue      []string
	seen       map[string]bool
}

// History returns a lazy traversal starting at commitID. allParents
// selects DAG (BFS over all parents, de-duplicating) traversal;
// otherwise traversal follows only the first parent (linear history).
func (e *Engine) History(commitID string, allParents bool) *HistoryIterator {
	return &HistoryIterator{
		e:          e,
		allParents: allParents,
		queue:      []string{commitID},
		seen:       make(map[string]bool),
	}
}

// Next returns the next commit in the traversal, or ok=false once
// exhausted. Mirrors the BFS commit walkers in the retrieved corpus
// (e.g. antgroup-hugescm's bfsCommitIterator): dequeue, mark seen,
// enqueue unseen parents.
func (h *HistoryIterator) Next() (*Commit, bool, error) {
	for len(h.queue) > 0 {
		id := h.queue[0]
		h.queue = h.queue[1:]

		if h.seen[id] {
			continue
		}
		h.seen[id] = true

		c, err := h.e.Load(id)
		if err != nil {
			return nil, false, err
		}

		if len(c.Parents) > 0 {
			if h.allParents {
				h.queue = append(h.queue, c.Parents...)
			} else {
				h.queue = append(h.queue, c.Parents[0])
			}
		}
		return c, true, nil
	}
	return nil, false, nil
}

// Collect drains the iterator into a slice. Intended for tests and small
// histories; callers walking large histories should use Next directly.
func (h *HistoryIterator) Collect() ([]*Commit, error) {
	var out []*Commit
	for {
		c, ok, err := h.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}
