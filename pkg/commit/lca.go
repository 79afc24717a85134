package commit

// LCA computes the lowest common ancestor of a and b: mark every ancestor
// of a via BFS, then walk b's ancestors and return the first one already
// marked. Returns ok=false only if a and b share no history, as with two
// independent root commits (e.g. written by two handles on a branch that
// had no commits yet, or a rebase's fresh root and the history it replaced).
func (e *Engine) LCA(a, b string) (string, bool, error) {
	ancestorsOfA, err := e.ancestorSet(a)
	if err != nil {
		return "", false, err
	}

	queue := []string{b}
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		if ancestorsOfA[id] {
			return id, true, nil
		}

		c, err := e.Load(id)
		if err != nil {
			return "", false, err
		}
		queue = append(queue, c.Parents...)
	}
	return "", false, nil
}

// ancestorSet returns the set of commit ids reachable from id (including
// id itself) by walking all parent edges.
func (e *Engine) ancestorSet(id string) (map[string]bool, error) {
	set := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if set[cur] {
			continue
		}
		set[cur] = true

		c, err := e.Load(cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.Parents...)
	}
	return set, nil
}
