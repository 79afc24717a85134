package commit

import "sort"

// DiffResult is the keyset comparison between two commits: which keys
// were added, removed, or changed pointer. Same pointer implies same
// bytes, so Diff never reads blobs.
type DiffResult struct {
	Added    map[string]string // key -> pointer, present in b but not a
	Removed  map[string]string // key -> pointer, present in a but not b
	Modified map[string]ModifiedEntry
}

// ModifiedEntry is a key whose pointer differs between the two commits.
type ModifiedEntry struct {
	OldPointer string
	NewPointer string
}

// Diff compares commits a and b by pointer equality over their sorted
// entry lists, run directly over a commit's flat key→pointer map since
// this data model keeps that map inline rather than indexed by a
// separate tree.
func (e *Engine) Diff(aID, bID string) (DiffResult, error) {
	result := DiffResult{
		Added:    map[string]string{},
		Removed:  map[string]string{},
		Modified: map[string]ModifiedEntry{},
	}
	if aID == bID {
		return result, nil
	}

	ca, err := e.Load(aID)
	if err != nil {
		return result, err
	}
	cb, err := e.Load(bID)
	if err != nil {
		return result, err
	}

	diffEntries(ca.Entries, cb.Entries, &result)
	return result, nil
}

// diffEntries runs a sorted merge-scan over two key→pointer maps,
// classifying each key as added, removed, or modified.
func diffEntries(a, b map[string]string, result *DiffResult) {
	keysA := sortedKeys(a)
	keysB := sortedKeys(b)

	i, j := 0, 0
	for i < len(keysA) && j < len(keysB) {
		ka, kb := keysA[i], keysB[j]
		switch {
		case ka < kb:
			result.Removed[ka] = a[ka]
			i++
		case ka > kb:
			result.Added[kb] = b[kb]
			j++
		default:
			if a[ka] != b[kb] {
				result.Modified[ka] = ModifiedEntry{OldPointer: a[ka], NewPointer: b[kb]}
			}
			i++
			j++
		}
	}
	for ; i < len(keysA); i++ {
		result.Removed[keysA[i]] = a[keysA[i]]
	}
	for ; j < len(keysB); j++ {
		result.Added[keysB[j]] = b[keysB[j]]
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
