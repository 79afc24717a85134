package commit

import (
	"encoding/json"
	"sort"

	"kv/pkg/digest"
)

// entryJSON is one key→pointer mapping in the canonical encoding.
type entryJSON struct {
	Key     string `json:"key"`
	Pointer string `json:"pointer"`
}

// canonicalJSON is the wire shape of Commit.canonicalBytes: fixed field order,
// entries emitted in sorted key order. Go's
// encoding/json already sorts map[string]string keys when marshaling, so
// Info (a map) is deterministic as-is; Entries is built as an explicit
// sorted slice to make the ordering requirement visible in the type
// rather than relying on that encoding/json behavior implicitly.
type canonicalJSON struct {
	Parents   []string          `json:"parents"`
	Entries   []entryJSON       `json:"entries"`
	Info      map[string]string `json:"info,omitempty"`
	CreatedAt float64           `json:"created_at"`
}

// canonicalBytes returns c's canonical serialization: the exact bytes
// hashed to produce c's content id, and the exact bytes stored under
// commits/<id>.
func (c *Commit) canonicalBytes() ([]byte, error) {
	keys := make([]string, 0, len(c.Entries))
	for k := range c.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]entryJSON, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, entryJSON{Key: k, Pointer: c.Entries[k]})
	}

	parents := c.Parents
	if parents == nil {
		parents = []string{}
	}

	return json.Marshal(canonicalJSON{
		Parents:   parents,
		Entries:   entries,
		Info:      c.Info,
		CreatedAt: c.CreatedAt,
	})
}

// computeID returns the content digest of c's canonical serialization:
// the value the commit's id must equal.
func (c *Commit) computeID() (string, error) {
	b, err := c.canonicalBytes()
	if err != nil {
		return "", err
	}
	return digest.Sum(b).String(), nil
}

// decodeCommit parses canonical bytes back into a Commit. It does not
// set ID; callers that loaded the bytes under a known id are responsible
// for verifying computeID() matches (see Load).
func decodeCommit(data []byte) (*Commit, error) {
	var cj canonicalJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, err
	}
	entries := make(map[string]string, len(cj.Entries))
	for _, e := range cj.Entries {
		entries[e.Key] = e.Pointer
	}
	return &Commit{
		Parents:   cj.Parents,
		Entries:   entries,
		Info:      cj.Info,
		CreatedAt: cj.CreatedAt,
	}, nil
}
