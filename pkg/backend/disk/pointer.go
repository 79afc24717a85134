package disk

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// PointerScheme decides how a commit's key→pointer map addresses blob
// bytes under data/<pointer>. Either scheme is valid provided "pointer
// resolves to exactly the bytes committed" holds within one store; pick
// one per store and keep it consistent.
type PointerScheme interface {
	// Pointer derives the data/ pointer for value, given a scope string
	// and the user key it is being written under (commit-scoped schemes
	// use both; content-addressed schemes ignore them). scope is a fresh
	// identifier minted once per blob write by the caller — never the id
	// of the commit that will end up owning the entry: that id isn't
	// known yet (it depends on the very entries map this pointer feeds
	// into), and two diverging writes sharing one parent commit must not
	// collapse onto the same scope or their blobs alias.
	Pointer(scope, userKey string, value []byte) string
}

// ContentAddressed derives pointers from the hash of the value bytes, so
// two commits that write the same bytes under different keys share one
// blob on disk. The pointer is encoded as a CIDv1 (raw codec, SHA2-256
// multihash), base32-multibase encoded.
type ContentAddressed struct{}

func (ContentAddressed) Pointer(_, _ string, value []byte) string {
	mh, err := multihash.Sum(value, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only fails for unsupported codes/lengths; SHA2_256
		// with length -1 (default) is always supported.
		panic(fmt.Sprintf("disk: compute multihash: %v", err))
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		panic(fmt.Sprintf("disk: encode CID: %v", err))
	}
	return encoded
}

// CommitScoped derives pointers as "<scope>/<key>", where scope is a
// fresh identifier (see PointerScheme.Pointer) the caller mints once per
// write rather than the owning commit's id. Simpler than content
// addressing — no hashing — at the cost of no cross-commit blob dedup;
// orphan cleanup (pkg/gc, also run by rebase) removes an orphaned commit's
// blobs under this scheme, reading their pointers straight out of its
// entries map and skipping any pointer a reachable commit still holds.
type CommitScoped struct{}

func (CommitScoped) Pointer(scope, userKey string, _ []byte) string {
	return scope + "/" + userKey
}
