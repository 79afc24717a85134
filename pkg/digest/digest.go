// Package digest computes the content-addressing hash for commit ids. The
// content-addressed blob pointer scheme (pkg/backend/disk) does not use it;
// it builds CIDs with go-multihash instead.
//
// The hash function is fixed for the lifetime of a store: any cryptographic
// digest of at least 128 bits, encoded as lowercase hex, would satisfy the
// content-addressing requirement; this engine uses SHA-256.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ID is a SHA-256 content digest.
type ID [32]byte

// Zero is the all-zero ID (not the digest of empty content), an explicit
// "no id" value.
var Zero ID

// Sum computes the digest of data.
func Sum(data []byte) ID {
	return sha256.Sum256(data)
}

// String returns the lowercase hex encoding of the digest.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero digest.
func (id ID) IsZero() bool {
	return id == Zero
}

// Parse decodes a hex-encoded digest string.
func Parse(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, errShortDigest
	}
	copy(id[:], b)
	return id, nil
}

var errShortDigest = errors.New("digest: decoded hash must be 32 bytes")
