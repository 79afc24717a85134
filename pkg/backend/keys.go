package backend

import (
	"strings"

	"kv/pkg/kverrors"
)

// Reserved key-family prefixes. All backend keys the engine writes fall
// under exactly one of these.
const (
	CommitsPrefix = "commits/"
	RefsPrefix    = "refs/"
	DataPrefix    = "data/"
	MetaPrefix    = "meta/"
)

// CommitKey returns the backend key holding commit id's canonical bytes.
func CommitKey(id string) string { return CommitsPrefix + id }

// RefKey returns the backend key holding branch name's current commit id.
func RefKey(branch string) string { return RefsPrefix + branch }

// DataKey returns the backend key holding the blob addressed by pointer.
func DataKey(pointer string) string { return DataPrefix + pointer }

// MetaKey returns the backend key holding userKey's per-key metadata.
func MetaKey(userKey string) string { return MetaPrefix + userKey }

// ValidateBranchName enforces that branch names must not contain '/',
// the reserved separator.
func ValidateBranchName(name string) error {
	if name == "" {
		return kverrors.ErrInvalidArgument
	}
	if strings.Contains(name, "/") {
		return kverrors.ErrInvalidArgument
	}
	return nil
}

// ValidateUserKey enforces that user keys must not begin with a
// reserved prefix. Keys may otherwise contain '/', used by namespace
// prefixing.
func ValidateUserKey(key string) error {
	if key == "" {
		return kverrors.ErrInvalidArgument
	}
	for _, prefix := range []string{CommitsPrefix, RefsPrefix, DataPrefix, MetaPrefix} {
		if strings.HasPrefix(key, prefix) {
			return kverrors.ErrInvalidArgument
		}
	}
	return nil
}

// DefaultIsProtected is the default protected-key predicate: keys
// beginning with "__", checked both at the start of the key and after any
// namespace prefix (the last '/'-separated segment boundary before a
// leaf that starts with "__").
func DefaultIsProtected(key string) bool {
	if strings.HasPrefix(key, "__") {
		return true
	}
	idx := strings.LastIndex(key, "/")
	if idx >= 0 && strings.HasPrefix(key[idx+1:], "__") {
		return true
	}
	return false
}
