// Package namespace implements a key-prefixing view: a thin wrapper
// around a branch.Handle that transparently prepends/strips a fixed
// prefix, so
// several tenants can share one branch's key space without colliding.
// It adds no semantics of its own — every call is a pass-through to the
// wrapped Handle's public API.
package namespace

import (
	"strings"

	"kv/pkg/backend"
	"kv/pkg/branch"
	"kv/pkg/kverrors"
)

// View scopes a branch.Handle to keys under a fixed prefix. A View over
// prefix "tenant-42/" sees key "foo" as backend key "tenant-42/foo";
// protected-key detection (backend.DefaultIsProtected) already accounts
// for a namespace prefix ahead of a "__"-leaf, so GC still protects
// "tenant-42/__config" when scoped through this view.
type View struct {
	handle *branch.Handle
	prefix string
}

// New returns a View over h scoped to prefix. prefix must not contain the
// reserved '/' separator (one trailing '/' is accepted and normalized
// away) and, once the separator is appended, must pass
// backend.ValidateUserKey like any other key; otherwise New returns
// ErrInvalidArgument.
func New(h *branch.Handle, prefix string) (*View, error) {
	name := strings.TrimSuffix(prefix, "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, kverrors.ErrInvalidArgument
	}
	if err := backend.ValidateUserKey(name + "/"); err != nil {
		return nil, err
	}
	return &View{handle: h, prefix: name + "/"}, nil
}

func (v *View) scoped(key string) string { return v.prefix + key }

// Get reads key within the view's namespace at the handle's current
// commit, touching the scoped key's metadata exactly as a direct
// commit.Engine.Read would.
func (v *View) Get(key string) ([]byte, bool, error) {
	return v.handle.Engine().Read(v.handle.CurrentCommit, v.scoped(key), v.handle.Now())
}

// Put stages a single-key update and immediately advances the
// underlying handle. Batch several keys through Advance directly (or via
// package staging) to commit them together.
func (v *View) Put(key string, value []byte) (*branch.MergeResult, error) {
	return v.handle.Advance(map[string][]byte{v.scoped(key): value}, nil, nil, branch.OnConflictRaise, nil)
}

// Delete removes a single key within the view's namespace and advances.
func (v *View) Delete(key string) (*branch.MergeResult, error) {
	return v.handle.Advance(nil, []string{v.scoped(key)}, nil, branch.OnConflictRaise, nil)
}

// Keys enumerates every key live in the view's namespace at the handle's
// current commit, with the prefix stripped.
func (v *View) Keys() ([]string, error) {
	all, err := v.handle.Engine().Keys(v.handle.CurrentCommit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if rest, ok := stripPrefix(k, v.prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}

// Handle returns the underlying, unscoped Handle, for callers that need
// cross-namespace operations (branch management, GC) the view itself
// deliberately does not expose.
func (v *View) Handle() *branch.Handle { return v.handle }

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}
