// Package kv is a versioned, content-addressable key-value engine with
// git-like semantics: immutable commits, named branches, three-way merge
// with pluggable per-key conflict resolution, and optional size-bounded
// garbage collection.
//
// The module is organized the way its history suggests it grew:
//
//   - pkg/backend defines the byte-level storage contract (get/set/CAS)
//     everything else builds on, with pkg/backend/memory and
//     pkg/backend/disk as the two built-in implementations.
//   - pkg/commit is the commit engine: content-addressed commit objects,
//     blob storage, history traversal, diff, and lowest-common-ancestor.
//   - pkg/branch is the branch/merge engine layered on top: a Handle
//     advances a named branch's HEAD via backend CAS, fast-forwarding
//     when possible and three-way merging with per-key resolvers
//     otherwise.
//   - pkg/gc is the garbage collector: a size-triggered rebase that
//     rewrites a branch as a fresh root commit retaining only the keys a
//     coldness policy selects, plus orphan cleanup for unreachable
//     commits.
//   - pkg/codec, pkg/staging, and pkg/namespace are optional collaborators
//     above the core engine: built-in value codecs and their merge
//     resolvers, a write-buffering front-end, and key-prefixing views.
//   - pkg/kvstore is the convenience entry point that wires a backend, a
//     commit engine, and GC together behind three constructors (Open,
//     OpenScoped, OpenMemory).
//
// Most callers should start with pkg/kvstore.Open or OpenMemory rather
// than assembling pkg/backend, pkg/commit, and pkg/branch by hand.
package kv
