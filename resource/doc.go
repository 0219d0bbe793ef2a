// Package resource provides lifetime helpers for GPU objects whose release
// must wait for the GPU to finish with them.
//
// Three pieces cover the lifetimes a compute primitive deals with:
//
//   - [Scoped] wraps a value with an explicit deleter. The deleter runs once,
//     when the owner and every shared reference have released it.
//   - [Arena] is an index-addressed store with generation counters. It hands
//     out [Strong] references that keep a slot alive and [Weak] references
//     that only look it up. A weak reference never resurrects a freed slot,
//     even when the slot index has been reused.
//   - [Container] collects shared references for one submission and drops
//     them all once the submission's fence has signaled. It owns nothing of
//     its own.
//
// None of these types know about GPU handles; the deleter decides what
// release means.
package resource

// Releaser is implemented by anything a [Container] can hold.
type Releaser interface {
	Release()
}

// ReleaserFunc adapts a plain function to [Releaser].
type ReleaserFunc func()

// Release calls f.
func (f ReleaserFunc) Release() { f() }
