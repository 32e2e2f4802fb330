// File: internal/registry/registry.go
// Package registry keeps the messenger's connection set.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Registry holds every connection in an ordered sequence and, for the
// connections whose peer is known, an index by peer key. One mutex guards
// both, so a caller never sees a member in one and not the other midway
// through an update.

package registry

import (
	"container/list"
	"sync"
)

// Member is a registry element.
type Member interface {
	comparable
	// PeerKey returns the peer index key once the peer identity is known.
	PeerKey() (string, bool)
	// Ref takes a reference on behalf of a lookup caller.
	Ref()
}

// Registry is safe for concurrent use.
type Registry[M Member] struct {
	mu     sync.Mutex
	seq    *list.List
	elems  map[M]*list.Element
	byPeer map[string]M
}

// New returns an empty registry.
func New[M Member]() *Registry[M] {
	return &Registry[M]{
		seq:    list.New(),
		elems:  make(map[M]*list.Element),
		byPeer: make(map[string]M),
	}
}

// Append adds m to the sequence only. It reports false if m is present.
func (r *Registry[M]) Append(m M) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(m)
}

func (r *Registry[M]) appendLocked(m M) bool {
	if _, ok := r.elems[m]; ok {
		return false
	}
	r.elems[m] = r.seq.PushBack(m)
	return true
}

// TryIndex binds m's peer key if no member holds it yet. m must already be
// in the sequence. It reports whether m is now the indexed member.
func (r *Registry[M]) TryIndex(m M) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.elems[m]; !ok {
		return false
	}
	key, ok := m.PeerKey()
	if !ok {
		return false
	}
	if cur, bound := r.byPeer[key]; bound {
		return cur == m
	}
	r.byPeer[key] = m
	return true
}

// Lookup returns the member indexed under key with a reference taken.
func (r *Registry[M]) Lookup(key string) (M, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPeer[key]
	if ok {
		m.Ref()
	}
	return m, ok
}

// LookupOrCreate returns the member indexed under key, or runs create and
// inserts its result. The lock is held across create, so concurrent
// callers for one key get the same member and create runs at most once.
// create must not call back into the registry. The returned member
// carries a reference for the caller.
func (r *Registry[M]) LookupOrCreate(key string, create func() (M, error)) (M, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byPeer[key]; ok {
		m.Ref()
		return m, false, nil
	}
	m, err := create()
	if err != nil {
		var zero M
		return zero, false, err
	}
	r.appendLocked(m)
	r.byPeer[key] = m
	m.Ref()
	return m, true, nil
}

// Remove erases m from the sequence, and from the peer index only while
// the index still points at m. It reports whether m was present.
func (r *Registry[M]) Remove(m M) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(m)
}

func (r *Registry[M]) removeLocked(m M) bool {
	if key, ok := m.PeerKey(); ok {
		if cur, bound := r.byPeer[key]; bound && cur == m {
			delete(r.byPeer, key)
		}
	}
	e, ok := r.elems[m]
	if !ok {
		return false
	}
	r.seq.Remove(e)
	delete(r.elems, m)
	return true
}

// Indexed reports whether key is bound.
func (r *Registry[M]) Indexed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPeer[key]
	return ok
}

// Snapshot returns the members in insertion order.
func (r *Registry[M]) Snapshot() []M {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]M, 0, r.seq.Len())
	for e := r.seq.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(M))
	}
	return out
}

// Len returns the sequence length.
func (r *Registry[M]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq.Len()
}

// IndexLen returns the number of bound peer keys.
func (r *Registry[M]) IndexLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPeer)
}

// Drain empties the registry and returns what it held, in order.
func (r *Registry[M]) Drain() []M {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]M, 0, r.seq.Len())
	for e := r.seq.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(M))
	}
	r.seq.Init()
	clear(r.elems)
	clear(r.byPeer)
	return out
}
