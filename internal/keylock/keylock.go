// Package keylock implements the per-(FileID, VariantID) exclusive async
// lock table that guards every state transition in the repository core:
// marker creation, file directory creation, rename-into-place, and marker
// deletion are all taken under a single key's lock so that two callers
// racing on the same file or variant serialize instead of corrupting the
// on-disk layout.
//
// Locks are held only across those atomic transitions, never while a
// user-supplied processor runs, so a slow pipeline never starves other
// keys.
package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrTimeout is returned by TryLock when the lock is already held and the
// requested wait (zero or otherwise) elapses before it is free. It is
// distinct from context cancellation.
var ErrTimeout = errors.New("keylock: timed out waiting for lock")

// Key identifies a lockable unit: a FileId alone (Variant == "") guards the
// file-level transitions (add, delete, directory create/remove); a FileId
// plus a VariantId guards a single variant's transitions.
type Key struct {
	FileID  string
	Variant string
}

// entry is the per-key wait queue. held tracks whether the key is
// currently locked; waiters is a FIFO of channels, each closed in turn as
// the lock is handed off, giving fair (first-come-first-served) ordering.
type entry struct {
	held    bool
	waiters []chan struct{}
}

// Table is a process-wide table of per-key exclusive locks. The zero value
// is not usable; use New.
type Table struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// New returns an empty lock table.
func New() *Table {
	return &Table{entries: make(map[Key]*entry)}
}

// Guard releases the lock held for a single key when released. Release is
// idempotent; calling it more than once is a no-op.
type Guard struct {
	table    *Table
	key      Key
	released bool
}

// Lock acquires the exclusive lock for key, blocking in FIFO order until
// it is free or ctx is cancelled. On cancellation it returns ctx.Err() and
// the caller never enters the wait queue's held state.
func (t *Table) Lock(ctx context.Context, key Key) (*Guard, error) {
	for {
		t.mu.Lock()
		e := t.entryLocked(key)
		if !e.held {
			e.held = true
			t.mu.Unlock()
			return &Guard{table: t, key: key}, nil
		}
		wait := make(chan struct{})
		e.waiters = append(e.waiters, wait)
		t.mu.Unlock()

		select {
		case <-wait:
			return &Guard{table: t, key: key}, nil
		case <-ctx.Done():
			t.abandon(key, wait)
			return nil, ctx.Err()
		}
	}
}

// TryLock attempts to acquire key without blocking past timeout. A zero
// timeout fails immediately if the key is already held. Failure returns
// ErrTimeout, never ctx.Err(), unless ctx is cancelled first.
func (t *Table) TryLock(ctx context.Context, key Key, timeout <-chan struct{}) (*Guard, error) {
	t.mu.Lock()
	e := t.entryLocked(key)
	if !e.held {
		e.held = true
		t.mu.Unlock()
		return &Guard{table: t, key: key}, nil
	}
	wait := make(chan struct{})
	e.waiters = append(e.waiters, wait)
	t.mu.Unlock()

	select {
	case <-wait:
		return &Guard{table: t, key: key}, nil
	case <-ctx.Done():
		t.abandon(key, wait)
		return nil, ctx.Err()
	case <-timeout:
		t.abandon(key, wait)
		return nil, ErrTimeout
	}
}

// entryLocked returns (creating if necessary) the entry for key. Caller
// must hold t.mu.
func (t *Table) entryLocked(key Key) *entry {
	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
	}
	return e
}

// abandon removes wait from key's queue if it is still pending (the
// acquire lost a race against a concurrent hand-off). If the hand-off
// already happened, the lock was granted to us and must be released
// immediately to avoid leaking it.
func (t *Table) abandon(key Key, wait chan struct{}) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	for i, w := range e.waiters {
		if w == wait {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()

	select {
	case <-wait:
		(&Guard{table: t, key: key}).Release()
	default:
	}
}

// Release unlocks the guarded key, handing it off to the next waiter in
// FIFO order if any, or marking the key free otherwise. Safe to call more
// than once.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true

	t := g.table
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[g.key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		e.held = false
		if len(t.entries) > 0 {
			delete(t.entries, g.key)
		}
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}
