// internal/lobby/locks.go
package lobby

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable hands out one mutex per lobby id. Storage row locks keep mutations
// consistent across instances; this table additionally keeps commit and publish
// of one lobby in the same order on this instance.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the lobby's mutex and returns its release func.
func (t *lockTable) lock(id uuid.UUID) func() {
	t.mu.Lock()
	e, ok := t.locks[id]
	if !ok {
		e = &lockEntry{}
		t.locks[id] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
