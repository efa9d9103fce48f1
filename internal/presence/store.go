// internal/presence/store.go
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is a user's liveness entry. It is rewritten on every heartbeat and
// counts as absent once ExpiresAt has passed.
type Record struct {
	UserID            uuid.UUID  `json:"userId"`
	OverlayInstanceID string     `json:"overlayInstanceId,omitempty"`
	CurrentLobbyID    *uuid.UUID `json:"currentLobbyId,omitempty"`
	IsHosting         bool       `json:"isHosting"`
	HaloRunning       bool       `json:"haloRunning"`
	LastSeenAt        time.Time  `json:"lastSeenAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
}

// Live reports whether the record is still within its TTL at now.
func (r *Record) Live(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Store keeps presence records. Get must treat an expired record as absent;
// Expired lists users whose record lapsed but was never cleaned up.
type Store interface {
	Put(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, userID uuid.UUID, now time.Time) (*Record, error)
	Delete(ctx context.Context, userID uuid.UUID) error
	Expired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// MemoryStore is a per-instance Store. Lapsed records stay until Delete so that
// Expired can report them.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record)}
}

func (m *MemoryStore) Put(_ context.Context, rec Record, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID, now time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok || !rec.Live(now) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

func (m *MemoryStore) Expired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if !rec.Live(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	ids := make([]uuid.UUID, len(out))
	for i, rec := range out {
		ids[i] = rec.UserID
	}
	return ids, nil
}
