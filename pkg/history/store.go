package history

import (
	"context"
	"sync"
)

// Store persists the conversation log. It is read once at session start and
// written after every turn append. Implementations must fall back to Seed()
// rather than returning corrupt data.
type Store interface {
	// Load returns the persisted turn log.
	Load(ctx context.Context) ([]Turn, error)

	// Save replaces the persisted turn log.
	Save(ctx context.Context, turns []Turn) error
}

// MemoryStore keeps the log in memory. Used for tests and for runs without
// a redis backend; the log does not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	turns []Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store. An empty store returns the greeting seed.
func (s *MemoryStore) Load(ctx context.Context) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return Seed(), nil
	}
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = make([]Turn, len(turns))
	copy(s.turns, turns)
	return nil
}

var _ Store = (*MemoryStore)(nil)
