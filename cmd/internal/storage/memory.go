package storage

import (
	"context"
	"sync"

	"nidentity/cmd/internal/gotrue"
)

// MemoryStore keeps the session for the life of the process.
// It is the default when nothing persistent is configured.
type MemoryStore struct {
	mu sync.Mutex
	u  *gotrue.User
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(ctx context.Context) (*gotrue.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.u.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, u *gotrue.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u = u.Clone()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.u = nil
	return nil
}

// Close is a noop.
func (s *MemoryStore) Close() error { return nil }
