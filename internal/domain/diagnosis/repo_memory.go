package diagnosis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medassist/medassist/pkg/pagination"
)

// MemoryStore keeps records for the lifetime of the process. Records are
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	order   []uuid.UUID
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("diagnosis %s already exists", r.ID)
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.records[r.ID] = clone(r)
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, p Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(r, s.now().UTC())
	return clone(r), nil
}

// List returns records newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.order)
	start, end := pagination.Params{Limit: limit, Offset: offset}.Bounds(total)
	out := make([]*Record, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, clone(s.records[s.order[total-1-i]]))
	}
	return out, total, nil
}

func clone(r *Record) *Record {
	c := *r
	c.Recommendations = copyStrings(r.Recommendations)
	c.Suggestions = copyStrings(r.Suggestions)
	return &c
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
