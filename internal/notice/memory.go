package notice

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	notices map[string]Notice
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty notice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notices: make(map[string]Notice), now: time.Now}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(_ context.Context, n Notice) (Notice, error) {
	n, err := Normalize(n)
	if err != nil {
		return Notice{}, err
	}
	n.ID = uuid.NewString()
	n.CreatedAt = s.now()
	n.UpdatedAt = n.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices[n.ID] = n
	return clone(n), nil
}

func (s *MemoryStore) Update(_ context.Context, n Notice) (Notice, error) {
	n, err := Normalize(n)
	if err != nil {
		return Notice{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.notices[n.ID]
	if !ok {
		return Notice{}, fmt.Errorf("%w: %s", ErrNoticeNotFound, n.ID)
	}
	cur.Title = n.Title
	cur.Description = n.Description
	cur.TargetPlans = n.TargetPlans
	cur.UpdatedAt = s.now()
	s.notices[n.ID] = cur
	return clone(cur), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoticeNotFound, id)
	}
	delete(s.notices, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notice, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func clone(n Notice) Notice {
	n.TargetPlans = slices.Clone(n.TargetPlans)
	return n
}
