package progress

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type progressKey struct{ userID, bookID string }

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	records map[progressKey]*BookProgress
	now     func() time.Time
	mu      sync.Mutex
}

// NewMemoryStore creates an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[progressKey]*BookProgress),
		now:     time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID, bookID string) (BookProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.getOrCreate(userID, bookID)), nil
}

func (s *MemoryStore) AddCompleted(_ context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreate(userID, bookID)
	if !slices.Contains(p.CompletedChapters, chapterID) {
		p.CompletedChapters = append(p.CompletedChapters, chapterID)
	}
	p.LastReadChapterID = chapterID
	p.UpdatedAt = s.now()
	return clone(p), nil
}

func (s *MemoryStore) SetLastRead(_ context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreate(userID, bookID)
	p.LastReadChapterID = chapterID
	p.UpdatedAt = s.now()
	return clone(p), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]BookProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []BookProgress
	for k, p := range s.records {
		if k.userID == userID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookID < out[j].BookID })
	return out, nil
}

// getOrCreate must be called with s.mu held.
func (s *MemoryStore) getOrCreate(userID, bookID string) *BookProgress {
	k := progressKey{userID, bookID}
	if p, ok := s.records[k]; ok {
		return p
	}
	now := s.now()
	p := &BookProgress{
		ID:                uuid.NewString(),
		UserID:            userID,
		BookID:            bookID,
		CompletedChapters: []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.records[k] = p
	return p
}

func clone(p *BookProgress) BookProgress {
	out := *p
	out.CompletedChapters = slices.Clone(p.CompletedChapters)
	return out
}
