// Package progress tracks per-user reading progress through books.
package progress

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

var ErrChapterNotInBook = apperr.New("progress", "MarkChapterComplete", apperr.ErrInvalidInput, "chapter does not belong to book")

// BookProgress is one user's progress through one book. There is at most one
// per (UserID, BookID).
type BookProgress struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	BookID            string    `json:"book_id"`
	CompletedChapters []string  `json:"completed_chapters"` // set, in completion order
	LastReadChapterID string    `json:"last_read_chapter_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasCompleted reports whether chapterID is in the completed set.
func (p BookProgress) HasCompleted(chapterID string) bool {
	return slices.Contains(p.CompletedChapters, chapterID)
}

// Store persists BookProgress. Every method creates the record on first use
// and is atomic per (userID, bookID).
type Store interface {
	GetOrCreate(ctx context.Context, userID, bookID string) (BookProgress, error)
	AddCompleted(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error)
	SetLastRead(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error)
	ListByUser(ctx context.Context, userID string) ([]BookProgress, error)
}

// Completion is a progress record joined with the book's current chapters.
type Completion struct {
	Progress      BookProgress `json:"progress"`
	TotalChapters int          `json:"total_chapters"`
	Completed     int          `json:"completed"`
	Percentage    float64      `json:"percentage"` // 0..1
}

// TrackerConfig holds the tracker's dependencies.
type TrackerConfig struct {
	Store   Store
	Catalog catalog.Catalog
}

// Tracker validates progress updates against the catalog.
type Tracker struct {
	store   Store
	catalog catalog.Catalog
}

// NewTracker creates a progress tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{store: cfg.Store, catalog: cfg.Catalog}
}

// GetOrCreateBookProgress returns the user's progress for bookID, creating an
// empty record on first access.
func (t *Tracker) GetOrCreateBookProgress(ctx context.Context, userID, bookID string) (BookProgress, error) {
	if err := t.checkBook(ctx, "GetOrCreateBookProgress", userID, bookID); err != nil {
		return BookProgress{}, err
	}
	return t.store.GetOrCreate(ctx, userID, bookID)
}

// MarkChapterComplete adds chapterID to the completed set and moves the
// last-read pointer to it. Repeating it changes nothing but the pointer.
func (t *Tracker) MarkChapterComplete(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	if err := t.checkChapter(ctx, "MarkChapterComplete", userID, bookID, chapterID); err != nil {
		return BookProgress{}, err
	}
	return t.store.AddCompleted(ctx, userID, bookID, chapterID)
}

// UpdateLastRead moves the last-read pointer without touching completion.
func (t *Tracker) UpdateLastRead(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	if err := t.checkChapter(ctx, "UpdateLastRead", userID, bookID, chapterID); err != nil {
		return BookProgress{}, err
	}
	return t.store.SetLastRead(ctx, userID, bookID, chapterID)
}

// ReadingProgress returns every book the user has progress in, ordered by
// book id.
func (t *Tracker) ReadingProgress(ctx context.Context, userID string) ([]BookProgress, error) {
	if userID == "" {
		return nil, apperr.New("progress", "ReadingProgress", apperr.ErrInvalidInput, "user id is required")
	}
	out, err := t.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []BookProgress{}
	}
	return out, nil
}

// Completion reports how much of the book's current chapter list the user
// has completed. Completed chapters since removed from the book do not count.
func (t *Tracker) Completion(ctx context.Context, userID, bookID string) (Completion, error) {
	if userID == "" {
		return Completion{}, apperr.New("progress", "Completion", apperr.ErrInvalidInput, "user id is required")
	}
	chapters, err := t.catalog.ListChapters(ctx, bookID)
	if err != nil {
		return Completion{}, err
	}
	p, err := t.store.GetOrCreate(ctx, userID, bookID)
	if err != nil {
		return Completion{}, err
	}

	done := 0
	for _, ch := range chapters {
		if p.HasCompleted(ch.ID) {
			done++
		}
	}
	return Completion{
		Progress:      p,
		TotalChapters: len(chapters),
		Completed:     done,
		Percentage:    ratio(done, len(chapters)),
	}, nil
}

// CompletionPercentage returns the completed fraction of totalChapters in
// [0, 1]; 0 when the book has no chapters.
func CompletionPercentage(p BookProgress, totalChapters int) float64 {
	return ratio(len(p.CompletedChapters), totalChapters)
}

func ratio(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	if done > total {
		done = total
	}
	return float64(done) / float64(total)
}

func (t *Tracker) checkBook(ctx context.Context, op, userID, bookID string) error {
	if userID == "" || bookID == "" {
		return apperr.New("progress", op, apperr.ErrInvalidInput, "user id and book id are required")
	}
	if _, err := t.catalog.Book(ctx, bookID); err != nil {
		return err
	}
	return nil
}

func (t *Tracker) checkChapter(ctx context.Context, op, userID, bookID, chapterID string) error {
	if err := t.checkBook(ctx, op, userID, bookID); err != nil {
		return err
	}
	parent, err := t.catalog.ChapterParentBook(ctx, chapterID)
	if err != nil {
		return err
	}
	if parent != bookID {
		return fmt.Errorf("%w: chapter %s is in book %s, not %s", ErrChapterNotInBook, chapterID, parent, bookID)
	}
	return nil
}
