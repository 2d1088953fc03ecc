package progress_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/platform/database/dbtest"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

func TestPostgresStore_ConcurrentUpserts(t *testing.T) {
	pool := dbtest.NewPool(t)
	dbtest.Exec(t, pool, `INSERT INTO users (id, name) VALUES ('u1', 'Ali')`)
	dbtest.Exec(t, pool, `INSERT INTO books (id, name) VALUES ('book-a', 'A')`)

	s, err := progress.NewPostgresStore(pool)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.AddCompleted(ctx, "u1", "book-a", "a1")
			} else {
				_, err = s.GetOrCreate(ctx, "u1", "book-a")
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"a1"}, all[0].CompletedChapters)
	assert.Equal(t, "a1", all[0].LastReadChapterID)

	p, err := s.SetLastRead(ctx, "u1", "book-a", "a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", p.LastReadChapterID)
	assert.Equal(t, []string{"a1"}, p.CompletedChapters)
}

func TestPostgresStore_MissingRowsAreNotFound(t *testing.T) {
	pool := dbtest.NewPool(t)
	dbtest.Exec(t, pool, `INSERT INTO users (id, name) VALUES ('u1', 'Ali')`)
	dbtest.Exec(t, pool, `INSERT INTO books (id, name) VALUES ('book-a', 'A')`)

	s, err := progress.NewPostgresStore(pool)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name   string
		write  func() error
		target error
	}{
		{
			name:   "unknown user completes chapter",
			write:  func() error { _, err := s.AddCompleted(ctx, "ghost", "book-a", "a1"); return err },
			target: subscription.ErrUserNotFound,
		},
		{
			name:   "unknown user opens book",
			write:  func() error { _, err := s.GetOrCreate(ctx, "ghost", "book-a"); return err },
			target: subscription.ErrUserNotFound,
		},
		{
			name:   "unknown book",
			write:  func() error { _, err := s.SetLastRead(ctx, "u1", "book-z", "z1"); return err },
			target: catalog.ErrBookNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.write()
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, apperr.IsNotFound(err))
		})
	}
}
