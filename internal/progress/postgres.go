package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

const (
	dbTimeout = 5 * time.Second

	progressColumns = `id, user_id, book_id, completed_chapters, COALESCE(last_read_chapter_id, ''), created_at, updated_at`
)

// PostgresStore is a PostgreSQL-backed Store. Each write is a single upsert
// on the (user_id, book_id) unique key, so concurrent first accesses create
// one row and concurrent completions of the same chapter add it once.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, userID, bookID string) (BookProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`INSERT INTO book_progress (id, user_id, book_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id, book_id) DO UPDATE SET updated_at = book_progress.updated_at
		 RETURNING `+progressColumns,
		uuid.NewString(), userID, bookID, s.now().UTC(),
	))
	if err != nil {
		return BookProgress{}, writeError("GetOrCreate", userID, bookID, err)
	}
	return p, nil
}

func (s *PostgresStore) AddCompleted(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`INSERT INTO book_progress (id, user_id, book_id, completed_chapters, last_read_chapter_id, created_at, updated_at)
		 VALUES ($1, $2, $3, ARRAY[$4::text], $4::text, $5, $5)
		 ON CONFLICT (user_id, book_id) DO UPDATE SET
		     completed_chapters = CASE
		         WHEN $4::text = ANY (book_progress.completed_chapters) THEN book_progress.completed_chapters
		         ELSE array_append(book_progress.completed_chapters, $4::text)
		     END,
		     last_read_chapter_id = $4::text,
		     updated_at = $5
		 RETURNING `+progressColumns,
		uuid.NewString(), userID, bookID, chapterID, s.now().UTC(),
	))
	if err != nil {
		return BookProgress{}, writeError("AddCompleted", userID, bookID, err)
	}
	return p, nil
}

func (s *PostgresStore) SetLastRead(ctx context.Context, userID, bookID, chapterID string) (BookProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.pool.QueryRow(ctx,
		`INSERT INTO book_progress (id, user_id, book_id, last_read_chapter_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, book_id) DO UPDATE SET last_read_chapter_id = $4, updated_at = $5
		 RETURNING `+progressColumns,
		uuid.NewString(), userID, bookID, chapterID, s.now().UTC(),
	))
	if err != nil {
		return BookProgress{}, writeError("SetLastRead", userID, bookID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]BookProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+progressColumns+` FROM book_progress WHERE user_id = $1 ORDER BY book_id`, userID)
	if err != nil {
		return nil, apperr.Unavailable("progress", "ListByUser", err)
	}
	defer rows.Close()

	var out []BookProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, apperr.Unavailable("progress", "ListByUser", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("progress", "ListByUser", err)
	}
	return out, nil
}

// writeError maps a failed upsert to NotFound when the user or book row is
// missing, and to Unavailable otherwise.
func writeError(op, userID, bookID string, err error) error {
	switch {
	case database.IsForeignKeyViolation(err, "book_progress_user_id_fkey"):
		return fmt.Errorf("%w: %s", subscription.ErrUserNotFound, userID)
	case database.IsForeignKeyViolation(err, "book_progress_book_id_fkey"):
		return fmt.Errorf("%w: %s", catalog.ErrBookNotFound, bookID)
	}
	return apperr.Unavailable("progress", op, err)
}

func scanProgress(row pgx.Row) (BookProgress, error) {
	var p BookProgress
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.BookID,
		&p.CompletedChapters,
		&p.LastReadChapterID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return BookProgress{}, err
	}
	if p.CompletedChapters == nil {
		p.CompletedChapters = []string{}
	}
	return p, nil
}
