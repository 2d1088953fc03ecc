package notice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

const (
	dbTimeout = 5 * time.Second

	noticeColumns = `id, title, description, target_plans, created_by, created_at, updated_at`
)

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed notice store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Create(ctx context.Context, n Notice) (Notice, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	n, err := Normalize(n)
	if err != nil {
		return Notice{}, err
	}

	created, err := scanNotice(s.pool.QueryRow(ctx,
		`INSERT INTO notices (id, title, description, target_plans, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+noticeColumns,
		uuid.NewString(), n.Title, n.Description, tierStrings(n.TargetPlans), n.CreatedBy,
		s.now().UTC().Truncate(time.Microsecond),
	))
	if err != nil {
		if database.IsForeignKeyViolation(err, "notices_created_by_fkey") {
			return Notice{}, fmt.Errorf("%w: %s", subscription.ErrUserNotFound, n.CreatedBy)
		}
		return Notice{}, apperr.Unavailable("notice", "Create", err)
	}
	return created, nil
}

func (s *PostgresStore) Update(ctx context.Context, n Notice) (Notice, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	n, err := Normalize(n)
	if err != nil {
		return Notice{}, err
	}

	updated, err := scanNotice(s.pool.QueryRow(ctx,
		`UPDATE notices SET title = $2, description = $3, target_plans = $4, updated_at = $5
		 WHERE id = $1
		 RETURNING `+noticeColumns,
		n.ID, n.Title, n.Description, tierStrings(n.TargetPlans), s.now().UTC().Truncate(time.Microsecond),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notice{}, fmt.Errorf("%w: %s", ErrNoticeNotFound, n.ID)
		}
		return Notice{}, apperr.Unavailable("notice", "Update", err)
	}
	return updated, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM notices WHERE id = $1`, id)
	if err != nil {
		return apperr.Unavailable("notice", "Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNoticeNotFound, id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Notice, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+noticeColumns+` FROM notices ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, apperr.Unavailable("notice", "List", err)
	}
	defer rows.Close()

	out := []Notice{}
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, apperr.Unavailable("notice", "List", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("notice", "List", err)
	}
	return out, nil
}

func scanNotice(row pgx.Row) (Notice, error) {
	var n Notice
	var targets []string
	err := row.Scan(
		&n.ID,
		&n.Title,
		&n.Description,
		&targets,
		&n.CreatedBy,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return Notice{}, err
	}
	n.TargetPlans = make([]plan.Tier, len(targets))
	for i, t := range targets {
		n.TargetPlans[i] = plan.Tier(t)
	}
	return n, nil
}

func tierStrings(tiers []plan.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
