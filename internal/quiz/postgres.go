package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

const (
	dbTimeout = 5 * time.Second

	submissionColumns = `id, user_id, quiz_id, family, answers, score, total_questions,
		percentage_score, passed, created_at`
)

// PostgresStore is a PostgreSQL-backed SubmissionStore. The unique
// (user_id, quiz_id) constraint rejects the losing concurrent writer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed submission store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, sub Submission) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("encoding answers: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.QuizID, string(sub.Family), answers, sub.Score, sub.TotalQuestions,
		sub.PercentageScore, sub.Passed, sub.CreatedAt,
	)
	if err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return fmt.Errorf("%w: user %s quiz %s", ErrAlreadySubmitted, sub.UserID, sub.QuizID)
		case database.IsForeignKeyViolation(err, "quiz_submissions_user_id_fkey"):
			return fmt.Errorf("%w: %s", subscription.ErrUserNotFound, sub.UserID)
		case database.IsForeignKeyViolation(err, "quiz_submissions_quiz_id_fkey"):
			return fmt.Errorf("%w: %s", catalog.ErrQuizNotFound, sub.QuizID)
		}
		return apperr.Unavailable("quiz", "Create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, quizID string) (Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM quiz_submissions WHERE user_id = $1 AND quiz_id = $2`,
		userID, quizID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, fmt.Errorf("%w: user %s quiz %s", ErrSubmissionNotFound, userID, quizID)
		}
		return Submission{}, apperr.Unavailable("quiz", "Get", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Submission, error) {
	return s.query(ctx, "ListByUser",
		`SELECT `+submissionColumns+` FROM quiz_submissions WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *PostgresStore) List(ctx context.Context) ([]Submission, error) {
	return s.query(ctx, "List", `SELECT `+submissionColumns+` FROM quiz_submissions ORDER BY created_at, id`)
}

func (s *PostgresStore) query(ctx context.Context, op, sql string, args ...any) ([]Submission, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Unavailable("quiz", op, err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, apperr.Unavailable("quiz", op, err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("quiz", op, err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (Submission, error) {
	var sub Submission
	var family string
	var answers []byte
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.QuizID,
		&family,
		&answers,
		&sub.Score,
		&sub.TotalQuestions,
		&sub.PercentageScore,
		&sub.Passed,
		&sub.CreatedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	sub.Family = catalog.Family(family)
	if err := json.Unmarshal(answers, &sub.Answers); err != nil {
		return Submission{}, fmt.Errorf("decoding answers: %w", err)
	}
	return sub, nil
}
