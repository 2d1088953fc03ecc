package subscription

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
)

const (
	dbTimeout = 5 * time.Second

	userColumns = `id, name, role, plan_tier, plan_id, plan_name, start_date, end_date,
		payment_status, last_transaction_id, last_amount, created_at`
	transactionColumns = `id, transaction_id, user_id, plan_id, plan_name, tier, amount,
		start_date, expiry_date, fingerprint, created_at`
)

// PostgresStore is a PostgreSQL-backed Store. The unique index on
// transactions.transaction_id makes payment application idempotent.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed subscription store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	u, err := newUser(u, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, name, role, plan_tier, payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, string(u.Role), string(u.Subscription.Plan), string(u.Subscription.Status), u.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: %s", ErrUserExists, u.ID)
		}
		return User{}, apperr.Unavailable("subscription", "CreateUser", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return User{}, apperr.Unavailable("subscription", "GetUser", err)
	}
	return u, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	return u.Subscription, nil
}

func (s *PostgresStore) ApplyPaymentConfirmation(ctx context.Context, c Confirmation) (Result, error) {
	c, err := normalize(c)
	if err != nil {
		return Result{}, err
	}
	fp := fingerprint(c)

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, applied, err := s.applyOnce(ctx, c, fp)
	if err != nil || applied {
		return res, err
	}

	// Lost the insert race to a concurrent delivery of the same transaction.
	return s.replay(ctx, c.TransactionID, fp)
}

// applyOnce applies c inside one SQL transaction. applied is false when the
// transaction id already exists and nothing was written.
func (s *PostgresStore) applyOnce(ctx context.Context, c Confirmation, fp string) (Result, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, c.TransactionID))
	switch {
	case err == nil:
		res, err := replayResult(prev, fp)
		return res, true, err
	case !errors.Is(err, pgx.ErrNoRows):
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}

	var userID string
	if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, c.UserID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, false, fmt.Errorf("%w: %s", ErrUserNotFound, c.UserID)
		}
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}

	var p plan.Plan
	var tier string
	if err := tx.QueryRow(ctx,
		`SELECT id, name, tier, duration_months FROM plans WHERE id = $1`, c.PlanID,
	).Scan(&p.ID, &p.Name, &tier, &p.DurationMonths); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, false, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, c.PlanID)
		}
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}
	p.Tier = plan.Tier(tier)

	now := s.now().UTC().Truncate(time.Microsecond)
	t := Transaction{
		ID:            uuid.NewString(),
		TransactionID: c.TransactionID,
		UserID:        c.UserID,
		PlanID:        p.ID,
		PlanName:      p.Name,
		Tier:          p.Tier,
		Amount:        c.Amount,
		StartDate:     now,
		ExpiryDate:    now.AddDate(0, p.DurationMonths, 0),
		Fingerprint:   fp,
		CreatedAt:     now,
	}

	cmd, err := tx.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		t.ID, t.TransactionID, t.UserID, t.PlanID, t.PlanName, string(t.Tier), t.Amount,
		t.StartDate, t.ExpiryDate, t.Fingerprint, t.CreatedAt,
	)
	if err != nil {
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}
	if cmd.RowsAffected() == 0 {
		return Result{}, false, nil
	}

	sub := FromTransaction(t)
	if _, err := tx.Exec(ctx,
		`UPDATE users
		 SET plan_tier = $2, plan_id = $3, plan_name = $4, start_date = $5, end_date = $6,
		     payment_status = $7, last_transaction_id = $8, last_amount = $9
		 WHERE id = $1`,
		c.UserID, string(sub.Plan), sub.PlanID, sub.PlanName, sub.StartDate, sub.EndDate,
		string(sub.Status), sub.TransactionID, sub.Amount,
	); err != nil {
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, false, apperr.Unavailable("subscription", "ApplyPaymentConfirmation", err)
	}
	return Result{Subscription: sub, Transaction: t}, true, nil
}

func (s *PostgresStore) replay(ctx context.Context, transactionID, fp string) (Result, error) {
	prev, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	return replayResult(prev, fp)
}

func replayResult(prev Transaction, fp string) (Result, error) {
	if prev.Fingerprint != fp {
		return Result{}, fmt.Errorf("%w: %s", ErrTransactionMismatch, prev.TransactionID)
	}
	return Result{Subscription: FromTransaction(prev), Transaction: prev, Replayed: true}, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	t, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
		}
		return Transaction{}, apperr.Unavailable("subscription", "GetTransaction", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Unavailable("subscription", "ListTransactions", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, apperr.Unavailable("subscription", "ListTransactions", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("subscription", "ListTransactions", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, apperr.Unavailable("subscription", "ListUsers", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Unavailable("subscription", "ListUsers", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("subscription", "ListUsers", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var role, tier, status string
	var planID, planName, txID *string
	var amount *float64
	err := row.Scan(
		&u.ID,
		&u.Name,
		&role,
		&tier,
		&planID,
		&planName,
		&u.Subscription.StartDate,
		&u.Subscription.EndDate,
		&status,
		&txID,
		&amount,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.Subscription.Plan = plan.Tier(tier)
	u.Subscription.Status = Status(status)
	u.Subscription.PlanID = deref(planID)
	u.Subscription.PlanName = deref(planName)
	u.Subscription.TransactionID = deref(txID)
	if amount != nil {
		u.Subscription.Amount = *amount
	}
	return u, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var tier string
	err := row.Scan(
		&t.ID,
		&t.TransactionID,
		&t.UserID,
		&t.PlanID,
		&t.PlanName,
		&tier,
		&t.Amount,
		&t.StartDate,
		&t.ExpiryDate,
		&t.Fingerprint,
		&t.CreatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	t.Tier = plan.Tier(tier)
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
