// Package subscription owns users' subscription state and the payment ledger.
// ApplyPaymentConfirmation is the only mutator of a subscription and is
// idempotent per transaction id.
package subscription

import (
	"context"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// Role is a user's role.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Status is the payment status of a subscription.
type Status string

const (
	StatusNone   Status = "none"
	StatusActive Status = "active"
)

var (
	ErrUserNotFound        = apperr.New("subscription", "GetSubscription", apperr.ErrNotFound, "user not found")
	ErrTransactionNotFound = apperr.New("subscription", "GetTransaction", apperr.ErrNotFound, "transaction not found")
	ErrTransactionMismatch = apperr.New("subscription", "ApplyPaymentConfirmation", apperr.ErrConflict,
		"transaction id already applied with different details")
	ErrUserExists = apperr.New("subscription", "CreateUser", apperr.ErrConflict, "user already exists")
)

// Subscription is the single current subscription record embedded in a user.
type Subscription struct {
	Plan          plan.Tier  `json:"plan"`
	PlanID        string     `json:"plan_id,omitempty"`
	PlanName      string     `json:"plan_name,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Status        Status     `json:"status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Amount        float64    `json:"amount,omitempty"`
}

// User is a registered platform user.
type User struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Transaction is an applied payment. The ledger is append-only.
type Transaction struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	PlanID        string    `json:"plan_id"`
	PlanName      string    `json:"plan_name"`
	Tier          plan.Tier `json:"tier"`
	Amount        float64   `json:"amount"`
	StartDate     time.Time `json:"start_date"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Fingerprint   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Confirmation is a payment confirmation already validated by the payment collaborator.
type Confirmation struct {
	UserID        string
	PlanID        string
	TransactionID string
	Amount        float64
}

// Result is the outcome of applying a confirmation.
type Result struct {
	Subscription Subscription
	Transaction  Transaction
	Replayed     bool // the transaction id had already been applied
}

// Store persists users, subscriptions and the payment ledger.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetSubscription(ctx context.Context, userID string) (Subscription, error)
	ApplyPaymentConfirmation(ctx context.Context, c Confirmation) (Result, error)
	GetTransaction(ctx context.Context, transactionID string) (Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Active reports whether the subscription grants access at now.
// A missing end date is treated as inactive.
func (s Subscription) Active(now time.Time) bool {
	return s.Status == StatusActive && s.Plan.Valid() && s.EndDate != nil && s.EndDate.After(now)
}

// FromTransaction rebuilds the subscription state a transaction produced.
func FromTransaction(tx Transaction) Subscription {
	start, end := tx.StartDate, tx.ExpiryDate
	return Subscription{
		Plan:          tx.Tier,
		PlanID:        tx.PlanID,
		PlanName:      tx.PlanName,
		StartDate:     &start,
		EndDate:       &end,
		Status:        StatusActive,
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount,
	}
}

func normalize(c Confirmation) (Confirmation, error) {
	switch {
	case c.TransactionID == "":
		return c, apperr.New("subscription", "ApplyPaymentConfirmation", apperr.ErrInvalidInput, "transaction id is required")
	case c.UserID == "":
		return c, apperr.New("subscription", "ApplyPaymentConfirmation", apperr.ErrInvalidInput, "user id is required")
	case c.PlanID == "":
		return c, apperr.New("subscription", "ApplyPaymentConfirmation", apperr.ErrInvalidInput, "plan id is required")
	case c.Amount < 0 || math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0):
		return c, apperr.New("subscription", "ApplyPaymentConfirmation", apperr.ErrInvalidInput, "amount must be a non-negative number")
	}
	c.Amount = math.Round(c.Amount*100) / 100
	return c, nil
}

// fingerprint identifies what a confirmation asked for, so a replay carrying
// different details under the same transaction id is rejected.
func fingerprint(c Confirmation) string {
	payload := c.UserID + "\x00" + c.PlanID + "\x00" + strconv.FormatFloat(c.Amount, 'f', 2, 64)
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func newUser(u User, now time.Time) (User, error) {
	if u.ID == "" {
		return u, apperr.New("subscription", "CreateUser", apperr.ErrInvalidInput, "user id is required")
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}
	if u.Role != RoleStudent && u.Role != RoleAdmin {
		return u, apperr.New("subscription", "CreateUser", apperr.ErrInvalidInput, "role must be student or admin")
	}
	if u.Subscription.Plan == plan.TierNone {
		u.Subscription.Plan = plan.TierFree
	}
	if u.Subscription.Status == "" {
		u.Subscription.Status = StatusNone
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	return u, nil
}
