package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/plan"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	plans        plan.Lookup
	now          func() time.Time
	users        map[string]*User
	transactions map[string]Transaction // keyed by payment transaction id
	mu           sync.RWMutex
}

// NewMemoryStore creates an in-memory subscription store resolving plans through plans.
func NewMemoryStore(plans plan.Lookup) *MemoryStore {
	return &MemoryStore{
		plans:        plans,
		now:          time.Now,
		users:        make(map[string]*User),
		transactions: make(map[string]Transaction),
	}
}

// WithClock replaces the store's clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	u, err := newUser(u, s.now())
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserExists, u.ID)
	}
	s.users[u.ID] = &u
	return u, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return *u, nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	return u.Subscription, nil
}

func (s *MemoryStore) ApplyPaymentConfirmation(ctx context.Context, c Confirmation) (Result, error) {
	c, err := normalize(c)
	if err != nil {
		return Result{}, err
	}
	fp := fingerprint(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.transactions[c.TransactionID]; ok {
		if prev.Fingerprint != fp {
			return Result{}, fmt.Errorf("%w: %s", ErrTransactionMismatch, c.TransactionID)
		}
		return Result{Subscription: FromTransaction(prev), Transaction: prev, Replayed: true}, nil
	}

	u, ok := s.users[c.UserID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUserNotFound, c.UserID)
	}
	p, err := s.plans.Plan(ctx, c.PlanID)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	tx := Transaction{
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
	s.transactions[c.TransactionID] = tx
	u.Subscription = FromTransaction(tx)

	return Result{Subscription: u.Subscription, Transaction: tx}, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, transactionID string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	return tx, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
