// Package report derives per-user quiz statistics and platform revenue
// statistics. Everything is recomputed from submissions and the payment
// ledger on each call.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

// QuizStats summarizes a set of submissions.
type QuizStats struct {
	Attempts     int     `json:"attempts"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	AverageScore float64 `json:"average_score"`
	MinScore     int     `json:"min_score"`
	MaxScore     int     `json:"max_score"`
	Percentage   float64 `json:"percentage"` // AverageScore * 10
}

// UserStats is a user's quiz record split by content family.
type UserStats struct {
	UserID string    `json:"user_id"`
	All    QuizStats `json:"all"`
	Book   QuizStats `json:"book"`
	Course QuizStats `json:"course"`
}

// RevenueBucket is revenue for one period.
type RevenueBucket struct {
	Period       string  `json:"period"` // YYYY-MM or YYYY-Www
	Revenue      float64 `json:"revenue"`
	Transactions int     `json:"transactions"`
}

// PlatformStats is the platform-wide summary.
type PlatformStats struct {
	TotalUsers          int               `json:"total_users"`
	UsersByPlan         map[plan.Tier]int `json:"users_by_plan"`
	ActiveSubscriptions int               `json:"active_subscriptions"`
	TotalRevenue        float64           `json:"total_revenue"`
	Transactions        int               `json:"transactions"`
	Monthly             []RevenueBucket   `json:"monthly"`
	Weekly              []RevenueBucket   `json:"weekly"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

// SubmissionSource lists quiz submissions.
type SubmissionSource interface {
	ListByUser(ctx context.Context, userID string) ([]quiz.Submission, error)
}

// LedgerSource lists users and applied payments.
type LedgerSource interface {
	GetUser(ctx context.Context, userID string) (subscription.User, error)
	ListUsers(ctx context.Context) ([]subscription.User, error)
	ListTransactions(ctx context.Context) ([]subscription.Transaction, error)
}

// Source is what callers of a reporter depend on.
type Source interface {
	UserStats(ctx context.Context, userID string) (UserStats, error)
	PlatformStats(ctx context.Context) (PlatformStats, error)
}

// ReporterConfig holds the reporter's dependencies.
type ReporterConfig struct {
	Submissions SubmissionSource
	Ledger      LedgerSource
	Now         func() time.Time // defaults to time.Now
}

// Reporter computes statistics on demand.
type Reporter struct {
	submissions SubmissionSource
	ledger      LedgerSource
	now         func() time.Time
}

// NewReporter creates a reporter.
func NewReporter(cfg ReporterConfig) *Reporter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reporter{submissions: cfg.Submissions, ledger: cfg.Ledger, now: now}
}

// UserStats summarizes one user's submissions. Unknown users are NotFound.
func (r *Reporter) UserStats(ctx context.Context, userID string) (UserStats, error) {
	if _, err := r.ledger.GetUser(ctx, userID); err != nil {
		return UserStats{}, err
	}
	subs, err := r.submissions.ListByUser(ctx, userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("listing submissions: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return UserStats{}, err
	}

	var book, course []quiz.Submission
	for _, s := range subs {
		switch s.Family {
		case catalog.FamilyBook:
			book = append(book, s)
		case catalog.FamilyCourse:
			course = append(course, s)
		}
	}
	return UserStats{
		UserID: userID,
		All:    Summarize(subs),
		Book:   Summarize(book),
		Course: Summarize(course),
	}, nil
}

// PlatformStats summarizes users and revenue.
func (r *Reporter) PlatformStats(ctx context.Context) (PlatformStats, error) {
	users, err := r.ledger.ListUsers(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("listing users: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return PlatformStats{}, err
	}
	txs, err := r.ledger.ListTransactions(ctx)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("listing transactions: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return PlatformStats{}, err
	}

	now := r.now()
	stats := PlatformStats{
		TotalUsers:   len(users),
		UsersByPlan:  make(map[plan.Tier]int, len(plan.Tiers)),
		Transactions: len(txs),
		GeneratedAt:  now.UTC(),
	}
	for _, t := range plan.Tiers {
		stats.UsersByPlan[t] = 0
	}
	for _, u := range users {
		stats.UsersByPlan[u.Subscription.Plan]++
		if u.Subscription.Active(now) {
			stats.ActiveSubscriptions++
		}
	}

	monthly := make(map[string]*RevenueBucket)
	weekly := make(map[string]*RevenueBucket)
	for _, tx := range txs {
		stats.TotalRevenue += tx.Amount
		addTo(monthly, MonthKey(tx.CreatedAt), tx.Amount)
		addTo(weekly, WeekKey(tx.CreatedAt), tx.Amount)
	}
	stats.TotalRevenue = round2(stats.TotalRevenue)
	stats.Monthly = sortedBuckets(monthly)
	stats.Weekly = sortedBuckets(weekly)
	return stats, nil
}

// Summarize computes QuizStats over subs. An empty set yields zero stats.
func Summarize(subs []quiz.Submission) QuizStats {
	if len(subs) == 0 {
		return QuizStats{}
	}
	st := QuizStats{Attempts: len(subs), MinScore: subs[0].Score, MaxScore: subs[0].Score}
	total := 0
	for _, s := range subs {
		if s.Passed {
			st.Passed++
		} else {
			st.Failed++
		}
		total += s.Score
		st.MinScore = min(st.MinScore, s.Score)
		st.MaxScore = max(st.MaxScore, s.Score)
	}
	st.AverageScore = round2(float64(total) / float64(len(subs)))
	st.Percentage = round2(st.AverageScore * 10)
	return st
}

// MonthKey returns the UTC calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WeekKey returns the ISO 8601 week of t as YYYY-Www.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func addTo(buckets map[string]*RevenueBucket, key string, amount float64) {
	b, ok := buckets[key]
	if !ok {
		b = &RevenueBucket{Period: key}
		buckets[key] = b
	}
	b.Revenue += amount
	b.Transactions++
}

func sortedBuckets(buckets map[string]*RevenueBucket) []RevenueBucket {
	out := make([]RevenueBucket, 0, len(buckets))
	for _, b := range buckets {
		b.Revenue = round2(b.Revenue)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
