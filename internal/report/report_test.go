package report_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

type fixture struct {
	reporter *report.Reporter
	subs     *subscription.MemoryStore
	quizzes  *quiz.MemoryStore
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	f := &fixture{clock: &clock}

	plans := plan.NewRegistry(
		plan.Plan{ID: "plan-basic", Name: "Basic Plan", Tier: plan.TierBasic, Price: 100, DurationMonths: 1},
		plan.Plan{ID: "plan-premium", Name: "Premium Plan", Tier: plan.TierPremium, Price: 900, DurationMonths: 12},
	)
	f.subs = subscription.NewMemoryStore(plans).WithClock(func() time.Time { return *f.clock })
	f.quizzes = quiz.NewMemoryStore()
	f.reporter = report.NewReporter(report.ReporterConfig{
		Submissions: f.quizzes,
		Ledger:      f.subs,
		Now:         func() time.Time { return *f.clock },
	})

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := f.subs.CreateUser(context.Background(), subscription.User{ID: id})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) pay(t *testing.T, at time.Time, userID, planID, txID string, amount float64) {
	t.Helper()
	*f.clock = at
	_, err := f.subs.ApplyPaymentConfirmation(context.Background(), subscription.Confirmation{
		UserID: userID, PlanID: planID, TransactionID: txID, Amount: amount,
	})
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, userID, quizID string, family catalog.Family, score int, passed bool) {
	t.Helper()
	err := f.quizzes.Create(context.Background(), quiz.Submission{
		ID: userID + quizID, UserID: userID, QuizID: quizID, Family: family,
		Score: score, TotalQuestions: 10, PercentageScore: float64(score * 10), Passed: passed,
	})
	require.NoError(t, err)
}

func TestReporter_UserStats(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "u1", "qb1", catalog.FamilyBook, 7, true)
	f.submit(t, "u1", "qb2", catalog.FamilyBook, 4, false)
	f.submit(t, "u1", "qc1", catalog.FamilyCourse, 9, true)
	f.submit(t, "u2", "qb1", catalog.FamilyBook, 1, false)

	st, err := f.reporter.UserStats(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, report.QuizStats{
		Attempts: 3, Passed: 2, Failed: 1, AverageScore: 6.67, MinScore: 4, MaxScore: 9, Percentage: 66.7,
	}, st.All)
	assert.Equal(t, report.QuizStats{
		Attempts: 2, Passed: 1, Failed: 1, AverageScore: 5.5, MinScore: 4, MaxScore: 7, Percentage: 55,
	}, st.Book)
	assert.Equal(t, report.QuizStats{
		Attempts: 1, Passed: 1, AverageScore: 9, MinScore: 9, MaxScore: 9, Percentage: 90,
	}, st.Course)

	empty, err := f.reporter.UserStats(context.Background(), "u3")
	require.NoError(t, err)
	assert.Zero(t, empty.All)

	_, err = f.reporter.UserStats(context.Background(), "ghost")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
}

func TestReporter_PlatformStats(t *testing.T) {
	f := newFixture(t)
	// 2026-01-30 is ISO week 5; 2026-02-02 starts week 6.
	f.pay(t, time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC), "u1", "plan-basic", "tx-1", 100)
	f.pay(t, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), "u2", "plan-premium", "tx-2", 900)
	f.pay(t, time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC), "u1", "plan-premium", "tx-3", 899.99)
	*f.clock = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	st, err := f.reporter.PlatformStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.TotalUsers)
	assert.Equal(t, 1, st.UsersByPlan[plan.TierFree])
	assert.Equal(t, 2, st.UsersByPlan[plan.TierPremium])
	assert.Equal(t, 0, st.UsersByPlan[plan.TierBasic])
	assert.Equal(t, 2, st.ActiveSubscriptions)
	assert.Equal(t, 3, st.Transactions)
	assert.Equal(t, 1899.99, st.TotalRevenue)
	assert.Equal(t, []report.RevenueBucket{
		{Period: "2026-01", Revenue: 100, Transactions: 1},
		{Period: "2026-02", Revenue: 1799.99, Transactions: 2},
	}, st.Monthly)
	assert.Equal(t, []report.RevenueBucket{
		{Period: "2026-W05", Revenue: 100, Transactions: 1},
		{Period: "2026-W06", Revenue: 1799.99, Transactions: 2},
	}, st.Weekly)
}

func TestReporter_PlatformStats_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := f.reporter.PlatformStats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.TotalUsers)
}

func TestWeekKey(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W01"},
		{time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
		{time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), "2025-W01"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := report.WeekKey(tt.at); got != tt.want {
				t.Errorf("WeekKey(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

type fakeCache struct {
	data    map[string]report.PlatformStats
	failGet bool
	sets    int
}

func (c *fakeCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	if c.failGet {
		return false, errors.New("connection refused")
	}
	v, ok := c.data[key]
	if ok {
		*dst.(*report.PlatformStats) = v
	}
	return ok, nil
}

func (c *fakeCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	c.sets++
	c.data[key] = v.(report.PlatformStats)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func TestCachedReporter(t *testing.T) {
	f := newFixture(t)
	c := &fakeCache{data: map[string]report.PlatformStats{}}
	cached := report.NewCachedReporter(f.reporter, c, time.Minute)
	ctx := context.Background()

	first, err := cached.PlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Transactions)

	f.pay(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "u1", "plan-basic", "tx-1", 100)

	stale, err := cached.PlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stale.Transactions)
	assert.Equal(t, 1, c.sets)

	cached.Invalidate(ctx)
	fresh, err := cached.PlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Transactions)

	c.failGet = true
	recomputed, err := cached.PlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recomputed.Transactions)
}

func TestWritePlatformXLSX(t *testing.T) {
	stats := report.PlatformStats{
		TotalUsers:  2,
		UsersByPlan: map[plan.Tier]int{plan.TierFree: 1, plan.TierBasic: 1},
		Monthly:     []report.RevenueBucket{{Period: "2026-01", Revenue: 100, Transactions: 1}},
		Weekly:      []report.RevenueBucket{{Period: "2026-W05", Revenue: 100, Transactions: 1}},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WritePlatformXLSX(&buf, stats))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Plans", "Monthly", "Weekly"}, f.GetSheetList())

	v, err := f.GetCellValue("Monthly", "A2")
	require.NoError(t, err)
	assert.Equal(t, "2026-01", v)

	v, err = f.GetCellValue("Plans", "B3")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}
