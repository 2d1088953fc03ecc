// Package learning composes entitlement, subscriptions, catalog, progress,
// grading and reporting into the operations a transport layer calls.
package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/notice"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

// EngineConfig holds dependencies for the learning engine. Nil stores
// default to in-memory implementations.
type EngineConfig struct {
	Catalog       catalog.Catalog
	Plans         plan.Source // also backs the default subscription store
	Subscriptions subscription.Store
	Progress      progress.Store
	Submissions   quiz.SubmissionStore
	Notices       notice.Store
	Reports       report.Source // defaults to a Reporter over the stores above
	Events        EventLogger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Engine is the learning service facade.
type Engine struct {
	catalog  catalog.Catalog
	plans    plan.Source
	subs     subscription.Store
	notices  notice.Store
	resolver *access.Resolver
	tracker  *progress.Tracker
	grader   *quiz.Engine
	reports  report.Source
	events   EventLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates a new learning engine.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.NewMemoryCatalog()
	}
	plans := cfg.Plans
	if plans == nil {
		plans = plan.NewRegistry()
	}
	subs := cfg.Subscriptions
	if subs == nil {
		subs = subscription.NewMemoryStore(plans).WithClock(now)
	}
	progressStore := cfg.Progress
	if progressStore == nil {
		progressStore = progress.NewMemoryStore().WithClock(now)
	}
	submissions := cfg.Submissions
	if submissions == nil {
		submissions = quiz.NewMemoryStore()
	}
	reports := cfg.Reports
	if reports == nil {
		reports = report.NewReporter(report.ReporterConfig{
			Submissions: submissions,
			Ledger:      subs,
			Now:         now,
		})
	}
	notices := cfg.Notices
	if notices == nil {
		notices = notice.NewMemoryStore().WithClock(now)
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}

	return &Engine{
		catalog:  cat,
		plans:    plans,
		subs:     subs,
		notices:  notices,
		resolver: access.NewResolver(access.ResolverConfig{Subscriptions: subs, Now: now}),
		tracker:  progress.NewTracker(progress.TrackerConfig{Store: progressStore, Catalog: cat}),
		grader:   quiz.NewEngine(quiz.EngineConfig{Store: submissions, Now: now}),
		reports:  reports,
		events:   events,
		metrics:  cfg.Metrics,
		now:      now,
	}
}

type requiredTier plan.Tier

func (t requiredTier) RequiredTier() plan.Tier { return plan.Tier(t) }

// CheckAccess resolves the tier of contentID and decides whether p may open it.
func (e *Engine) CheckAccess(ctx context.Context, p access.Principal, contentID string) (access.Decision, error) {
	tier, err := e.catalog.RequiredPlan(ctx, contentID)
	if err != nil {
		return access.Decision{}, err
	}
	d, err := e.resolver.CheckAccess(ctx, p, requiredTier(tier))
	if err != nil {
		return access.Decision{}, err
	}
	e.metrics.ObserveAccess(d.Allowed, string(d.Reason))
	return d, nil
}

// ApplyPaymentConfirmation applies a validated payment. Replays return the
// original result without side effects.
func (e *Engine) ApplyPaymentConfirmation(ctx context.Context, c subscription.Confirmation) (subscription.Result, error) {
	res, err := e.subs.ApplyPaymentConfirmation(ctx, c)
	if err != nil {
		return subscription.Result{}, err
	}
	e.metrics.ObservePayment(string(res.Subscription.Plan), res.Replayed)
	if res.Replayed {
		slog.Info("payment confirmation replayed", "user_id", c.UserID, "transaction_id", c.TransactionID)
		return res, nil
	}

	slog.Info("payment applied",
		"user_id", c.UserID,
		"plan", res.Subscription.Plan,
		"transaction_id", c.TransactionID,
	)
	e.logEvent(ctx, Event{
		UserID:    c.UserID,
		EventType: EventPaymentApplied,
		Data: map[string]any{
			"transaction_id": c.TransactionID,
			"plan_id":        res.Transaction.PlanID,
			"tier":           string(res.Transaction.Tier),
			"amount":         res.Transaction.Amount,
		},
	})
	e.invalidateReports(ctx)
	return res, nil
}

// CreateUser registers a user with no subscription.
func (e *Engine) CreateUser(ctx context.Context, u subscription.User) (subscription.User, error) {
	created, err := e.subs.CreateUser(ctx, u)
	if err != nil {
		return subscription.User{}, err
	}
	slog.Info("user created", "user_id", created.ID, "role", created.Role)
	e.invalidateReports(ctx)
	return created, nil
}

// GetTransaction returns a ledger entry to its owner or an admin.
func (e *Engine) GetTransaction(ctx context.Context, p access.Principal, transactionID string) (subscription.Transaction, error) {
	t, err := e.subs.GetTransaction(ctx, transactionID)
	if err != nil {
		return subscription.Transaction{}, err
	}
	if t.UserID != p.ID {
		if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
			return subscription.Transaction{}, err
		}
	}
	return t, nil
}

// ListPlans returns the purchasable plans, cheapest first.
func (e *Engine) ListPlans(ctx context.Context) ([]plan.Plan, error) {
	return e.plans.ListPlans(ctx)
}

// GetOrCreateBookProgress returns p's progress through bookID.
func (e *Engine) GetOrCreateBookProgress(ctx context.Context, p access.Principal, bookID string) (progress.BookProgress, error) {
	book, err := e.catalog.Book(ctx, bookID)
	if err != nil {
		return progress.BookProgress{}, err
	}
	if err := e.gate(ctx, p, book); err != nil {
		return progress.BookProgress{}, err
	}
	return e.tracker.GetOrCreateBookProgress(ctx, p.ID, bookID)
}

// MarkChapterComplete records chapterID as completed in bookID.
func (e *Engine) MarkChapterComplete(ctx context.Context, p access.Principal, bookID, chapterID string) (progress.BookProgress, error) {
	if err := e.gateChapter(ctx, p, bookID, chapterID); err != nil {
		return progress.BookProgress{}, err
	}
	bp, err := e.tracker.MarkChapterComplete(ctx, p.ID, bookID, chapterID)
	if err != nil {
		return progress.BookProgress{}, err
	}

	e.metrics.ObserveChapterCompleted()
	e.logEvent(ctx, Event{
		UserID:    p.ID,
		EventType: EventChapterCompleted,
		Data: map[string]any{
			"book_id":    bookID,
			"chapter_id": chapterID,
			"completed":  len(bp.CompletedChapters),
		},
	})
	return bp, nil
}

// UpdateLastRead moves p's reading pointer in bookID to chapterID.
func (e *Engine) UpdateLastRead(ctx context.Context, p access.Principal, bookID, chapterID string) (progress.BookProgress, error) {
	if err := e.gateChapter(ctx, p, bookID, chapterID); err != nil {
		return progress.BookProgress{}, err
	}
	return e.tracker.UpdateLastRead(ctx, p.ID, bookID, chapterID)
}

// BookCompletion reports p's completion of bookID.
func (e *Engine) BookCompletion(ctx context.Context, p access.Principal, bookID string) (progress.Completion, error) {
	book, err := e.catalog.Book(ctx, bookID)
	if err != nil {
		return progress.Completion{}, err
	}
	if err := e.gate(ctx, p, book); err != nil {
		return progress.Completion{}, err
	}
	return e.tracker.Completion(ctx, p.ID, bookID)
}

// ReadingProgress returns p's progress in every book they have opened.
func (e *Engine) ReadingProgress(ctx context.Context, p access.Principal) ([]progress.BookProgress, error) {
	if err := e.resolveUser(ctx, p); err != nil {
		return nil, err
	}
	return e.tracker.ReadingProgress(ctx, p.ID)
}

// SubmitQuizPayload decodes a raw JSON answers array and submits it.
func (e *Engine) SubmitQuizPayload(ctx context.Context, p access.Principal, quizID string, raw []byte) (quiz.SubmissionResult, error) {
	answers, err := quiz.DecodeAnswers(raw)
	if err != nil {
		return quiz.SubmissionResult{}, err
	}
	return e.SubmitQuiz(ctx, p, quizID, answers)
}

// SubmitQuiz grades and records p's only submission for quizID.
func (e *Engine) SubmitQuiz(ctx context.Context, p access.Principal, quizID string, answers []quiz.Answer) (quiz.SubmissionResult, error) {
	q, err := e.catalog.Quiz(ctx, quizID)
	if err != nil {
		return quiz.SubmissionResult{}, err
	}
	if err := e.gate(ctx, p, q); err != nil {
		return quiz.SubmissionResult{}, err
	}
	res, err := e.grader.SubmitGraded(ctx, p.ID, q, answers)
	if err != nil {
		return quiz.SubmissionResult{}, err
	}

	e.metrics.ObserveSubmission(string(q.Family()), res.Passed)
	e.logEvent(ctx, Event{
		UserID:    p.ID,
		EventType: EventQuizSubmitted,
		Data: map[string]any{
			"quiz_id":          quizID,
			"submission_id":    res.SubmissionID,
			"score":            res.Score,
			"total_questions":  res.TotalQuestions,
			"percentage_score": res.PercentageScore,
			"passed":           res.Passed,
		},
	})
	return res, nil
}

// ListBooks returns the books p may open.
func (e *Engine) ListBooks(ctx context.Context, p access.Principal) ([]catalog.Book, error) {
	books, err := e.catalog.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	return access.FilterAllowed(ctx, e.resolver, p, books)
}

// UserStats returns quiz statistics for userID. Students may only read their own.
func (e *Engine) UserStats(ctx context.Context, p access.Principal, userID string) (report.UserStats, error) {
	if p.ID != userID {
		if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
			return report.UserStats{}, err
		}
	}
	return e.reports.UserStats(ctx, userID)
}

// PlatformStats returns platform-wide statistics to admins.
func (e *Engine) PlatformStats(ctx context.Context, p access.Principal) (report.PlatformStats, error) {
	if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
		return report.PlatformStats{}, err
	}
	return e.reports.PlatformStats(ctx)
}

// CreateNotice publishes an announcement. Admin only.
func (e *Engine) CreateNotice(ctx context.Context, p access.Principal, n notice.Notice) (notice.Notice, error) {
	if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
		return notice.Notice{}, err
	}
	if err := e.resolveUser(ctx, p); err != nil {
		return notice.Notice{}, err
	}
	n.CreatedBy = p.ID
	return e.notices.Create(ctx, n)
}

// UpdateNotice replaces a notice's text and targets. Admin only.
func (e *Engine) UpdateNotice(ctx context.Context, p access.Principal, n notice.Notice) (notice.Notice, error) {
	if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
		return notice.Notice{}, err
	}
	return e.notices.Update(ctx, n)
}

// DeleteNotice removes a notice. Admin only.
func (e *Engine) DeleteNotice(ctx context.Context, p access.Principal, id string) error {
	if err := access.RequireRole(p, subscription.RoleAdmin); err != nil {
		return err
	}
	return e.notices.Delete(ctx, id)
}

// ListNotices returns the notices addressed to p, newest first. Admins see
// every notice.
func (e *Engine) ListNotices(ctx context.Context, p access.Principal) ([]notice.Notice, error) {
	all, err := e.notices.List(ctx)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() {
		return all, nil
	}
	sub, err := e.subs.GetSubscription(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]notice.Notice, 0, len(all))
	for _, n := range all {
		if access.NoticeVisible(p, sub, n.TargetPlans) {
			out = append(out, n)
		}
	}
	return out, nil
}

// gateChapter checks that bookID exists, then gates on the chapter.
func (e *Engine) gateChapter(ctx context.Context, p access.Principal, bookID, chapterID string) error {
	if _, err := e.catalog.Book(ctx, bookID); err != nil {
		return err
	}
	ch, err := e.catalog.Chapter(ctx, chapterID)
	if err != nil {
		return err
	}
	return e.gate(ctx, p, ch)
}

// gate resolves p to a stored user, then checks entitlement for item.
func (e *Engine) gate(ctx context.Context, p access.Principal, item access.Item) error {
	if err := e.resolveUser(ctx, p); err != nil {
		return err
	}
	d, err := e.resolver.CheckAccess(ctx, p, item)
	if err != nil {
		return err
	}
	e.metrics.ObserveAccess(d.Allowed, string(d.Reason))
	if !d.Allowed {
		slog.Debug("access denied", "user_id", p.ID, "reason", d.Reason)
	}
	return d.Err()
}

func (e *Engine) resolveUser(ctx context.Context, p access.Principal) error {
	if _, err := e.subs.GetUser(ctx, p.ID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) invalidateReports(ctx context.Context) {
	if inv, ok := e.reports.(interface{ Invalidate(context.Context) }); ok {
		inv.Invalidate(ctx)
	}
}

func (e *Engine) logEvent(ctx context.Context, event Event) {
	event.CreatedAt = e.now()
	if err := e.events.LogEvent(ctx, event); err != nil {
		e.metrics.ObserveEventLogFailure()
		slog.Warn("failed to log event", "type", event.EventType, "user_id", event.UserID, "error", err)
	}
}
