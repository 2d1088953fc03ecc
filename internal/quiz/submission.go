package quiz

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

var (
	ErrAlreadySubmitted   = apperr.New("quiz", "Submit", apperr.ErrConflict, "quiz already submitted")
	ErrSubmissionNotFound = apperr.New("quiz", "Get", apperr.ErrNotFound, "submission not found")
)

// Submission is a user's single, immutable attempt at a quiz.
type Submission struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	QuizID          string         `json:"quiz_id"`
	Family          catalog.Family `json:"family"`
	Answers         []Answer       `json:"answers"`
	Score           int            `json:"score"`
	TotalQuestions  int            `json:"total_questions"`
	PercentageScore float64        `json:"percentage_score"`
	Passed          bool           `json:"passed"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SubmissionStore persists submissions. Create must reject a second
// submission for the same (UserID, QuizID) with ErrAlreadySubmitted, even
// when both writes race.
type SubmissionStore interface {
	Create(ctx context.Context, s Submission) error
	Get(ctx context.Context, userID, quizID string) (Submission, error)
	ListByUser(ctx context.Context, userID string) ([]Submission, error)
	List(ctx context.Context) ([]Submission, error)
}

type submissionKey struct{ userID, quizID string }

// MemoryStore is an in-memory SubmissionStore.
type MemoryStore struct {
	submissions map[submissionKey]Submission
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory submission store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{submissions: make(map[submissionKey]Submission)}
}

func (s *MemoryStore) Create(_ context.Context, sub Submission) error {
	k := submissionKey{sub.UserID, sub.QuizID}
	sub.Answers = slices.Clone(sub.Answers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.submissions[k]; exists {
		return fmt.Errorf("%w: user %s quiz %s", ErrAlreadySubmitted, sub.UserID, sub.QuizID)
	}
	s.submissions[k] = sub
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, quizID string) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionKey{userID, quizID}]
	if !ok {
		return Submission{}, fmt.Errorf("%w: user %s quiz %s", ErrSubmissionNotFound, userID, quizID)
	}
	sub.Answers = slices.Clone(sub.Answers)
	return sub, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Submission, error) {
	return s.list(func(sub Submission) bool { return sub.UserID == userID }), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Submission, error) {
	return s.list(func(Submission) bool { return true }), nil
}

func (s *MemoryStore) list(keep func(Submission) bool) []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Submission
	for _, sub := range s.submissions {
		if keep(sub) {
			sub.Answers = slices.Clone(sub.Answers)
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SubmissionResult is what a caller learns about a graded submission.
type SubmissionResult struct {
	SubmissionID    string  `json:"submission_id"`
	Score           int     `json:"score"`
	TotalQuestions  int     `json:"total_questions"`
	PercentageScore float64 `json:"percentage_score"`
	Passed          bool    `json:"passed"`
}

// EngineConfig holds the grading engine's dependencies.
type EngineConfig struct {
	Store SubmissionStore
	Now   func() time.Time // defaults to time.Now
}

// Engine grades and records submissions.
type Engine struct {
	store SubmissionStore
	now   func() time.Time
}

// NewEngine creates a grading engine.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{store: cfg.Store, now: now}
}

// SubmitGraded grades answers against q and records the submission. The
// caller loads q, so entitlement is checked against the same quiz that is
// graded. A user gets exactly one submission per quiz.
func (e *Engine) SubmitGraded(ctx context.Context, userID string, q catalog.Quiz, answers []Answer) (SubmissionResult, error) {
	if userID == "" || q.ID == "" {
		return SubmissionResult{}, apperr.New("quiz", "Submit", apperr.ErrInvalidInput, "user id and quiz id are required")
	}
	res := Grade(q, answers)
	sub := Submission{
		ID:              uuid.NewString(),
		UserID:          userID,
		QuizID:          q.ID,
		Family:          q.Family(),
		Answers:         answers,
		Score:           res.Score,
		TotalQuestions:  res.TotalQuestions,
		PercentageScore: res.PercentageScore,
		Passed:          res.Passed,
		CreatedAt:       e.now().UTC().Truncate(time.Microsecond),
	}
	if sub.Answers == nil {
		sub.Answers = []Answer{}
	}
	if err := e.store.Create(ctx, sub); err != nil {
		return SubmissionResult{}, err
	}
	return SubmissionResult{
		SubmissionID:    sub.ID,
		Score:           sub.Score,
		TotalQuestions:  sub.TotalQuestions,
		PercentageScore: sub.PercentageScore,
		Passed:          sub.Passed,
	}, nil
}
