// Package catalog is the read-only view of learning content: books with
// ordered chapters, courses with ordered modules, and the quizzes attached to
// chapters or modules. Every item carries the plan tier required to open it.
package catalog

import (
	"context"
	"fmt"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

var (
	ErrBookNotFound    = apperr.New("catalog", "Book", apperr.ErrNotFound, "book not found")
	ErrChapterNotFound = apperr.New("catalog", "Chapter", apperr.ErrNotFound, "chapter not found")
	ErrCourseNotFound  = apperr.New("catalog", "Course", apperr.ErrNotFound, "course not found")
	ErrModuleNotFound  = apperr.New("catalog", "Module", apperr.ErrNotFound, "module not found")
	ErrQuizNotFound    = apperr.New("catalog", "Quiz", apperr.ErrNotFound, "quiz not found")
	ErrContentNotFound = apperr.New("catalog", "RequiredPlan", apperr.ErrNotFound, "content item not found")

	ErrDuplicateChapterNo  = apperr.New("catalog", "AddChapter", apperr.ErrConflict, "chapter number already used in book")
	ErrDuplicateModuleNo   = apperr.New("catalog", "AddModule", apperr.ErrConflict, "module number already used in course")
	ErrDuplicateQuestionNo = apperr.New("catalog", "AddQuiz", apperr.ErrConflict, "question number already used in quiz")
	ErrDuplicateID         = apperr.New("catalog", "Add", apperr.ErrConflict, "content id already used")
	ErrInvalidQuiz         = apperr.New("catalog", "AddQuiz", apperr.ErrInvalidInput, "invalid quiz")
)

// Family is the content family a quiz belongs to.
type Family string

const (
	FamilyBook   Family = "book"
	FamilyCourse Family = "course"
)

// Item is anything gated by a plan tier.
type Item interface {
	RequiredTier() plan.Tier
}

// Book owns an ordered list of chapters.
type Book struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	RequiredPlan plan.Tier `json:"required_plan"`
}

func (b Book) RequiredTier() plan.Tier { return b.RequiredPlan }

// Chapter belongs to a book. RequiredPlan is the effective tier: a chapter
// without its own tier inherits the book's.
type Chapter struct {
	ID           string    `json:"id"`
	BookID       string    `json:"book_id"`
	ChapterNo    int       `json:"chapter_no"`
	Title        string    `json:"title"`
	PDFURL       string    `json:"pdf_url,omitempty"`
	RequiredPlan plan.Tier `json:"required_plan"`
}

func (c Chapter) RequiredTier() plan.Tier { return c.RequiredPlan }

// Course owns an ordered list of modules.
type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	RequiredPlan plan.Tier `json:"required_plan"`
}

func (c Course) RequiredTier() plan.Tier { return c.RequiredPlan }

// Module belongs to a course. RequiredPlan is the effective tier.
type Module struct {
	ID           string    `json:"id"`
	CourseID     string    `json:"course_id"`
	ModuleNo     int       `json:"module_no"`
	Title        string    `json:"title"`
	RequiredPlan plan.Tier `json:"required_plan"`
}

func (m Module) RequiredTier() plan.Tier { return m.RequiredPlan }

// Option is one answer choice.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question has exactly one correct option.
type Question struct {
	QuestionNo int      `json:"question_no"`
	Text       string   `json:"question"`
	Options    []Option `json:"options"`
}

// Correct returns the option flagged correct.
func (q Question) Correct() (Option, bool) {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o, true
		}
	}
	return Option{}, false
}

// Quiz belongs to exactly one chapter or one module. RequiredPlan is the
// effective tier of its parent.
type Quiz struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	ChapterID    string     `json:"chapter_id,omitempty"`
	ModuleID     string     `json:"module_id,omitempty"`
	Questions    []Question `json:"questions"`
	RequiredPlan plan.Tier  `json:"required_plan"`
}

func (q Quiz) RequiredTier() plan.Tier { return q.RequiredPlan }

// Family reports whether the quiz is a book quiz or a course quiz.
func (q Quiz) Family() Family {
	if q.ChapterID != "" {
		return FamilyBook
	}
	return FamilyCourse
}

// Catalog is the read side the engine consults.
type Catalog interface {
	RequiredPlan(ctx context.Context, contentID string) (plan.Tier, error)
	Book(ctx context.Context, id string) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	Chapter(ctx context.Context, id string) (Chapter, error)
	ChapterParentBook(ctx context.Context, chapterID string) (string, error)
	// ListChapters returns the book's chapters ordered by chapter number.
	ListChapters(ctx context.Context, bookID string) ([]Chapter, error)
	Module(ctx context.Context, id string) (Module, error)
	Quiz(ctx context.Context, id string) (Quiz, error)
}

// ValidateQuiz checks the quiz invariants: one parent, unique question
// numbers, exactly one correct option per question.
func ValidateQuiz(q Quiz) error {
	if q.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidQuiz)
	}
	if (q.ChapterID == "") == (q.ModuleID == "") {
		return fmt.Errorf("%w: quiz %s must belong to exactly one chapter or module", ErrInvalidQuiz, q.ID)
	}
	seen := make(map[int]bool, len(q.Questions))
	for _, question := range q.Questions {
		if question.QuestionNo <= 0 {
			return fmt.Errorf("%w: quiz %s has a question without a positive number", ErrInvalidQuiz, q.ID)
		}
		if seen[question.QuestionNo] {
			return fmt.Errorf("%w: quiz %s question %d", ErrDuplicateQuestionNo, q.ID, question.QuestionNo)
		}
		seen[question.QuestionNo] = true

		correct := 0
		for _, o := range question.Options {
			if o.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("%w: quiz %s question %d has %d correct options, want 1",
				ErrInvalidQuiz, q.ID, question.QuestionNo, correct)
		}
	}
	return nil
}

func inherit(own, parent plan.Tier) plan.Tier {
	if own != plan.TierNone {
		return own
	}
	return parent
}
