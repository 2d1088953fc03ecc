package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/plan"
)

func newMemoryCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	c := catalog.NewMemoryCatalog()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(c.AddBook(catalog.Book{ID: "b1", Name: "Physics", RequiredPlan: plan.TierStandard}))
	must(c.AddChapter(catalog.Chapter{ID: "b1-c3", BookID: "b1", ChapterNo: 3}))
	must(c.AddChapter(catalog.Chapter{ID: "b1-c1", BookID: "b1", ChapterNo: 1, RequiredPlan: plan.TierFree}))
	must(c.AddChapter(catalog.Chapter{ID: "b1-c2", BookID: "b1", ChapterNo: 2}))
	must(c.AddBook(catalog.Book{ID: "b2", Name: "Empty"}))
	must(c.AddCourse(catalog.Course{ID: "co1", Title: "Go", RequiredPlan: plan.TierPremium}))
	must(c.AddModule(catalog.Module{ID: "m1", CourseID: "co1", ModuleNo: 1}))
	return c
}

func TestMemoryCatalog_ListChapters_Ordered(t *testing.T) {
	c := newMemoryCatalog(t)

	chapters, err := c.ListChapters(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	want := []string{"b1-c1", "b1-c2", "b1-c3"}
	for i, ch := range chapters {
		if ch.ID != want[i] {
			t.Errorf("chapters[%d] = %s, want %s", i, ch.ID, want[i])
		}
	}
	if chapters[0].RequiredPlan != plan.TierFree {
		t.Errorf("chapter own tier = %q, want free", chapters[0].RequiredPlan)
	}
	if chapters[1].RequiredPlan != plan.TierStandard {
		t.Errorf("inherited tier = %q, want standard", chapters[1].RequiredPlan)
	}

	empty, err := c.ListChapters(context.Background(), "b2")
	if err != nil || len(empty) != 0 {
		t.Errorf("ListChapters(b2) = %v, %v; want empty, nil", empty, err)
	}
}

func TestMemoryCatalog_NotFound(t *testing.T) {
	c := newMemoryCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"book", func() error { _, err := c.Book(ctx, "x"); return err }, catalog.ErrBookNotFound},
		{"chapter", func() error { _, err := c.Chapter(ctx, "x"); return err }, catalog.ErrChapterNotFound},
		{"chapters of missing book", func() error { _, err := c.ListChapters(ctx, "x"); return err }, catalog.ErrBookNotFound},
		{"parent book", func() error { _, err := c.ChapterParentBook(ctx, "x"); return err }, catalog.ErrChapterNotFound},
		{"module", func() error { _, err := c.Module(ctx, "x"); return err }, catalog.ErrModuleNotFound},
		{"quiz", func() error { _, err := c.Quiz(ctx, "x"); return err }, catalog.ErrQuizNotFound},
		{"required plan", func() error { _, err := c.RequiredPlan(ctx, "x"); return err }, catalog.ErrContentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemoryCatalog_AddInvariants(t *testing.T) {
	c := newMemoryCatalog(t)
	question := catalog.Question{QuestionNo: 1, Options: []catalog.Option{{Text: "a", IsCorrect: true}}}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate chapter number", c.AddChapter(catalog.Chapter{ID: "dup", BookID: "b1", ChapterNo: 2}), catalog.ErrDuplicateChapterNo},
		{"chapter of missing book", c.AddChapter(catalog.Chapter{ID: "orphan", BookID: "nope", ChapterNo: 1}), catalog.ErrBookNotFound},
		{"duplicate id", c.AddBook(catalog.Book{ID: "b1-c1"}), catalog.ErrDuplicateID},
		{"quiz with two parents", c.AddQuiz(catalog.Quiz{ID: "q", ChapterID: "b1-c1", ModuleID: "m1"}), catalog.ErrInvalidQuiz},
		{"quiz without parent", c.AddQuiz(catalog.Quiz{ID: "q"}), catalog.ErrInvalidQuiz},
		{"quiz of missing chapter", c.AddQuiz(catalog.Quiz{ID: "q", ChapterID: "nope"}), catalog.ErrChapterNotFound},
		{"duplicate question number", c.AddQuiz(catalog.Quiz{ID: "q", ModuleID: "m1", Questions: []catalog.Question{question, question}}), catalog.ErrDuplicateQuestionNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestMemoryCatalog_QuizTierFollowsParent(t *testing.T) {
	c := newMemoryCatalog(t)
	q := catalog.Quiz{
		ID: "q-mod", ModuleID: "m1",
		Questions: []catalog.Question{{QuestionNo: 1, Options: []catalog.Option{{Text: "a", IsCorrect: true}}}},
	}
	if err := c.AddQuiz(q); err != nil {
		t.Fatalf("AddQuiz() error = %v", err)
	}

	got, err := c.Quiz(context.Background(), "q-mod")
	if err != nil {
		t.Fatalf("Quiz() error = %v", err)
	}
	if got.RequiredPlan != plan.TierPremium {
		t.Errorf("RequiredPlan = %q, want premium", got.RequiredPlan)
	}
	if got.Family() != catalog.FamilyCourse {
		t.Errorf("Family() = %q, want course", got.Family())
	}
}
