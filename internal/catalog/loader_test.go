package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

const sampleDoc = `
plans:
  - id: plan-basic
    name: Basic Plan
    tier: basic
    price: 100
    duration_months: 1
  - id: plan-premium
    name: Premium Plan
    tier: Premium Plan
    price: 900
    duration_months: 12
books:
  - id: book-algebra
    name: Algebra
    required_plan: basic
    chapters:
      - id: ch-2
        chapter_no: 2
        title: Equations
        required_plan: premium
      - id: ch-1
        chapter_no: 1
        title: Variables
        quiz:
          id: quiz-ch-1
          title: Variables check
          questions:
            - question: 2 + 2?
              options:
                - text: "3"
                - text: "4"
                  is_correct: true
            - question: x + x?
              options:
                - text: 2x
                  is_correct: true
                - text: x2
courses:
  - id: course-go
    title: Go Basics
    required_plan: standard
    modules:
      - id: mod-1
        module_no: 1
        title: Intro
        quiz:
          id: quiz-mod-1
          title: Intro check
          questions:
            - question_no: 1
              question: Is Go compiled?
              options:
                - text: yes
                  is_correct: true
                - text: no
`

func setupTestCatalog(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoader_LoadsContent(t *testing.T) {
	dir := setupTestCatalog(t, map[string]string{
		"content/algebra.yaml": sampleDoc,
		"README.md":            "# not content",
	})

	loader, err := catalog.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	ctx := context.Background()
	cat := loader.Catalog()

	chapters, err := cat.ListChapters(ctx, "book-algebra")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if len(chapters) != 2 || chapters[0].ID != "ch-1" || chapters[1].ID != "ch-2" {
		t.Fatalf("ListChapters() = %+v, want ch-1 then ch-2", chapters)
	}

	q, err := cat.Quiz(ctx, "quiz-ch-1")
	if err != nil {
		t.Fatalf("Quiz() error = %v", err)
	}
	if q.Questions[0].QuestionNo != 1 || q.Questions[1].QuestionNo != 2 {
		t.Errorf("question numbers = %d,%d, want 1,2", q.Questions[0].QuestionNo, q.Questions[1].QuestionNo)
	}
	if q.Family() != catalog.FamilyBook {
		t.Errorf("Family() = %q, want book", q.Family())
	}

	p, err := loader.Plans().Plan(ctx, "plan-premium")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if p.Tier != plan.TierPremium {
		t.Errorf("Tier = %q, want premium", p.Tier)
	}
}

func TestLoader_RequiredPlanInheritance(t *testing.T) {
	dir := setupTestCatalog(t, map[string]string{"algebra.yml": sampleDoc})
	loader, err := catalog.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	tests := []struct {
		id   string
		want plan.Tier
	}{
		{"book-algebra", plan.TierBasic},
		{"ch-1", plan.TierBasic},
		{"ch-2", plan.TierPremium},
		{"quiz-ch-1", plan.TierBasic},
		{"course-go", plan.TierStandard},
		{"mod-1", plan.TierStandard},
		{"quiz-mod-1", plan.TierStandard},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := loader.Catalog().RequiredPlan(context.Background(), tt.id)
			if err != nil {
				t.Fatalf("RequiredPlan() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("RequiredPlan(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestLoader_RejectsInvalidContent(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{
			name: "schema violation",
			doc:  "books:\n  - id: b1\n    name: B\n    colour: red\n",
			kind: apperr.ErrInvalidInput,
		},
		{
			name: "duplicate chapter number",
			doc: `books:
  - id: b1
    name: B
    chapters:
      - {id: c1, chapter_no: 1}
      - {id: c2, chapter_no: 1}
`,
			kind: apperr.ErrConflict,
		},
		{
			name: "two correct options",
			doc: `books:
  - id: b1
    name: B
    chapters:
      - id: c1
        chapter_no: 1
        quiz:
          id: q1
          title: Q
          questions:
            - question: pick
              options:
                - {text: a, is_correct: true}
                - {text: b, is_correct: true}
`,
			kind: apperr.ErrInvalidInput,
		},
		{
			name: "unknown tier",
			doc:  "books:\n  - id: b1\n    name: B\n    required_plan: platinum\n",
			kind: apperr.ErrInvalidInput,
		},
		{
			name: "bare plan on book",
			doc:  "books:\n  - id: b1\n    name: B\n    required_plan: Plan\n",
			kind: apperr.ErrInvalidInput,
		},
		{
			name: "bare plan on chapter",
			doc:  "books:\n  - id: b1\n    name: B\n    chapters:\n      - {id: c1, chapter_no: 1, required_plan: plan}\n",
			kind: apperr.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestCatalog(t, map[string]string{"bad.yaml": tt.doc})
			_, err := catalog.NewLoader(dir)
			if err == nil {
				t.Fatal("NewLoader() error = nil, want error")
			}
			if apperr.KindOf(err) != tt.kind {
				t.Errorf("KindOf(%v) = %v, want %v", err, apperr.KindOf(err), tt.kind)
			}
		})
	}
}

func TestParse_BarePlanIsNotUngated(t *testing.T) {
	cat := catalog.NewMemoryCatalog()
	err := catalog.Parse([]byte("books:\n  - id: b1\n    name: Secret\n    required_plan: Plan\n"), cat, plan.NewRegistry())
	if !errors.Is(err, plan.ErrUnknownTier) {
		t.Fatalf("Parse() error = %v, want ErrUnknownTier", err)
	}
	if _, err := cat.RequiredPlan(context.Background(), "b1"); !apperr.IsNotFound(err) {
		t.Errorf("RequiredPlan(b1) error = %v, want not found", err)
	}
}

func TestLoader_EmptyDirectory(t *testing.T) {
	loader, err := catalog.NewLoader(t.TempDir())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	books, _ := loader.Catalog().ListBooks(context.Background())
	if len(books) != 0 {
		t.Errorf("ListBooks() = %d books, want 0", len(books))
	}
}
