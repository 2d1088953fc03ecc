package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// ErrInvalidDocument is returned when a content file fails schema validation.
var ErrInvalidDocument = apperr.New("catalog", "Load", apperr.ErrInvalidInput, "invalid catalog document")

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "plans":   {"type": "array", "items": {"$ref": "#/definitions/plan"}},
    "books":   {"type": "array", "items": {"$ref": "#/definitions/book"}},
    "courses": {"type": "array", "items": {"$ref": "#/definitions/course"}}
  },
  "definitions": {
    "id": {"type": "string", "minLength": 1},
    "tier": {"type": "string"},
    "plan": {
      "type": "object",
      "required": ["id", "name", "tier", "duration_months"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "name": {"type": "string"},
        "tier": {"$ref": "#/definitions/tier"},
        "price": {"type": "number", "minimum": 0},
        "duration_months": {"type": "integer", "minimum": 1},
        "features": {"type": "array", "items": {"type": "string"}}
      }
    },
    "book": {
      "type": "object",
      "required": ["id", "name"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "name": {"type": "string"},
        "description": {"type": "string"},
        "required_plan": {"$ref": "#/definitions/tier"},
        "chapters": {"type": "array", "items": {"$ref": "#/definitions/chapter"}}
      }
    },
    "chapter": {
      "type": "object",
      "required": ["id", "chapter_no"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "chapter_no": {"type": "integer", "minimum": 1},
        "title": {"type": "string"},
        "pdf_url": {"type": "string"},
        "required_plan": {"$ref": "#/definitions/tier"},
        "quiz": {"$ref": "#/definitions/quiz"}
      }
    },
    "course": {
      "type": "object",
      "required": ["id", "title"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "title": {"type": "string"},
        "required_plan": {"$ref": "#/definitions/tier"},
        "modules": {"type": "array", "items": {"$ref": "#/definitions/module"}}
      }
    },
    "module": {
      "type": "object",
      "required": ["id", "module_no"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "module_no": {"type": "integer", "minimum": 1},
        "title": {"type": "string"},
        "required_plan": {"$ref": "#/definitions/tier"},
        "quiz": {"$ref": "#/definitions/quiz"}
      }
    },
    "quiz": {
      "type": "object",
      "required": ["id", "title", "questions"],
      "additionalProperties": false,
      "properties": {
        "id": {"$ref": "#/definitions/id"},
        "title": {"type": "string"},
        "questions": {"type": "array", "items": {"$ref": "#/definitions/question"}}
      }
    },
    "question": {
      "type": "object",
      "required": ["question", "options"],
      "additionalProperties": false,
      "properties": {
        "question_no": {"type": "integer", "minimum": 1},
        "question": {"type": "string"},
        "options": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["text"],
            "additionalProperties": false,
            "properties": {
              "text": {"type": "string"},
              "is_correct": {"type": "boolean"}
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// document is the on-disk shape of a catalog file.
type document struct {
	Plans []struct {
		ID             string   `yaml:"id"`
		Name           string   `yaml:"name"`
		Tier           string   `yaml:"tier"`
		Price          float64  `yaml:"price"`
		DurationMonths int      `yaml:"duration_months"`
		Features       []string `yaml:"features"`
	} `yaml:"plans"`
	Books []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Description  string `yaml:"description"`
		RequiredPlan string `yaml:"required_plan"`
		Chapters     []struct {
			ID           string   `yaml:"id"`
			ChapterNo    int      `yaml:"chapter_no"`
			Title        string   `yaml:"title"`
			PDFURL       string   `yaml:"pdf_url"`
			RequiredPlan string   `yaml:"required_plan"`
			Quiz         *docQuiz `yaml:"quiz"`
		} `yaml:"chapters"`
	} `yaml:"books"`
	Courses []struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		RequiredPlan string `yaml:"required_plan"`
		Modules      []struct {
			ID           string   `yaml:"id"`
			ModuleNo     int      `yaml:"module_no"`
			Title        string   `yaml:"title"`
			RequiredPlan string   `yaml:"required_plan"`
			Quiz         *docQuiz `yaml:"quiz"`
		} `yaml:"modules"`
	} `yaml:"courses"`
}

type docQuiz struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Questions []struct {
		QuestionNo int    `yaml:"question_no"`
		Question   string `yaml:"question"`
		Options    []struct {
			Text      string `yaml:"text"`
			IsCorrect bool   `yaml:"is_correct"`
		} `yaml:"options"`
	} `yaml:"questions"`
}

// Questions without a number are numbered by position.
func (d *docQuiz) toQuiz() Quiz {
	q := Quiz{ID: d.ID, Title: d.Title}
	for i, dq := range d.Questions {
		no := dq.QuestionNo
		if no == 0 {
			no = i + 1
		}
		question := Question{QuestionNo: no, Text: dq.Question}
		for _, o := range dq.Options {
			question.Options = append(question.Options, Option{Text: o.Text, IsCorrect: o.IsCorrect})
		}
		q.Questions = append(q.Questions, question)
	}
	return q
}

// Loader reads catalog YAML files from a directory tree into a MemoryCatalog
// and a plan registry.
type Loader struct {
	rootDir string
	catalog *MemoryCatalog
	plans   *plan.Registry
	files   int
	mu      sync.Mutex
}

// NewLoader loads every .yaml/.yml file under rootDir. Any invalid file fails
// the whole load.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		catalog: NewMemoryCatalog(),
		plans:   plan.NewRegistry(),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	c := l.catalog.Contents()
	slog.Info("catalog loaded",
		"files", l.files,
		"plans", len(l.plans.List()),
		"books", len(c.Books),
		"chapters", len(c.Chapters),
		"courses", len(c.Courses),
		"modules", len(c.Modules),
		"quizzes", len(c.Quizzes),
	)
	return l, nil
}

// Catalog returns the loaded content.
func (l *Loader) Catalog() *MemoryCatalog { return l.catalog }

// Plans returns the plans declared by the loaded files.
func (l *Loader) Plans() *plan.Registry { return l.plans }

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		return l.loadFile(path)
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := Parse(data, l.catalog, l.plans); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	l.files++
	return nil
}

// Parse validates one catalog document and adds its content to cat and plans.
func Parse(data []byte, cat *MemoryCatalog, plans *plan.Registry) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	for _, p := range doc.Plans {
		tier, err := plan.ParseTier(p.Tier)
		if err != nil {
			return fmt.Errorf("plan %s: %w", p.ID, err)
		}
		if err := plans.Register(plan.Plan{
			ID: p.ID, Name: p.Name, Tier: tier, Price: p.Price,
			DurationMonths: p.DurationMonths, Features: p.Features,
		}); err != nil {
			return err
		}
	}

	for _, b := range doc.Books {
		tier, err := plan.ParseTier(b.RequiredPlan)
		if err != nil {
			return fmt.Errorf("book %s: %w", b.ID, err)
		}
		if err := cat.AddBook(Book{ID: b.ID, Name: b.Name, Description: b.Description, RequiredPlan: tier}); err != nil {
			return err
		}
		for _, ch := range b.Chapters {
			tier, err := plan.ParseTier(ch.RequiredPlan)
			if err != nil {
				return fmt.Errorf("chapter %s: %w", ch.ID, err)
			}
			if err := cat.AddChapter(Chapter{
				ID: ch.ID, BookID: b.ID, ChapterNo: ch.ChapterNo,
				Title: ch.Title, PDFURL: ch.PDFURL, RequiredPlan: tier,
			}); err != nil {
				return err
			}
			if ch.Quiz != nil {
				q := ch.Quiz.toQuiz()
				q.ChapterID = ch.ID
				if err := cat.AddQuiz(q); err != nil {
					return err
				}
			}
		}
	}

	for _, co := range doc.Courses {
		tier, err := plan.ParseTier(co.RequiredPlan)
		if err != nil {
			return fmt.Errorf("course %s: %w", co.ID, err)
		}
		if err := cat.AddCourse(Course{ID: co.ID, Title: co.Title, RequiredPlan: tier}); err != nil {
			return err
		}
		for _, m := range co.Modules {
			tier, err := plan.ParseTier(m.RequiredPlan)
			if err != nil {
				return fmt.Errorf("module %s: %w", m.ID, err)
			}
			if err := cat.AddModule(Module{
				ID: m.ID, CourseID: co.ID, ModuleNo: m.ModuleNo, Title: m.Title, RequiredPlan: tier,
			}); err != nil {
				return err
			}
			if m.Quiz != nil {
				q := m.Quiz.toQuiz()
				q.ModuleID = m.ID
				if err := cat.AddQuiz(q); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
