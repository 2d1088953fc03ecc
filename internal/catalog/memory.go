package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// MemoryCatalog is an indexed in-memory Catalog. Chapters and modules are
// stored independently with a back-reference to their parent; ordered views
// are derived on read.
type MemoryCatalog struct {
	books          map[string]Book
	chapters       map[string]Chapter // own tier, not inherited
	chaptersByBook map[string]map[int]string
	courses        map[string]Course
	modules        map[string]Module
	modulesByCrs   map[string]map[int]string
	quizzes        map[string]Quiz
	mu             sync.RWMutex
}

// Contents is a full snapshot of a catalog, used for imports.
type Contents struct {
	Books    []Book
	Chapters []Chapter
	Courses  []Course
	Modules  []Module
	Quizzes  []Quiz
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		books:          make(map[string]Book),
		chapters:       make(map[string]Chapter),
		chaptersByBook: make(map[string]map[int]string),
		courses:        make(map[string]Course),
		modules:        make(map[string]Module),
		modulesByCrs:   make(map[string]map[int]string),
		quizzes:        make(map[string]Quiz),
	}
}

// AddBook registers a book.
func (c *MemoryCatalog) AddBook(b Book) error {
	if b.ID == "" {
		return apperr.New("catalog", "AddBook", apperr.ErrInvalidInput, "book id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idUsed(b.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, b.ID)
	}
	c.books[b.ID] = b
	c.chaptersByBook[b.ID] = make(map[int]string)
	return nil
}

// AddChapter registers a chapter; its book must exist and its number must be
// unused within the book.
func (c *MemoryCatalog) AddChapter(ch Chapter) error {
	if ch.ID == "" {
		return apperr.New("catalog", "AddChapter", apperr.ErrInvalidInput, "chapter id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byNo, ok := c.chaptersByBook[ch.BookID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookNotFound, ch.BookID)
	}
	if c.idUsed(ch.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, ch.ID)
	}
	if _, taken := byNo[ch.ChapterNo]; taken {
		return fmt.Errorf("%w: book %s chapter %d", ErrDuplicateChapterNo, ch.BookID, ch.ChapterNo)
	}
	c.chapters[ch.ID] = ch
	byNo[ch.ChapterNo] = ch.ID
	return nil
}

// AddCourse registers a course.
func (c *MemoryCatalog) AddCourse(co Course) error {
	if co.ID == "" {
		return apperr.New("catalog", "AddCourse", apperr.ErrInvalidInput, "course id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idUsed(co.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, co.ID)
	}
	c.courses[co.ID] = co
	c.modulesByCrs[co.ID] = make(map[int]string)
	return nil
}

// AddModule registers a module; its course must exist.
func (c *MemoryCatalog) AddModule(m Module) error {
	if m.ID == "" {
		return apperr.New("catalog", "AddModule", apperr.ErrInvalidInput, "module id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byNo, ok := c.modulesByCrs[m.CourseID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCourseNotFound, m.CourseID)
	}
	if c.idUsed(m.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
	}
	if _, taken := byNo[m.ModuleNo]; taken {
		return fmt.Errorf("%w: course %s module %d", ErrDuplicateModuleNo, m.CourseID, m.ModuleNo)
	}
	c.modules[m.ID] = m
	byNo[m.ModuleNo] = m.ID
	return nil
}

// AddQuiz registers a quiz after validating it against its parent.
func (c *MemoryCatalog) AddQuiz(q Quiz) error {
	if err := ValidateQuiz(q); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.ChapterID != "" {
		if _, ok := c.chapters[q.ChapterID]; !ok {
			return fmt.Errorf("%w: %s", ErrChapterNotFound, q.ChapterID)
		}
	} else if _, ok := c.modules[q.ModuleID]; !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, q.ModuleID)
	}
	if c.idUsed(q.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, q.ID)
	}
	q.RequiredPlan = plan.TierNone
	c.quizzes[q.ID] = q
	return nil
}

func (c *MemoryCatalog) idUsed(id string) bool {
	if _, ok := c.books[id]; ok {
		return true
	}
	if _, ok := c.chapters[id]; ok {
		return true
	}
	if _, ok := c.courses[id]; ok {
		return true
	}
	if _, ok := c.modules[id]; ok {
		return true
	}
	_, ok := c.quizzes[id]
	return ok
}

func (c *MemoryCatalog) RequiredPlan(ctx context.Context, contentID string) (plan.Tier, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if b, ok := c.books[contentID]; ok {
		return b.RequiredPlan, nil
	}
	if ch, ok := c.chapters[contentID]; ok {
		return c.resolveChapter(ch).RequiredPlan, nil
	}
	if co, ok := c.courses[contentID]; ok {
		return co.RequiredPlan, nil
	}
	if m, ok := c.modules[contentID]; ok {
		return c.resolveModule(m).RequiredPlan, nil
	}
	if q, ok := c.quizzes[contentID]; ok {
		return c.resolveQuiz(q).RequiredPlan, nil
	}
	return plan.TierNone, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
}

func (c *MemoryCatalog) Book(_ context.Context, id string) (Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[id]
	if !ok {
		return Book{}, fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	return b, nil
}

func (c *MemoryCatalog) ListBooks(_ context.Context) ([]Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Book, 0, len(c.books))
	for _, b := range c.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) Chapter(_ context.Context, id string) (Chapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chapters[id]
	if !ok {
		return Chapter{}, fmt.Errorf("%w: %s", ErrChapterNotFound, id)
	}
	return c.resolveChapter(ch), nil
}

func (c *MemoryCatalog) ChapterParentBook(ctx context.Context, chapterID string) (string, error) {
	ch, err := c.Chapter(ctx, chapterID)
	if err != nil {
		return "", err
	}
	return ch.BookID, nil
}

func (c *MemoryCatalog) ListChapters(_ context.Context, bookID string) ([]Chapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byNo, ok := c.chaptersByBook[bookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	out := make([]Chapter, 0, len(byNo))
	for _, id := range byNo {
		out = append(out, c.resolveChapter(c.chapters[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterNo < out[j].ChapterNo })
	return out, nil
}

func (c *MemoryCatalog) Module(_ context.Context, id string) (Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	if !ok {
		return Module{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return c.resolveModule(m), nil
}

func (c *MemoryCatalog) Quiz(_ context.Context, id string) (Quiz, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quizzes[id]
	if !ok {
		return Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, id)
	}
	return c.resolveQuiz(q), nil
}

// Contents returns every item with its own (not inherited) tier.
func (c *MemoryCatalog) Contents() Contents {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out Contents
	for _, b := range c.books {
		out.Books = append(out.Books, b)
	}
	for _, ch := range c.chapters {
		out.Chapters = append(out.Chapters, ch)
	}
	for _, co := range c.courses {
		out.Courses = append(out.Courses, co)
	}
	for _, m := range c.modules {
		out.Modules = append(out.Modules, m)
	}
	for _, q := range c.quizzes {
		out.Quizzes = append(out.Quizzes, q)
	}
	sort.Slice(out.Books, func(i, j int) bool { return out.Books[i].ID < out.Books[j].ID })
	sort.Slice(out.Chapters, func(i, j int) bool { return out.Chapters[i].ID < out.Chapters[j].ID })
	sort.Slice(out.Courses, func(i, j int) bool { return out.Courses[i].ID < out.Courses[j].ID })
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].ID < out.Modules[j].ID })
	sort.Slice(out.Quizzes, func(i, j int) bool { return out.Quizzes[i].ID < out.Quizzes[j].ID })
	return out
}

func (c *MemoryCatalog) resolveChapter(ch Chapter) Chapter {
	ch.RequiredPlan = inherit(ch.RequiredPlan, c.books[ch.BookID].RequiredPlan)
	return ch
}

func (c *MemoryCatalog) resolveModule(m Module) Module {
	m.RequiredPlan = inherit(m.RequiredPlan, c.courses[m.CourseID].RequiredPlan)
	return m
}

func (c *MemoryCatalog) resolveQuiz(q Quiz) Quiz {
	if q.ChapterID != "" {
		q.RequiredPlan = c.resolveChapter(c.chapters[q.ChapterID]).RequiredPlan
	} else {
		q.RequiredPlan = c.resolveModule(c.modules[q.ModuleID]).RequiredPlan
	}
	return q
}
