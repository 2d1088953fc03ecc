package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
)

const (
	dbTimeout     = 5 * time.Second
	importTimeout = time.Minute

	chapterSelect = `SELECT c.id, c.book_id, c.chapter_no, c.title, c.pdf_url,
		COALESCE(NULLIF(c.required_plan, ''), b.required_plan)
		FROM chapters c JOIN books b ON b.id = c.book_id`
	moduleSelect = `SELECT m.id, m.course_id, m.module_no, m.title,
		COALESCE(NULLIF(m.required_plan, ''), co.required_plan)
		FROM modules m JOIN courses co ON co.id = m.course_id`
	quizSelect = `SELECT q.id, q.title, COALESCE(q.chapter_id, ''), COALESCE(q.module_id, ''), q.questions,
		COALESCE(NULLIF(c.required_plan, ''), b.required_plan, NULLIF(m.required_plan, ''), co.required_plan, '')
		FROM quizzes q
		LEFT JOIN chapters c ON c.id = q.chapter_id
		LEFT JOIN books b ON b.id = c.book_id
		LEFT JOIN modules m ON m.id = q.module_id
		LEFT JOIN courses co ON co.id = m.course_id`
)

// PostgresCatalog is a PostgreSQL-backed Catalog. Effective tiers are
// resolved in SQL by falling back to the parent's required_plan.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates a PostgreSQL-backed catalog.
func NewPostgresCatalog(pool *pgxpool.Pool) (*PostgresCatalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresCatalog{pool: pool}, nil
}

// Import upserts plans and content in one transaction. Re-importing the same
// files is a no-op.
func (c *PostgresCatalog) Import(ctx context.Context, contents Contents, plans []plan.Plan) error {
	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Unavailable("catalog", "Import", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, p := range plans {
		features := p.Features
		if features == nil {
			features = []string{}
		}
		batch.Queue(`INSERT INTO plans (id, name, tier, price, duration_months, features)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tier = EXCLUDED.tier,
				price = EXCLUDED.price, duration_months = EXCLUDED.duration_months, features = EXCLUDED.features`,
			p.ID, p.Name, string(p.Tier), p.Price, p.DurationMonths, features)
	}
	for _, b := range contents.Books {
		batch.Queue(`INSERT INTO books (id, name, description, required_plan) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
				required_plan = EXCLUDED.required_plan`,
			b.ID, b.Name, b.Description, string(b.RequiredPlan))
	}
	for _, ch := range contents.Chapters {
		batch.Queue(`INSERT INTO chapters (id, book_id, chapter_no, title, pdf_url, required_plan)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET book_id = EXCLUDED.book_id, chapter_no = EXCLUDED.chapter_no,
				title = EXCLUDED.title, pdf_url = EXCLUDED.pdf_url, required_plan = EXCLUDED.required_plan`,
			ch.ID, ch.BookID, ch.ChapterNo, ch.Title, ch.PDFURL, string(ch.RequiredPlan))
	}
	for _, co := range contents.Courses {
		batch.Queue(`INSERT INTO courses (id, title, required_plan) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, required_plan = EXCLUDED.required_plan`,
			co.ID, co.Title, string(co.RequiredPlan))
	}
	for _, m := range contents.Modules {
		batch.Queue(`INSERT INTO modules (id, course_id, module_no, title, required_plan)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET course_id = EXCLUDED.course_id, module_no = EXCLUDED.module_no,
				title = EXCLUDED.title, required_plan = EXCLUDED.required_plan`,
			m.ID, m.CourseID, m.ModuleNo, m.Title, string(m.RequiredPlan))
	}
	for _, q := range contents.Quizzes {
		questions, err := json.Marshal(q.Questions)
		if err != nil {
			return fmt.Errorf("encoding quiz %s: %w", q.ID, err)
		}
		batch.Queue(`INSERT INTO quizzes (id, title, chapter_id, module_id, questions)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, chapter_id = EXCLUDED.chapter_id,
				module_id = EXCLUDED.module_id, questions = EXCLUDED.questions`,
			q.ID, q.Title, q.ChapterID, q.ModuleID, questions)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Wrap("catalog", "Import", apperr.ErrConflict, "content numbering conflicts with stored content", err)
		}
		return apperr.Unavailable("catalog", "Import", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Unavailable("catalog", "Import", err)
	}

	slog.Info("catalog imported",
		"plans", len(plans),
		"books", len(contents.Books),
		"chapters", len(contents.Chapters),
		"courses", len(contents.Courses),
		"modules", len(contents.Modules),
		"quizzes", len(contents.Quizzes),
	)
	return nil
}

func (c *PostgresCatalog) RequiredPlan(ctx context.Context, contentID string) (plan.Tier, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var tier string
	err := c.pool.QueryRow(ctx, `
		SELECT required_plan FROM books WHERE id = $1
		UNION ALL
		SELECT COALESCE(NULLIF(c.required_plan, ''), b.required_plan)
			FROM chapters c JOIN books b ON b.id = c.book_id WHERE c.id = $1
		UNION ALL
		SELECT required_plan FROM courses WHERE id = $1
		UNION ALL
		SELECT COALESCE(NULLIF(m.required_plan, ''), co.required_plan)
			FROM modules m JOIN courses co ON co.id = m.course_id WHERE m.id = $1
		UNION ALL
		SELECT COALESCE(NULLIF(c.required_plan, ''), b.required_plan, NULLIF(m.required_plan, ''), co.required_plan, '')
			FROM quizzes q
			LEFT JOIN chapters c ON c.id = q.chapter_id
			LEFT JOIN books b ON b.id = c.book_id
			LEFT JOIN modules m ON m.id = q.module_id
			LEFT JOIN courses co ON co.id = m.course_id
			WHERE q.id = $1
		LIMIT 1`, contentID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return plan.TierNone, fmt.Errorf("%w: %s", ErrContentNotFound, contentID)
		}
		return plan.TierNone, apperr.Unavailable("catalog", "RequiredPlan", err)
	}
	return plan.Tier(tier), nil
}

func (c *PostgresCatalog) Book(ctx context.Context, id string) (Book, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	b, err := scanBook(c.pool.QueryRow(ctx,
		`SELECT id, name, description, required_plan FROM books WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, fmt.Errorf("%w: %s", ErrBookNotFound, id)
		}
		return Book{}, apperr.Unavailable("catalog", "Book", err)
	}
	return b, nil
}

func (c *PostgresCatalog) ListBooks(ctx context.Context) ([]Book, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, `SELECT id, name, description, required_plan FROM books ORDER BY id`)
	if err != nil {
		return nil, apperr.Unavailable("catalog", "ListBooks", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, apperr.Unavailable("catalog", "ListBooks", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("catalog", "ListBooks", err)
	}
	return out, nil
}

func (c *PostgresCatalog) Chapter(ctx context.Context, id string) (Chapter, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	ch, err := scanChapter(c.pool.QueryRow(ctx, chapterSelect+` WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chapter{}, fmt.Errorf("%w: %s", ErrChapterNotFound, id)
		}
		return Chapter{}, apperr.Unavailable("catalog", "Chapter", err)
	}
	return ch, nil
}

func (c *PostgresCatalog) ChapterParentBook(ctx context.Context, chapterID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var bookID string
	if err := c.pool.QueryRow(ctx, `SELECT book_id FROM chapters WHERE id = $1`, chapterID).Scan(&bookID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrChapterNotFound, chapterID)
		}
		return "", apperr.Unavailable("catalog", "ChapterParentBook", err)
	}
	return bookID, nil
}

func (c *PostgresCatalog) ListChapters(ctx context.Context, bookID string) ([]Chapter, error) {
	if _, err := c.Book(ctx, bookID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, chapterSelect+` WHERE c.book_id = $1 ORDER BY c.chapter_no`, bookID)
	if err != nil {
		return nil, apperr.Unavailable("catalog", "ListChapters", err)
	}
	defer rows.Close()

	out := []Chapter{}
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, apperr.Unavailable("catalog", "ListChapters", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("catalog", "ListChapters", err)
	}
	return out, nil
}

func (c *PostgresCatalog) Module(ctx context.Context, id string) (Module, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var m Module
	var tier string
	err := c.pool.QueryRow(ctx, moduleSelect+` WHERE m.id = $1`, id).
		Scan(&m.ID, &m.CourseID, &m.ModuleNo, &m.Title, &tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Module{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
		}
		return Module{}, apperr.Unavailable("catalog", "Module", err)
	}
	m.RequiredPlan = plan.Tier(tier)
	return m, nil
}

func (c *PostgresCatalog) Quiz(ctx context.Context, id string) (Quiz, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var q Quiz
	var questions []byte
	var tier string
	err := c.pool.QueryRow(ctx, quizSelect+` WHERE q.id = $1`, id).
		Scan(&q.ID, &q.Title, &q.ChapterID, &q.ModuleID, &questions, &tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, id)
		}
		return Quiz{}, apperr.Unavailable("catalog", "Quiz", err)
	}
	if err := json.Unmarshal(questions, &q.Questions); err != nil {
		return Quiz{}, fmt.Errorf("decoding quiz %s questions: %w", id, err)
	}
	q.RequiredPlan = plan.Tier(tier)
	return q, nil
}

const planSelect = `SELECT id, name, tier, price, duration_months, features FROM plans`

// Plan resolves an imported plan by id.
func (c *PostgresCatalog) Plan(ctx context.Context, id string) (plan.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanPlan(c.pool.QueryRow(ctx, planSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return plan.Plan{}, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, id)
		}
		return plan.Plan{}, apperr.Unavailable("catalog", "Plan", err)
	}
	return p, nil
}

// ListPlans returns imported plans ordered by price, cheapest first.
func (c *PostgresCatalog) ListPlans(ctx context.Context) ([]plan.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, planSelect+` ORDER BY price, id`)
	if err != nil {
		return nil, apperr.Unavailable("catalog", "ListPlans", err)
	}
	defer rows.Close()

	var out []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, apperr.Unavailable("catalog", "ListPlans", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("catalog", "ListPlans", err)
	}
	return out, nil
}

func scanPlan(row pgx.Row) (plan.Plan, error) {
	var p plan.Plan
	var tier string
	if err := row.Scan(&p.ID, &p.Name, &tier, &p.Price, &p.DurationMonths, &p.Features); err != nil {
		return plan.Plan{}, err
	}
	p.Tier = plan.Tier(tier)
	return p, nil
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	var tier string
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &tier); err != nil {
		return Book{}, err
	}
	b.RequiredPlan = plan.Tier(tier)
	return b, nil
}

func scanChapter(row pgx.Row) (Chapter, error) {
	var ch Chapter
	var tier string
	if err := row.Scan(&ch.ID, &ch.BookID, &ch.ChapterNo, &ch.Title, &ch.PDFURL, &tier); err != nil {
		return Chapter{}, err
	}
	ch.RequiredPlan = plan.Tier(tier)
	return ch, nil
}
