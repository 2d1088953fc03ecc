// Package app wires configuration into stores, the report cache, metrics and
// the learning engine. Both binaries build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/learning"
	"github.com/p-n-ai/pai-learn/internal/notice"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/report"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

// App holds the process-wide dependencies.
type App struct {
	Config        *config.Config
	DB            *database.DB // nil with the memory driver
	Cache         *cache.Cache // nil unless the cache is enabled
	Metrics       *metrics.Metrics
	Catalog       catalog.Catalog
	Subscriptions subscription.Store
	Reports       report.Source
	Engine        *learning.Engine
}

// New connects the configured backends. With the postgres driver pending
// migrations are applied before any store is created.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	var (
		plans         plan.Source
		progressStore progress.Store
		submissions   quiz.SubmissionStore
		notices       notice.Store
		events        learning.EventLogger = learning.NopEventLogger{}
	)

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		stores, err := a.openPostgres()
		if err != nil {
			a.Close()
			return nil, err
		}
		plans = stores.catalog
		progressStore = stores.progress
		submissions = stores.submissions
		notices = stores.notices
		events = learning.NewPostgresEventLogger(db.Pool)

	case config.DriverMemory:
		loader, err := catalog.NewLoader(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		a.Catalog = loader.Catalog()
		a.Subscriptions = subscription.NewMemoryStore(loader.Plans())
		plans = loader.Plans()
		progressStore = progress.NewMemoryStore()
		submissions = quiz.NewMemoryStore()
		notices = notice.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	a.Reports = report.NewReporter(report.ReporterConfig{
		Submissions: submissions,
		Ledger:      a.Subscriptions,
	})
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting cache: %w", err)
		}
		a.Cache = c
		a.Reports = report.NewCachedReporter(a.Reports, c, cfg.Report.CacheTTL)
	}

	a.Engine = learning.NewEngine(learning.EngineConfig{
		Catalog:       a.Catalog,
		Plans:         plans,
		Subscriptions: a.Subscriptions,
		Progress:      progressStore,
		Submissions:   submissions,
		Notices:       notices,
		Reports:       a.Reports,
		Events:        events,
		Metrics:       a.Metrics,
	})

	slog.Info("application ready",
		"driver", cfg.Store.Driver,
		"cache", a.Cache != nil,
		"metrics", a.Metrics != nil,
	)
	return a, nil
}

// postgresStores are the stores built over the shared pool.
type postgresStores struct {
	catalog     *catalog.PostgresCatalog
	progress    *progress.PostgresStore
	submissions *quiz.PostgresStore
	notices     *notice.PostgresStore
}

func (a *App) openPostgres() (postgresStores, error) {
	pool := a.DB.Pool
	var st postgresStores

	cat, err := catalog.NewPostgresCatalog(pool)
	if err != nil {
		return st, err
	}
	subs, err := subscription.NewPostgresStore(pool)
	if err != nil {
		return st, err
	}
	ps, err := progress.NewPostgresStore(pool)
	if err != nil {
		return st, err
	}
	qs, err := quiz.NewPostgresStore(pool)
	if err != nil {
		return st, err
	}
	ns, err := notice.NewPostgresStore(pool)
	if err != nil {
		return st, err
	}

	a.Catalog = cat
	a.Subscriptions = subs
	return postgresStores{catalog: cat, progress: ps, submissions: qs, notices: ns}, nil
}

// Ready checks every connected backend.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("closing cache", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
