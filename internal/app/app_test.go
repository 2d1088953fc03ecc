package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/app"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

const content = `
plans:
  - id: plan-basic
    name: Basic Plan
    tier: basic
    price: 100
    duration_months: 1
books:
  - id: book-open
    name: Open Book
    chapters:
      - id: open-1
        chapter_no: 1
        title: Welcome
  - id: book-paid
    name: Paid Book
    required_plan: basic
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content.yaml"), []byte(content), 0o644))
	return &config.Config{
		Store:   config.StoreConfig{Driver: config.DriverMemory},
		Catalog: config.CatalogConfig{Path: dir},
		Metrics: config.MetricsConfig{Enabled: true},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestNew_MemoryDriver(t *testing.T) {
	a, err := app.New(t.Context(), memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Cache)
	require.NotNil(t, a.Metrics)
	assert.NoError(t, a.Ready(t.Context()))

	student := access.Principal{ID: "u1", Role: subscription.RoleStudent}
	_, err = a.Subscriptions.CreateUser(t.Context(), subscription.User{ID: "u1"})
	require.NoError(t, err)

	books, err := a.Engine.ListBooks(t.Context(), student)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "book-open", books[0].ID)

	res, err := a.Engine.ApplyPaymentConfirmation(t.Context(), subscription.Confirmation{
		UserID: "u1", PlanID: "plan-basic", TransactionID: "tx-1", Amount: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Basic Plan", res.Transaction.PlanName)

	books, err = a.Engine.ListBooks(t.Context(), student)
	require.NoError(t, err)
	assert.Len(t, books, 2)

	plans, err := a.Engine.ListPlans(t.Context())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-basic", plans[0].ID)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "sqlite" }},
		{"missing catalog", func(c *config.Config) { c.Catalog.Path = filepath.Join(c.Catalog.Path, "missing") }},
		{"bad database url", func(c *config.Config) {
			c.Store.Driver = config.DriverPostgres
			c.Database.URL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.mutate(cfg)
			_, err := app.New(t.Context(), cfg)
			assert.Error(t, err)
		})
	}
}
