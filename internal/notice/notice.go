// Package notice stores announcements addressed to subscription tiers.
package notice

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

var ErrNoticeNotFound = apperr.New("notice", "Get", apperr.ErrNotFound, "notice not found")

// Notice is an announcement. An empty TargetPlans addresses every user.
type Notice struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	TargetPlans []plan.Tier `json:"target_plans"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Store persists notices. List returns the newest first.
type Store interface {
	Create(ctx context.Context, n Notice) (Notice, error)
	Update(ctx context.Context, n Notice) (Notice, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Notice, error)
}

// Normalize trims the text fields, requires a title and a description, and
// reduces TargetPlans to a sorted set of valid tiers.
func Normalize(n Notice) (Notice, error) {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	if n.Title == "" || n.Description == "" {
		return n, apperr.New("notice", "Normalize", apperr.ErrInvalidInput, "title and description are required")
	}

	targets := make([]plan.Tier, 0, len(n.TargetPlans))
	for _, t := range n.TargetPlans {
		if !t.Valid() {
			return n, apperr.New("notice", "Normalize", apperr.ErrInvalidInput, "unknown target plan "+string(t))
		}
		if !slices.Contains(targets, t) {
			targets = append(targets, t)
		}
	}
	slices.SortFunc(targets, func(a, b plan.Tier) int { return a.Rank() - b.Rank() })
	n.TargetPlans = targets
	return n, nil
}
