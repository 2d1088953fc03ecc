// Package plan defines subscription plan tiers and the plans users can buy.
package plan

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// Tier is an ordered subscription level gating content access.
type Tier string

const (
	TierNone     Tier = "" // content with no required tier
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Tiers lists every tier in rank order.
var Tiers = []Tier{TierFree, TierBasic, TierStandard, TierPremium}

var (
	ErrPlanNotFound = apperr.New("plan", "Plan", apperr.ErrNotFound, "plan not found")
	ErrUnknownTier  = apperr.New("plan", "ParseTier", apperr.ErrInvalidInput, "unknown plan tier")
)

// Rank returns the tier position: free=0, basic=1, standard=2, premium=3.
// TierNone and unknown tiers rank below free.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierBasic:
		return 1
	case TierStandard:
		return 2
	case TierPremium:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is one of the four closed tiers.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// AtLeast reports whether t grants everything required grants.
func (t Tier) AtLeast(required Tier) bool {
	return t.Valid() && t.Rank() >= required.Rank()
}

var folder = cases.Fold()

// ParseTier accepts a tier name or a plan display name such as "Premium Plan".
// A blank string parses as TierNone; a bare "Plan" is rejected.
func ParseTier(s string) (Tier, error) {
	v := strings.TrimSpace(folder.String(s))
	if v == "" {
		return TierNone, nil
	}
	v = strings.TrimSpace(strings.TrimSuffix(v, "plan"))
	for _, t := range Tiers {
		if v == string(t) {
			return t, nil
		}
	}
	return TierNone, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Plan is a purchasable subscription plan.
type Plan struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Tier           Tier     `json:"tier" yaml:"tier"`
	Price          float64  `json:"price" yaml:"price"`
	DurationMonths int      `json:"duration_months" yaml:"duration_months"`
	Features       []string `json:"features,omitempty" yaml:"features"`
}

// Lookup resolves plans by id.
type Lookup interface {
	Plan(ctx context.Context, id string) (Plan, error)
}

// Source resolves plans by id and lists them cheapest first.
type Source interface {
	Lookup
	ListPlans(ctx context.Context) ([]Plan, error)
}

// Registry is an in-memory plan Source.
type Registry struct {
	plans map[string]Plan
	mu    sync.RWMutex
}

// NewRegistry creates a registry holding the given plans.
func NewRegistry(plans ...Plan) *Registry {
	r := &Registry{plans: make(map[string]Plan)}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

// Register adds or replaces a plan.
func (r *Registry) Register(p Plan) error {
	if p.ID == "" {
		return apperr.New("plan", "Register", apperr.ErrInvalidInput, "plan id is required")
	}
	if !p.Tier.Valid() {
		return fmt.Errorf("plan %s: %w: %q", p.ID, ErrUnknownTier, p.Tier)
	}
	if p.DurationMonths <= 0 {
		return apperr.New("plan", "Register", apperr.ErrInvalidInput, "plan duration must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
	return nil
}

func (r *Registry) Plan(_ context.Context, id string) (Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p, nil
}

// List returns all plans ordered by price, cheapest first.
func (r *Registry) List() []Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) ListPlans(_ context.Context) ([]Plan, error) {
	return r.List(), nil
}
