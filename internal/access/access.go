// Package access decides whether a principal may open a gated content item.
// It only reads subscription state.
package access

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

// Reason explains a decision. Deny reasons are stable and safe to expose.
type Reason string

const (
	ReasonAdmin    Reason = "admin"
	ReasonUngated  Reason = "ungated"
	ReasonEntitled Reason = "entitled"

	ReasonNoActiveSubscription Reason = "no_active_subscription"
	ReasonInsufficientPlan     Reason = "insufficient_plan"
	ReasonSubscriptionExpired  Reason = "subscription_expired"
)

var (
	ErrNoActiveSubscription = apperr.New("access", "CheckAccess", apperr.ErrForbidden, "no active subscription")
	ErrInsufficientPlan     = apperr.New("access", "CheckAccess", apperr.ErrForbidden, "plan does not include this content")
	ErrSubscriptionExpired  = apperr.New("access", "CheckAccess", apperr.ErrForbidden, "subscription expired")
	ErrRoleNotAllowed       = apperr.New("access", "RequireRole", apperr.ErrForbidden, "role not allowed")
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role subscription.Role
}

// IsAdmin reports whether the principal bypasses entitlement checks.
func (p Principal) IsAdmin() bool { return p.Role == subscription.RoleAdmin }

// HasRole reports whether the principal holds one of the allowed roles.
func HasRole(p Principal, allowed ...subscription.Role) bool {
	return slices.Contains(allowed, p.Role)
}

// RequireRole is HasRole as an error.
func RequireRole(p Principal, allowed ...subscription.Role) error {
	if HasRole(p, allowed...) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrRoleNotAllowed, p.Role)
}

// Item is anything carrying a required tier.
type Item interface {
	RequiredTier() plan.Tier
}

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err returns nil for an allow and the Forbidden sentinel for the deny reason.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonInsufficientPlan:
		return ErrInsufficientPlan
	case ReasonSubscriptionExpired:
		return ErrSubscriptionExpired
	default:
		return ErrNoActiveSubscription
	}
}

// SubscriptionSource loads the caller's subscription.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID string) (subscription.Subscription, error)
}

// ResolverConfig holds the resolver's dependencies.
type ResolverConfig struct {
	Subscriptions SubscriptionSource
	Now           func() time.Time // defaults to time.Now
}

// Resolver is the entitlement resolver.
type Resolver struct {
	subs SubscriptionSource
	now  func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{subs: cfg.Subscriptions, now: now}
}

// CheckAccess decides whether p may open item. Subscription lookup errors are
// returned as-is.
func (r *Resolver) CheckAccess(ctx context.Context, p Principal, item Item) (Decision, error) {
	required := item.RequiredTier()
	if d, ok := precheck(p, required); ok {
		return d, nil
	}
	sub, err := r.subs.GetSubscription(ctx, p.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("loading subscription: %w", err)
	}
	return Evaluate(sub, required, r.now()), nil
}

// FilterAllowed returns the items p may open, in their original order. The
// subscription is loaded at most once.
func FilterAllowed[T Item](ctx context.Context, r *Resolver, p Principal, items []T) ([]T, error) {
	var sub *subscription.Subscription
	now := r.now()
	out := make([]T, 0, len(items))
	for _, item := range items {
		required := item.RequiredTier()
		d, ok := precheck(p, required)
		if !ok {
			if sub == nil {
				s, err := r.subs.GetSubscription(ctx, p.ID)
				if err != nil {
					return nil, fmt.Errorf("loading subscription: %w", err)
				}
				sub = &s
			}
			d = Evaluate(*sub, required, now)
		}
		if d.Allowed {
			out = append(out, item)
		}
	}
	return out, nil
}

// Evaluate applies the subscription rules for gated content. Expiry is
// checked before rank, so an expired premium plan reports expiry.
func Evaluate(sub subscription.Subscription, required plan.Tier, now time.Time) Decision {
	if sub.Status != subscription.StatusActive || !sub.Plan.Valid() || sub.EndDate == nil {
		return Decision{Reason: ReasonNoActiveSubscription}
	}
	if !sub.EndDate.After(now) {
		return Decision{Reason: ReasonSubscriptionExpired}
	}
	if !sub.Plan.AtLeast(required) {
		return Decision{Reason: ReasonInsufficientPlan}
	}
	return Decision{Allowed: true, Reason: ReasonEntitled}
}

func precheck(p Principal, required plan.Tier) (Decision, bool) {
	if p.IsAdmin() {
		return Decision{Allowed: true, Reason: ReasonAdmin}, true
	}
	if required == plan.TierNone || required == plan.TierFree {
		return Decision{Allowed: true, Reason: ReasonUngated}, true
	}
	return Decision{}, false
}

// NoticeVisible reports whether a notice targeted at the given tiers is shown
// to p. An empty target list addresses everyone; a user without a plan is
// treated as free.
func NoticeVisible(p Principal, sub subscription.Subscription, targets []plan.Tier) bool {
	if p.IsAdmin() || len(targets) == 0 {
		return true
	}
	tier := sub.Plan
	if !tier.Valid() {
		tier = plan.TierFree
	}
	return slices.Contains(targets, tier)
}
