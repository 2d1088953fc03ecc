package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-learn/internal/access"
	"github.com/p-n-ai/pai-learn/internal/plan"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
	"github.com/p-n-ai/pai-learn/internal/subscription"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type tierItem plan.Tier

func (t tierItem) RequiredTier() plan.Tier { return plan.Tier(t) }

type fakeSubs struct {
	subs  map[string]subscription.Subscription
	calls int
	err   error
}

func (f *fakeSubs) GetSubscription(_ context.Context, userID string) (subscription.Subscription, error) {
	f.calls++
	if f.err != nil {
		return subscription.Subscription{}, f.err
	}
	s, ok := f.subs[userID]
	if !ok {
		return subscription.Subscription{}, subscription.ErrUserNotFound
	}
	return s, nil
}

func active(tier plan.Tier, end time.Time) subscription.Subscription {
	return subscription.Subscription{Plan: tier, Status: subscription.StatusActive, EndDate: &end}
}

func newResolver(subs *fakeSubs) *access.Resolver {
	return access.NewResolver(access.ResolverConfig{
		Subscriptions: subs,
		Now:           func() time.Time { return now },
	})
}

func TestResolver_CheckAccess(t *testing.T) {
	future := now.AddDate(0, 1, 0)
	past := now.Add(-time.Second)

	subs := &fakeSubs{subs: map[string]subscription.Subscription{
		"basic":           active(plan.TierBasic, future),
		"standard":        active(plan.TierStandard, future),
		"premium":         active(plan.TierPremium, future),
		"premium-expired": active(plan.TierPremium, past),
		"ends-now":        active(plan.TierPremium, now),
		"unpaid":          {Plan: plan.TierFree, Status: subscription.StatusNone},
		"no-end-date":     {Plan: plan.TierPremium, Status: subscription.StatusActive},
		"admin":           {Plan: plan.TierFree, Status: subscription.StatusNone},
	}}
	r := newResolver(subs)

	tests := []struct {
		name     string
		user     string
		role     subscription.Role
		required plan.Tier
		allowed  bool
		reason   access.Reason
	}{
		{"basic opens basic", "basic", subscription.RoleStudent, plan.TierBasic, true, access.ReasonEntitled},
		{"basic denied premium", "basic", subscription.RoleStudent, plan.TierPremium, false, access.ReasonInsufficientPlan},
		{"standard denied premium", "standard", subscription.RoleStudent, plan.TierPremium, false, access.ReasonInsufficientPlan},
		{"premium opens standard", "premium", subscription.RoleStudent, plan.TierStandard, true, access.ReasonEntitled},
		{"premium opens premium", "premium", subscription.RoleStudent, plan.TierPremium, true, access.ReasonEntitled},
		{"expired premium denied basic", "premium-expired", subscription.RoleStudent, plan.TierBasic, false, access.ReasonSubscriptionExpired},
		{"end date equal to now is expired", "ends-now", subscription.RoleStudent, plan.TierBasic, false, access.ReasonSubscriptionExpired},
		{"unpaid denied", "unpaid", subscription.RoleStudent, plan.TierBasic, false, access.ReasonNoActiveSubscription},
		{"missing end date denied", "no-end-date", subscription.RoleStudent, plan.TierBasic, false, access.ReasonNoActiveSubscription},
		{"unpaid opens ungated", "unpaid", subscription.RoleStudent, plan.TierNone, true, access.ReasonUngated},
		{"unpaid opens free", "unpaid", subscription.RoleStudent, plan.TierFree, true, access.ReasonUngated},
		{"admin opens premium", "admin", subscription.RoleAdmin, plan.TierPremium, true, access.ReasonAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.CheckAccess(context.Background(), access.Principal{ID: tt.user, Role: tt.role}, tierItem(tt.required))
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.allowed {
				assert.NoError(t, d.Err())
			} else {
				assert.True(t, apperr.IsForbidden(d.Err()))
			}
		})
	}
}

// Raising the caller's tier never turns an allow into a deny.
func TestEvaluate_MonotoneInTier(t *testing.T) {
	end := now.AddDate(1, 0, 0)
	for _, required := range plan.Tiers {
		wasAllowed := false
		for _, have := range plan.Tiers {
			d := access.Evaluate(active(have, end), required, now)
			if wasAllowed && !d.Allowed {
				t.Errorf("tier %s denied %s after a lower tier was allowed", have, required)
			}
			wasAllowed = wasAllowed || d.Allowed
		}
	}
}

// An expired subscription is denied every gated tier regardless of rank.
func TestEvaluate_ExpiredDeniesAllGated(t *testing.T) {
	end := now.Add(-time.Minute)
	for _, have := range plan.Tiers {
		for _, required := range []plan.Tier{plan.TierBasic, plan.TierStandard, plan.TierPremium} {
			d := access.Evaluate(active(have, end), required, now)
			if d.Allowed || d.Reason != access.ReasonSubscriptionExpired {
				t.Errorf("Evaluate(%s expired, %s) = %+v, want expired deny", have, required, d)
			}
		}
	}
}

func TestDecision_Err(t *testing.T) {
	tests := []struct {
		reason access.Reason
		want   error
	}{
		{access.ReasonNoActiveSubscription, access.ErrNoActiveSubscription},
		{access.ReasonInsufficientPlan, access.ErrInsufficientPlan},
		{access.ReasonSubscriptionExpired, access.ErrSubscriptionExpired},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := access.Decision{Reason: tt.reason}.Err()
			if !errors.Is(err, tt.want) {
				t.Errorf("Err() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolver_CheckAccess_PropagatesLookupErrors(t *testing.T) {
	r := newResolver(&fakeSubs{})

	_, err := r.CheckAccess(context.Background(), access.Principal{ID: "ghost", Role: subscription.RoleStudent}, tierItem(plan.TierBasic))
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)

	boom := apperr.Unavailable("subscription", "GetSubscription", errors.New("connection refused"))
	r = newResolver(&fakeSubs{err: boom})
	_, err = r.CheckAccess(context.Background(), access.Principal{ID: "u", Role: subscription.RoleStudent}, tierItem(plan.TierBasic))
	assert.True(t, apperr.IsUnavailable(err))
}

func TestFilterAllowed(t *testing.T) {
	subs := &fakeSubs{subs: map[string]subscription.Subscription{
		"std": active(plan.TierStandard, now.AddDate(0, 3, 0)),
	}}
	r := newResolver(subs)
	items := []tierItem{
		tierItem(plan.TierPremium), tierItem(plan.TierNone), tierItem(plan.TierBasic),
		tierItem(plan.TierStandard), tierItem(plan.TierFree),
	}

	got, err := access.FilterAllowed(context.Background(), r, access.Principal{ID: "std", Role: subscription.RoleStudent}, items)
	require.NoError(t, err)
	assert.Equal(t, []tierItem{
		tierItem(plan.TierNone), tierItem(plan.TierBasic), tierItem(plan.TierStandard), tierItem(plan.TierFree),
	}, got)
	assert.Equal(t, 1, subs.calls)
}

func TestHasRole(t *testing.T) {
	admin := access.Principal{ID: "a", Role: subscription.RoleAdmin}
	student := access.Principal{ID: "s", Role: subscription.RoleStudent}

	assert.True(t, access.HasRole(admin, subscription.RoleAdmin))
	assert.False(t, access.HasRole(student, subscription.RoleAdmin))
	assert.True(t, access.HasRole(student, subscription.RoleStudent, subscription.RoleAdmin))
	assert.ErrorIs(t, access.RequireRole(student, subscription.RoleAdmin), access.ErrRoleNotAllowed)
	assert.NoError(t, access.RequireRole(admin, subscription.RoleAdmin))
}

func TestNoticeVisible(t *testing.T) {
	basic := active(plan.TierBasic, now.AddDate(0, 1, 0))
	student := access.Principal{ID: "s", Role: subscription.RoleStudent}

	tests := []struct {
		name    string
		p       access.Principal
		targets []plan.Tier
		want    bool
	}{
		{"everyone", student, nil, true},
		{"targeted at plan", student, []plan.Tier{plan.TierBasic, plan.TierPremium}, true},
		{"other plans only", student, []plan.Tier{plan.TierPremium}, false},
		{"admin sees all", access.Principal{Role: subscription.RoleAdmin}, []plan.Tier{plan.TierPremium}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, access.NoticeVisible(tt.p, basic, tt.targets))
		})
	}
}

func TestNoticeVisible_NoPlanCountsAsFree(t *testing.T) {
	student := access.Principal{ID: "s", Role: subscription.RoleStudent}
	none := subscription.Subscription{}

	assert.True(t, access.NoticeVisible(student, none, []plan.Tier{plan.TierFree}))
	assert.False(t, access.NoticeVisible(student, none, []plan.Tier{plan.TierBasic}))
}
