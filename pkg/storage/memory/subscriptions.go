package memory

import (
	"context"
	"sync"
	"time"

	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

// SubscriptionStore is an in-memory subscription and usage store
type SubscriptionStore struct {
	mu     sync.Mutex
	subs   map[string]*subscriptions.Subscription
	nextID int64
	now    func() time.Time
}

// NewSubscriptionStore creates an empty in-memory subscription store
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs: make(map[string]*subscriptions.Subscription),
		now:  time.Now,
	}
}

// Get returns the subscription for a tenant, or subscriptions.ErrNotFound
func (s *SubscriptionStore) Get(ctx context.Context, tenantID string) (*subscriptions.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, subscriptions.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// GetOrCreate inserts fresh when the tenant has no record. The whole operation
// runs under the store lock, so two racing first-requests provision exactly
// one record.
func (s *SubscriptionStore) GetOrCreate(ctx context.Context, fresh *subscriptions.Subscription) (*subscriptions.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subs[fresh.TenantID]; ok {
		return cloneSubscription(existing), false, nil
	}

	s.nextID++
	stored := cloneSubscription(fresh)
	stored.ID = s.nextID
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.subs[fresh.TenantID] = stored
	return cloneSubscription(stored), true, nil
}

// Save writes the full record including the history log
func (s *SubscriptionStore) Save(ctx context.Context, sub *subscriptions.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subs[sub.TenantID]
	if !ok {
		return subscriptions.ErrNotFound
	}

	stored := cloneSubscription(sub)
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	s.subs[sub.TenantID] = stored
	return nil
}

// SetTier writes the tier and the limits snapshot together and appends the
// history entry
func (s *SubscriptionStore) SetTier(ctx context.Context, tenantID string, tier tiers.Tier, limits tiers.FeatureLimits, entry subscriptions.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return subscriptions.ErrNotFound
	}

	sub.Tier = tier
	sub.Features = limits
	sub.History = append(sub.History, entry)
	sub.UpdatedAt = s.now()
	return nil
}

// IncrementIfBelow adds one to the metric's counter only while it is below
// limit. The store lock makes the check and the write a single atomic step.
func (s *SubscriptionStore) IncrementIfBelow(ctx context.Context, tenantID string, metric usage.Metric, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return 0, false, subscriptions.ErrNotFound
	}

	current := usage.CurrentFor(sub.Usage, metric)
	if limit != tiers.Unlimited && current >= limit {
		return current, false, nil
	}

	current++
	switch metric {
	case usage.MetricJobs:
		sub.Usage.JobsPostedThisMonth = current
	case usage.MetricApplications:
		sub.Usage.ApplicationsThisMonth = current
	case usage.MetricInterviews:
		sub.Usage.InterviewsThisMonth = current
	case usage.MetricSMS:
		sub.Usage.SMSCreditsUsed = current
	case usage.MetricAPI:
		sub.Usage.APICallsThisHour = current
	}
	sub.UpdatedAt = s.now()
	return current, true, nil
}

// ResetUsage zeroes the counters in scope and stamps the matching reset time
func (s *SubscriptionStore) ResetUsage(ctx context.Context, tenantID string, scope usage.ResetScope, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[tenantID]
	if !ok {
		return subscriptions.ErrNotFound
	}

	switch scope {
	case usage.ScopeMonthly:
		sub.Usage.JobsPostedThisMonth = 0
		sub.Usage.ApplicationsThisMonth = 0
		sub.Usage.InterviewsThisMonth = 0
		sub.Usage.SMSCreditsUsed = 0
		sub.Usage.LastResetDate = now
	case usage.ScopeHourly:
		sub.Usage.APICallsThisHour = 0
		sub.Usage.LastHourlyReset = now
	}
	sub.UpdatedAt = s.now()
	return nil
}

func cloneSubscription(sub *subscriptions.Subscription) *subscriptions.Subscription {
	c := *sub
	c.EndDate = cloneTime(sub.EndDate)
	c.RenewalDate = cloneTime(sub.RenewalDate)
	c.TrialEnd = cloneTime(sub.TrialEnd)
	c.CancelledAt = cloneTime(sub.CancelledAt)
	c.History = make([]subscriptions.HistoryEntry, len(sub.History))
	copy(c.History, sub.History)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
