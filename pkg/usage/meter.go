package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
)

// LimitCheck is the result of comparing a counter against its cap
type LimitCheck struct {
	Allowed   bool `json:"allowed"`
	Current   int  `json:"current"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"` // tiers.Unlimited when the metric has no cap
}

// MetricSummary is one row of a tenant usage report
type MetricSummary struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// LimitExceededError indicates a metered action would exceed the period cap.
// It is not retryable within the period.
type LimitExceededError struct {
	Metric  Metric
	Current int
	Limit   int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for %s: %d of %d", e.Metric, e.Current, e.Limit)
}

// IsLimitExceeded checks if an error is a usage limit error
func IsLimitExceeded(err error) bool {
	var e *LimitExceededError
	return errors.As(err, &e)
}

// Store is the persistence contract the meter needs. The concrete
// implementations live alongside the subscription stores.
type Store interface {
	// IncrementIfBelow adds one to the metric's counter only while it is below
	// limit, as a single atomic operation. It returns the counter value after
	// the attempt and whether the increment was applied. A limit of
	// tiers.Unlimited always applies.
	IncrementIfBelow(ctx context.Context, tenantID string, metric Metric, limit int) (current int, applied bool, err error)

	// ResetUsage zeroes the counters in scope and stamps the matching reset
	// time. Implementations must make repeat calls within the same period
	// harmless.
	ResetUsage(ctx context.Context, tenantID string, scope ResetScope, now time.Time) error
}

// Meter tracks consumption against the limits snapshot on a subscription
type Meter struct {
	store  Store
	logger *observability.Logger
	now    func() time.Time
}

// NewMeter creates a new usage meter
func NewMeter(store Store, logger *observability.Logger) *Meter {
	return &Meter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CheckLimit reports whether the metric is below its cap without consuming
// quota. Callers wanting to consume must follow up with Record after the gated
// action succeeds.
func (m *Meter) CheckLimit(sub *subscriptions.Subscription, metric Metric) LimitCheck {
	limit := LimitFor(sub.Features, metric)
	current := CurrentFor(sub.Usage, metric)

	if limit == tiers.Unlimited {
		return LimitCheck{Allowed: true, Current: current, Limit: limit, Remaining: tiers.Unlimited}
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return LimitCheck{
		Allowed:   current < limit,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
	}
}

// Record consumes one unit of the metric via the store's conditional
// increment. When the counter is already at its cap no increment happens and a
// LimitExceededError is returned, so two racing callers can never overrun the
// limit together.
func (m *Meter) Record(ctx context.Context, sub *subscriptions.Subscription, metric Metric) (*LimitCheck, error) {
	limit := LimitFor(sub.Features, metric)

	current, applied, err := m.store.IncrementIfBelow(ctx, sub.TenantID, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	if !applied {
		return nil, &LimitExceededError{Metric: metric, Current: current, Limit: limit}
	}

	remaining := tiers.Unlimited
	if limit != tiers.Unlimited {
		remaining = limit - current
		if remaining < 0 {
			remaining = 0
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"tenant_id": sub.TenantID,
		"metric":    string(metric),
		"current":   current,
	}).Debug("usage recorded")

	return &LimitCheck{Allowed: true, Current: current, Limit: limit, Remaining: remaining}, nil
}

// ResetIfNewPeriod zeroes the monthly counters when the calendar month has
// rolled over since the last reset, and the hourly API counter when the hour
// has. Calling it twice in the same period changes nothing. The passed
// subscription is updated in place so callers see fresh counters.
func (m *Meter) ResetIfNewPeriod(ctx context.Context, sub *subscriptions.Subscription) (bool, error) {
	now := m.now()
	reset := false

	last := sub.Usage.LastResetDate
	if last.Year() != now.Year() || last.Month() != now.Month() {
		if err := m.store.ResetUsage(ctx, sub.TenantID, ScopeMonthly, now); err != nil {
			return false, fmt.Errorf("failed to reset monthly usage: %w", err)
		}
		sub.Usage.JobsPostedThisMonth = 0
		sub.Usage.ApplicationsThisMonth = 0
		sub.Usage.InterviewsThisMonth = 0
		sub.Usage.SMSCreditsUsed = 0
		sub.Usage.LastResetDate = now
		reset = true
	}

	if !sub.Usage.LastHourlyReset.Truncate(time.Hour).Equal(now.Truncate(time.Hour)) {
		if err := m.store.ResetUsage(ctx, sub.TenantID, ScopeHourly, now); err != nil {
			return false, fmt.Errorf("failed to reset hourly usage: %w", err)
		}
		sub.Usage.APICallsThisHour = 0
		sub.Usage.LastHourlyReset = now
		reset = true
	}

	if reset {
		m.logger.WithField("tenant_id", sub.TenantID).Debug("usage counters reset for new period")
	}
	return reset, nil
}

// Summary builds a per-metric usage report from the subscription record
func (m *Meter) Summary(sub *subscriptions.Subscription) map[Metric]MetricSummary {
	out := make(map[Metric]MetricSummary, len(AllMetrics()))
	for _, metric := range AllMetrics() {
		limit := LimitFor(sub.Features, metric)
		used := CurrentFor(sub.Usage, metric)

		summary := MetricSummary{Used: used, Limit: limit, Remaining: tiers.Unlimited}
		if limit == 0 {
			summary.Remaining = 0
			summary.Percentage = 100
		} else if limit != tiers.Unlimited {
			remaining := limit - used
			if remaining < 0 {
				remaining = 0
			}
			summary.Remaining = remaining
			summary.Percentage = float64(used) / float64(limit) * 100
		}
		out[metric] = summary
	}
	return out
}
