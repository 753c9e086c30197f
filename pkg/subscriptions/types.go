package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutline/entitlements/pkg/tiers"
)

// Status represents the lifecycle status of a subscription
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
)

// BillingCycle determines the period length used for renewals
type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleYearly   BillingCycle = "yearly"
	CycleLifetime BillingCycle = "lifetime"
)

// IsValidCycle reports whether c is a known billing cycle
func IsValidCycle(c BillingCycle) bool {
	switch c {
	case CycleMonthly, CycleYearly, CycleLifetime:
		return true
	}
	return false
}

// HistoryAction identifies a lifecycle transition in the history log
type HistoryAction string

const (
	ActionCreated     HistoryAction = "created"
	ActionUpgraded    HistoryAction = "upgraded"
	ActionDowngraded  HistoryAction = "downgraded"
	ActionRenewed     HistoryAction = "renewed"
	ActionCancelled   HistoryAction = "cancelled"
	ActionReactivated HistoryAction = "reactivated"
	ActionExpired     HistoryAction = "expired"
)

// HistoryEntry is one append-only record of a lifecycle transition
type HistoryEntry struct {
	ID       string        `json:"id"`
	Action   HistoryAction `json:"action"`
	FromTier tiers.Tier    `json:"from_tier,omitempty"`
	ToTier   tiers.Tier    `json:"to_tier,omitempty"`
	Date     time.Time     `json:"date"`
	Actor    string        `json:"actor,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Usage holds the metered counters for a subscription. Counters are never
// negative and are only ever zeroed by a period reset, never decremented.
type Usage struct {
	JobsPostedThisMonth   int       `json:"jobs_posted_this_month"`
	ApplicationsThisMonth int       `json:"applications_this_month"`
	InterviewsThisMonth   int       `json:"interviews_this_month"`
	SMSCreditsUsed        int       `json:"sms_credits_used"`
	APICallsThisHour      int       `json:"api_calls_this_hour"`
	LastResetDate         time.Time `json:"last_reset_date"`
	LastHourlyReset       time.Time `json:"last_hourly_reset"`
}

// Subscription is the per-tenant subscription record. Features is a snapshot of
// the tier catalog taken at the last tier change, not a live reference.
type Subscription struct {
	ID           int64               `json:"id"`
	TenantID     string              `json:"tenant_id"`
	Tier         tiers.Tier          `json:"tier"`
	Status       Status              `json:"status"`
	BillingCycle BillingCycle        `json:"billing_cycle"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      *time.Time          `json:"end_date,omitempty"`
	RenewalDate  *time.Time          `json:"renewal_date,omitempty"`
	AutoRenew    bool                `json:"auto_renew"`
	TrialEnd     *time.Time          `json:"trial_end,omitempty"`
	CancelledAt  *time.Time          `json:"cancelled_at,omitempty"`
	Features     tiers.FeatureLimits `json:"features"`
	Usage        Usage               `json:"usage"`
	History      []HistoryEntry      `json:"history,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PeriodLength returns the billing period for the subscription's cycle as a
// (years, months) pair. Lifetime subscriptions have no period.
func (s *Subscription) PeriodLength() (years, months int, ok bool) {
	switch s.BillingCycle {
	case CycleYearly:
		return 1, 0, true
	case CycleMonthly:
		return 0, 1, true
	}
	return 0, 0, false
}

// CreateRequest represents a request to create a subscription
type CreateRequest struct {
	TenantID     string       `json:"tenant_id"`
	Tier         tiers.Tier   `json:"tier"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	TrialDays    int          `json:"trial_days,omitempty"`
	Actor        string       `json:"actor,omitempty"`
}

// ErrNotFound is returned by stores when no subscription exists for a tenant
var ErrNotFound = errors.New("subscription not found")

// InvalidTransitionError indicates a lifecycle operation attempted from an
// incompatible state. It signals a caller bug and is never absorbed silently.
type InvalidTransitionError struct {
	Op     string
	Status Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s subscription in status %q", e.Op, e.Status)
}

// IsInvalidTransition checks if an error is an invalid transition error
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// Store defines the persistence contract for subscription records. All writes
// for a single tenant must be serialized by the implementation (row-level
// atomic updates in Postgres, per-tenant locks in memory).
type Store interface {
	// Get returns the subscription for a tenant, or ErrNotFound.
	Get(ctx context.Context, tenantID string) (*Subscription, error)

	// GetOrCreate inserts fresh if the tenant has no record yet, relying on the
	// unique tenant key so two racing first-requests provision exactly one
	// record. Returns the stored record and whether this call created it.
	GetOrCreate(ctx context.Context, fresh *Subscription) (*Subscription, bool, error)

	// Save writes the full record, including the history log.
	Save(ctx context.Context, sub *Subscription) error

	// SetTier writes the tier and the limits snapshot in a single atomic update
	// and appends the history entry, so the two can never diverge.
	SetTier(ctx context.Context, tenantID string, tier tiers.Tier, limits tiers.FeatureLimits, entry HistoryEntry) error
}
