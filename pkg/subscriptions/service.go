package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/tiers"
)

// Service implements the subscription lifecycle state machine on top of a Store
type Service struct {
	store  Store
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a new subscription lifecycle service
func NewService(store Store, logger *observability.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create provisions a subscription for a tenant. The limits snapshot is taken
// from the tier catalog at creation time.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Subscription, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if !tiers.IsValid(req.Tier) {
		return nil, fmt.Errorf("unknown tier: %s", req.Tier)
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = CycleMonthly
	}
	if !IsValidCycle(cycle) {
		return nil, fmt.Errorf("unknown billing cycle: %s", cycle)
	}

	now := s.now()
	sub := &Subscription{
		TenantID:     req.TenantID,
		Tier:         req.Tier,
		Status:       StatusActive,
		BillingCycle: cycle,
		StartDate:    now,
		AutoRenew:    cycle != CycleLifetime,
		Features:     tiers.LimitsFor(req.Tier),
		Usage:        Usage{LastResetDate: now, LastHourlyReset: now},
	}

	if years, months, ok := sub.PeriodLength(); ok {
		end := now.AddDate(years, months, 0)
		sub.EndDate = &end
		sub.RenewalDate = &end
	}
	if req.TrialDays > 0 {
		sub.Status = StatusTrial
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		sub.TrialEnd = &trialEnd
	}
	sub.History = append(sub.History, s.historyEntry(ActionCreated, "", req.Tier, req.Actor, ""))

	stored, created, err := s.store.GetOrCreate(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("subscription already exists for tenant %s", req.TenantID)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": req.TenantID,
		"tier":      string(req.Tier),
	}).Info("subscription created")

	return stored, nil
}

// LoadOrProvision returns the tenant's subscription, creating a default free
// one if none exists. The upsert is keyed on the unique tenant ID, so two
// racing first-requests provision exactly one record. Expiry is applied lazily
// before the record is returned.
func (s *Service) LoadOrProvision(ctx context.Context, tenantID string) (*Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}

	now := s.now()
	fresh := &Subscription{
		TenantID:     tenantID,
		Tier:         tiers.TierFree,
		Status:       StatusActive,
		BillingCycle: CycleMonthly,
		StartDate:    now,
		Features:     tiers.LimitsFor(tiers.TierFree),
		Usage:        Usage{LastResetDate: now, LastHourlyReset: now},
		History:      []HistoryEntry{s.historyEntry(ActionCreated, "", tiers.TierFree, "system", "auto-provisioned")},
	}

	sub, created, err := s.store.GetOrCreate(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if created {
		s.logger.WithField("tenant_id", tenantID).Info("subscription auto-provisioned at free tier")
		return sub, nil
	}

	return s.applyLazyExpiry(ctx, sub)
}

// Get returns the tenant's subscription with lazy expiry applied, or ErrNotFound
func (s *Service) Get(ctx context.Context, tenantID string) (*Subscription, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.applyLazyExpiry(ctx, sub)
}

// ChangeTier moves the tenant to a new tier. The engine does not require the
// new tier to be higher; administrators may force any tier. The limits snapshot
// is rewritten atomically with the tier so the two never diverge.
func (s *Service) ChangeTier(ctx context.Context, tenantID string, newTier tiers.Tier, actor, reason string) (*Subscription, error) {
	if !tiers.IsValid(newTier) {
		return nil, fmt.Errorf("unknown tier: %s", newTier)
	}

	sub, err := s.LoadOrProvision(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	action := ActionUpgraded
	if tiers.Order(newTier) < tiers.Order(sub.Tier) {
		action = ActionDowngraded
	}
	entry := s.historyEntry(action, sub.Tier, newTier, actor, reason)

	// Custom tier keeps the snapshot operators already set on the record.
	limits := tiers.LimitsFor(newTier)
	if newTier == tiers.TierCustom {
		limits = sub.Features
	}

	if err := s.store.SetTier(ctx, tenantID, newTier, limits, entry); err != nil {
		return nil, fmt.Errorf("failed to change tier: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"from_tier": string(sub.Tier),
		"to_tier":   string(newTier),
		"action":    string(action),
		"actor":     actor,
	}).Info("subscription tier changed")

	return s.store.Get(ctx, tenantID)
}

// Renew extends the subscription by one billing period from the current end
// date, not from now, so banked time is never lost. Only valid from active.
func (s *Service) Renew(ctx context.Context, tenantID string) (*Subscription, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, &InvalidTransitionError{Op: "renew", Status: sub.Status}
	}
	years, months, ok := sub.PeriodLength()
	if !ok || sub.EndDate == nil {
		return nil, &InvalidTransitionError{Op: "renew", Status: sub.Status}
	}

	end := sub.EndDate.AddDate(years, months, 0)
	sub.EndDate = &end
	sub.RenewalDate = &end
	sub.History = append(sub.History, s.historyEntry(ActionRenewed, sub.Tier, sub.Tier, "", ""))

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"end_date":  end,
	}).Info("subscription renewed")

	return sub, nil
}

// Cancel moves the subscription to cancelled from any non-cancelled state and
// switches off auto-renewal
func (s *Service) Cancel(ctx context.Context, tenantID, reason, actor string) (*Subscription, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusCancelled {
		return nil, &InvalidTransitionError{Op: "cancel", Status: sub.Status}
	}

	now := s.now()
	sub.Status = StatusCancelled
	sub.AutoRenew = false
	sub.CancelledAt = &now
	sub.History = append(sub.History, s.historyEntry(ActionCancelled, sub.Tier, sub.Tier, actor, reason))

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"actor":     actor,
		"reason":    reason,
	}).Info("subscription cancelled")

	return sub, nil
}

// Reactivate returns a cancelled subscription to active with auto-renewal on.
// Any other starting state is rejected.
func (s *Service) Reactivate(ctx context.Context, tenantID, actor string) (*Subscription, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusCancelled {
		return nil, &InvalidTransitionError{Op: "reactivate", Status: sub.Status}
	}

	sub.Status = StatusActive
	sub.AutoRenew = true
	sub.CancelledAt = nil
	sub.History = append(sub.History, s.historyEntry(ActionReactivated, sub.Tier, sub.Tier, actor, ""))

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}

	s.logger.WithField("tenant_id", tenantID).Info("subscription reactivated")

	return sub, nil
}

// applyLazyExpiry flips active->expired (or trial->expired) when the relevant
// deadline has passed, persisting the change before returning the record. There
// is no background job; expiry happens on the next access.
func (s *Service) applyLazyExpiry(ctx context.Context, sub *Subscription) (*Subscription, error) {
	now := s.now()

	deadline := sub.EndDate
	if sub.Status == StatusTrial {
		deadline = sub.TrialEnd
	}
	if deadline == nil || !deadline.Before(now) {
		return sub, nil
	}
	if sub.Status != StatusActive && sub.Status != StatusTrial {
		return sub, nil
	}

	sub.Status = StatusExpired
	sub.History = append(sub.History, s.historyEntry(ActionExpired, sub.Tier, sub.Tier, "system", "period ended"))
	if err := s.store.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to expire subscription: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id": sub.TenantID,
		"end_date":  deadline,
	}).Info("subscription lazily expired")

	return sub, nil
}

func (s *Service) historyEntry(action HistoryAction, from, to tiers.Tier, actor, reason string) HistoryEntry {
	return HistoryEntry{
		ID:       uuid.NewString(),
		Action:   action,
		FromTier: from,
		ToTier:   to,
		Date:     s.now(),
		Actor:    actor,
		Reason:   reason,
	}
}
