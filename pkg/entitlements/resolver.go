package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/scoutline/entitlements/pkg/features"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

// Reason explains a decision
type Reason string

const (
	ReasonGranted         Reason = "granted"
	ReasonTierTooLow      Reason = "tier_too_low"
	ReasonFeatureDisabled Reason = "feature_disabled"
	ReasonDependencyUnmet Reason = "dependency_unmet"
	ReasonLimitExceeded   Reason = "limit_exceeded"
)

// Decision is the resolved answer for one (tenant, requirement) query
type Decision struct {
	Allowed           bool              `json:"allowed"`
	Requirement       string            `json:"requirement"`
	Reason            Reason            `json:"reason"`
	Tier              tiers.Tier        `json:"tier"`
	RequiredTier      tiers.Tier        `json:"required_tier,omitempty"`
	UnmetDependencies []string          `json:"unmet_dependencies,omitempty"`
	Limits            *usage.LimitCheck `json:"limits,omitempty"`
}

// Err converts a denial into its typed domain error. Allowed decisions
// return nil.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonDependencyUnmet:
		return &DependencyUnmetError{Feature: d.Requirement, Unmet: d.UnmetDependencies}
	case ReasonLimitExceeded:
		return &usage.LimitExceededError{
			Metric:  usage.Metric(d.Requirement),
			Current: d.Limits.Current,
			Limit:   d.Limits.Limit,
		}
	default:
		return &EntitlementDeniedError{
			Requirement:  d.Requirement,
			Tier:         d.Tier,
			RequiredTier: d.RequiredTier,
		}
	}
}

// Resolver composes the subscription lifecycle, usage meter, and flag registry
// into the entitlement decision function
type Resolver struct {
	subs     *subscriptions.Service
	meter    *usage.Meter
	registry *features.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	otel     *observability.OTelMetrics
}

// NewResolver creates the entitlement resolver. Both metric sinks may be nil.
func NewResolver(subs *subscriptions.Service, meter *usage.Meter, registry *features.Registry,
	logger *observability.Logger, metrics *observability.Metrics, otel *observability.OTelMetrics) *Resolver {
	return &Resolver{
		subs:     subs,
		meter:    meter,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		otel:     otel,
	}
}

// Resolve answers whether the tenant may perform the requirement. The tenant's
// subscription is auto-provisioned at the free tier on first sight, and lazy
// expiry and period resets are applied before anything is evaluated. A metered
// grant does not consume quota; callers follow up with RecordUsage after the
// gated action succeeds.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, req Requirement) (*Decision, error) {
	start := time.Now()
	sub, err := r.loadFresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var decision *Decision
	if req.Metered() {
		decision = r.resolveMetered(sub, req)
	} else {
		decision, err = r.resolveFeature(ctx, sub, req)
		if err != nil {
			return nil, err
		}
	}

	r.recordDecision(ctx, decision, time.Since(start))
	return decision, nil
}

// resolveMetered applies the capability gate from the limits snapshot, then
// checks the counter without consuming quota.
func (r *Resolver) resolveMetered(sub *subscriptions.Subscription, req Requirement) *Decision {
	tier, limits := effectiveEntitlements(sub)
	decision := &Decision{
		Requirement: req.String(),
		Tier:        tier,
		Reason:      ReasonGranted,
	}

	if gate, ok := capabilityGates[req.Metric()]; ok && !gate(limits) {
		decision.Allowed = false
		decision.Reason = ReasonTierTooLow
		return decision
	}

	gated := *sub
	gated.Features = limits
	check := r.meter.CheckLimit(&gated, req.Metric())
	decision.Limits = &check
	decision.Allowed = check.Allowed
	if !check.Allowed {
		decision.Reason = ReasonLimitExceeded
	}
	return decision
}

// resolveFeature evaluates tier gate, then required dependencies, then the
// flag's own override/rollout state. The first failing step decides.
func (r *Resolver) resolveFeature(ctx context.Context, sub *subscriptions.Subscription, req Requirement) (*Decision, error) {
	tier, _ := effectiveEntitlements(sub)
	key := req.Feature()
	decision := &Decision{
		Requirement: key,
		Tier:        tier,
		Reason:      ReasonGranted,
	}

	requiredTier, err := r.registry.RequiredTier(ctx, key)
	if errors.Is(err, features.ErrFlagNotFound) {
		return nil, &UnknownRequirementError{Requirement: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feature flag: %w", err)
	}
	decision.RequiredTier = requiredTier

	if !tiers.AtLeast(tier, requiredTier) {
		decision.Allowed = false
		decision.Reason = ReasonTierTooLow
		return decision, nil
	}

	unmet, err := r.registry.CheckDependencies(ctx, key, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to check dependencies: %w", err)
	}
	if len(unmet) > 0 {
		decision.Allowed = false
		decision.Reason = ReasonDependencyUnmet
		decision.UnmetDependencies = unmet
		return decision, nil
	}

	enabled, err := r.registry.IsEnabled(ctx, key, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate feature flag: %w", err)
	}
	if !enabled {
		decision.Allowed = false
		decision.Reason = ReasonFeatureDisabled
		return decision, nil
	}

	decision.Allowed = true
	return decision, nil
}

// RecordUsage consumes one unit of the metric after a gated action succeeded.
// The conditional increment can still refuse when a racing request took the
// last unit between resolve and record.
func (r *Resolver) RecordUsage(ctx context.Context, tenantID string, metric usage.Metric) (*usage.LimitCheck, error) {
	sub, err := r.loadFresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	_, limits := effectiveEntitlements(sub)
	gated := *sub
	gated.Features = limits
	check, err := r.meter.Record(ctx, &gated, metric)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.UsageRecordedTotal.WithLabelValues(string(metric)).Inc()
	}
	if r.otel != nil {
		r.otel.RecordUsageUnits(ctx, string(metric), 1)
	}
	return check, nil
}

// ChangeTier moves the tenant to a new tier, re-snapshotting limits atomically
func (r *Resolver) ChangeTier(ctx context.Context, tenantID string, newTier tiers.Tier, actor, reason string) (*subscriptions.Subscription, error) {
	sub, err := r.subs.ChangeTier(ctx, tenantID, newTier, actor, reason)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.TierChangesTotal.WithLabelValues(string(newTier)).Inc()
	}
	return sub, nil
}

// SetOverride sets a per-tenant feature override
func (r *Resolver) SetOverride(ctx context.Context, feature, tenantID string, enabled bool, expiresAt *time.Time, actor string) error {
	return r.registry.SetOverride(ctx, feature, tenantID, enabled, expiresAt, actor)
}

// RemoveOverride removes a per-tenant feature override
func (r *Resolver) RemoveOverride(ctx context.Context, feature, tenantID string) error {
	return r.registry.RemoveOverride(ctx, feature, tenantID)
}

// GetUsageSummary returns the tenant's per-metric usage report, with period
// resets applied first so idle tenants do not show stale counters.
func (r *Resolver) GetUsageSummary(ctx context.Context, tenantID string) (map[usage.Metric]usage.MetricSummary, error) {
	sub, err := r.loadFresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return r.meter.Summary(sub), nil
}

// GetSubscription returns the tenant's subscription with lazy transitions applied
func (r *Resolver) GetSubscription(ctx context.Context, tenantID string) (*subscriptions.Subscription, error) {
	return r.loadFresh(ctx, tenantID)
}

// loadFresh loads or provisions the subscription and applies lazy period resets
func (r *Resolver) loadFresh(ctx context.Context, tenantID string) (*subscriptions.Subscription, error) {
	sub, err := r.subs.LoadOrProvision(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := r.meter.ResetIfNewPeriod(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// effectiveEntitlements returns the tier and limits used for gating. A
// subscription that is expired, cancelled, or suspended is entitled as free
// until it is renewed or reactivated; its stored tier and snapshot are kept
// for when it comes back.
func effectiveEntitlements(sub *subscriptions.Subscription) (tiers.Tier, tiers.FeatureLimits) {
	switch sub.Status {
	case subscriptions.StatusActive, subscriptions.StatusTrial:
		return sub.Tier, sub.Features
	default:
		return tiers.TierFree, tiers.LimitsFor(tiers.TierFree)
	}
}

func (r *Resolver) recordDecision(ctx context.Context, d *Decision, elapsed time.Duration) {
	if r.metrics != nil {
		r.metrics.EntitlementDecisionsTotal.WithLabelValues(
			d.Requirement, strconv.FormatBool(d.Allowed), string(d.Reason)).Inc()
	}
	if r.otel != nil {
		r.otel.RecordEntitlementDecision(ctx, d.Requirement, string(d.Reason), d.Allowed, elapsed)
	}
	if !d.Allowed {
		r.logger.WithFields(map[string]interface{}{
			"requirement": d.Requirement,
			"reason":      string(d.Reason),
			"tier":        string(d.Tier),
		}).Debug("entitlement denied")
	}
}
