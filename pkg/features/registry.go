package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/scoutline/entitlements/pkg/async"
	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/tiers"
)

// Registry resolves feature flags for tenants and applies administrative
// mutations to the catalog
type Registry struct {
	store   Store
	cache   *Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRegistry creates a new flag registry. The cache may be nil, in which case
// every read goes to the store. Metrics may be nil.
func NewRegistry(store Store, cache *Cache, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get returns the flag for a key, or ErrFlagNotFound
func (r *Registry) Get(ctx context.Context, key string) (*Flag, error) {
	if r.cache != nil {
		if flag, ok := r.cache.Get(ctx, key); ok {
			return flag, nil
		}
	}

	flag, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, flag)
	}
	return flag, nil
}

// List returns the full catalog
func (r *Registry) List(ctx context.Context) ([]*Flag, error) {
	return r.store.List(ctx)
}

// Known reports whether a feature key exists in the catalog
func (r *Registry) Known(ctx context.Context, key string) (bool, error) {
	_, err := r.Get(ctx, key)
	if errors.Is(err, ErrFlagNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsEnabled resolves whether a feature is on for a tenant, ignoring tier
// gating: kill switch first, then the global bypass, then the tenant's
// override, then the rollout policy. Unknown keys return ErrFlagNotFound.
func (r *Registry) IsEnabled(ctx context.Context, key, tenantID string) (bool, error) {
	flag, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	enabled := r.flagEnabledFor(flag, tenantID)
	r.recordEvaluation(ctx, key, enabled)
	return enabled, nil
}

// HasAccess adds the tier gate in front of IsEnabled. A tenant below the
// flag's required tier is denied regardless of any override entry.
func (r *Registry) HasAccess(ctx context.Context, key, tenantID string, tier tiers.Tier) (bool, error) {
	flag, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !tiers.AtLeast(tier, flag.RequiredTier) {
		r.recordEvaluation(ctx, key, false)
		return false, nil
	}
	enabled := r.flagEnabledFor(flag, tenantID)
	r.recordEvaluation(ctx, key, enabled)
	return enabled, nil
}

// RequiredTier returns the tier gate for a feature
func (r *Registry) RequiredTier(ctx context.Context, key string) (tiers.Tier, error) {
	flag, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return flag.RequiredTier, nil
}

// CheckDependencies walks the feature's required dependency edges and returns
// the keys of every required dependency that is not enabled for the tenant, in
// sorted order. A missing dependency flag counts as unmet. The walk carries a
// visited set so a cyclic graph in stored data cannot recurse forever.
func (r *Registry) CheckDependencies(ctx context.Context, key, tenantID string) ([]string, error) {
	visited := make(map[string]bool)
	unmetSet := make(map[string]bool)

	var walk func(key string) error
	walk = func(key string) error {
		if visited[key] {
			return nil
		}
		visited[key] = true

		flag, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		for _, dep := range flag.Dependencies {
			if !dep.Required {
				continue
			}
			depFlag, err := r.Get(ctx, dep.Feature)
			if errors.Is(err, ErrFlagNotFound) {
				unmetSet[dep.Feature] = true
				continue
			}
			if err != nil {
				return err
			}
			if !r.flagEnabledFor(depFlag, tenantID) {
				unmetSet[dep.Feature] = true
			}
			if err := walk(dep.Feature); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(key); err != nil {
		return nil, err
	}

	unmet := make([]string, 0, len(unmetSet))
	for dep := range unmetSet {
		unmet = append(unmet, dep)
	}
	sort.Strings(unmet)
	return unmet, nil
}

// SetOverride upserts a per-tenant override, keyed by (feature, tenant)
func (r *Registry) SetOverride(ctx context.Context, key, tenantID string, enabled bool, expiresAt *time.Time, actor string) error {
	if _, err := r.Get(ctx, key); err != nil {
		return err
	}

	o := Override{
		TenantID:  tenantID,
		Enabled:   enabled,
		ExpiresAt: expiresAt,
		UpdatedBy: actor,
		UpdatedAt: r.now(),
	}
	if err := r.store.UpsertOverride(ctx, key, o); err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	r.invalidate(ctx, key)

	r.logger.WithFields(map[string]interface{}{
		"feature":   key,
		"tenant_id": tenantID,
		"enabled":   enabled,
		"actor":     actor,
	}).Info("feature override set")

	return nil
}

// RemoveOverride deletes a tenant's override for a feature
func (r *Registry) RemoveOverride(ctx context.Context, key, tenantID string) error {
	if err := r.store.RemoveOverride(ctx, key, tenantID); err != nil {
		return fmt.Errorf("failed to remove override: %w", err)
	}
	r.invalidate(ctx, key)
	return nil
}

// SetEnabled flips the flag's global kill switch via a versioned update
func (r *Registry) SetEnabled(ctx context.Context, key string, enabled bool, actor string) error {
	flag, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	flag.Enabled = enabled
	if err := r.store.Update(ctx, flag); err != nil {
		return err
	}
	r.invalidate(ctx, key)

	r.logger.WithFields(map[string]interface{}{
		"feature": key,
		"enabled": enabled,
		"actor":   actor,
	}).Info("feature flag toggled")

	return nil
}

// UpdateRollout replaces the flag's rollout policy via a versioned update
func (r *Registry) UpdateRollout(ctx context.Context, key string, rollout Rollout) error {
	if !IsValidStrategy(rollout.Strategy) {
		return fmt.Errorf("unknown rollout strategy: %s", rollout.Strategy)
	}
	if rollout.Strategy == RolloutPercentage && (rollout.Percentage < 0 || rollout.Percentage > 100) {
		return fmt.Errorf("rollout percentage must be within [0, 100], got %v", rollout.Percentage)
	}
	if rollout.Strategy == RolloutGradual && (rollout.StartDate == nil || rollout.EndDate == nil) {
		return fmt.Errorf("gradual rollout requires start and end dates")
	}

	flag, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	flag.Rollout = rollout
	if err := r.store.Update(ctx, flag); err != nil {
		return err
	}
	r.invalidate(ctx, key)
	return nil
}

// AddDependency adds an edge from feature to dep. Edges that would make the
// dependency graph cyclic are rejected.
func (r *Registry) AddDependency(ctx context.Context, key, dep string, required bool) error {
	flag, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if _, err := r.store.Get(ctx, dep); err != nil {
		return fmt.Errorf("dependency target: %w", err)
	}

	all, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list flags: %w", err)
	}
	if wouldCreateCycle(dependencyEdges(all), key, dep) {
		return &CycleError{Feature: key, Dependency: dep}
	}

	for i, existing := range flag.Dependencies {
		if existing.Feature == dep {
			flag.Dependencies[i].Required = required
			if err := r.store.Update(ctx, flag); err != nil {
				return err
			}
			r.invalidate(ctx, key)
			return nil
		}
	}

	flag.Dependencies = append(flag.Dependencies, Dependency{Feature: dep, Required: required})
	if err := r.store.Update(ctx, flag); err != nil {
		return err
	}
	r.invalidate(ctx, key)
	return nil
}

// flagEnabledFor applies the non-tier evaluation order: kill switch, global
// bypass, tenant override (expired overrides count as absent), then rollout.
func (r *Registry) flagEnabledFor(flag *Flag, tenantID string) bool {
	if !flag.Enabled {
		return false
	}
	if flag.Global {
		return true
	}
	if o := flag.OverrideFor(tenantID); o != nil && !o.Expired(r.now()) {
		return o.Enabled
	}
	return flag.Rollout.EvaluateAt(flag.Key, tenantID, r.now())
}

// recordEvaluation bumps advisory stats off the request path. Losses are
// acceptable; the stats never feed decisions.
func (r *Registry) recordEvaluation(ctx context.Context, key string, granted bool) {
	if r.metrics != nil {
		r.metrics.FlagEvaluationsTotal.WithLabelValues(key, strconv.FormatBool(granted)).Inc()
	}
	at := r.now()
	async.SafeGo(ctx, 5*time.Second, "record flag evaluation", func(ctx context.Context) error {
		return r.store.RecordEvaluation(ctx, key, granted, at)
	})
}

// CollectCatalogStats exports the catalog gauges until the context is
// cancelled: total flags and overrides that have not expired.
func (r *Registry) CollectCatalogStats(ctx context.Context, interval time.Duration) {
	if r.metrics == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refreshCatalogStats(ctx); err != nil {
				r.logger.WithError(err).Warn("failed to refresh catalog stats")
			}
		}
	}
}

func (r *Registry) refreshCatalogStats(ctx context.Context) error {
	flags, err := r.store.List(ctx)
	if err != nil {
		return err
	}
	live := 0
	now := r.now()
	for _, flag := range flags {
		for _, o := range flag.Overrides {
			if !o.Expired(now) {
				live++
			}
		}
	}
	r.metrics.FeatureFlagsTotal.Set(float64(len(flags)))
	r.metrics.ActiveOverridesTotal.Set(float64(live))
	return nil
}

func (r *Registry) invalidate(ctx context.Context, key string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, key)
	}
}
