package features

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutline/entitlements/pkg/tiers"
)

// RolloutStrategy controls which subset of eligible tenants sees a feature
// before it is fully enabled
type RolloutStrategy string

const (
	// RolloutInstant enables the feature for all eligible tenants at once.
	RolloutInstant RolloutStrategy = "instant"
	// RolloutGradual ramps the enabled percentage linearly from 0 to 100 over
	// the rollout window.
	RolloutGradual RolloutStrategy = "gradual"
	// RolloutPercentage enables the feature for a fixed, deterministically
	// hashed percentage of tenants.
	RolloutPercentage RolloutStrategy = "percentage"
	// RolloutWhitelist enables the feature only for explicitly listed tenants.
	RolloutWhitelist RolloutStrategy = "whitelist"
)

// IsValidStrategy reports whether s is a known rollout strategy. The empty
// strategy is valid and behaves as instant.
func IsValidStrategy(s RolloutStrategy) bool {
	switch s {
	case "", RolloutInstant, RolloutGradual, RolloutPercentage, RolloutWhitelist:
		return true
	}
	return false
}

// Rollout describes a flag's rollout policy
type Rollout struct {
	Strategy   RolloutStrategy `json:"strategy" yaml:"strategy"`
	Percentage float64         `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Whitelist  []string        `json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	StartDate  *time.Time      `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Override is a per-tenant exception to a flag's default gating. At most one
// live override exists per (feature, tenant); inserts are last-write-wins.
type Override struct {
	TenantID     string         `json:"tenant_id"`
	Enabled      bool           `json:"enabled"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CustomConfig map[string]any `json:"custom_config,omitempty"`
	UpdatedBy    string         `json:"updated_by,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Expired reports whether the override has an expiry in the past. An expired
// override is treated as absent.
func (o *Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// Dependency is an edge to another flag this feature needs
type Dependency struct {
	Feature  string `json:"feature" yaml:"feature"`
	Required bool   `json:"required" yaml:"required"`
}

// Stats holds advisory aggregate counters for a flag. They are not per-tenant
// ground truth and never participate in decisions.
type Stats struct {
	Evaluations     int64      `json:"evaluations"`
	Grants          int64      `json:"grants"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
}

// Flag is a global feature catalog entry, one per feature key
type Flag struct {
	Key          string       `json:"key"`
	Category     string       `json:"category,omitempty"`
	Description  string       `json:"description,omitempty"`
	Enabled      bool         `json:"enabled"` // global kill switch
	RequiredTier tiers.Tier   `json:"required_tier"`
	Global       bool         `json:"global"` // bypasses all per-tenant logic when true
	Rollout      Rollout      `json:"rollout"`
	Overrides    []Override   `json:"overrides,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Stats        Stats        `json:"stats"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// OverrideFor returns the tenant's override entry, or nil
func (f *Flag) OverrideFor(tenantID string) *Override {
	for i := range f.Overrides {
		if f.Overrides[i].TenantID == tenantID {
			return &f.Overrides[i]
		}
	}
	return nil
}

// ErrFlagNotFound is returned when a feature key has no catalog entry. Unknown
// keys fail fast instead of resolving to an implicit deny.
var ErrFlagNotFound = errors.New("feature flag not found")

// VersionConflictError indicates a versioned flag update lost a race with a
// concurrent edit. The caller should re-read and retry deliberately.
type VersionConflictError struct {
	Key     string
	Version int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict updating flag %q at version %d", e.Key, e.Version)
}

// IsVersionConflict checks if an error is a version conflict
func IsVersionConflict(err error) bool {
	var e *VersionConflictError
	return errors.As(err, &e)
}

// CycleError indicates a dependency edge would make the flag graph cyclic
type CycleError struct {
	Feature    string
	Dependency string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %q -> %q would create a cycle", e.Feature, e.Dependency)
}

// Store defines the persistence contract for flag records
type Store interface {
	// Get returns the flag for a key, or ErrFlagNotFound.
	Get(ctx context.Context, key string) (*Flag, error)

	// List returns every flag in the catalog.
	List(ctx context.Context) ([]*Flag, error)

	// CreateIfAbsent inserts the flag only when the key has no entry yet.
	// Returns whether this call created it.
	CreateIfAbsent(ctx context.Context, flag *Flag) (bool, error)

	// Update writes the flag's global fields guarded by its version counter:
	// the write applies only if the stored version still matches flag.Version,
	// and bumps the version by one. A lost race yields VersionConflictError.
	Update(ctx context.Context, flag *Flag) error

	// UpsertOverride inserts or replaces the override atomically keyed by
	// (flag key, override tenant).
	UpsertOverride(ctx context.Context, key string, o Override) error

	// RemoveOverride deletes the tenant's override if present.
	RemoveOverride(ctx context.Context, key, tenantID string) error

	// RecordEvaluation bumps the flag's advisory stats. Best effort.
	RecordEvaluation(ctx context.Context, key string, granted bool, at time.Time) error
}
