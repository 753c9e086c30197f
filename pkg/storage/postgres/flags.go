package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutline/entitlements/pkg/features"
)

// FlagStore implements the feature flag store contract on PostgreSQL
type FlagStore struct {
	db *sql.DB
}

// NewFlagStore creates a Postgres-backed flag store
func NewFlagStore(db *sql.DB) *FlagStore {
	return &FlagStore{db: db}
}

const flagColumns = `
	key, category, description, enabled, required_tier, is_global, rollout,
	dependencies, evaluations, grants, last_evaluated_at, version,
	created_at, updated_at`

// Get returns the flag with its overrides, or features.ErrFlagNotFound
func (s *FlagStore) Get(ctx context.Context, key string) (*features.Flag, error) {
	query := "SELECT" + flagColumns + " FROM feature_flags WHERE key = $1"
	flag, err := scanFlag(s.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, features.ErrFlagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature flag: %w", err)
	}

	overrides, err := s.loadOverrides(ctx, key)
	if err != nil {
		return nil, err
	}
	flag.Overrides = overrides
	return flag, nil
}

// List returns every flag with its overrides, sorted by key
func (s *FlagStore) List(ctx context.Context) ([]*features.Flag, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT"+flagColumns+" FROM feature_flags ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list feature flags: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]*features.Flag)
	var flags []*features.Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature flag: %w", err)
		}
		byKey[flag.Key] = flag
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feature flags: %w", err)
	}

	overrideRows, err := s.db.QueryContext(ctx, `
		SELECT feature_key, tenant_id, enabled, expires_at, custom_config, updated_by, updated_at
		FROM feature_overrides
		ORDER BY feature_key, tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer overrideRows.Close()

	for overrideRows.Next() {
		var featureKey string
		o, err := scanOverride(overrideRows, &featureKey)
		if err != nil {
			return nil, err
		}
		if flag, ok := byKey[featureKey]; ok {
			flag.Overrides = append(flag.Overrides, o)
		}
	}
	if err := overrideRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	return flags, nil
}

// CreateIfAbsent inserts the flag only when the key has no entry yet
func (s *FlagStore) CreateIfAbsent(ctx context.Context, flag *features.Flag) (bool, error) {
	rolloutJSON, depsJSON, err := marshalFlagPolicy(flag)
	if err != nil {
		return false, err
	}

	version := flag.Version
	if version == 0 {
		version = 1
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (key, category, description, enabled, required_tier,
			is_global, rollout, dependencies, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO NOTHING`,
		flag.Key, flag.Category, flag.Description, flag.Enabled,
		flag.RequiredTier, flag.Global, rolloutJSON, depsJSON, version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create feature flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check create result: %w", err)
	}
	return affected > 0, nil
}

// Update writes the flag's global fields guarded by the version column. The
// statement only matches while the stored version equals the caller's, so a
// lost race affects zero rows and surfaces as VersionConflictError.
func (s *FlagStore) Update(ctx context.Context, flag *features.Flag) error {
	rolloutJSON, depsJSON, err := marshalFlagPolicy(flag)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE feature_flags SET
			category = $2, description = $3, enabled = $4, required_tier = $5,
			is_global = $6, rollout = $7, dependencies = $8,
			version = version + 1, updated_at = NOW()
		WHERE key = $1 AND version = $9`,
		flag.Key, flag.Category, flag.Description, flag.Enabled,
		flag.RequiredTier, flag.Global, rolloutJSON, depsJSON, flag.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update feature flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM feature_flags WHERE key = $1)", flag.Key,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check feature flag existence: %w", err)
	}
	if !exists {
		return features.ErrFlagNotFound
	}
	return &features.VersionConflictError{Key: flag.Key, Version: flag.Version}
}

// UpsertOverride inserts or replaces the override atomically keyed by
// (feature, tenant)
func (s *FlagStore) UpsertOverride(ctx context.Context, key string, o features.Override) error {
	configJSON, err := json.Marshal(o.CustomConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal override config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feature_overrides (feature_key, tenant_id, enabled, expires_at, custom_config, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (feature_key, tenant_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			expires_at = EXCLUDED.expires_at,
			custom_config = EXCLUDED.custom_config,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		key, o.TenantID, o.Enabled, o.ExpiresAt, configJSON, nullString(o.UpdatedBy), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	return nil
}

// RemoveOverride deletes the tenant's override if present
func (s *FlagStore) RemoveOverride(ctx context.Context, key, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM feature_overrides WHERE feature_key = $1 AND tenant_id = $2",
		key, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove override: %w", err)
	}
	return nil
}

// RecordEvaluation bumps the flag's advisory stats in one statement
func (s *FlagStore) RecordEvaluation(ctx context.Context, key string, granted bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feature_flags SET
			evaluations = evaluations + 1,
			grants = grants + CASE WHEN $2 THEN 1 ELSE 0 END,
			last_evaluated_at = $3
		WHERE key = $1`,
		key, granted, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

func (s *FlagStore) loadOverrides(ctx context.Context, key string) ([]features.Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature_key, tenant_id, enabled, expires_at, custom_config, updated_by, updated_at
		FROM feature_overrides
		WHERE feature_key = $1
		ORDER BY tenant_id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load overrides: %w", err)
	}
	defer rows.Close()

	var overrides []features.Override
	for rows.Next() {
		var featureKey string
		o, err := scanOverride(rows, &featureKey)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}
	return overrides, nil
}

func scanFlag(row rowScanner) (*features.Flag, error) {
	var flag features.Flag
	var category, description sql.NullString
	var rolloutJSON, depsJSON []byte
	var lastEvaluated sql.NullTime
	err := row.Scan(
		&flag.Key, &category, &description, &flag.Enabled, &flag.RequiredTier,
		&flag.Global, &rolloutJSON, &depsJSON, &flag.Stats.Evaluations,
		&flag.Stats.Grants, &lastEvaluated, &flag.Version,
		&flag.CreatedAt, &flag.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	flag.Category = category.String
	flag.Description = description.String
	if lastEvaluated.Valid {
		flag.Stats.LastEvaluatedAt = &lastEvaluated.Time
	}
	if err := json.Unmarshal(rolloutJSON, &flag.Rollout); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rollout: %w", err)
	}
	if err := json.Unmarshal(depsJSON, &flag.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
	}
	return &flag, nil
}

func scanOverride(row rowScanner, featureKey *string) (features.Override, error) {
	var o features.Override
	var expiresAt sql.NullTime
	var configJSON []byte
	var updatedBy sql.NullString
	if err := row.Scan(featureKey, &o.TenantID, &o.Enabled, &expiresAt,
		&configJSON, &updatedBy, &o.UpdatedAt); err != nil {
		return o, fmt.Errorf("failed to scan override: %w", err)
	}
	if expiresAt.Valid {
		o.ExpiresAt = &expiresAt.Time
	}
	o.UpdatedBy = updatedBy.String
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &o.CustomConfig); err != nil {
			return o, fmt.Errorf("failed to unmarshal override config: %w", err)
		}
	}
	return o, nil
}

func marshalFlagPolicy(flag *features.Flag) (rollout, deps []byte, err error) {
	rollout, err = json.Marshal(flag.Rollout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal rollout: %w", err)
	}
	deps = []byte("[]")
	if flag.Dependencies != nil {
		deps, err = json.Marshal(flag.Dependencies)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal dependencies: %w", err)
		}
	}
	return rollout, deps, nil
}
