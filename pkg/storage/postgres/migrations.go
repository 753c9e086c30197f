package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all entitlement schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL UNIQUE,
					tier VARCHAR(32) NOT NULL,
					status VARCHAR(32) NOT NULL,
					billing_cycle VARCHAR(32) NOT NULL,
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ,
					renewal_date TIMESTAMPTZ,
					trial_end TIMESTAMPTZ,
					cancelled_at TIMESTAMPTZ,
					auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
					features JSONB NOT NULL DEFAULT '{}',
					jobs_posted_this_month INT NOT NULL DEFAULT 0 CHECK (jobs_posted_this_month >= 0),
					applications_this_month INT NOT NULL DEFAULT 0 CHECK (applications_this_month >= 0),
					interviews_this_month INT NOT NULL DEFAULT 0 CHECK (interviews_this_month >= 0),
					sms_credits_used INT NOT NULL DEFAULT 0 CHECK (sms_credits_used >= 0),
					api_calls_this_hour INT NOT NULL DEFAULT 0 CHECK (api_calls_this_hour >= 0),
					last_reset_date TIMESTAMPTZ NOT NULL,
					last_hourly_reset TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_subscriptions_status ON subscriptions(status);
				CREATE INDEX idx_subscriptions_tier ON subscriptions(tier);
			`,
		},
		{
			Version:     2,
			Description: "Create subscription_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_history (
					id VARCHAR(64) PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					action VARCHAR(32) NOT NULL,
					from_tier VARCHAR(32),
					to_tier VARCHAR(32),
					occurred_at TIMESTAMPTZ NOT NULL,
					actor VARCHAR(255),
					reason TEXT
				);

				CREATE INDEX idx_subscription_history_tenant ON subscription_history(tenant_id, occurred_at);
			`,
		},
		{
			Version:     3,
			Description: "Create feature_flags table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_flags (
					key VARCHAR(255) PRIMARY KEY,
					category VARCHAR(255),
					description TEXT,
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					required_tier VARCHAR(32) NOT NULL DEFAULT 'free',
					is_global BOOLEAN NOT NULL DEFAULT FALSE,
					rollout JSONB NOT NULL DEFAULT '{}',
					dependencies JSONB NOT NULL DEFAULT '[]',
					evaluations BIGINT NOT NULL DEFAULT 0,
					grants BIGINT NOT NULL DEFAULT 0,
					last_evaluated_at TIMESTAMPTZ,
					version BIGINT NOT NULL DEFAULT 1,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_feature_flags_category ON feature_flags(category);
			`,
		},
		{
			Version:     4,
			Description: "Create feature_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_overrides (
					feature_key VARCHAR(255) NOT NULL REFERENCES feature_flags(key) ON DELETE CASCADE,
					tenant_id VARCHAR(255) NOT NULL,
					enabled BOOLEAN NOT NULL,
					expires_at TIMESTAMPTZ,
					custom_config JSONB,
					updated_by VARCHAR(255),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (feature_key, tenant_id)
				);

				CREATE INDEX idx_feature_overrides_tenant ON feature_overrides(tenant_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entitlement_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM entitlement_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entitlement_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
