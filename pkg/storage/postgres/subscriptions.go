package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

// SubscriptionStore implements the subscription and usage store contracts on
// PostgreSQL
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a Postgres-backed subscription store
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `
	id, tenant_id, tier, status, billing_cycle, start_date, end_date,
	renewal_date, trial_end, cancelled_at, auto_renew, features,
	jobs_posted_this_month, applications_this_month, interviews_this_month,
	sms_credits_used, api_calls_this_hour, last_reset_date, last_hourly_reset,
	created_at, updated_at`

// usageColumns maps each metric to its counter column. Query text is only ever
// built from this closed map, never from caller input.
var usageColumns = map[usage.Metric]string{
	usage.MetricJobs:         "jobs_posted_this_month",
	usage.MetricApplications: "applications_this_month",
	usage.MetricInterviews:   "interviews_this_month",
	usage.MetricSMS:          "sms_credits_used",
	usage.MetricAPI:          "api_calls_this_hour",
}

// Get returns the subscription with its history, or subscriptions.ErrNotFound
func (s *SubscriptionStore) Get(ctx context.Context, tenantID string) (*subscriptions.Subscription, error) {
	query := "SELECT" + subscriptionColumns + " FROM subscriptions WHERE tenant_id = $1"
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, subscriptions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	history, err := s.loadHistory(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub.History = history
	return sub, nil
}

// GetOrCreate inserts fresh unless the tenant already has a record. The
// insert relies on the unique tenant_id key, so two racing first-requests
// provision exactly one record and the loser reads the winner's row.
func (s *SubscriptionStore) GetOrCreate(ctx context.Context, fresh *subscriptions.Subscription) (*subscriptions.Subscription, bool, error) {
	featuresJSON, err := json.Marshal(fresh.Features)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal limits snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (
			tenant_id, tier, status, billing_cycle, start_date, end_date,
			renewal_date, trial_end, auto_renew, features,
			last_reset_date, last_hourly_reset
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING id`,
		fresh.TenantID, fresh.Tier, fresh.Status, fresh.BillingCycle,
		fresh.StartDate, fresh.EndDate, fresh.RenewalDate, fresh.TrialEnd,
		fresh.AutoRenew, featuresJSON,
		fresh.Usage.LastResetDate, fresh.Usage.LastHourlyReset,
	).Scan(&id)

	if err == sql.ErrNoRows {
		// Lost the race or the record predates this call.
		existing, err := s.Get(ctx, fresh.TenantID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create subscription: %w", err)
	}

	if err := insertHistory(ctx, tx, fresh.TenantID, fresh.History); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit subscription: %w", err)
	}

	created, err := s.Get(ctx, fresh.TenantID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// Save writes the full record. History entries are inserted with their UUID
// primary key and ON CONFLICT DO NOTHING, which keeps the log append-only
// across repeated saves of the same record.
func (s *SubscriptionStore) Save(ctx context.Context, sub *subscriptions.Subscription) error {
	featuresJSON, err := json.Marshal(sub.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal limits snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET
			tier = $2, status = $3, billing_cycle = $4, start_date = $5,
			end_date = $6, renewal_date = $7, trial_end = $8, cancelled_at = $9,
			auto_renew = $10, features = $11,
			jobs_posted_this_month = $12, applications_this_month = $13,
			interviews_this_month = $14, sms_credits_used = $15,
			api_calls_this_hour = $16, last_reset_date = $17,
			last_hourly_reset = $18, updated_at = NOW()
		WHERE tenant_id = $1`,
		sub.TenantID, sub.Tier, sub.Status, sub.BillingCycle, sub.StartDate,
		sub.EndDate, sub.RenewalDate, sub.TrialEnd, sub.CancelledAt,
		sub.AutoRenew, featuresJSON,
		sub.Usage.JobsPostedThisMonth, sub.Usage.ApplicationsThisMonth,
		sub.Usage.InterviewsThisMonth, sub.Usage.SMSCreditsUsed,
		sub.Usage.APICallsThisHour, sub.Usage.LastResetDate,
		sub.Usage.LastHourlyReset,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check save result: %w", err)
	}
	if affected == 0 {
		return subscriptions.ErrNotFound
	}

	if err := insertHistory(ctx, tx, sub.TenantID, sub.History); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

// SetTier writes the tier and the limits snapshot in one statement so the two
// can never diverge, and appends the history entry in the same transaction
func (s *SubscriptionStore) SetTier(ctx context.Context, tenantID string, tier tiers.Tier, limits tiers.FeatureLimits, entry subscriptions.HistoryEntry) error {
	featuresJSON, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE subscriptions SET tier = $2, features = $3, updated_at = NOW() WHERE tenant_id = $1",
		tenantID, tier, featuresJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tier change result: %w", err)
	}
	if affected == 0 {
		return subscriptions.ErrNotFound
	}

	if err := insertHistory(ctx, tx, tenantID, []subscriptions.HistoryEntry{entry}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tier change: %w", err)
	}
	return nil
}

// IncrementIfBelow bumps the metric's counter in a single conditional UPDATE.
// Two racing callers can never jointly overrun the limit: the row lock
// serializes them and the WHERE clause refuses the loser.
func (s *SubscriptionStore) IncrementIfBelow(ctx context.Context, tenantID string, metric usage.Metric, limit int) (int, bool, error) {
	column, ok := usageColumns[metric]
	if !ok {
		return 0, false, fmt.Errorf("unknown metric: %q", metric)
	}

	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET %s = %s + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND ($2 = -1 OR %s < $2)
		RETURNING %s`, column, column, column, column)

	var current int
	err := s.db.QueryRowContext(ctx, query, tenantID, limit).Scan(&current)
	if err == nil {
		return current, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}

	// Refused: report the standing counter, distinguishing a missing tenant.
	readQuery := fmt.Sprintf("SELECT %s FROM subscriptions WHERE tenant_id = $1", column)
	err = s.db.QueryRowContext(ctx, readQuery, tenantID).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, false, subscriptions.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read usage counter: %w", err)
	}
	return current, false, nil
}

// ResetUsage zeroes the counters in scope and stamps the matching reset time.
// Repeat calls within a period rewrite the same zeroes, so they are harmless.
func (s *SubscriptionStore) ResetUsage(ctx context.Context, tenantID string, scope usage.ResetScope, now time.Time) error {
	var query string
	switch scope {
	case usage.ScopeMonthly:
		query = `
			UPDATE subscriptions SET
				jobs_posted_this_month = 0, applications_this_month = 0,
				interviews_this_month = 0, sms_credits_used = 0,
				last_reset_date = $2, updated_at = NOW()
			WHERE tenant_id = $1`
	case usage.ScopeHourly:
		query = `
			UPDATE subscriptions SET
				api_calls_this_hour = 0, last_hourly_reset = $2, updated_at = NOW()
			WHERE tenant_id = $1`
	default:
		return fmt.Errorf("unknown reset scope: %q", scope)
	}

	result, err := s.db.ExecContext(ctx, query, tenantID, now)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check reset result: %w", err)
	}
	if affected == 0 {
		return subscriptions.ErrNotFound
	}
	return nil
}

func (s *SubscriptionStore) loadHistory(ctx context.Context, tenantID string) ([]subscriptions.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, from_tier, to_tier, occurred_at, actor, reason
		FROM subscription_history
		WHERE tenant_id = $1
		ORDER BY occurred_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []subscriptions.HistoryEntry
	for rows.Next() {
		var entry subscriptions.HistoryEntry
		var fromTier, toTier, actor, reason sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Action, &fromTier, &toTier,
			&entry.Date, &actor, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.FromTier = tiers.Tier(fromTier.String)
		entry.ToTier = tiers.Tier(toTier.String)
		entry.Actor = actor.String
		entry.Reason = reason.String
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return history, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, tenantID string, entries []subscriptions.HistoryEntry) error {
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscription_history (id, tenant_id, action, from_tier, to_tier, occurred_at, actor, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			entry.ID, tenantID, entry.Action, nullString(string(entry.FromTier)),
			nullString(string(entry.ToTier)), entry.Date,
			nullString(entry.Actor), nullString(entry.Reason),
		); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*subscriptions.Subscription, error) {
	var sub subscriptions.Subscription
	var featuresJSON []byte
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.Tier, &sub.Status, &sub.BillingCycle,
		&sub.StartDate, &sub.EndDate, &sub.RenewalDate, &sub.TrialEnd,
		&sub.CancelledAt, &sub.AutoRenew, &featuresJSON,
		&sub.Usage.JobsPostedThisMonth, &sub.Usage.ApplicationsThisMonth,
		&sub.Usage.InterviewsThisMonth, &sub.Usage.SMSCreditsUsed,
		&sub.Usage.APICallsThisHour, &sub.Usage.LastResetDate,
		&sub.Usage.LastHourlyReset, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(featuresJSON, &sub.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal limits snapshot: %w", err)
	}
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
