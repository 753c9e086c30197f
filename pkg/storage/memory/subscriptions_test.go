package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

func freshSub(tenantID string) *subscriptions.Subscription {
	now := time.Now()
	return &subscriptions.Subscription{
		TenantID:     tenantID,
		Tier:         tiers.TierFree,
		Status:       subscriptions.StatusActive,
		BillingCycle: subscriptions.CycleMonthly,
		StartDate:    now,
		Features:     tiers.LimitsFor(tiers.TierFree),
		Usage:        subscriptions.Usage{LastResetDate: now, LastHourlyReset: now},
	}
}

func TestGetOrCreate(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "tenant-1")
	assert.ErrorIs(t, err, subscriptions.ErrNotFound)

	sub, created, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, sub.ID)

	again, created, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, again.ID)
}

func TestGetOrCreateConcurrentProvision(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	var createdCount int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.GetOrCreate(ctx, freshSub("tenant-race"))
			require.NoError(t, err)
			if created {
				atomic.AddInt64(&createdCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), createdCount, "exactly one goroutine must win the provision")
}

func TestSaveIsolation(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	stored, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	stored.Tier = tiers.TierEnterprise
	fromStore, err := store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierFree, fromStore.Tier)

	stored.Status = subscriptions.StatusCancelled
	require.NoError(t, store.Save(ctx, stored))
	fromStore, err = store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, subscriptions.StatusCancelled, fromStore.Status)
}

func TestSetTierWritesSnapshotAndHistory(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	entry := subscriptions.HistoryEntry{
		ID:     "h-1",
		Action: subscriptions.ActionUpgraded,
		ToTier: tiers.TierPro,
		Date:   time.Now(),
	}
	require.NoError(t, store.SetTier(ctx, "tenant-1", tiers.TierPro, tiers.LimitsFor(tiers.TierPro), entry))

	sub, err := store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, tiers.TierPro, sub.Tier)
	assert.Equal(t, tiers.LimitsFor(tiers.TierPro), sub.Features)
	require.Len(t, sub.History, 1)
	assert.Equal(t, subscriptions.ActionUpgraded, sub.History[0].Action)
}

func TestIncrementIfBelow(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	// Free tier allows 3 jobs.
	for i := 1; i <= 3; i++ {
		current, applied, err := store.IncrementIfBelow(ctx, "tenant-1", usage.MetricJobs, 3)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, i, current)
	}

	current, applied, err := store.IncrementIfBelow(ctx, "tenant-1", usage.MetricJobs, 3)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 3, current)
}

func TestIncrementIfBelowUnlimited(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	for i := 1; i <= 100; i++ {
		_, applied, err := store.IncrementIfBelow(ctx, "tenant-1", usage.MetricApplications, tiers.Unlimited)
		require.NoError(t, err)
		require.True(t, applied)
	}
}

func TestNoOverLimitLeakage(t *testing.T) {
	// M concurrent increments against a limit of N must apply at most N.
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	const limit = 10
	const attempts = 50

	var appliedCount int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := store.IncrementIfBelow(ctx, "tenant-1", usage.MetricInterviews, limit)
			require.NoError(t, err)
			if applied {
				atomic.AddInt64(&appliedCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), appliedCount)

	sub, err := store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, limit, sub.Usage.InterviewsThisMonth)
}

func TestResetUsageScopes(t *testing.T) {
	store := NewSubscriptionStore()
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, freshSub("tenant-1"))
	require.NoError(t, err)

	for _, metric := range usage.AllMetrics() {
		_, _, err := store.IncrementIfBelow(ctx, "tenant-1", metric, tiers.Unlimited)
		require.NoError(t, err)
	}

	now := time.Now()
	require.NoError(t, store.ResetUsage(ctx, "tenant-1", usage.ScopeMonthly, now))

	sub, err := store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Zero(t, sub.Usage.JobsPostedThisMonth)
	assert.Zero(t, sub.Usage.ApplicationsThisMonth)
	assert.Zero(t, sub.Usage.InterviewsThisMonth)
	assert.Zero(t, sub.Usage.SMSCreditsUsed)
	assert.Equal(t, 1, sub.Usage.APICallsThisHour, "hourly counter survives a monthly reset")

	require.NoError(t, store.ResetUsage(ctx, "tenant-1", usage.ScopeHourly, now))
	sub, err = store.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Zero(t, sub.Usage.APICallsThisHour)
}
