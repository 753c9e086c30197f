package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrder_Monotonic(t *testing.T) {
	assert.Greater(t, Order(TierEnterprise), Order(TierPro))
	assert.Greater(t, Order(TierPro), Order(TierBasic))
	assert.Greater(t, Order(TierBasic), Order(TierFree))
	assert.Greater(t, Order(TierFree), Order(Tier("bogus")))
}

func TestOrder_CustomAboveEnterprise(t *testing.T) {
	assert.Greater(t, Order(TierCustom), Order(TierEnterprise))
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast(TierPro, TierBasic))
	assert.True(t, AtLeast(TierPro, TierPro))
	assert.False(t, AtLeast(TierFree, TierBasic))
	assert.True(t, AtLeast(TierCustom, TierEnterprise))
}

func TestIsValid(t *testing.T) {
	for _, tier := range []Tier{TierFree, TierBasic, TierPro, TierEnterprise, TierCustom} {
		assert.True(t, IsValid(tier), string(tier))
	}
	assert.False(t, IsValid(Tier("platinum")))
	assert.False(t, IsValid(Tier("")))
}

func TestLimitsFor_UnknownFallsBackToFree(t *testing.T) {
	assert.Equal(t, LimitsFor(TierFree), LimitsFor(Tier("bogus")))
	assert.Equal(t, LimitsFor(TierFree), LimitsFor(Tier("")))
}

func TestLimitsFor_FreeDefaults(t *testing.T) {
	limits := LimitsFor(TierFree)
	assert.Equal(t, 3, limits.MaxActiveJobs)
	assert.Equal(t, 0, limits.MaxSMSCredits)
	assert.False(t, limits.InterviewAutomation)
	assert.False(t, limits.APIAccess)
}

func TestLimitsFor_ProDefaults(t *testing.T) {
	limits := LimitsFor(TierPro)
	assert.Equal(t, 500, limits.MaxApplicationsPerMonth)
	assert.True(t, limits.APIAccess)
	assert.False(t, limits.CustomBranding)
}

func TestLimitsFor_EnterpriseUnlimited(t *testing.T) {
	limits := LimitsFor(TierEnterprise)
	assert.Equal(t, Unlimited, limits.MaxActiveJobs)
	assert.Equal(t, Unlimited, limits.MaxApplicationsPerMonth)
	assert.True(t, limits.PrioritySupport)
}

func TestLimitsFor_CustomMatchesEnterprise(t *testing.T) {
	assert.Equal(t, LimitsFor(TierEnterprise), LimitsFor(TierCustom))
}
