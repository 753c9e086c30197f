package tiers

// Tier represents a subscription plan tier
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	// TierCustom is an operator-managed escape hatch. It sorts above every named
	// tier for gate comparisons; its limits come from the subscription snapshot,
	// not the catalog.
	TierCustom Tier = "custom"
)

// Unlimited is the sentinel limit value meaning no cap is enforced.
const Unlimited = -1

// tierOrder defines the total order used for upgrade/downgrade and tier-gate
// comparisons. Unknown tiers order below free.
var tierOrder = map[Tier]int{
	TierFree:       1,
	TierBasic:      2,
	TierPro:        3,
	TierEnterprise: 4,
	TierCustom:     5,
}

// Order returns the tier's position in the tier ordering. Unknown tiers return 0.
func Order(t Tier) int {
	return tierOrder[t]
}

// IsValid reports whether t is a known tier
func IsValid(t Tier) bool {
	_, ok := tierOrder[t]
	return ok
}

// AtLeast reports whether tier t satisfies a gate requiring tier required
func AtLeast(t, required Tier) bool {
	return Order(t) >= Order(required)
}

// FeatureLimits holds the numeric limits and capability switches granted by a
// tier. A value of Unlimited (-1) means no cap.
type FeatureLimits struct {
	MaxActiveJobs           int  `json:"max_active_jobs"`
	MaxApplicationsPerMonth int  `json:"max_applications_per_month"`
	MaxInterviewsPerMonth   int  `json:"max_interviews_per_month"`
	MaxSMSCredits           int  `json:"max_sms_credits"`
	MaxAPICallsPerHour      int  `json:"max_api_calls_per_hour"`
	MaxTeamMembers          int  `json:"max_team_members"`
	InterviewAutomation     bool `json:"interview_automation"`
	AdvancedAnalytics       bool `json:"advanced_analytics"`
	CustomBranding          bool `json:"custom_branding"`
	APIAccess               bool `json:"api_access"`
	SMSMessaging            bool `json:"sms_messaging"`
	PrioritySupport         bool `json:"priority_support"`
}

// LimitsFor returns the default limits for a tier. Unknown tiers fall back to
// free; custom tiers get enterprise defaults (the real limits live on the
// subscription snapshot and are managed by operators).
func LimitsFor(t Tier) FeatureLimits {
	switch t {
	case TierBasic:
		return FeatureLimits{
			MaxActiveJobs:           10,
			MaxApplicationsPerMonth: 100,
			MaxInterviewsPerMonth:   20,
			MaxSMSCredits:           50,
			MaxAPICallsPerHour:      100,
			MaxTeamMembers:          3,
			InterviewAutomation:     true,
			SMSMessaging:            true,
		}
	case TierPro:
		return FeatureLimits{
			MaxActiveJobs:           50,
			MaxApplicationsPerMonth: 500,
			MaxInterviewsPerMonth:   100,
			MaxSMSCredits:           250,
			MaxAPICallsPerHour:      1000,
			MaxTeamMembers:          10,
			InterviewAutomation:     true,
			AdvancedAnalytics:       true,
			APIAccess:               true,
			SMSMessaging:            true,
		}
	case TierEnterprise, TierCustom:
		return FeatureLimits{
			MaxActiveJobs:           Unlimited,
			MaxApplicationsPerMonth: Unlimited,
			MaxInterviewsPerMonth:   Unlimited,
			MaxSMSCredits:           1000,
			MaxAPICallsPerHour:      10000,
			MaxTeamMembers:          Unlimited,
			InterviewAutomation:     true,
			AdvancedAnalytics:       true,
			CustomBranding:          true,
			APIAccess:               true,
			SMSMessaging:            true,
			PrioritySupport:         true,
		}
	default:
		return FeatureLimits{
			MaxActiveJobs:           3,
			MaxApplicationsPerMonth: 25,
			MaxInterviewsPerMonth:   5,
			MaxSMSCredits:           0,
			MaxAPICallsPerHour:      10,
			MaxTeamMembers:          1,
		}
	}
}
