package usage

import (
	"fmt"

	"github.com/scoutline/entitlements/pkg/subscriptions"
	"github.com/scoutline/entitlements/pkg/tiers"
)

// Metric identifies a metered counter. The set is closed; unknown names are
// rejected at the boundary instead of silently resolving to a denied check.
type Metric string

const (
	MetricJobs         Metric = "jobs"
	MetricApplications Metric = "applications"
	MetricInterviews   Metric = "interviews"
	MetricSMS          Metric = "sms"
	MetricAPI          Metric = "api"
)

// AllMetrics returns every known metric in a stable order
func AllMetrics() []Metric {
	return []Metric{MetricJobs, MetricApplications, MetricInterviews, MetricSMS, MetricAPI}
}

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricJobs, MetricApplications, MetricInterviews, MetricSMS, MetricAPI:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric: %q", s)
}

// ResetScope selects which counters a period reset zeroes
type ResetScope string

const (
	// ScopeMonthly covers jobs, applications, interviews, and SMS credits.
	ScopeMonthly ResetScope = "monthly"
	// ScopeHourly covers the API call counter.
	ScopeHourly ResetScope = "hourly"
)

// LimitFor returns the cap for a metric from a limits snapshot.
// tiers.Unlimited (-1) means no cap.
func LimitFor(limits tiers.FeatureLimits, metric Metric) int {
	switch metric {
	case MetricJobs:
		return limits.MaxActiveJobs
	case MetricApplications:
		return limits.MaxApplicationsPerMonth
	case MetricInterviews:
		return limits.MaxInterviewsPerMonth
	case MetricSMS:
		return limits.MaxSMSCredits
	case MetricAPI:
		return limits.MaxAPICallsPerHour
	}
	return 0
}

// CurrentFor returns the current counter value for a metric
func CurrentFor(u subscriptions.Usage, metric Metric) int {
	switch metric {
	case MetricJobs:
		return u.JobsPostedThisMonth
	case MetricApplications:
		return u.ApplicationsThisMonth
	case MetricInterviews:
		return u.InterviewsThisMonth
	case MetricSMS:
		return u.SMSCreditsUsed
	case MetricAPI:
		return u.APICallsThisHour
	}
	return 0
}

// Scope returns which reset scope the metric belongs to
func (m Metric) Scope() ResetScope {
	if m == MetricAPI {
		return ScopeHourly
	}
	return ScopeMonthly
}
