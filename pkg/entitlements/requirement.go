package entitlements

import (
	"github.com/scoutline/entitlements/pkg/tiers"
	"github.com/scoutline/entitlements/pkg/usage"
)

// Requirement names what a tenant is asking to do: either a metered action
// that consumes quota, or a feature key gated by the flag catalog.
type Requirement struct {
	raw     string
	metric  usage.Metric
	metered bool
}

// meteredActions maps gated action names to the metric each one consumes.
// The set is closed; anything not listed here is treated as a feature key and
// must exist in the flag catalog.
var meteredActions = map[string]usage.Metric{
	"jobs.create":         usage.MetricJobs,
	"applications.submit": usage.MetricApplications,
	"interviews.schedule": usage.MetricInterviews,
	"sms.send":            usage.MetricSMS,
	"api.call":            usage.MetricAPI,
}

// capabilityGates holds the snapshot capability switch each metered action
// additionally requires, where one applies. Posting jobs or submitting
// applications is open to every tier within its quota; SMS and API access are
// capabilities a tier may lack outright.
var capabilityGates = map[usage.Metric]func(tiers.FeatureLimits) bool{
	usage.MetricSMS: func(l tiers.FeatureLimits) bool { return l.SMSMessaging },
	usage.MetricAPI: func(l tiers.FeatureLimits) bool { return l.APIAccess },
}

// ParseRequirement interprets a requirement string. Metered action names and
// bare metric names resolve to metered requirements; everything else is taken
// as a feature key, whose existence the resolver checks against the catalog.
func ParseRequirement(s string) Requirement {
	if metric, ok := meteredActions[s]; ok {
		return Requirement{raw: s, metric: metric, metered: true}
	}
	if metric, err := usage.ParseMetric(s); err == nil {
		return Requirement{raw: s, metric: metric, metered: true}
	}
	return Requirement{raw: s}
}

// FeatureRequirement builds a requirement for a feature key
func FeatureRequirement(key string) Requirement {
	return Requirement{raw: key}
}

// MeteredRequirement builds a requirement for a metered metric
func MeteredRequirement(metric usage.Metric) Requirement {
	return Requirement{raw: string(metric), metric: metric, metered: true}
}

// Metered reports whether the requirement consumes quota
func (r Requirement) Metered() bool {
	return r.metered
}

// Metric returns the metric a metered requirement consumes
func (r Requirement) Metric() usage.Metric {
	return r.metric
}

// Feature returns the feature key of a non-metered requirement
func (r Requirement) Feature() string {
	return r.raw
}

func (r Requirement) String() string {
	return r.raw
}
