package features

import (
	"hash/fnv"
	"time"
)

// bucketOf deterministically maps a (feature, tenant) pair into [0, 100).
// FNV-1a keeps the bucket stable across processes and restarts, so a tenant
// never flaps in and out of a percentage rollout between requests.
func bucketOf(feature, tenantID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(feature))
	h.Write([]byte{':'})
	h.Write([]byte(tenantID))
	return float64(h.Sum32() % 100)
}

// EvaluateAt reports whether the rollout admits the tenant at the given time.
// It only applies to non-global flags with no explicit override for the tenant;
// callers handle those cases first.
func (r Rollout) EvaluateAt(feature, tenantID string, now time.Time) bool {
	switch r.Strategy {
	case RolloutPercentage:
		return bucketOf(feature, tenantID) < r.Percentage
	case RolloutWhitelist:
		for _, id := range r.Whitelist {
			if id == tenantID {
				return true
			}
		}
		return false
	case RolloutGradual:
		return bucketOf(feature, tenantID) < r.effectivePercentage(now)
	default:
		// instant, or unset
		return true
	}
}

// effectivePercentage interpolates the gradual ramp linearly from 0% at
// StartDate to 100% at EndDate, evaluated at query time.
func (r Rollout) effectivePercentage(now time.Time) float64 {
	if r.StartDate == nil || r.EndDate == nil {
		return 0
	}
	if now.Before(*r.StartDate) {
		return 0
	}
	if !now.Before(*r.EndDate) {
		return 100
	}
	total := r.EndDate.Sub(*r.StartDate)
	if total <= 0 {
		return 100
	}
	elapsed := now.Sub(*r.StartDate)
	return float64(elapsed) / float64(total) * 100
}
