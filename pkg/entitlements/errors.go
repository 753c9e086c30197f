package entitlements

import (
	"errors"
	"fmt"
	"strings"

	"github.com/scoutline/entitlements/pkg/tiers"
)

// EntitlementDeniedError indicates the tenant's tier or the feature's flag
// state denies the requirement. Non-retryable; callers typically surface an
// upgrade prompt.
type EntitlementDeniedError struct {
	Requirement  string
	Tier         tiers.Tier
	RequiredTier tiers.Tier
}

func (e *EntitlementDeniedError) Error() string {
	if e.RequiredTier != "" {
		return fmt.Sprintf("entitlement denied for %q: requires tier %s, tenant has %s",
			e.Requirement, e.RequiredTier, e.Tier)
	}
	return fmt.Sprintf("entitlement denied for %q", e.Requirement)
}

// IsEntitlementDenied checks if an error is an entitlement denial
func IsEntitlementDenied(err error) bool {
	var e *EntitlementDeniedError
	return errors.As(err, &e)
}

// DependencyUnmetError indicates a required feature dependency is not enabled
// for the tenant. Non-retryable; the unmet dependency keys are listed so the
// caller can surface them.
type DependencyUnmetError struct {
	Feature string
	Unmet   []string
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("feature %q has unmet required dependencies: %s",
		e.Feature, strings.Join(e.Unmet, ", "))
}

// IsDependencyUnmet checks if an error is an unmet dependency error
func IsDependencyUnmet(err error) bool {
	var e *DependencyUnmetError
	return errors.As(err, &e)
}

// UnknownRequirementError indicates the requirement names neither a known
// metered action nor a catalogued feature. Unknown keys fail fast instead of
// resolving to an implicit deny.
type UnknownRequirementError struct {
	Requirement string
}

func (e *UnknownRequirementError) Error() string {
	return fmt.Sprintf("unknown requirement %q", e.Requirement)
}

// IsUnknownRequirement checks if an error is an unknown requirement error
func IsUnknownRequirement(err error) bool {
	var e *UnknownRequirementError
	return errors.As(err, &e)
}
