// Package entitlements composes the subscription lifecycle, the usage meter,
// and the feature toggle registry into a single allow/deny decision for a
// (tenant, requirement) pair. It is the only package route handlers should
// consult before performing a gated action.
//
// A requirement is either a feature key or a metered action. Feature
// requirements are resolved tier gate first, then dependencies, then
// override/rollout. Metered requirements check the counter without consuming
// quota; callers record the usage with a separate call after the gated action
// itself succeeds, so a failed action never burns quota. The record step uses
// the store's conditional increment, which keeps concurrent callers from
// jointly overrunning a limit.
package entitlements
