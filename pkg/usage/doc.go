// Package usage implements the per-tenant usage meter: monthly (and, for API
// calls, hourly) counters checked against the limits snapshot on the tenant's
// subscription.
//
// The check and the increment are separate calls by design: a gated action is
// checked before it runs and recorded only after it succeeds, so a failed
// action never consumes quota. The increment itself is a single conditional
// update ("add one only while still below the limit") executed by the store, so
// concurrent requests can never push a counter past its cap.
//
// Period resets are lazy. Counters are zeroed the first time the tenant is
// touched in a new period, not by a scheduled job, which means idle tenants can
// show stale counters in out-of-band reports until their next access.
package usage
