// Package subscriptions implements the per-tenant subscription record and its
// lifecycle state machine: create, tier changes, renewal, cancellation,
// reactivation, and lazy expiry.
//
// There is exactly one subscription per tenant, keyed by tenant ID. Expiry is
// evaluated lazily on access rather than by a scheduler, so an idle tenant's
// status is corrected the next time it is read. The limits snapshot stored on
// the record is rewritten atomically with every tier change; see Store.SetTier.
package subscriptions
