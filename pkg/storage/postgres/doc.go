// Package postgres implements the subscription, usage, and feature flag
// stores on PostgreSQL. Per-tenant serialization comes from row-level atomic
// updates: the conditional usage increment and the tier+snapshot write are
// each a single statement, and flag updates are guarded by a version column.
package postgres
