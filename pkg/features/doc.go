// Package features implements the feature toggle registry: named flags with a
// global kill switch, tier gating, per-tenant overrides with optional expiry,
// staged rollout strategies, and required-dependency edges between flags.
//
// Flag records are shared, high-read, low-write state. Global fields are
// mutated only through versioned updates with an optimistic version counter,
// so concurrent edits to the same flag detect conflicts instead of silently
// overwriting each other. Per-tenant overrides are upserted atomically keyed by
// (feature, tenant), so operators editing different tenants never lose updates.
//
// Dependency edges must form a DAG. Edges that would introduce a cycle are
// rejected at insert time, and the dependency walk carries a visited set so
// pre-existing bad data cannot send it into infinite recursion.
package features
