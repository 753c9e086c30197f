// Package memory provides in-memory store implementations used in tests and
// for running the engine without external infrastructure. A single mutex per
// store provides the per-tenant critical section the conditional increment
// and tier-change operations require.
package memory
