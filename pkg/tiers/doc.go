// Package tiers defines the subscription tier catalog: the ordered set of plan
// tiers and the default limits and capabilities each tier grants.
//
// The catalog is read-only global state. Other packages snapshot limits from it
// (see pkg/subscriptions) rather than consulting it on every request, so a tier's
// defaults can change between releases without silently changing what existing
// subscribers were sold.
package tiers
