// Package storage manages the Postgres connection pool and the Redis client
// shared by the concrete stores. The stores themselves live in the postgres
// and memory subpackages; both implement the consumer-defined Store interfaces
// from pkg/subscriptions, pkg/usage, and pkg/features.
package storage
