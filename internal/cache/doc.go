// Package cache wraps the go-redis client used when image state is persisted
// to Redis instead of a SQL database. Keys are namespaced by a configurable
// prefix and missing keys surface as ErrCacheMiss.
package cache
