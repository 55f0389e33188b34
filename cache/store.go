// Package cache provides the bytecode cache: a fast in-process LRU tier in
// front of an optional persistent Badger tier, read-through on miss and
// write-back on fill.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache tier. Implementations must be safe for
// concurrent use. A ttl of zero or less means the entry does not expire.
type Store interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value under key with the given ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key; removing an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the key is present without fetching the value.
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePattern removes every key matching the path.Match glob and
	// returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// Close releases the tier's resources.
	Close() error
}

// BytecodeKey builds the canonical cache key for a script's bytecode. The
// key depends only on the source hash: identical source always maps to the
// same entry regardless of who compiled it.
func BytecodeKey(sourceHash string) string {
	return "dsl:bc:" + sourceHash
}
