// Package cache provides idempotency bookkeeping for outbound calls.
package cache

import (
	"context"
	"time"
)

// IdempotencyStore records which operations already ran and what they returned.
type IdempotencyStore interface {
	// MarkProcessed sets key if absent. It reports true when this call set it.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Remember stores the result of the operation identified by key.
	Remember(ctx context.Context, key, value string, ttl time.Duration) error
	// Recall returns a remembered result and whether one exists.
	Recall(ctx context.Context, key string) (string, bool, error)
	// Forget drops key and its result so the operation may run again.
	Forget(ctx context.Context, key string) error
}
