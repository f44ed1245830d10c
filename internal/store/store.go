package store

import (
	"context"
)

// KV is the durable key-value primitive the offline queue persists through.
// Implementations must make SetItem atomic: a reader either observes the
// previous value or the new one, never a partial write.
type KV interface {
	// GetItem returns the stored value and whether the key exists.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}
