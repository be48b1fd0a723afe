package output

import (
	"context"
	"encoding/json"
)

// StateStore defines the secondary port for durable key-value state:
// download checkpoints and the persisted task table. Values are JSON;
// staleness is derived from timestamps embedded in the values themselves.
type StateStore interface {
	// Get returns the raw JSON value for a key. The second result is
	// false when the key is absent.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Put stores a JSON value under a key, replacing any previous value.
	Put(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
