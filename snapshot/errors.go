// Package snapshot provides durable snapshot stores for the engine:
// an atomic-rename file store and a NATS JetStream KV store.
package snapshot

import "errors"

var (
	// ErrNoSnapshot indicates no snapshot has been saved yet.
	ErrNoSnapshot = errors.New("no snapshot found")

	// ErrStateCorrupt indicates a stored snapshot failed to decode or
	// validate. The engine must not adopt it.
	ErrStateCorrupt = errors.New("snapshot corrupt")

	// ErrPersistenceWrite indicates a save could not be durably written.
	ErrPersistenceWrite = errors.New("snapshot write failed")
)
