package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semflow/engine"
)

// Default KV bucket settings.
const (
	DefaultBucket = "SEMFLOW_STATE"
	snapshotKey   = "snapshot"
	kvHistory     = 5
)

// KVStore persists snapshots in a NATS JetStream KV bucket. The bucket
// keeps a short revision history so an operator can inspect recent
// states after an incident.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates a KV-backed store, creating the bucket if it does
// not exist. An empty bucket name uses DefaultBucket.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &KVStore{kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Semflow engine state snapshots",
		History:     kvHistory,
	})
}

// Save writes the snapshot under a fixed key; KV revisions provide the
// history.
func (s *KVStore) Save(ctx context.Context, snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistenceWrite, err)
	}
	if _, err := s.kv.Put(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return nil
}

// Load reads and validates the last saved snapshot.
func (s *KVStore) Load(ctx context.Context) (engine.Snapshot, error) {
	entry, err := s.kv.Get(ctx, snapshotKey)
	if err != nil {
		if isNotFound(err) {
			return engine.Snapshot{}, ErrNoSnapshot
		}
		return engine.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return snap, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
