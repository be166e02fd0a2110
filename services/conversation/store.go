// Package conversation persists per-user dialogue state in the KV store.
// The User Coordinator already serializes access per user, so the store
// needs no lock of its own; the TTL expires stale dialogues.
package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/ports"
)

// DefaultTTL is how long an idle dialogue survives.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "conv:"

// Store reads and writes ConversationState keyed by WhatsApp number.
type Store struct {
	kv  ports.KVStore
	ttl time.Duration
}

// NewStore creates a Store with the default TTL.
func NewStore(kv ports.KVStore) *Store {
	return &Store{kv: kv, ttl: DefaultTTL}
}

// Get returns the user's conversation state, or nil when idle.
func (s *Store) Get(ctx context.Context, number string) (*models.ConversationState, error) {
	raw, ok, err := s.kv.Get(ctx, keyPrefix+number)
	if err != nil || !ok {
		return nil, err
	}
	var state models.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// Corrupt state from a crashed handler: drop it rather than wedge
		// the user's dialogue.
		_ = s.kv.Del(ctx, keyPrefix+number)
		return nil, nil
	}
	return &state, nil
}

// Set stores the state, refreshing the TTL.
func (s *Store) Set(ctx context.Context, number string, state *models.ConversationState) error {
	state.UpdatedAt = time.Now()
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyPrefix+number, string(raw), s.ttl)
}

// Clear removes the state, returning the user to idle.
func (s *Store) Clear(ctx context.Context, number string) error {
	return s.kv.Del(ctx, keyPrefix+number)
}
