package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/ports"
)

// SessionTTL bounds how long a dispatched Flow stays answerable.
const SessionTTL = 30 * time.Minute

const sessionPrefix = "flowsess:"

// Sessions stores FlowSession records keyed by flow token.
type Sessions struct {
	kv  ports.KVStore
	ttl time.Duration
}

// NewSessions creates a Sessions store with the default TTL.
func NewSessions(kv ports.KVStore) *Sessions {
	return &Sessions{kv: kv, ttl: SessionTTL}
}

// Create stores a new session for the token.
func (s *Sessions) Create(ctx context.Context, token string, session *models.FlowSession) error {
	session.CreatedAt = time.Now()
	return s.put(ctx, token, session)
}

// Get returns the session for the token, or nil when expired or absent.
func (s *Sessions) Get(ctx context.Context, token string) (*models.FlowSession, error) {
	raw, ok, err := s.kv.Get(ctx, sessionPrefix+token)
	if err != nil || !ok {
		return nil, err
	}
	var session models.FlowSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		_ = s.kv.Del(ctx, sessionPrefix+token)
		return nil, nil
	}
	return &session, nil
}

// Update overwrites the session, refreshing the TTL.
func (s *Sessions) Update(ctx context.Context, token string, session *models.FlowSession) error {
	return s.put(ctx, token, session)
}

// Destroy removes the session; the token is dead afterwards.
func (s *Sessions) Destroy(ctx context.Context, token string) error {
	return s.kv.Del(ctx, sessionPrefix+token)
}

func (s *Sessions) put(ctx context.Context, token string, session *models.FlowSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, sessionPrefix+token, string(raw), s.ttl)
}
