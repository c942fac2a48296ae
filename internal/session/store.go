package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lesson-plan-agent/internal/cadence"
	"lesson-plan-agent/internal/models"
)

const (
	keyProfile = "profile"
	keyCadence = "cadence_marker"
)

// Store is the session-scoped key-value store: the authenticated teacher's
// profile and the cadence marker live here, keyed under the session id.
// Values survive a client reload but expire with the session TTL, and
// Clear wipes everything on sign-out.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a store for one browsing session.
func New(rdb *redis.Client, sessionID string, ttl time.Duration) *Store {
	return &Store{
		rdb:    rdb,
		prefix: "session:" + sessionID + ":",
		ttl:    ttl,
	}
}

// Profile reads the stored teacher profile. found is false when the session
// has no profile yet.
func (s *Store) Profile(ctx context.Context) (models.TeacherProfile, bool, error) {
	var p models.TeacherProfile
	found, err := s.get(ctx, keyProfile, &p)
	return p, found, err
}

// SaveProfile writes the teacher profile.
func (s *Store) SaveProfile(ctx context.Context, p models.TeacherProfile) error {
	return s.set(ctx, keyProfile, p)
}

// CadenceMarker reads the prompt marker. A missing marker is the zero
// value: no period recorded yet.
func (s *Store) CadenceMarker(ctx context.Context) (cadence.Marker, error) {
	var m cadence.Marker
	if _, err := s.get(ctx, keyCadence, &m); err != nil {
		return cadence.Marker{}, err
	}
	return m, nil
}

// SaveCadenceMarker writes the prompt marker.
func (s *Store) SaveCadenceMarker(ctx context.Context, m cadence.Marker) error {
	return s.set(ctx, keyCadence, m)
}

// Clear removes every key in the session, used on sign-out.
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan session keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete session keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
