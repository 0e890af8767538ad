// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces credential keys, one key per room: "<prefix>:<roomID>".
const DefaultKeyPrefix = "game_auth"

// Connect builds a Redis client and checks it answers.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// CredentialStore keeps session credentials in Redis. Entries expire after ttl so a
// credential never outlives the session it was granted for.
type CredentialStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ auth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore wraps rdb. An empty prefix uses DefaultKeyPrefix.
func NewCredentialStore(rdb *redis.Client, prefix string, ttl time.Duration) *CredentialStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CredentialStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *CredentialStore) key(roomID string) string {
	return s.prefix + ":" + roomID
}

func (s *CredentialStore) Get(ctx context.Context, roomID string) (auth.Credential, bool, error) {
	data, err := s.rdb.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.Credential{}, false, nil
	}
	if err != nil {
		return auth.Credential{}, false, fmt.Errorf("failed to GET credential for room %s: %w", roomID, err)
	}
	var cred auth.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return auth.Credential{}, false, fmt.Errorf("failed to unmarshal credential for room %s: %w", roomID, err)
	}
	return cred, true, nil
}

func (s *CredentialStore) Put(ctx context.Context, cred auth.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(cred.RoomID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET credential for room %s: %w", cred.RoomID, err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, roomID string) error {
	if err := s.rdb.Del(ctx, s.key(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to DEL credential for room %s: %w", roomID, err)
	}
	return nil
}
