package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jason-s-yu/gameroom/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialKey(t *testing.T) {
	s := NewCredentialStore(nil, "", time.Hour)
	assert.Equal(t, "game_auth:room-1", s.key("room-1"))
	assert.Equal(t, "x:room-1", NewCredentialStore(nil, "x", time.Hour).key("room-1"))
}

// Runs against a real Redis when REDIS_ADDR is set.
func TestCredentialStoreRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, addr, 0)
	require.NoError(t, err)
	defer rdb.Close()

	s := NewCredentialStore(rdb, "gameroom_test", time.Minute)
	roomID := "room-" + time.Now().Format("150405.000000")

	_, held, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, held)

	cred := auth.Credential{RoomID: roomID, Hash: "$argon2id$x", GrantedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.Put(ctx, cred))
	got, held, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, cred, got)

	ttl, err := rdb.TTL(ctx, s.key(roomID)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	require.NoError(t, s.Delete(ctx, roomID))
	_, held, err = s.Get(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, held)
}
