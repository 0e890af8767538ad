package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomRecordRoundTrip(t *testing.T) {
	r := models.Room{
		ID:         "room-1",
		Type:       models.GameTypeCarnage,
		Name:       "Friday",
		MaxPlayers: 8,
		CreatorID:  "u-alice",
		Creator:    "alice",
		Status:     models.RoomStarted,
	}
	rec := RecordFromRoom(r, "$argon2id$...")
	got := rec.Room()

	assert.Equal(t, models.RoomWaiting, got.Status, "catalog rooms come back waiting")
	assert.True(t, got.PasswordProtected)
	got.Status, got.PasswordProtected = r.Status, r.PasswordProtected
	assert.Equal(t, r, got)

	assert.False(t, RecordFromRoom(r, "").Room().PasswordProtected)
}

// Runs against a real Postgres when DATABASE_URL is set.
func TestCatalogPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Migrate(ctx, pool))

	rec := RoomRecord{ID: "test-" + time.Now().Format("150405.000"), Name: "Friday", GameType: 1, MaxPlayers: 4, CreatorID: "u-alice", CreatorNickname: "alice"}
	require.NoError(t, SaveRoom(ctx, pool, rec))
	t.Cleanup(func() { _ = DeleteRoom(context.Background(), pool, rec.ID) })

	rec.Name = "Saturday"
	require.NoError(t, SaveRoom(ctx, pool, rec))

	recs, err := LoadRooms(ctx, pool)
	require.NoError(t, err)
	assert.Contains(t, recs, rec)
}
