// internal/database/rooms.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/gameroom/internal/models"
)

// DB is the subset of *pgxpool.Pool the room catalog needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	game_type        INTEGER NOT NULL DEFAULT 0,
	max_players      INTEGER NOT NULL,
	creator_id       TEXT NOT NULL,
	creator_nickname TEXT NOT NULL,
	password_hash    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RoomRecord is one row of the room catalog. Rooms in the catalog are recreated empty
// but for their creator, in the waiting state.
type RoomRecord struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	GameType        int    `db:"game_type"`
	MaxPlayers      int    `db:"max_players"`
	CreatorID       string `db:"creator_id"`
	CreatorNickname string `db:"creator_nickname"`
	PasswordHash    string `db:"password_hash"`
}

// RecordFromRoom builds the catalog row for r.
func RecordFromRoom(r models.Room, passwordHash string) RoomRecord {
	return RoomRecord{
		ID:              r.ID,
		Name:            r.Name,
		GameType:        int(r.Type),
		MaxPlayers:      r.MaxPlayers,
		CreatorID:       r.CreatorID,
		CreatorNickname: r.Creator,
		PasswordHash:    passwordHash,
	}
}

// Room returns the waiting room described by the record.
func (rec RoomRecord) Room() models.Room {
	return models.Room{
		ID:                rec.ID,
		Type:              models.GameType(rec.GameType),
		Name:              rec.Name,
		MaxPlayers:        rec.MaxPlayers,
		CreatorID:         rec.CreatorID,
		Creator:           rec.CreatorNickname,
		Status:            models.RoomWaiting,
		PasswordProtected: rec.PasswordHash != "",
	}
}

// Migrate creates the rooms table if it is missing.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	return nil
}

// LoadRooms returns the catalog ordered by creation time.
func LoadRooms(ctx context.Context, db DB) ([]RoomRecord, error) {
	q := `
	SELECT id, name, game_type, max_players, creator_id, creator_nickname,
	       COALESCE(password_hash, '') AS password_hash
	FROM rooms
	ORDER BY created_at`
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[RoomRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rooms: %w", err)
	}
	return recs, nil
}

// SaveRoom inserts or replaces a catalog row.
func SaveRoom(ctx context.Context, db DB, rec RoomRecord) error {
	q := `
	INSERT INTO rooms (id, name, game_type, max_players, creator_id, creator_nickname, password_hash)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		game_type = EXCLUDED.game_type,
		max_players = EXCLUDED.max_players,
		creator_id = EXCLUDED.creator_id,
		creator_nickname = EXCLUDED.creator_nickname,
		password_hash = EXCLUDED.password_hash`
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			rec.ID, rec.Name, rec.GameType, rec.MaxPlayers,
			rec.CreatorID, rec.CreatorNickname, rec.PasswordHash,
		)
		return err
	})
}

// DeleteRoom removes a room from the catalog.
func DeleteRoom(ctx context.Context, db DB, id string) error {
	if _, err := db.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, err)
	}
	return nil
}

// Catalog persists hosted rooms so a restarted server can reopen them.
type Catalog struct {
	DB DB
}

func (c Catalog) Save(ctx context.Context, r models.Room, passwordHash string) error {
	return SaveRoom(ctx, c.DB, RecordFromRoom(r, passwordHash))
}

func (c Catalog) Delete(ctx context.Context, id string) error {
	return DeleteRoom(ctx, c.DB, id)
}
