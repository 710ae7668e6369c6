package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

const createRoomsTable = `
CREATE TABLE IF NOT EXISTS poker_rooms (
    code       TEXT PRIMARY KEY,
    state      JSONB NOT NULL,
    version    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps each room as one JSONB row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and makes sure the rooms table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("connected to postgres")
	return s, nil
}

// EnsureSchema creates the rooms table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createRoomsTable); err != nil {
		return fmt.Errorf("failed to create poker_rooms table: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) error {
	data, err := marshalRoom(room)
	if err != nil {
		return err
	}

	cmdTag, err := s.pool.Exec(ctx, `
        INSERT INTO poker_rooms (code, state, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (code) DO NOTHING
    `, room.Code, data, int64(room.Version), room.CreatedAt, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", room.Code, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("room %s: %w", room.Code, models.ErrRoomExists)
	}
	return nil
}

func (s *PostgresStore) LoadRoom(ctx context.Context, code string) (*models.Room, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM poker_rooms WHERE code = $1`, code).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", code, models.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", code, err)
	}
	return unmarshalRoom(code, data)
}

func (s *PostgresStore) SaveRoom(ctx context.Context, room *models.Room) error {
	data, err := marshalRoom(room)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO poker_rooms (code, state, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (code) DO UPDATE
        SET state = EXCLUDED.state, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
    `, room.Code, data, int64(room.Version), room.CreatedAt, room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.Code, err)
	}
	return nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM poker_rooms WHERE code = $1`, code); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
