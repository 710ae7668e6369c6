package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	roomKeyPrefix = "poker:room:"

	fieldRoom         = "room"
	fieldPlayerPrefix = "player:"
	fieldKickedPrefix = "kicked:"
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is refreshed on every write; abandoned rooms expire on their own.
	TTL     time.Duration
	Timeout time.Duration
}

// RedisStore keeps each room in one hash: the room header, one field per
// player and one per kicked id. Writes replace the hash inside MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Dur("ttl", cfg.TTL).Msg("connected to redis")
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

// createRoomScript claims the room header, writes the remaining fields and
// sets the expiry in one step. ARGV: ttl in ms, header field, header value,
// then field/value pairs.
var createRoomScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[2], ARGV[3]) == 0 then
	return 0
end
for i = 4, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

func (s *RedisStore) CreateRoom(ctx context.Context, room *models.Room) error {
	fields, err := encodeRoomFields(room)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, s.ttl.Milliseconds(), fieldRoom, fields[fieldRoom])
	for field, value := range fields {
		if field == fieldRoom {
			continue
		}
		args = append(args, field, value)
	}

	created, err := createRoomScript.Run(ctx, s.client, []string{roomKey(room.Code)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create room %s: %w", room.Code, err)
	}
	if created == 0 {
		return fmt.Errorf("room %s: %w", room.Code, models.ErrRoomExists)
	}
	return nil
}

func (s *RedisStore) LoadRoom(ctx context.Context, code string) (*models.Room, error) {
	data, err := s.client.HGetAll(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", code, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("room %s: %w", code, models.ErrRoomNotFound)
	}
	return decodeRoomFields(code, data)
}

// SaveRoom rewrites the whole hash in one transaction, so a reset that
// clears every vote lands as a single step.
func (s *RedisStore) SaveRoom(ctx context.Context, room *models.Room) error {
	fields, err := encodeRoomFields(room)
	if err != nil {
		return err
	}
	key := roomKey(room.Code)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.Code, err)
	}
	return nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, roomKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", code, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// encodeRoomFields splits a room into hash fields.
func encodeRoomFields(room *models.Room) (map[string]interface{}, error) {
	header := *room
	header.Players = nil
	header.KickedPlayers = nil

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal room %s: %w", room.Code, err)
	}

	fields := make(map[string]interface{}, 1+len(room.Players)+len(room.KickedPlayers))
	fields[fieldRoom] = string(headerJSON)
	for id, p := range room.Players {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal player %s: %w", id, err)
		}
		fields[fieldPlayerPrefix+id] = string(data)
	}
	for id, k := range room.KickedPlayers {
		data, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal kick record %s: %w", id, err)
		}
		fields[fieldKickedPrefix+id] = string(data)
	}
	return fields, nil
}

// decodeRoomFields rebuilds a room from its hash fields.
func decodeRoomFields(code string, data map[string]string) (*models.Room, error) {
	header, ok := data[fieldRoom]
	if !ok {
		return nil, fmt.Errorf("room %s: missing %q field: %w", code, fieldRoom, models.ErrRoomNotFound)
	}
	room, err := unmarshalRoom(code, []byte(header))
	if err != nil {
		return nil, err
	}

	for field, value := range data {
		switch {
		case strings.HasPrefix(field, fieldPlayerPrefix):
			var p models.Player
			if err := json.Unmarshal([]byte(value), &p); err != nil {
				return nil, fmt.Errorf("unmarshal %s of room %s: %w", field, code, err)
			}
			room.Players[p.ID] = &p
		case strings.HasPrefix(field, fieldKickedPrefix):
			var k models.KickRecord
			if err := json.Unmarshal([]byte(value), &k); err != nil {
				return nil, fmt.Errorf("unmarshal %s of room %s: %w", field, code, err)
			}
			room.KickedPlayers[strings.TrimPrefix(field, fieldKickedPrefix)] = k
		}
	}
	return room, nil
}
