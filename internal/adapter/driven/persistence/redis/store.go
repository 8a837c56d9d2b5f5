package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skillgate/roomkit/internal/core/domain"
)

const roomTTL = 24 * time.Hour

// Store keeps room metadata and presence in Redis, so a relay restart
// or a second relay instance sees the same directory.
type Store struct {
	client *redis.Client
}

func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) SaveRoom(ctx context.Context, room domain.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, roomKey(room.Code), data, roomTTL).Err()
}

func (s *Store) GetRoom(ctx context.Context, code domain.RoomCode) (domain.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Result()
	if err != nil {
		return domain.RoomMetadata{}, fmt.Errorf("room %s: %w", code, err)
	}
	var room domain.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return domain.RoomMetadata{}, err
	}

	count, err := s.client.SCard(ctx, peersKey(code)).Result()
	if err == nil {
		room.ParticipantCount = int(count)
	}
	return room, nil
}

func (s *Store) DeleteRoom(ctx context.Context, code domain.RoomCode) error {
	return s.client.Del(ctx, roomKey(code), peersKey(code)).Err()
}

func (s *Store) SetStatus(ctx context.Context, code domain.RoomCode, status domain.RoomStatus) error {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	room.Status = status
	return s.SaveRoom(ctx, room)
}

func (s *Store) AddPeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error {
	if err := s.client.SAdd(ctx, peersKey(code), socketID.String()).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, peersKey(code), roomTTL).Err()
}

func (s *Store) RemovePeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error {
	return s.client.SRem(ctx, peersKey(code), socketID.String()).Err()
}

func (s *Store) PeerCount(ctx context.Context, code domain.RoomCode) (int, error) {
	count, err := s.client.SCard(ctx, peersKey(code)).Result()
	return int(count), err
}

func roomKey(code domain.RoomCode) string {
	return "room:" + code.String()
}

func peersKey(code domain.RoomCode) string {
	return "room:" + code.String() + ":peers"
}
