package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/skillgate/roomkit/internal/core/domain"
)

var ErrNotFound = errors.New("not found")

// RoomStore is the single-process fallback for the Redis store: same
// directory semantics, no external dependency.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[domain.RoomCode]domain.RoomMetadata
	peers map[domain.RoomCode]map[domain.SocketID]struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[domain.RoomCode]domain.RoomMetadata),
		peers: make(map[domain.RoomCode]map[domain.SocketID]struct{}),
	}
}

func (s *RoomStore) SaveRoom(ctx context.Context, room domain.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Code] = room
	return nil
}

func (s *RoomStore) GetRoom(ctx context.Context, code domain.RoomCode) (domain.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return domain.RoomMetadata{}, ErrNotFound
	}
	room.ParticipantCount = len(s.peers[code])
	return room, nil
}

func (s *RoomStore) DeleteRoom(ctx context.Context, code domain.RoomCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	delete(s.peers, code)
	return nil
}

func (s *RoomStore) SetStatus(ctx context.Context, code domain.RoomCode, status domain.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return ErrNotFound
	}
	room.Status = status
	s.rooms[code] = room
	return nil
}

func (s *RoomStore) AddPeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[code] == nil {
		s.peers[code] = make(map[domain.SocketID]struct{})
	}
	s.peers[code][socketID] = struct{}{}
	return nil
}

func (s *RoomStore) RemovePeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers[code], socketID)
	return nil
}

func (s *RoomStore) PeerCount(ctx context.Context, code domain.RoomCode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers[code]), nil
}
