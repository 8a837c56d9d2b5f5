package memory

import (
	"context"
	"sync"

	"github.com/skillgate/roomkit/internal/core/domain"
)

// TranscriptRepository keeps per-room chat transcripts for the lifetime
// of the process. Durable persistence belongs to the backend.
type TranscriptRepository struct {
	mu       sync.Mutex
	messages map[domain.RoomCode][]domain.ChatMessage
}

func NewTranscriptRepository() *TranscriptRepository {
	return &TranscriptRepository{
		messages: make(map[domain.RoomCode][]domain.ChatMessage),
	}
}

func (r *TranscriptRepository) Append(ctx context.Context, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.RoomCode] = append(r.messages[msg.RoomCode], msg)
	return nil
}

func (r *TranscriptRepository) ForRoom(ctx context.Context, code domain.RoomCode) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatMessage(nil), r.messages[code]...), nil
}
