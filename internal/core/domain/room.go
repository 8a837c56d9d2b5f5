package domain

import (
	"errors"
	"time"
)

type RoomStatus string

const (
	RoomScheduled RoomStatus = "scheduled"
	RoomWaiting   RoomStatus = "waiting"
	RoomLive      RoomStatus = "live"
	RoomCompleted RoomStatus = "completed"
)

var ErrRoomFull = errors.New("room is full")

// RoomMetadata is the directory record for one interview room. The room
// itself (notes, transcript persistence) lives in the backend; the relay
// only keeps this record plus a presence set.
type RoomMetadata struct {
	Code             RoomCode   `json:"code"`
	Status           RoomStatus `json:"status"`
	CreatorID        string     `json:"creatorId"`
	CreatedAt        time.Time  `json:"createdAt"`
	MaxParticipants  int        `json:"maxParticipants"`
	ParticipantCount int        `json:"participantCount"`
}

// ChatMessage is an in-room text message relayed to every participant.
type ChatMessage struct {
	RoomCode   RoomCode  `json:"roomCode"`
	Message    string    `json:"message"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	SentAt     time.Time `json:"sentAt"`
}

func NewChatMessage(code RoomCode, sender Participant, text string) (ChatMessage, error) {
	if text == "" {
		return ChatMessage{}, errors.New("chat message cannot be empty")
	}
	return ChatMessage{
		RoomCode:   code,
		Message:    text,
		SenderName: sender.Name,
		SenderRole: sender.Role,
		SentAt:     time.Now(),
	}, nil
}
