package domain

import "encoding/json"

// SignalKind tags every message carried by the relay. The relay treats
// offer/answer/candidate payloads as opaque; only the envelope is routed.
type SignalKind string

const (
	SignalJoinRoom          SignalKind = "join-room"
	SignalRoomParticipants  SignalKind = "room-participants"
	SignalParticipantJoined SignalKind = "participant-joined"
	SignalParticipantLeft   SignalKind = "participant-left"
	SignalOffer             SignalKind = "offer"
	SignalAnswer            SignalKind = "answer"
	SignalICECandidate      SignalKind = "ice-candidate"
	SignalToggleAudio       SignalKind = "toggle-audio"
	SignalToggleVideo       SignalKind = "toggle-video"
	SignalScreenShareStart  SignalKind = "screen-share-start"
	SignalScreenShareStop   SignalKind = "screen-share-stop"
	SignalForcedMute        SignalKind = "admin-forced-mute"
	SignalForcedCamera      SignalKind = "admin-forced-camera"
	SignalChatMessage       SignalKind = "chat-message"
	SignalCallEnded         SignalKind = "call-ended"
	SignalProctorEvent      SignalKind = "proctor-event"
	SignalProctorSubmit     SignalKind = "proctor-submit"
)

// Envelope is the wire frame for every relay message. From is stamped by
// the relay, never trusted from the client. To is set only on targeted
// messages (offer/answer/candidate, admin-forced-*).
type Envelope struct {
	Kind     SignalKind      `json:"kind"`
	RoomCode RoomCode        `json:"roomCode,omitempty"`
	From     SocketID        `json:"from,omitempty"`
	To       SocketID        `json:"to,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(kind SignalKind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into target.
func (e Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}

// Payload shapes. SDP and candidate bodies stay opaque strings so the
// envelope layer never depends on a media implementation.

type JoinRoomPayload struct {
	RoomCode    RoomCode `json:"roomCode"`
	UserID      string   `json:"userId"`
	Role        Role     `json:"role"`
	Name        string   `json:"name"`
	AccessToken string   `json:"accessToken"`
}

type RoomParticipantsPayload struct {
	RoomCode     RoomCode      `json:"roomCode"`
	Self         SocketID      `json:"self"`
	Participants []Participant `json:"participants"`
}

type ParticipantLeftPayload struct {
	SocketID SocketID `json:"socketId"`
	Name     string   `json:"name"`
}

type DescriptionPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

type TogglePayload struct {
	RoomCode RoomCode `json:"roomCode"`
	Enabled  bool     `json:"enabled"`
}

type ScreenSharePayload struct {
	RoomCode RoomCode `json:"roomCode"`
}

type ForcedMutePayload struct {
	Muted bool `json:"muted"`
}

type ForcedCameraPayload struct {
	Disabled bool `json:"disabled"`
}

type CallEndedPayload struct {
	EndedBy string `json:"endedBy"`
}
