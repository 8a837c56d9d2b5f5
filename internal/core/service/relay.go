package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotModerator = errors.New("requires a moderating role")
)

type roomState struct {
	clients      map[domain.SocketID]port.Client
	participants map[domain.SocketID]domain.Participant
	monitors     map[domain.SocketID]*Monitor
}

// Relay is the room-scoped publish/subscribe hub carrying the signaling
// contract. It never inspects SDP or candidate payloads; it only stamps
// the sender and routes envelopes.
type Relay struct {
	mu    sync.Mutex
	rooms map[domain.RoomCode]*roomState

	roomStore   port.RoomStore
	presence    port.PresenceStore
	transcripts port.TranscriptRepository
	challenges  port.ChallengeSink

	monitorCfg MonitorConfig
	clock      port.Clock
}

func NewRelay(roomStore port.RoomStore, presence port.PresenceStore, transcripts port.TranscriptRepository, challenges port.ChallengeSink, monitorCfg MonitorConfig, clock port.Clock) *Relay {
	return &Relay{
		rooms:       make(map[domain.RoomCode]*roomState),
		roomStore:   roomStore,
		presence:    presence,
		transcripts: transcripts,
		challenges:  challenges,
		monitorCfg:  monitorCfg,
		clock:       clock,
	}
}

// JoinRoom admits a client, announces it to the room and returns the
// roster snapshot the newcomer negotiates against. Candidates get an
// integrity monitor attached for the lifetime of their connection.
func (r *Relay) JoinRoom(ctx context.Context, client port.Client, join domain.JoinRoomPayload) (domain.RoomParticipantsPayload, error) {
	room, err := r.roomStore.GetRoom(ctx, join.RoomCode)
	if err != nil {
		return domain.RoomParticipantsPayload{}, ErrRoomNotFound
	}

	count, err := r.presence.PeerCount(ctx, join.RoomCode)
	if err == nil && room.MaxParticipants > 0 && count >= room.MaxParticipants {
		return domain.RoomParticipantsPayload{}, domain.ErrRoomFull
	}

	userID, err := domain.ParseUserID(join.UserID)
	if err != nil {
		return domain.RoomParticipantsPayload{}, err
	}

	p := domain.Participant{
		SocketID:     client.SocketID(),
		UserID:       userID,
		Role:         join.Role,
		Name:         join.Name,
		AudioEnabled: true,
		VideoEnabled: true,
	}

	r.mu.Lock()
	state, ok := r.rooms[join.RoomCode]
	if !ok {
		state = &roomState{
			clients:      make(map[domain.SocketID]port.Client),
			participants: make(map[domain.SocketID]domain.Participant),
			monitors:     make(map[domain.SocketID]*Monitor),
		}
		r.rooms[join.RoomCode] = state
	}

	snapshot := make([]domain.Participant, 0, len(state.participants))
	for _, existing := range state.participants {
		snapshot = append(snapshot, existing)
	}

	state.clients[p.SocketID] = client
	state.participants[p.SocketID] = p

	if p.Role == domain.RoleCandidate {
		mon := NewMonitor(r.monitorCfg, r.clock)
		mon.SetActive(true)
		state.monitors[p.SocketID] = mon
	}
	r.mu.Unlock()

	if err := r.presence.AddPeer(ctx, join.RoomCode, p.SocketID); err != nil {
		log.Warn().Err(err).Str("room", join.RoomCode.String()).Msg("Presence add failed")
	}
	if room.Status == domain.RoomScheduled || room.Status == domain.RoomWaiting {
		if err := r.roomStore.SetStatus(ctx, join.RoomCode, domain.RoomLive); err != nil {
			log.Warn().Err(err).Str("room", join.RoomCode.String()).Msg("Status update failed")
		}
	}

	joined, err := domain.NewEnvelope(domain.SignalParticipantJoined, p)
	if err == nil {
		joined.RoomCode = join.RoomCode
		joined.From = p.SocketID
		r.broadcast(join.RoomCode, joined, p.SocketID)
	}

	log.Info().
		Str("room", join.RoomCode.String()).
		Str("socket_id", p.SocketID.String()).
		Str("role", string(p.Role)).
		Msg("Participant joined")

	return domain.RoomParticipantsPayload{
		RoomCode:     join.RoomCode,
		Self:         p.SocketID,
		Participants: snapshot,
	}, nil
}

// Route dispatches one inbound envelope from a joined client.
func (r *Relay) Route(ctx context.Context, code domain.RoomCode, from domain.SocketID, env domain.Envelope) error {
	env.From = from
	env.RoomCode = code

	switch env.Kind {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
		// Opaque negotiation payloads go to exactly one target.
		r.sendTo(code, env.To, env)
		return nil

	case domain.SignalToggleAudio, domain.SignalToggleVideo:
		r.applyToggle(code, from, env)
		r.broadcast(code, env, from)
		return nil

	case domain.SignalScreenShareStart, domain.SignalScreenShareStop:
		r.applyScreenShare(code, from, env.Kind == domain.SignalScreenShareStart)
		r.broadcast(code, env, from)
		return nil

	case domain.SignalForcedMute, domain.SignalForcedCamera:
		if !r.roleOf(code, from).CanModerate() {
			return ErrNotModerator
		}
		r.sendTo(code, env.To, env)
		return nil

	case domain.SignalChatMessage:
		return r.routeChat(ctx, code, from, env)

	case domain.SignalCallEnded:
		if !r.roleOf(code, from).CanModerate() {
			return ErrNotModerator
		}
		r.broadcast(code, env, from)
		if err := r.roomStore.SetStatus(ctx, code, domain.RoomCompleted); err != nil {
			log.Warn().Err(err).Str("room", code.String()).Msg("Status update failed")
		}
		return nil

	case domain.SignalProctorEvent:
		var ev domain.ProctorEventPayload
		if err := env.Decode(&ev); err != nil {
			return err
		}
		if mon := r.monitorOf(code, from); mon != nil {
			mon.Observe(ev)
		}
		return nil

	case domain.SignalProctorSubmit:
		return r.submitIntegrity(ctx, code, from, env)

	default:
		log.Debug().Str("kind", string(env.Kind)).Msg("Unroutable message kind")
		return nil
	}
}

func (r *Relay) routeChat(ctx context.Context, code domain.RoomCode, from domain.SocketID, env domain.Envelope) error {
	var msg domain.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}

	r.mu.Lock()
	state, inRoom := r.rooms[code]
	var sender domain.Participant
	var ok bool
	if inRoom {
		sender, ok = state.participants[from]
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	out, err := domain.NewChatMessage(code, sender, msg.Message)
	if err != nil {
		return err
	}
	if err := r.transcripts.Append(ctx, out); err != nil {
		log.Warn().Err(err).Str("room", code.String()).Msg("Transcript append failed")
	}

	env, err = domain.NewEnvelope(domain.SignalChatMessage, out)
	if err != nil {
		return err
	}
	env.RoomCode = code
	env.From = from
	r.broadcast(code, env, from)
	return nil
}

// submitIntegrity finalizes the candidate's monitor, ships the report
// to the challenge backend and resets for the next attempt.
func (r *Relay) submitIntegrity(ctx context.Context, code domain.RoomCode, from domain.SocketID, env domain.Envelope) error {
	var submit domain.ProctorSubmitPayload
	if err := env.Decode(&submit); err != nil {
		return err
	}

	mon := r.monitorOf(code, from)
	if mon == nil {
		return nil
	}
	report := mon.Finalize()
	mon.Reset()

	if r.challenges == nil {
		return nil
	}
	if err := r.challenges.SubmitIntegrityReport(ctx, submit.ChallengeID, submit.AttemptID, report); err != nil {
		log.Error().Err(err).
			Str("challenge", submit.ChallengeID).
			Str("attempt", submit.AttemptID).
			Msg("Integrity report submission failed")
		return err
	}
	return nil
}

// LeaveRoom removes the client and announces the departure. Idempotent:
// an unknown socket is a no-op.
func (r *Relay) LeaveRoom(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) {
	r.mu.Lock()
	state, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return
	}
	p, known := state.participants[socketID]
	delete(state.clients, socketID)
	delete(state.participants, socketID)
	if mon, ok := state.monitors[socketID]; ok {
		mon.SetActive(false)
		delete(state.monitors, socketID)
	}
	empty := len(state.clients) == 0
	if empty {
		delete(r.rooms, code)
	}
	r.mu.Unlock()

	if !known {
		return
	}

	if err := r.presence.RemovePeer(ctx, code, socketID); err != nil {
		log.Warn().Err(err).Str("room", code.String()).Msg("Presence remove failed")
	}

	left, err := domain.NewEnvelope(domain.SignalParticipantLeft, domain.ParticipantLeftPayload{
		SocketID: socketID,
		Name:     p.Name,
	})
	if err == nil {
		left.RoomCode = code
		r.broadcast(code, left, socketID)
	}

	log.Info().
		Str("room", code.String()).
		Str("socket_id", socketID.String()).
		Msg("Participant left")
}

// Stop disconnects every client; used on server shutdown.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, state := range r.rooms {
		for id, client := range state.clients {
			if err := client.Close(); err != nil {
				log.Debug().Err(err).Str("socket_id", id.String()).Msg("Client close")
			}
		}
		for _, mon := range state.monitors {
			mon.SetActive(false)
		}
		delete(r.rooms, code)
	}
}

func (r *Relay) applyToggle(code domain.RoomCode, from domain.SocketID, env domain.Envelope) {
	var t domain.TogglePayload
	if err := env.Decode(&t); err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[code]
	if !ok {
		return
	}
	p, ok := state.participants[from]
	if !ok {
		return
	}
	if env.Kind == domain.SignalToggleAudio {
		p.AudioEnabled = t.Enabled
	} else {
		p.VideoEnabled = t.Enabled
	}
	state.participants[from] = p
}

func (r *Relay) applyScreenShare(code domain.RoomCode, from domain.SocketID, sharing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[code]
	if !ok {
		return
	}
	p, ok := state.participants[from]
	if !ok {
		return
	}
	p.IsScreenSharing = sharing
	state.participants[from] = p
}

func (r *Relay) roleOf(code domain.RoomCode, id domain.SocketID) domain.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[code]
	if !ok {
		return ""
	}
	return state.participants[id].Role
}

func (r *Relay) monitorOf(code domain.RoomCode, id domain.SocketID) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[code]
	if !ok {
		return nil
	}
	return state.monitors[id]
}

func (r *Relay) sendTo(code domain.RoomCode, to domain.SocketID, env domain.Envelope) {
	r.mu.Lock()
	state, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return
	}
	client, ok := state.clients[to]
	r.mu.Unlock()
	if !ok {
		// Target already gone; the sender's candidate queue handles it.
		return
	}
	if err := client.Send(env); err != nil {
		log.Warn().Err(err).Str("socket_id", to.String()).Msg("Targeted send failed")
	}
}

func (r *Relay) broadcast(code domain.RoomCode, env domain.Envelope, exclude domain.SocketID) {
	r.mu.Lock()
	targets := make([]port.Client, 0)
	if state, ok := r.rooms[code]; ok {
		for id, client := range state.clients {
			if id != exclude {
				targets = append(targets, client)
			}
		}
	}
	r.mu.Unlock()

	for _, client := range targets {
		if err := client.Send(env); err != nil {
			log.Warn().Err(err).Str("socket_id", client.SocketID().String()).Msg("Broadcast send failed")
		}
	}
}
