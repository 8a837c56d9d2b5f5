package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

var (
	// ErrMediaDenied wraps camera/microphone acquisition failures. No
	// signaling is attempted after this; a silent one-way session is
	// worse than a visible permission error.
	ErrMediaDenied = errors.New("local media unavailable")

	ErrRoomCompleted = errors.New("room already completed")
)

// SessionEvents surfaces room activity to the embedding layer. All
// callbacks are optional.
type SessionEvents struct {
	OnParticipantJoined func(p domain.Participant)
	OnParticipantLeft   func(id domain.SocketID, name string)
	OnChat              func(msg domain.ChatMessage)
	OnCallEnded         func(endedBy string)
	OnError             func(err error)
}

// peerState pairs a link with the candidate queue that absorbs relay
// reordering: candidates arriving before the matching description are
// held until one is applied.
type peerState struct {
	link      port.PeerLink
	pending   []string
	remoteSet bool
}

// RoomSession negotiates one full-duplex media channel per remote
// participant in a room. The links map is the single authoritative
// owner of peer connections: at most one link per socket ID, and
// removal from the map is the only teardown signal.
type RoomSession struct {
	mu sync.Mutex

	media     port.MediaEngine
	dialer    port.RelayDialer
	directory port.RoomDirectory
	recSink   port.RecordingSink
	events    SessionEvents

	roomCode domain.RoomCode
	identity domain.Identity
	self     domain.SocketID

	relay port.RelayConn
	local port.LocalMedia

	links         map[domain.SocketID]*peerState
	remoteStreams map[domain.SocketID][]port.RemoteTrack
	participants  map[domain.SocketID]domain.Participant

	screenTrack port.VideoTrack
	sharing     bool

	recorder  port.Recorder
	recording bool

	joined bool
}

func NewRoomSession(media port.MediaEngine, dialer port.RelayDialer, directory port.RoomDirectory, recSink port.RecordingSink, events SessionEvents) *RoomSession {
	return &RoomSession{
		media:         media,
		dialer:        dialer,
		directory:     directory,
		recSink:       recSink,
		events:        events,
		links:         make(map[domain.SocketID]*peerState),
		remoteStreams: make(map[domain.SocketID][]port.RemoteTrack),
		participants:  make(map[domain.SocketID]domain.Participant),
	}
}

// Join acquires local media, opens the relay channel and announces the
// local identity. Media comes first so peers never negotiate against a
// participant with no tracks.
func (s *RoomSession) Join(ctx context.Context, code domain.RoomCode, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined {
		return errors.New("already joined a room")
	}

	if s.directory != nil {
		room, err := s.directory.GetRoom(ctx, code)
		if err != nil {
			return fmt.Errorf("room lookup: %w", err)
		}
		if room.Status == domain.RoomCompleted {
			return ErrRoomCompleted
		}
	}

	local, err := s.media.AcquireLocalMedia(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaDenied, err)
	}

	relay, err := s.dialer.Dial(ctx, code, s)
	if err != nil {
		local.Close()
		return fmt.Errorf("relay dial: %w", err)
	}

	join := domain.JoinRoomPayload{
		RoomCode:    code,
		UserID:      identity.UserID.String(),
		Role:        identity.Role,
		Name:        identity.Name,
		AccessToken: identity.AccessToken,
	}
	if err := relay.Announce(ctx, join); err != nil {
		relay.Close()
		local.Close()
		return fmt.Errorf("announce: %w", err)
	}

	s.roomCode = code
	s.identity = identity
	s.relay = relay
	s.local = local
	s.joined = true

	return nil
}

// HandleEnvelope is the single dispatcher over inbound relay messages.
func (s *RoomSession) HandleEnvelope(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Nothing delivered after teardown may resurrect a link.
	if !s.joined {
		return
	}

	switch env.Kind {
	case domain.SignalRoomParticipants:
		s.handleRoster(env)
	case domain.SignalParticipantJoined:
		s.handleParticipantJoined(env)
	case domain.SignalParticipantLeft:
		s.handleParticipantLeft(env)
	case domain.SignalOffer:
		s.handleOffer(env)
	case domain.SignalAnswer:
		s.handleAnswer(env)
	case domain.SignalICECandidate:
		s.handleCandidate(env)
	case domain.SignalToggleAudio, domain.SignalToggleVideo:
		s.handleRemoteToggle(env)
	case domain.SignalScreenShareStart, domain.SignalScreenShareStop:
		s.handleRemoteScreenShare(env)
	case domain.SignalForcedMute:
		s.handleForcedMute(env)
	case domain.SignalForcedCamera:
		s.handleForcedCamera(env)
	case domain.SignalChatMessage:
		s.handleChat(env)
	case domain.SignalCallEnded:
		s.handleCallEnded(env)
	default:
		log.Debug().Str("kind", string(env.Kind)).Msg("Ignoring relay message")
	}
}

// HandleDisconnect keeps established media alive on a relay drop.
// Rejoining is a user-initiated recovery.
func (s *RoomSession) HandleDisconnect(err error) {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()

	if joined && err != nil {
		log.Warn().Err(err).Msg("Relay connection dropped, media preserved")
		s.emitError(fmt.Errorf("relay disconnected: %w", err))
	}
}

// handleRoster makes the local peer the initiator toward every
// participant already in the room. Peers arriving later offer to us
// instead, so exactly one side initiates per pair.
func (s *RoomSession) handleRoster(env domain.Envelope) {
	var roster domain.RoomParticipantsPayload
	if err := env.Decode(&roster); err != nil {
		log.Error().Err(err).Msg("Bad roster payload")
		return
	}

	s.self = roster.Self

	for _, p := range roster.Participants {
		s.participants[p.SocketID] = p
		ps, err := s.ensureLink(p.SocketID)
		if err != nil {
			s.emitError(err)
			continue
		}

		sdp, err := ps.link.CreateOffer(context.Background())
		if err != nil {
			log.Error().Err(err).Str("peer", p.SocketID.String()).Msg("Offer creation failed")
			s.emitError(err)
			continue
		}
		s.sendTo(p.SocketID, domain.SignalOffer, domain.DescriptionPayload{SDP: sdp})
	}
}

func (s *RoomSession) handleParticipantJoined(env domain.Envelope) {
	var p domain.Participant
	if err := env.Decode(&p); err != nil {
		log.Error().Err(err).Msg("Bad participant payload")
		return
	}

	// The newcomer initiates toward us; creating a link here would race
	// their incoming offer.
	s.participants[p.SocketID] = p

	if s.events.OnParticipantJoined != nil {
		s.events.OnParticipantJoined(p)
	}
}

func (s *RoomSession) handleParticipantLeft(env domain.Envelope) {
	var left domain.ParticipantLeftPayload
	if err := env.Decode(&left); err != nil {
		return
	}
	s.teardownPeer(left.SocketID)

	if s.events.OnParticipantLeft != nil {
		s.events.OnParticipantLeft(left.SocketID, left.Name)
	}
}

// teardownPeer is idempotent: an already-removed peer is a no-op.
func (s *RoomSession) teardownPeer(id domain.SocketID) {
	ps, ok := s.links[id]
	if ok {
		if err := ps.link.Close(); err != nil {
			log.Debug().Err(err).Str("peer", id.String()).Msg("Link close")
		}
		delete(s.links, id)
	}
	delete(s.remoteStreams, id)
	delete(s.participants, id)
}

func (s *RoomSession) handleOffer(env domain.Envelope) {
	var desc domain.DescriptionPayload
	if err := env.Decode(&desc); err != nil {
		return
	}
	from := env.From

	ps, err := s.ensureLink(from)
	if err != nil {
		s.emitError(err)
		return
	}

	switch ps.link.SignalingState() {
	case port.SignalingClosed:
		return
	case port.SignalingHaveLocalOffer:
		// Glare: both sides offered at once. The lexically lesser
		// socket ID is polite and rolls back its own pending offer;
		// the greater side ignores the incoming one and keeps its
		// offer in flight.
		if s.self.String() < from.String() {
			if err := ps.link.Rollback(); err != nil {
				log.Error().Err(err).Str("peer", from.String()).Msg("Rollback failed")
				return
			}
			log.Debug().Str("peer", from.String()).Msg("Glare: rolled back local offer")
		} else {
			log.Debug().Str("peer", from.String()).Msg("Glare: ignoring remote offer")
			return
		}
	}

	answer, err := ps.link.HandleOffer(context.Background(), desc.SDP)
	if err != nil {
		log.Error().Err(err).Str("peer", from.String()).Msg("Offer handling failed")
		s.emitError(err)
		return
	}
	ps.remoteSet = true
	s.flushCandidates(from, ps)

	s.sendTo(from, domain.SignalAnswer, domain.DescriptionPayload{SDP: answer})
}

// handleAnswer applies an answer only while one is awaited. Stale and
// duplicate answers are dropped without an error: the relay gives no
// ordering guarantee.
func (s *RoomSession) handleAnswer(env domain.Envelope) {
	ps, ok := s.links[env.From]
	if !ok {
		return
	}
	if ps.link.SignalingState() != port.SignalingHaveLocalOffer {
		log.Debug().Str("peer", env.From.String()).Msg("Dropping stale answer")
		return
	}

	var desc domain.DescriptionPayload
	if err := env.Decode(&desc); err != nil {
		return
	}
	if err := ps.link.HandleAnswer(desc.SDP); err != nil {
		log.Error().Err(err).Str("peer", env.From.String()).Msg("Answer handling failed")
		return
	}
	ps.remoteSet = true
	s.flushCandidates(env.From, ps)
}

// handleCandidate queues candidates until a remote description exists.
// Candidates for unknown peers are dropped; the peer may have left.
func (s *RoomSession) handleCandidate(env domain.Envelope) {
	ps, ok := s.links[env.From]
	if !ok {
		return
	}

	var cand domain.CandidatePayload
	if err := env.Decode(&cand); err != nil {
		return
	}

	if !ps.remoteSet {
		ps.pending = append(ps.pending, cand.Candidate)
		return
	}
	if err := ps.link.AddCandidate(cand.Candidate); err != nil {
		log.Debug().Err(err).Str("peer", env.From.String()).Msg("Candidate rejected")
	}
}

func (s *RoomSession) flushCandidates(id domain.SocketID, ps *peerState) {
	for _, c := range ps.pending {
		if err := ps.link.AddCandidate(c); err != nil {
			log.Debug().Err(err).Str("peer", id.String()).Msg("Queued candidate rejected")
		}
	}
	ps.pending = nil
}

func (s *RoomSession) handleRemoteToggle(env domain.Envelope) {
	p, ok := s.participants[env.From]
	if !ok {
		return
	}
	var t domain.TogglePayload
	if err := env.Decode(&t); err != nil {
		return
	}
	if env.Kind == domain.SignalToggleAudio {
		p.AudioEnabled = t.Enabled
	} else {
		p.VideoEnabled = t.Enabled
	}
	s.participants[env.From] = p
}

func (s *RoomSession) handleRemoteScreenShare(env domain.Envelope) {
	p, ok := s.participants[env.From]
	if !ok {
		return
	}
	p.IsScreenSharing = env.Kind == domain.SignalScreenShareStart
	s.participants[env.From] = p
}

// handleForcedMute applies a moderator's coercion to the local track and
// re-announces the resulting state so remote rosters stay consistent.
func (s *RoomSession) handleForcedMute(env domain.Envelope) {
	var forced domain.ForcedMutePayload
	if err := env.Decode(&forced); err != nil {
		return
	}
	if s.local == nil {
		return
	}
	s.local.SetAudioEnabled(!forced.Muted)
	s.send(domain.SignalToggleAudio, domain.TogglePayload{RoomCode: s.roomCode, Enabled: !forced.Muted})
}

func (s *RoomSession) handleForcedCamera(env domain.Envelope) {
	var forced domain.ForcedCameraPayload
	if err := env.Decode(&forced); err != nil {
		return
	}
	if s.local == nil {
		return
	}
	s.local.SetVideoEnabled(!forced.Disabled)
	s.send(domain.SignalToggleVideo, domain.TogglePayload{RoomCode: s.roomCode, Enabled: !forced.Disabled})
}

func (s *RoomSession) handleChat(env domain.Envelope) {
	var msg domain.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return
	}
	if s.events.OnChat != nil {
		s.events.OnChat(msg)
	}
}

func (s *RoomSession) handleCallEnded(env domain.Envelope) {
	var ended domain.CallEndedPayload
	if err := env.Decode(&ended); err != nil {
		return
	}
	s.teardownLocked()
	if s.events.OnCallEnded != nil {
		s.events.OnCallEnded(ended.EndedBy)
	}
}

// ensureLink returns the existing link for a socket ID or creates one.
// Duplicate creation reuses the existing connection; replacing it would
// orphan its media.
func (s *RoomSession) ensureLink(remote domain.SocketID) (*peerState, error) {
	if ps, ok := s.links[remote]; ok {
		return ps, nil
	}

	events := port.LinkEvents{
		OnCandidate: func(candidate string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.links[remote]; !ok {
				return
			}
			s.sendTo(remote, domain.SignalICECandidate, domain.CandidatePayload{Candidate: candidate})
		},
		OnTrack: func(t port.RemoteTrack) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.links[remote]; !ok {
				return
			}
			s.remoteStreams[remote] = append(s.remoteStreams[remote], t)
		},
		OnFailure: func(err error) {
			// Isolated: one peer's connectivity failure never touches
			// its siblings.
			log.Warn().Err(err).Str("peer", remote.String()).Msg("Peer link failed")
			s.emitError(fmt.Errorf("peer %s: %w", remote, err))
		},
	}

	link, err := s.media.NewPeerLink(remote, s.local, events)
	if err != nil {
		return nil, fmt.Errorf("peer link for %s: %w", remote, err)
	}

	ps := &peerState{link: link}
	s.links[remote] = ps
	return ps, nil
}

// ToggleAudio flips local audio enablement and notifies the room. Track
// enablement is local; it never triggers a renegotiation.
func (s *RoomSession) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return false
	}
	enabled := !s.local.AudioEnabled()
	s.local.SetAudioEnabled(enabled)
	s.send(domain.SignalToggleAudio, domain.TogglePayload{RoomCode: s.roomCode, Enabled: enabled})
	return enabled
}

func (s *RoomSession) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return false
	}
	enabled := !s.local.VideoEnabled()
	s.local.SetVideoEnabled(enabled)
	s.send(domain.SignalToggleVideo, domain.TogglePayload{RoomCode: s.roomCode, Enabled: enabled})
	return enabled
}

// ToggleScreenShare substitutes the outbound video track in place on
// every link. Only one video track is ever sent per link: the screen
// replaces the camera, it never supplements it.
func (s *RoomSession) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sharing {
		s.stopScreenShareLocked()
		return nil
	}

	track, err := s.media.AcquireScreenTrack(ctx)
	if err != nil {
		return fmt.Errorf("screen capture: %w", err)
	}

	// The capture's own end-of-life (native "stop sharing") takes the
	// same restore path as a manual toggle-off, so state never desyncs.
	track.OnEnded(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopScreenShareLocked()
	})

	for id, ps := range s.links {
		if err := ps.link.ReplaceVideoTrack(track); err != nil {
			log.Error().Err(err).Str("peer", id.String()).Msg("Track replace failed")
		}
	}

	s.screenTrack = track
	s.sharing = true
	s.send(domain.SignalScreenShareStart, domain.ScreenSharePayload{RoomCode: s.roomCode})
	return nil
}

func (s *RoomSession) stopScreenShareLocked() {
	if !s.sharing {
		return
	}
	s.sharing = false

	camera := s.local.CameraTrack()
	for id, ps := range s.links {
		if err := ps.link.ReplaceVideoTrack(camera); err != nil {
			log.Error().Err(err).Str("peer", id.String()).Msg("Camera restore failed")
		}
	}

	if s.screenTrack != nil {
		s.screenTrack.Stop()
		s.screenTrack = nil
	}
	s.send(domain.SignalScreenShareStop, domain.ScreenSharePayload{RoomCode: s.roomCode})
}

// ToggleRecording records the outbound stream only, in timed segments,
// and uploads on stop. An upload failure is reported but never re-opens
// recording: capture has already stopped locally.
func (s *RoomSession) ToggleRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		if s.local == nil {
			return errors.New("not in a room")
		}
		rec := s.media.NewRecorder(s.local)
		if err := rec.Start(); err != nil {
			return fmt.Errorf("recording start: %w", err)
		}
		s.recorder = rec
		s.recording = true
		return nil
	}

	segments, err := s.recorder.Stop()
	s.recorder = nil
	s.recording = false
	if err != nil {
		return fmt.Errorf("recording stop: %w", err)
	}

	if s.recSink != nil {
		if err := s.recSink.UploadRecording(ctx, s.roomCode, segments); err != nil {
			s.emitError(fmt.Errorf("recording upload: %w", err))
		}
	}
	return nil
}

// EndCall broadcasts call-ended and tears the session down. Moderator
// role checks live in the relay.
func (s *RoomSession) EndCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.send(domain.SignalCallEnded, domain.CallEndedPayload{EndedBy: s.identity.Name})
	s.teardownLocked()
}

// Leave closes every link, stops local tracks and disconnects from the
// relay. Safe to call repeatedly and from any state, including a failed
// join.
func (s *RoomSession) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *RoomSession) teardownLocked() {
	for id, ps := range s.links {
		if err := ps.link.Close(); err != nil {
			log.Debug().Err(err).Str("peer", id.String()).Msg("Link close")
		}
		delete(s.links, id)
	}
	s.remoteStreams = make(map[domain.SocketID][]port.RemoteTrack)
	s.participants = make(map[domain.SocketID]domain.Participant)

	if s.recording && s.recorder != nil {
		s.recorder.Stop()
	}
	s.recorder = nil
	s.recording = false

	if s.sharing && s.screenTrack != nil {
		s.screenTrack.Stop()
	}
	s.screenTrack = nil
	s.sharing = false

	if s.local != nil {
		s.local.Close()
		s.local = nil
	}
	if s.relay != nil {
		s.relay.Close()
		s.relay = nil
	}
	s.joined = false
}

func (s *RoomSession) send(kind domain.SignalKind, payload any) {
	s.sendTo("", kind, payload)
}

func (s *RoomSession) sendTo(to domain.SocketID, kind domain.SignalKind, payload any) {
	if s.relay == nil {
		return
	}
	env, err := domain.NewEnvelope(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("Envelope encoding failed")
		return
	}
	env.RoomCode = s.roomCode
	env.To = to
	if err := s.relay.Send(env); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Relay send failed")
	}
}

func (s *RoomSession) emitError(err error) {
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

// Self returns the relay-assigned local socket ID.
func (s *RoomSession) Self() domain.SocketID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// LinkCount reports the number of live peer links.
func (s *RoomSession) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// RemoteStreamCount reports peers with at least one inbound track.
func (s *RoomSession) RemoteStreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remoteStreams)
}

// Participants snapshots the current remote roster.
func (s *RoomSession) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}
