package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	memmedia "github.com/skillgate/roomkit/internal/adapter/driven/media/memory"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

// scriptConn records everything a session sends to the relay.
type scriptConn struct {
	mu        sync.Mutex
	announced []domain.JoinRoomPayload
	sent      []domain.Envelope
	closed    bool
}

func (c *scriptConn) Announce(ctx context.Context, join domain.JoinRoomPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announced = append(c.announced, join)
	return nil
}

func (c *scriptConn) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) take() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

func (c *scriptConn) sentOfKind(kind domain.SignalKind) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, env := range c.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

type scriptDialer struct {
	conn   *scriptConn
	err    error
	dialed bool
}

func (d *scriptDialer) Dial(ctx context.Context, code domain.RoomCode, handler port.RelayHandler) (port.RelayConn, error) {
	d.dialed = true
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// deniedEngine refuses every media request, standing in for a machine
// with no capture devices.
type deniedEngine struct{}

func (deniedEngine) AcquireLocalMedia(ctx context.Context) (port.LocalMedia, error) {
	return nil, errors.New("permission denied")
}

func (deniedEngine) AcquireScreenTrack(ctx context.Context) (port.VideoTrack, error) {
	return nil, errors.New("permission denied")
}

func (deniedEngine) NewPeerLink(remote domain.SocketID, local port.LocalMedia, events port.LinkEvents) (port.PeerLink, error) {
	return nil, errors.New("no media")
}

func (deniedEngine) NewRecorder(local port.LocalMedia) port.Recorder { return nil }

func testIdentity(name string) domain.Identity {
	return domain.Identity{
		UserID: domain.NewUserID(),
		Role:   domain.RoleCandidate,
		Name:   name,
	}
}

func joinedSession(t *testing.T, events SessionEvents) (*RoomSession, *memmedia.Engine, *scriptConn) {
	t.Helper()
	engine := memmedia.NewEngine()
	conn := &scriptConn{}
	sess := NewRoomSession(engine, &scriptDialer{conn: conn}, nil, nil, events)
	if err := sess.Join(context.Background(), "ROOM42", testIdentity("Dana")); err != nil {
		t.Fatalf("join: %v", err)
	}
	return sess, engine, conn
}

func rosterEnv(t *testing.T, self domain.SocketID, peers ...domain.SocketID) domain.Envelope {
	t.Helper()
	roster := domain.RoomParticipantsPayload{RoomCode: "ROOM42", Self: self}
	for _, id := range peers {
		roster.Participants = append(roster.Participants, domain.Participant{
			SocketID:     id,
			UserID:       domain.NewUserID(),
			Role:         domain.RoleRecruiter,
			Name:         strings.ToUpper(id.String()),
			AudioEnabled: true,
			VideoEnabled: true,
		})
	}
	return envFrom(t, domain.SignalRoomParticipants, "", roster)
}

func envFrom(t *testing.T, kind domain.SignalKind, from domain.SocketID, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	env.From = from
	return env
}

func TestJoinMediaDeniedSkipsSignaling(t *testing.T) {
	dialer := &scriptDialer{conn: &scriptConn{}}
	sess := NewRoomSession(deniedEngine{}, dialer, nil, nil, SessionEvents{})

	err := sess.Join(context.Background(), "ROOM42", testIdentity("Dana"))
	if !errors.Is(err, ErrMediaDenied) {
		t.Fatalf("expected ErrMediaDenied, got %v", err)
	}
	if dialer.dialed {
		t.Fatalf("relay dialed despite media denial")
	}
}

func TestJoinAnnouncesIdentity(t *testing.T) {
	_, _, conn := joinedSession(t, SessionEvents{})

	if len(conn.announced) != 1 {
		t.Fatalf("expected 1 announce, got %d", len(conn.announced))
	}
	join := conn.announced[0]
	if join.RoomCode != "ROOM42" || join.Name != "Dana" || join.Role != domain.RoleCandidate {
		t.Fatalf("unexpected announce payload: %+v", join)
	}
}

func TestRosterInitiatesOfferToEachExistingParticipant(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})

	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b", "sock-c"))

	if sess.LinkCount() != 2 {
		t.Fatalf("expected 2 links, got %d", sess.LinkCount())
	}
	links := engine.Links()
	if len(links) != 2 {
		t.Fatalf("expected engine to create 2 links, got %d", len(links))
	}
	for _, link := range links {
		if link.Offers != 1 {
			t.Fatalf("link %s made %d offers, want 1", link.Remote(), link.Offers)
		}
	}

	offers := conn.sentOfKind(domain.SignalOffer)
	if len(offers) != 2 {
		t.Fatalf("expected 2 offer envelopes, got %d", len(offers))
	}
	targets := map[domain.SocketID]bool{}
	for _, env := range offers {
		targets[env.To] = true
	}
	if !targets["sock-b"] || !targets["sock-c"] {
		t.Fatalf("offers not targeted at roster peers: %v", targets)
	}
}

func TestLateJoinerDoesNotTriggerLocalOffer(t *testing.T) {
	joined := make([]domain.Participant, 0, 1)
	sess, engine, conn := joinedSession(t, SessionEvents{
		OnParticipantJoined: func(p domain.Participant) { joined = append(joined, p) },
	})
	sess.HandleEnvelope(rosterEnv(t, "sock-self"))
	conn.take()

	sess.HandleEnvelope(envFrom(t, domain.SignalParticipantJoined, "sock-new", domain.Participant{
		SocketID: "sock-new",
		UserID:   domain.NewUserID(),
		Name:     "Lee",
	}))

	if sess.LinkCount() != 0 {
		t.Fatalf("late joiner must initiate, local side created %d links", sess.LinkCount())
	}
	if len(engine.Links()) != 0 {
		t.Fatalf("engine created links for a late joiner")
	}
	if got := conn.sentOfKind(domain.SignalOffer); len(got) != 0 {
		t.Fatalf("offer sent to a late joiner: %v", got)
	}
	if len(joined) != 1 || joined[0].Name != "Lee" {
		t.Fatalf("join callback not delivered: %v", joined)
	}
}

func TestIncomingOfferCreatesAtMostOneLink(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self"))

	offer := envFrom(t, domain.SignalOffer, "sock-peer", domain.DescriptionPayload{SDP: "sdp-1"})
	sess.HandleEnvelope(offer)
	if sess.LinkCount() != 1 {
		t.Fatalf("expected 1 link after offer, got %d", sess.LinkCount())
	}

	// A renegotiation offer from the same peer reuses the connection.
	sess.HandleEnvelope(envFrom(t, domain.SignalOffer, "sock-peer", domain.DescriptionPayload{SDP: "sdp-2"}))
	if sess.LinkCount() != 1 || len(engine.Links()) != 1 {
		t.Fatalf("second offer created a second link: %d/%d", sess.LinkCount(), len(engine.Links()))
	}
	if engine.Links()[0].Answers != 2 {
		t.Fatalf("expected both offers answered on one link, got %d", engine.Links()[0].Answers)
	}
	if got := conn.sentOfKind(domain.SignalAnswer); len(got) != 2 {
		t.Fatalf("expected 2 answers sent, got %d", len(got))
	}
}

func TestGlarePoliteSideRollsBack(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})

	// Local socket sorts before the remote, so the local side is polite.
	sess.HandleEnvelope(rosterEnv(t, "sock-aaa", "sock-zzz"))
	conn.take()

	sess.HandleEnvelope(envFrom(t, domain.SignalOffer, "sock-zzz", domain.DescriptionPayload{SDP: "remote-offer"}))

	link := engine.Links()[0]
	if link.Rollbacks != 1 {
		t.Fatalf("polite side must roll back once, got %d", link.Rollbacks)
	}
	if link.Answers != 1 {
		t.Fatalf("polite side must answer the remote offer, got %d", link.Answers)
	}
	if link.SignalingState() != port.SignalingStable {
		t.Fatalf("expected stable state, got %s", link.SignalingState())
	}
	answers := conn.sentOfKind(domain.SignalAnswer)
	if len(answers) != 1 || answers[0].To != "sock-zzz" {
		t.Fatalf("answer not sent to the glaring peer: %v", answers)
	}
}

func TestGlareImpoliteSideIgnoresOffer(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})

	// Local socket sorts after the remote, so the local side holds its
	// offer and waits for the peer's rollback-and-answer.
	sess.HandleEnvelope(rosterEnv(t, "sock-zzz", "sock-aaa"))
	conn.take()

	sess.HandleEnvelope(envFrom(t, domain.SignalOffer, "sock-aaa", domain.DescriptionPayload{SDP: "remote-offer"}))

	link := engine.Links()[0]
	if link.Rollbacks != 0 || link.Answers != 0 {
		t.Fatalf("impolite side acted on the glare offer: rollbacks=%d answers=%d", link.Rollbacks, link.Answers)
	}
	if link.SignalingState() != port.SignalingHaveLocalOffer {
		t.Fatalf("impolite side must keep its offer in flight, got %s", link.SignalingState())
	}
	if got := conn.sentOfKind(domain.SignalAnswer); len(got) != 0 {
		t.Fatalf("impolite side sent an answer: %v", got)
	}

	// The polite peer's answer then completes the exchange.
	sess.HandleEnvelope(envFrom(t, domain.SignalAnswer, "sock-aaa", domain.DescriptionPayload{SDP: "remote-answer"}))
	if link.AnswersApplied != 1 {
		t.Fatalf("expected the peer's answer applied, got %d", link.AnswersApplied)
	}
	if link.SignalingState() != port.SignalingStable {
		t.Fatalf("expected stable state after answer, got %s", link.SignalingState())
	}
}

func TestStaleAnswerDropped(t *testing.T) {
	sess, engine, _ := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self"))

	// Peer initiated; the local side answered and is stable.
	sess.HandleEnvelope(envFrom(t, domain.SignalOffer, "sock-peer", domain.DescriptionPayload{SDP: "offer"}))

	sess.HandleEnvelope(envFrom(t, domain.SignalAnswer, "sock-peer", domain.DescriptionPayload{SDP: "stray"}))

	if got := engine.Links()[0].AnswersApplied; got != 0 {
		t.Fatalf("stale answer must be dropped, applied %d", got)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b"))
	conn.take()

	// Candidates for a peer with no remote description yet are held.
	sess.HandleEnvelope(envFrom(t, domain.SignalICECandidate, "sock-b", domain.CandidatePayload{Candidate: "cand-1"}))
	sess.HandleEnvelope(envFrom(t, domain.SignalICECandidate, "sock-b", domain.CandidatePayload{Candidate: "cand-2"}))

	link := engine.Links()[0]
	if len(link.Cands) != 0 {
		t.Fatalf("candidates applied before remote description: %v", link.Cands)
	}

	sess.HandleEnvelope(envFrom(t, domain.SignalAnswer, "sock-b", domain.DescriptionPayload{SDP: "answer"}))

	if len(link.Cands) != 2 || link.Cands[0] != "cand-1" || link.Cands[1] != "cand-2" {
		t.Fatalf("queued candidates not flushed in order: %v", link.Cands)
	}

	// Later candidates apply directly.
	sess.HandleEnvelope(envFrom(t, domain.SignalICECandidate, "sock-b", domain.CandidatePayload{Candidate: "cand-3"}))
	if len(link.Cands) != 3 {
		t.Fatalf("post-description candidate not applied: %v", link.Cands)
	}
}

func TestCandidateForUnknownPeerDropped(t *testing.T) {
	sess, engine, _ := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self"))

	sess.HandleEnvelope(envFrom(t, domain.SignalICECandidate, "sock-ghost", domain.CandidatePayload{Candidate: "cand"}))

	if sess.LinkCount() != 0 || len(engine.Links()) != 0 {
		t.Fatalf("stray candidate created a link")
	}
}

func TestScreenShareReplacesTrackOnEveryLink(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b", "sock-c"))
	conn.take()

	if err := sess.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("screen share start: %v", err)
	}
	for _, link := range engine.Links() {
		if link.VideoSenderTrack().ID() != "screen" {
			t.Fatalf("link %s still sends %s", link.Remote(), link.VideoSenderTrack().ID())
		}
	}
	if got := conn.sentOfKind(domain.SignalScreenShareStart); len(got) != 1 {
		t.Fatalf("expected screen-share-start broadcast, got %d", len(got))
	}

	if err := sess.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("screen share stop: %v", err)
	}
	for _, link := range engine.Links() {
		if link.VideoSenderTrack().ID() != "camera" {
			t.Fatalf("camera not restored on link %s", link.Remote())
		}
	}
	if got := conn.sentOfKind(domain.SignalScreenShareStop); len(got) != 1 {
		t.Fatalf("expected screen-share-stop broadcast, got %d", len(got))
	}
}

func TestScreenTrackEndingRestoresCamera(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b"))
	conn.take()

	if err := sess.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("screen share start: %v", err)
	}

	link := engine.Links()[0]
	screen := link.VideoSenderTrack().(*memmedia.Track)
	// The native "stop sharing" control kills the capture underneath us.
	screen.End()

	if link.VideoSenderTrack().ID() != "camera" {
		t.Fatalf("camera not restored after native stop, sending %s", link.VideoSenderTrack().ID())
	}
	if got := conn.sentOfKind(domain.SignalScreenShareStop); len(got) != 1 {
		t.Fatalf("expected screen-share-stop broadcast, got %d", len(got))
	}

	// A fresh toggle starts a new capture rather than resurrecting the
	// dead one.
	if err := sess.ToggleScreenShare(context.Background()); err != nil {
		t.Fatalf("restart after native stop: %v", err)
	}
	if link.VideoSenderTrack().ID() != "screen" {
		t.Fatalf("restart did not install a new screen track")
	}
}

func TestToggleAudioNeverRenegotiates(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b"))
	conn.take()

	enabled := sess.ToggleAudio()
	if enabled {
		t.Fatalf("audio started enabled, toggle should disable")
	}
	link := engine.Links()[0]
	if link.Offers != 1 {
		t.Fatalf("audio toggle triggered renegotiation: %d offers", link.Offers)
	}
	toggles := conn.sentOfKind(domain.SignalToggleAudio)
	if len(toggles) != 1 {
		t.Fatalf("expected toggle-audio broadcast, got %d", len(toggles))
	}
	var payload domain.TogglePayload
	if err := toggles[0].Decode(&payload); err != nil {
		t.Fatalf("decode toggle: %v", err)
	}
	if payload.Enabled {
		t.Fatalf("toggle should announce disabled audio")
	}
}

func TestForcedMuteAppliesAndReannounces(t *testing.T) {
	sess, _, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self"))
	conn.take()

	sess.HandleEnvelope(envFrom(t, domain.SignalForcedMute, "sock-mod", domain.ForcedMutePayload{Muted: true}))

	toggles := conn.sentOfKind(domain.SignalToggleAudio)
	if len(toggles) != 1 {
		t.Fatalf("forced mute must re-announce audio state, got %d envelopes", len(toggles))
	}
	var payload domain.TogglePayload
	if err := toggles[0].Decode(&payload); err != nil {
		t.Fatalf("decode toggle: %v", err)
	}
	if payload.Enabled {
		t.Fatalf("forced mute announced enabled audio")
	}
}

func TestParticipantLeftTearsDownOnlyThatPeer(t *testing.T) {
	var left []domain.SocketID
	sess, engine, _ := joinedSession(t, SessionEvents{
		OnParticipantLeft: func(id domain.SocketID, name string) { left = append(left, id) },
	})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b", "sock-c"))

	for _, link := range engine.Links() {
		link.EmitTrack("video-"+link.Remote().String(), "video")
	}
	if sess.RemoteStreamCount() != 2 {
		t.Fatalf("expected 2 remote streams, got %d", sess.RemoteStreamCount())
	}

	sess.HandleEnvelope(envFrom(t, domain.SignalParticipantLeft, "",
		domain.ParticipantLeftPayload{SocketID: "sock-b", Name: "B"}))

	if sess.LinkCount() != 1 {
		t.Fatalf("expected 1 surviving link, got %d", sess.LinkCount())
	}
	if sess.RemoteStreamCount() != 1 {
		t.Fatalf("expected 1 surviving stream, got %d", sess.RemoteStreamCount())
	}
	if len(left) != 1 || left[0] != "sock-b" {
		t.Fatalf("leave callback wrong: %v", left)
	}

	// Departing twice is harmless.
	sess.HandleEnvelope(envFrom(t, domain.SignalParticipantLeft, "",
		domain.ParticipantLeftPayload{SocketID: "sock-b", Name: "B"}))
	if sess.LinkCount() != 1 {
		t.Fatalf("duplicate leave changed state")
	}
}

func TestLeaveIsFinal(t *testing.T) {
	sess, engine, conn := joinedSession(t, SessionEvents{})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b"))

	sess.Leave()

	if sess.LinkCount() != 0 {
		t.Fatalf("links survived leave: %d", sess.LinkCount())
	}
	if engine.Links()[0].SignalingState() != port.SignalingClosed {
		t.Fatalf("link not closed on leave")
	}
	if !conn.closed {
		t.Fatalf("relay connection not closed on leave")
	}
	conn.take()

	// Nothing delivered after teardown may resurrect state.
	sess.HandleEnvelope(envFrom(t, domain.SignalOffer, "sock-b", domain.DescriptionPayload{SDP: "late"}))
	sess.HandleEnvelope(envFrom(t, domain.SignalAnswer, "sock-b", domain.DescriptionPayload{SDP: "late"}))
	sess.HandleEnvelope(envFrom(t, domain.SignalICECandidate, "sock-b", domain.CandidatePayload{Candidate: "late"}))
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-c"))

	if sess.LinkCount() != 0 || len(engine.Links()) != 1 {
		t.Fatalf("post-leave traffic resurrected a link")
	}
	if got := conn.take(); len(got) != 0 {
		t.Fatalf("post-leave traffic produced sends: %v", got)
	}

	// Leaving again is a no-op.
	sess.Leave()
}

func TestCallEndedTearsDownAndNotifies(t *testing.T) {
	endedBy := ""
	sess, _, _ := joinedSession(t, SessionEvents{
		OnCallEnded: func(name string) { endedBy = name },
	})
	sess.HandleEnvelope(rosterEnv(t, "sock-self", "sock-b"))

	sess.HandleEnvelope(envFrom(t, domain.SignalCallEnded, "sock-mod", domain.CallEndedPayload{EndedBy: "Morgan"}))

	if endedBy != "Morgan" {
		t.Fatalf("end callback not delivered, got %q", endedBy)
	}
	if sess.LinkCount() != 0 {
		t.Fatalf("links survived call end")
	}
}

type failingRecSink struct{}

func (failingRecSink) UploadRecording(ctx context.Context, room domain.RoomCode, segments []port.RecordingSegment) error {
	return errors.New("backend unreachable")
}

func TestRecordingUploadFailureDoesNotReopenRecording(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	engine := memmedia.NewEngine()
	conn := &scriptConn{}
	sess := NewRoomSession(engine, &scriptDialer{conn: conn}, nil, failingRecSink{}, SessionEvents{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	if err := sess.Join(context.Background(), "ROOM42", testIdentity("Dana")); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := sess.ToggleRecording(context.Background()); err != nil {
		t.Fatalf("recording start: %v", err)
	}
	if err := sess.ToggleRecording(context.Background()); err != nil {
		t.Fatalf("recording stop must not fail on upload error: %v", err)
	}

	mu.Lock()
	reported := len(errs)
	mu.Unlock()
	if reported != 1 {
		t.Fatalf("expected upload failure reported once, got %d", reported)
	}

	// The next toggle starts a fresh recording, proving the failed
	// upload left recording off.
	if err := sess.ToggleRecording(context.Background()); err != nil {
		t.Fatalf("restart after failed upload: %v", err)
	}
}

// loopHub delivers envelopes between two in-process sessions. Sends are
// queued and pumped from the test goroutine, mirroring how the relay
// decouples the two sides.
type loopHub struct {
	mu       sync.Mutex
	queue    []domain.Envelope
	handlers map[domain.SocketID]port.RelayHandler
}

func newLoopHub() *loopHub {
	return &loopHub{handlers: make(map[domain.SocketID]port.RelayHandler)}
}

func (h *loopHub) enqueue(env domain.Envelope) {
	h.mu.Lock()
	h.queue = append(h.queue, env)
	h.mu.Unlock()
}

func (h *loopHub) pump() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		env := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		if env.To != "" {
			if handler, ok := h.handlers[env.To]; ok {
				handler.HandleEnvelope(env)
			}
			continue
		}
		for id, handler := range h.handlers {
			if id != env.From {
				handler.HandleEnvelope(env)
			}
		}
	}
}

type loopConn struct {
	hub  *loopHub
	self domain.SocketID
}

func (c *loopConn) Announce(ctx context.Context, join domain.JoinRoomPayload) error { return nil }

func (c *loopConn) Send(env domain.Envelope) error {
	env.From = c.self
	c.hub.enqueue(env)
	return nil
}

func (c *loopConn) Close() error { return nil }

type loopDialer struct {
	hub  *loopHub
	self domain.SocketID
}

func (d *loopDialer) Dial(ctx context.Context, code domain.RoomCode, handler port.RelayHandler) (port.RelayConn, error) {
	d.hub.handlers[d.self] = handler
	return &loopConn{hub: d.hub, self: d.self}, nil
}

func TestSimultaneousOffersConvergeToOneLinkPerSide(t *testing.T) {
	hub := newLoopHub()

	engineA := memmedia.NewEngine()
	sessA := NewRoomSession(engineA, &loopDialer{hub: hub, self: "sock-a"}, nil, nil, SessionEvents{})
	if err := sessA.Join(context.Background(), "ROOM42", testIdentity("Ada")); err != nil {
		t.Fatalf("join A: %v", err)
	}

	engineB := memmedia.NewEngine()
	sessB := NewRoomSession(engineB, &loopDialer{hub: hub, self: "sock-b"}, nil, nil, SessionEvents{})
	if err := sessB.Join(context.Background(), "ROOM42", testIdentity("Bo")); err != nil {
		t.Fatalf("join B: %v", err)
	}

	// Both sides receive a roster naming the other, so both offer at
	// once: the worst-case glare.
	sessA.HandleEnvelope(rosterEnv(t, "sock-a", "sock-b"))
	sessB.HandleEnvelope(rosterEnv(t, "sock-b", "sock-a"))
	hub.pump()

	if sessA.LinkCount() != 1 || sessB.LinkCount() != 1 {
		t.Fatalf("expected exactly one link per side, got %d/%d", sessA.LinkCount(), sessB.LinkCount())
	}

	linkA := engineA.Links()[0]
	linkB := engineB.Links()[0]
	if linkA.SignalingState() != port.SignalingStable || linkB.SignalingState() != port.SignalingStable {
		t.Fatalf("links did not stabilize: %s/%s", linkA.SignalingState(), linkB.SignalingState())
	}
	// "sock-a" sorts first, so A is polite: it rolled back and answered
	// B's offer, and B applied that answer.
	if linkA.Rollbacks != 1 || linkB.Rollbacks != 0 {
		t.Fatalf("wrong side rolled back: A=%d B=%d", linkA.Rollbacks, linkB.Rollbacks)
	}
	if linkA.Answers != 1 {
		t.Fatalf("polite side answered %d times, want 1", linkA.Answers)
	}
	if linkB.AnswersApplied != 1 {
		t.Fatalf("impolite side applied %d answers, want 1", linkB.AnswersApplied)
	}

	// Media flows once negotiated.
	linkA.EmitTrack("video-b", "video")
	linkB.EmitTrack("video-a", "video")
	if sessA.RemoteStreamCount() != 1 || sessB.RemoteStreamCount() != 1 {
		t.Fatalf("remote streams missing: %d/%d", sessA.RemoteStreamCount(), sessB.RemoteStreamCount())
	}

	// A hangs up; the relay tells B, which drops its side cleanly.
	sessA.Leave()
	sessB.HandleEnvelope(envFrom(t, domain.SignalParticipantLeft, "",
		domain.ParticipantLeftPayload{SocketID: "sock-a", Name: "Ada"}))
	if sessB.LinkCount() != 0 || sessB.RemoteStreamCount() != 0 {
		t.Fatalf("peer state survived departure: %d links, %d streams", sessB.LinkCount(), sessB.RemoteStreamCount())
	}
}
