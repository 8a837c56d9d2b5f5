package memory

import (
	"context"
	"sync"
	"time"

	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

// Engine is a device-free media engine. Links negotiate placeholder
// descriptions instead of real SDP; useful for smoke-testing a relay
// deployment without STUN reachability and for exercising the
// negotiator in tests.
type Engine struct {
	mu    sync.Mutex
	links []*Link
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) AcquireLocalMedia(ctx context.Context) (port.LocalMedia, error) {
	return &Media{
		camera:       &Track{id: "camera"},
		audioEnabled: true,
		videoEnabled: true,
	}, nil
}

func (e *Engine) AcquireScreenTrack(ctx context.Context) (port.VideoTrack, error) {
	return &Track{id: "screen"}, nil
}

func (e *Engine) NewPeerLink(remote domain.SocketID, local port.LocalMedia, events port.LinkEvents) (port.PeerLink, error) {
	lm := local.(*Media)
	link := &Link{
		remote: remote,
		state:  port.SignalingStable,
		video:  lm.camera,
		events: events,
	}
	e.mu.Lock()
	e.links = append(e.links, link)
	e.mu.Unlock()
	return link, nil
}

func (e *Engine) NewRecorder(local port.LocalMedia) port.Recorder {
	return &Recorder{}
}

// Links returns every link the engine has created, live or closed.
func (e *Engine) Links() []*Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Link(nil), e.links...)
}

type Link struct {
	mu     sync.Mutex
	remote domain.SocketID
	state  port.SignalingState
	video  port.VideoTrack
	events port.LinkEvents

	Offers         int
	Answers        int
	AnswersApplied int
	Rollbacks      int
	Cands          []string
}

func (l *Link) Remote() domain.SocketID { return l.remote }

func (l *Link) SignalingState() port.SignalingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) CreateOffer(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Offers++
	l.state = port.SignalingHaveLocalOffer
	return "offer:" + l.remote.String(), nil
}

func (l *Link) HandleOffer(ctx context.Context, sdp string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Answers++
	l.state = port.SignalingStable
	return "answer:" + l.remote.String(), nil
}

func (l *Link) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Rollbacks++
	l.state = port.SignalingStable
	return nil
}

func (l *Link) HandleAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.AnswersApplied++
	l.state = port.SignalingStable
	return nil
}

func (l *Link) AddCandidate(candidate string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Cands = append(l.Cands, candidate)
	return nil
}

func (l *Link) ReplaceVideoTrack(t port.VideoTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.video = t
	return nil
}

func (l *Link) VideoSenderTrack() port.VideoTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.video
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = port.SignalingClosed
	return nil
}

// EmitTrack delivers a synthetic inbound track through the link events.
func (l *Link) EmitTrack(id, kind string) {
	if l.events.OnTrack != nil {
		l.events.OnTrack(&Track{id: id, kind: kind})
	}
}

// EmitCandidate delivers a synthetic local candidate.
func (l *Link) EmitCandidate(candidate string) {
	if l.events.OnCandidate != nil {
		l.events.OnCandidate(candidate)
	}
}

type Media struct {
	mu           sync.Mutex
	camera       *Track
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

func (m *Media) CameraTrack() port.VideoTrack { return m.camera }

func (m *Media) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioEnabled = enabled
}

func (m *Media) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioEnabled
}

func (m *Media) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoEnabled = enabled
}

func (m *Media) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoEnabled
}

func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Media) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type Track struct {
	id   string
	kind string

	mu      sync.Mutex
	stopped bool
	onEnded []func()
}

func (t *Track) ID() string { return t.id }

func (t *Track) Kind() string { return t.kind }

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// End simulates the source terminating on its own, e.g. the native
// "stop sharing" control.
func (t *Track) End() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fns := append([]func(){}, t.onEnded...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type Recorder struct {
	mu      sync.Mutex
	running bool
	started time.Time
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	r.started = time.Now()
	return nil
}

func (r *Recorder) Stop() ([]port.RecordingSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, nil
	}
	r.running = false
	return []port.RecordingSegment{{
		Index:    0,
		Duration: time.Since(r.started),
	}}, nil
}
