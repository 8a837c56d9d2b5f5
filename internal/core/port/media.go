package port

import (
	"context"
	"time"

	"github.com/skillgate/roomkit/internal/core/domain"
)

// SignalingState mirrors the negotiation state of one peer link.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// VideoTrack is one local outbound video source (camera or screen).
type VideoTrack interface {
	ID() string
	// OnEnded fires when the source itself stops, e.g. the native
	// "stop sharing" control ending a screen capture.
	OnEnded(fn func())
	Stop() error
}

// LocalMedia is the shared camera+microphone capture attached to every
// peer link. Enablement flips are local and never renegotiate.
type LocalMedia interface {
	CameraTrack() VideoTrack
	SetAudioEnabled(enabled bool)
	AudioEnabled() bool
	SetVideoEnabled(enabled bool)
	VideoEnabled() bool
	Close() error
}

// RemoteTrack is one inbound media track from a peer.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// PeerLink wraps one negotiated media session with a remote participant.
type PeerLink interface {
	SignalingState() SignalingState
	// CreateOffer sets the local description and returns its SDP.
	CreateOffer(ctx context.Context) (string, error)
	// HandleOffer applies a remote offer and returns the local answer SDP.
	HandleOffer(ctx context.Context, sdp string) (string, error)
	// Rollback discards the pending local offer (polite glare path).
	Rollback() error
	HandleAnswer(sdp string) error
	AddCandidate(candidate string) error
	ReplaceVideoTrack(t VideoTrack) error
	// VideoSenderTrack returns the track currently attached to the
	// outbound video sender.
	VideoSenderTrack() VideoTrack
	Close() error
}

// LinkEvents receives per-link callbacks from the media engine.
type LinkEvents struct {
	OnCandidate func(candidate string)
	OnTrack     func(t RemoteTrack)
	OnFailure   func(err error)
}

// RecordingSegment is one timed buffer of the locally recorded outbound
// stream.
type RecordingSegment struct {
	Index    int
	Duration time.Duration
	Data     []byte
}

// Recorder captures the outbound stream into timed segments.
type Recorder interface {
	Start() error
	// Stop ends capture and returns the accumulated segments. Recording
	// is already stopped even when a later upload fails.
	Stop() ([]RecordingSegment, error)
}

// MediaEngine creates local capture and per-peer links. Acquisition can
// fail (permission denied, no device); that failure is fatal to joining.
type MediaEngine interface {
	AcquireLocalMedia(ctx context.Context) (LocalMedia, error)
	AcquireScreenTrack(ctx context.Context) (VideoTrack, error)
	NewPeerLink(remote domain.SocketID, local LocalMedia, events LinkEvents) (PeerLink, error)
	NewRecorder(local LocalMedia) Recorder
}
