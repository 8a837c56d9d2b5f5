package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

// Engine builds pion-backed peer links for headless room endpoints
// (recorder bots, co-interviewer agents). Local capture is synthetic:
// sample tracks fed by the endpoint rather than by a device.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(stunURLs []string) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}

	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: cfg,
	}, nil
}

func (e *Engine) AcquireLocalMedia(ctx context.Context) (port.LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "roomkit",
	)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}

	camera, err := newSampleTrack(webrtc.MimeTypeVP8, "camera")
	if err != nil {
		return nil, fmt.Errorf("video track: %w", err)
	}

	lm := &localMedia{
		audio:        audio,
		camera:       camera,
		audioEnabled: true,
		videoEnabled: true,
		stop:         make(chan struct{}),
	}
	go lm.pumpSilence()
	return lm, nil
}

func (e *Engine) AcquireScreenTrack(ctx context.Context) (port.VideoTrack, error) {
	return newSampleTrack(webrtc.MimeTypeVP8, "screen")
}

func (e *Engine) NewPeerLink(remote domain.SocketID, local port.LocalMedia, events port.LinkEvents) (port.PeerLink, error) {
	lm, ok := local.(*localMedia)
	if !ok {
		return nil, errors.New("local media was not acquired from this engine")
	}

	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}

	if _, err := pc.AddTrack(lm.audio); err != nil {
		pc.Close()
		return nil, err
	}
	videoSender, err := pc.AddTrack(lm.camera.track)
	if err != nil {
		pc.Close()
		return nil, err
	}

	link := &peerLink{
		pc:           pc,
		videoSender:  videoSender,
		currentVideo: lm.camera,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		if events.OnCandidate != nil {
			events.OnCandidate(string(raw))
		}
	})

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("kind", remoteTrack.Kind().String()).
			Str("peer", remote.String()).
			Msg("Received remote track")

		if remoteTrack.Kind() == webrtc.RTPCodecTypeVideo {
			go link.keyframeLoop(remoteTrack)
		}
		go drainTrack(remoteTrack)

		if events.OnTrack != nil {
			events.OnTrack(inboundTrack{
				id:   remoteTrack.ID(),
				kind: remoteTrack.Kind().String(),
			})
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed && events.OnFailure != nil {
			events.OnFailure(fmt.Errorf("peer connection failed"))
		}
	})

	return link, nil
}

func (e *Engine) NewRecorder(local port.LocalMedia) port.Recorder {
	lm, _ := local.(*localMedia)
	return newRecorder(lm, 10*time.Second)
}

type peerLink struct {
	pc           *webrtc.PeerConnection
	videoSender  *webrtc.RTPSender
	mu           sync.Mutex
	currentVideo port.VideoTrack
}

func (l *peerLink) SignalingState() port.SignalingState {
	if l.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return port.SignalingClosed
	}
	switch l.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		return port.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return port.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return port.SignalingClosed
	default:
		return port.SignalingStable
	}
}

func (l *peerLink) CreateOffer(ctx context.Context) (string, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return l.pc.LocalDescription().SDP, nil
}

func (l *peerLink) HandleOffer(ctx context.Context, sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return "", err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return l.pc.LocalDescription().SDP, nil
}

func (l *peerLink) Rollback() error {
	return l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (l *peerLink) HandleAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (l *peerLink) AddCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return err
	}
	return l.pc.AddICECandidate(init)
}

func (l *peerLink) ReplaceVideoTrack(t port.VideoTrack) error {
	st, ok := t.(*sampleTrack)
	if !ok {
		return errors.New("track was not acquired from this engine")
	}
	if err := l.videoSender.ReplaceTrack(st.track); err != nil {
		return err
	}
	l.mu.Lock()
	l.currentVideo = st
	l.mu.Unlock()
	return nil
}

func (l *peerLink) VideoSenderTrack() port.VideoTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentVideo
}

func (l *peerLink) Close() error {
	return l.pc.Close()
}

// keyframeLoop requests a keyframe immediately and then every few
// seconds so late-arriving viewers lock onto the stream.
func (l *peerLink) keyframeLoop(remoteTrack *webrtc.TrackRemote) {
	sendPLI := func() {
		_ = l.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remoteTrack.SSRC())},
		})
	}
	sendPLI()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if l.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			return
		}
		sendPLI()
	}
}

func drainTrack(t *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Read(buf); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("track", t.ID()).Msg("Track read ended")
			}
			return
		}
	}
}

type inboundTrack struct {
	id   string
	kind string
}

func (t inboundTrack) ID() string   { return t.id }
func (t inboundTrack) Kind() string { return t.kind }
