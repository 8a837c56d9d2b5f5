package pion

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/skillgate/roomkit/internal/core/port"
)

// opusSilence is a single 20ms frame of encoded opus silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// localMedia is the shared synthetic capture attached to every link.
// All links reference the same tracks; enablement flips and track
// replacement therefore reach every peer uniformly.
type localMedia struct {
	audio  *webrtc.TrackLocalStaticSample
	camera *sampleTrack

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool

	taps []func(data []byte)

	stop     chan struct{}
	stopOnce sync.Once
}

func (l *localMedia) CameraTrack() port.VideoTrack { return l.camera }

func (l *localMedia) SetAudioEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audioEnabled = enabled
}

func (l *localMedia) AudioEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.audioEnabled
}

func (l *localMedia) SetVideoEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.videoEnabled = enabled
}

func (l *localMedia) VideoEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.videoEnabled
}

func (l *localMedia) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// tap registers an outbound sample observer; the recorder uses this.
func (l *localMedia) tap(fn func(data []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taps = append(l.taps, fn)
}

func (l *localMedia) clearTaps() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taps = nil
}

// pumpSilence keeps the outbound audio alive for a headless endpoint.
// A muted track still pumps; enablement is advisory state, matching
// how a disabled browser track keeps its sender negotiated.
func (l *localMedia) pumpSilence() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			sample := media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}
			if err := l.audio.WriteSample(sample); err != nil {
				return
			}
			l.mu.Lock()
			taps := l.taps
			l.mu.Unlock()
			for _, fn := range taps {
				fn(opusSilence)
			}
		}
	}
}
