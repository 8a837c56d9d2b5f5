package pion

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// sampleTrack wraps one local outbound video source. Stop marks the
// track ended without firing OnEnded; OnEnded is reserved for the
// source dying on its own, so the restore path never re-enters itself.
type sampleTrack struct {
	id    string
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	ended   bool
	onEnded []func()
}

func newSampleTrack(mimeType, label string) (*sampleTrack, error) {
	id := label + "-" + uuid.New().String()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		id, "roomkit",
	)
	if err != nil {
		return nil, err
	}
	return &sampleTrack{id: id, track: track}, nil
}

func (t *sampleTrack) ID() string { return t.id }

func (t *sampleTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

func (t *sampleTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = true
	return nil
}
