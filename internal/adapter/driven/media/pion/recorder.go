package pion

import (
	"errors"
	"sync"
	"time"

	"github.com/skillgate/roomkit/internal/core/port"
)

// recorder buffers the outbound stream into timed segments. It records
// the local stream only, never a mixed multi-party composition.
type recorder struct {
	local      *localMedia
	segmentLen time.Duration

	mu        sync.Mutex
	running   bool
	segments  []port.RecordingSegment
	current   []byte
	segmentAt time.Time
}

func newRecorder(local *localMedia, segmentLen time.Duration) *recorder {
	return &recorder{local: local, segmentLen: segmentLen}
}

func (r *recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.local == nil {
		return errors.New("no local media to record")
	}
	if r.running {
		return errors.New("already recording")
	}
	r.running = true
	r.segments = nil
	r.current = nil
	r.segmentAt = time.Now()

	r.local.tap(r.observe)
	return nil
}

func (r *recorder) observe(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	r.current = append(r.current, data...)
	if elapsed := time.Since(r.segmentAt); elapsed >= r.segmentLen {
		r.rotateLocked(elapsed)
	}
}

func (r *recorder) rotateLocked(elapsed time.Duration) {
	r.segments = append(r.segments, port.RecordingSegment{
		Index:    len(r.segments),
		Duration: elapsed,
		Data:     r.current,
	})
	r.current = nil
	r.segmentAt = time.Now()
}

func (r *recorder) Stop() ([]port.RecordingSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil, errors.New("not recording")
	}
	r.running = false
	r.local.clearTaps()

	if len(r.current) > 0 {
		r.rotateLocked(time.Since(r.segmentAt))
	}
	return r.segments, nil
}
