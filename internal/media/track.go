package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Kind distinguishes audio and video tracks.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Track is one local media track. The capture Adapter exclusively owns track
// lifetimes; consumers (the ingest client) only borrow references and must
// never stop a track themselves.
type Track struct {
	id    string
	kind  Kind
	label string
	local *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	onStop  func()
	onEnded func()
}

// NewTrack creates a track backed by a pion sample track. onStop releases the
// underlying device and is invoked exactly once, when the track is stopped.
func NewTrack(kind Kind, label, mimeType string, onStop func()) (*Track, error) {
	id := uuid.New().String()
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, id, label)
	if err != nil {
		return nil, err
	}
	return &Track{
		id:      id,
		kind:    kind,
		label:   label,
		local:   local,
		enabled: true,
		onStop:  onStop,
	}, nil
}

// ID returns the track identifier.
func (t *Track) ID() string { return t.id }

// Kind returns audio or video.
func (t *Track) Kind() Kind { return t.kind }

// Label returns the human-readable source label.
func (t *Track) Label() string { return t.label }

// Local returns the pion track for attaching to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Enabled reports whether the track is currently producing media.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled flips production on or off without stopping the device, so the
// hardware lock is preserved and no permission re-prompt occurs.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stopped reports whether the track has been released.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// WriteSample forwards one captured sample. Samples are dropped while the
// track is disabled or after it is stopped.
func (t *Track) WriteSample(sample media.Sample) error {
	t.mu.Lock()
	ok := t.enabled && !t.stopped
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.local.WriteSample(sample)
}

// stop releases the device. Idempotent; only the Adapter calls this.
func (t *Track) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	onStop := t.onStop
	t.mu.Unlock()
	if onStop != nil {
		onStop()
	}
}

func (t *Track) setOnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// DeviceEnded is called by the device implementation when the source stops on
// its own (e.g. the user clicks the native "stop sharing" control).
func (t *Track) DeviceEnded() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
