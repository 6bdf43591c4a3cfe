package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrDeviceUnavailable means a capture permission was denied or the hardware
// is missing/busy.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// CameraConstraints is the requested camera capture format.
type CameraConstraints struct {
	Width     int
	Height    int
	Framerate int
}

// MicrophoneConstraints holds audio processing toggles.
type MicrophoneConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultMicrophoneConstraints enables all audio processing.
func DefaultMicrophoneConstraints() MicrophoneConstraints {
	return MicrophoneConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// Device is the hardware boundary: it opens camera, microphone and screen
// capture sources and hands back tracks whose stop hooks release the device.
type Device interface {
	OpenCamera(ctx context.Context, c CameraConstraints) (*Track, error)
	OpenMicrophone(ctx context.Context, c MicrophoneConstraints) (*Track, error)
	// OpenScreen returns the display video track and, when the source carries
	// audio, a system-audio track (may be nil).
	OpenScreen(ctx context.Context) (video, audio *Track, err error)
}

// Adapter acquires and owns local media tracks. Every exit path from a
// streaming session must go through ReleaseAll; consumers never stop tracks
// directly.
type Adapter struct {
	device Device
	log    *zap.Logger

	mu          sync.Mutex
	camera      *Track
	mic         *Track
	screenVideo *Track
	screenAudio *Track
	screenShare bool
	onVideoSwap func(*Track) // notified when the outgoing video source changes
}

// NewAdapter creates a capture adapter over the given device boundary.
func NewAdapter(device Device, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{device: device, log: log}
}

// OnVideoSwap registers the callback invoked when the outgoing video track
// changes (screen share started/stopped). The ingest client uses it to
// hot-swap the sender track.
func (a *Adapter) OnVideoSwap(fn func(*Track)) {
	a.mu.Lock()
	a.onVideoSwap = fn
	a.mu.Unlock()
}

// AcquireCamera opens the camera at the target format. A second call returns
// the already-acquired track.
func (a *Adapter) AcquireCamera(ctx context.Context, c CameraConstraints) (*Track, error) {
	a.mu.Lock()
	if a.camera != nil && !a.camera.Stopped() {
		t := a.camera
		a.mu.Unlock()
		return t, nil
	}
	a.mu.Unlock()

	t, err := a.device.OpenCamera(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: camera: %v", ErrDeviceUnavailable, err)
	}
	a.mu.Lock()
	a.camera = t
	a.mu.Unlock()
	return t, nil
}

// AcquireMicrophone opens the microphone with the given processing settings.
func (a *Adapter) AcquireMicrophone(ctx context.Context, c MicrophoneConstraints) (*Track, error) {
	a.mu.Lock()
	if a.mic != nil && !a.mic.Stopped() {
		t := a.mic
		a.mu.Unlock()
		return t, nil
	}
	a.mu.Unlock()

	t, err := a.device.OpenMicrophone(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: microphone: %v", ErrDeviceUnavailable, err)
	}
	a.mu.Lock()
	a.mic = t
	a.mu.Unlock()
	return t, nil
}

// AcquireScreenShare opens display capture and makes it the outgoing video
// source. On device-initiated stop (native "stop sharing") the adapter reverts
// to camera video on its own. Partially acquired tracks are released before an
// error is surfaced.
func (a *Adapter) AcquireScreenShare(ctx context.Context) (video, audio *Track, err error) {
	video, audio, err = a.device.OpenScreen(ctx)
	if err != nil {
		if video != nil {
			video.stop()
		}
		if audio != nil {
			audio.stop()
		}
		return nil, nil, fmt.Errorf("%w: screen: %v", ErrDeviceUnavailable, err)
	}

	video.setOnEnded(func() {
		a.log.Debug("screen share ended by device")
		a.StopScreenShare()
	})

	a.mu.Lock()
	a.screenVideo = video
	a.screenAudio = audio
	a.screenShare = true
	swap := a.onVideoSwap
	a.mu.Unlock()
	if swap != nil {
		swap(video)
	}
	return video, audio, nil
}

// StopScreenShare releases screen tracks and reverts the outgoing video to the
// camera. Safe to call when no share is active.
func (a *Adapter) StopScreenShare() {
	a.mu.Lock()
	if !a.screenShare {
		a.mu.Unlock()
		return
	}
	video, audio := a.screenVideo, a.screenAudio
	a.screenVideo, a.screenAudio = nil, nil
	a.screenShare = false
	camera := a.camera
	swap := a.onVideoSwap
	a.mu.Unlock()

	if video != nil {
		video.stop()
	}
	if audio != nil {
		audio.stop()
	}
	if swap != nil && camera != nil {
		swap(camera)
	}
}

// ScreenShareEnabled reports whether display capture is the active video
// source.
func (a *Adapter) ScreenShareEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screenShare
}

// OutgoingVideo returns the track currently feeding the broadcast: the screen
// while sharing, the camera otherwise.
func (a *Adapter) OutgoingVideo() *Track {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screenShare && a.screenVideo != nil {
		return a.screenVideo
	}
	return a.camera
}

// Toggle flips a track's enabled flag without touching the device.
func (a *Adapter) Toggle(t *Track, enabled bool) {
	if t == nil {
		return
	}
	t.SetEnabled(enabled)
}

// ActiveTracks returns every acquired, unstopped track.
func (a *Adapter) ActiveTracks() []*Track {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*Track
	for _, t := range []*Track{a.camera, a.mic, a.screenVideo, a.screenAudio} {
		if t != nil && !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}

// ReleaseAll stops every acquired track and clears references. It never
// returns an error: release faults are logged here so a full teardown sequence
// always completes.
func (a *Adapter) ReleaseAll() {
	a.mu.Lock()
	tracks := []*Track{a.camera, a.mic, a.screenVideo, a.screenAudio}
	a.camera, a.mic, a.screenVideo, a.screenAudio = nil, nil, nil, nil
	a.screenShare = false
	a.mu.Unlock()

	for _, t := range tracks {
		if t == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("track release panicked", zap.Any("cause", r), zap.String("track", t.ID()))
				}
			}()
			t.stop()
		}()
	}
}
