package media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// SyntheticDevice is a Device that emits blank video frames and silent audio.
// It backs the broadcaster agent when no hardware capture is attached, keeping
// the ingest path exercisable end to end.
type SyntheticDevice struct {
	// FrameInterval controls the synthetic sample rate. Zero means 30fps
	// video and 20ms audio frames.
	FrameInterval time.Duration
}

// OpenCamera returns a video track fed with blank frames.
func (d *SyntheticDevice) OpenCamera(ctx context.Context, c CameraConstraints) (*Track, error) {
	stop := make(chan struct{})
	t, err := NewTrack(KindVideo, "synthetic-camera", webrtc.MimeTypeVP8, func() { close(stop) })
	if err != nil {
		return nil, err
	}
	interval := d.FrameInterval
	if interval <= 0 {
		interval = time.Second / 30
	}
	go d.feed(t, stop, interval)
	return t, nil
}

// OpenMicrophone returns an audio track fed with silence.
func (d *SyntheticDevice) OpenMicrophone(ctx context.Context, c MicrophoneConstraints) (*Track, error) {
	stop := make(chan struct{})
	t, err := NewTrack(KindAudio, "synthetic-microphone", webrtc.MimeTypeOpus, func() { close(stop) })
	if err != nil {
		return nil, err
	}
	go d.feed(t, stop, 20*time.Millisecond)
	return t, nil
}

// OpenScreen returns a video track fed with blank frames and no system audio.
func (d *SyntheticDevice) OpenScreen(ctx context.Context) (video, audio *Track, err error) {
	stop := make(chan struct{})
	t, err := NewTrack(KindVideo, "synthetic-screen", webrtc.MimeTypeVP8, func() { close(stop) })
	if err != nil {
		return nil, nil, err
	}
	interval := d.FrameInterval
	if interval <= 0 {
		interval = time.Second / 30
	}
	go d.feed(t, stop, interval)
	return t, nil, nil
}

func (d *SyntheticDevice) feed(t *Track, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	blank := make([]byte, 16)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = t.WriteSample(pionmedia.Sample{Data: blank, Duration: interval})
		}
	}
}
