package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
)

type stubDevice struct {
	mu        sync.Mutex
	camErr    error
	micErr    error
	screenErr error
	released  int
}

func (d *stubDevice) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *stubDevice) track(kind Kind, label, mime string) (*Track, error) {
	return NewTrack(kind, label, mime, func() {
		d.mu.Lock()
		d.released++
		d.mu.Unlock()
	})
}

func (d *stubDevice) OpenCamera(_ context.Context, _ CameraConstraints) (*Track, error) {
	if d.camErr != nil {
		return nil, d.camErr
	}
	return d.track(KindVideo, "camera", webrtc.MimeTypeVP8)
}

func (d *stubDevice) OpenMicrophone(_ context.Context, _ MicrophoneConstraints) (*Track, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.track(KindAudio, "microphone", webrtc.MimeTypeOpus)
}

func (d *stubDevice) OpenScreen(_ context.Context) (*Track, *Track, error) {
	if d.screenErr != nil {
		return nil, nil, d.screenErr
	}
	v, err := d.track(KindVideo, "screen", webrtc.MimeTypeVP8)
	return v, nil, err
}

func TestAcquireCameraReusesTrack(t *testing.T) {
	dev := &stubDevice{}
	a := NewAdapter(dev, nil)
	ctx := context.Background()

	first, err := a.AcquireCamera(ctx, CameraConstraints{Width: 1280, Height: 720})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := a.AcquireCamera(ctx, CameraConstraints{})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if first != second {
		t.Error("second acquire opened a new device instead of reusing the track")
	}
}

func TestAcquireErrorsWrapDeviceUnavailable(t *testing.T) {
	dev := &stubDevice{camErr: errors.New("permission denied")}
	a := NewAdapter(dev, nil)

	_, err := a.AcquireCamera(context.Background(), CameraConstraints{})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestScreenShareSwapsAndReverts(t *testing.T) {
	dev := &stubDevice{}
	a := NewAdapter(dev, nil)
	ctx := context.Background()

	var swaps []*Track
	a.OnVideoSwap(func(tr *Track) { swaps = append(swaps, tr) })

	camera, err := a.AcquireCamera(ctx, CameraConstraints{})
	if err != nil {
		t.Fatalf("camera: %v", err)
	}

	screen, _, err := a.AcquireScreenShare(ctx)
	if err != nil {
		t.Fatalf("screen share: %v", err)
	}
	if !a.ScreenShareEnabled() {
		t.Error("screen share not enabled")
	}
	if a.OutgoingVideo() != screen {
		t.Error("outgoing video is not the screen track")
	}

	a.StopScreenShare()
	if a.ScreenShareEnabled() {
		t.Error("screen share still enabled after stop")
	}
	if a.OutgoingVideo() != camera {
		t.Error("outgoing video did not revert to camera")
	}
	if screen.Stopped() != true {
		t.Error("screen track not released")
	}
	if camera.Stopped() {
		t.Error("camera must survive a screen share stop")
	}
	if len(swaps) != 2 || swaps[0] != screen || swaps[1] != camera {
		t.Errorf("swap sequence wrong: %d swaps", len(swaps))
	}
}

func TestDeviceEndedScreenShareReverts(t *testing.T) {
	dev := &stubDevice{}
	a := NewAdapter(dev, nil)
	ctx := context.Background()

	if _, err := a.AcquireCamera(ctx, CameraConstraints{}); err != nil {
		t.Fatalf("camera: %v", err)
	}
	screen, _, err := a.AcquireScreenShare(ctx)
	if err != nil {
		t.Fatalf("screen share: %v", err)
	}

	// Native "stop sharing" control.
	screen.DeviceEnded()
	if a.ScreenShareEnabled() {
		t.Error("screen share still enabled after device ended")
	}
	if !screen.Stopped() {
		t.Error("screen track not released after device ended")
	}
}

func TestToggleDoesNotStopDevice(t *testing.T) {
	dev := &stubDevice{}
	a := NewAdapter(dev, nil)

	mic, err := a.AcquireMicrophone(context.Background(), DefaultMicrophoneConstraints())
	if err != nil {
		t.Fatalf("mic: %v", err)
	}
	a.Toggle(mic, false)
	if mic.Enabled() {
		t.Error("mic still enabled")
	}
	if mic.Stopped() {
		t.Error("toggle must not release the device")
	}
	if dev.releaseCount() != 0 {
		t.Errorf("device released %d times during toggle", dev.releaseCount())
	}
	a.Toggle(mic, true)
	if !mic.Enabled() {
		t.Error("mic not re-enabled")
	}
}

func TestReleaseAll(t *testing.T) {
	dev := &stubDevice{}
	a := NewAdapter(dev, nil)
	ctx := context.Background()

	if _, err := a.AcquireCamera(ctx, CameraConstraints{}); err != nil {
		t.Fatalf("camera: %v", err)
	}
	if _, err := a.AcquireMicrophone(ctx, DefaultMicrophoneConstraints()); err != nil {
		t.Fatalf("mic: %v", err)
	}
	if _, _, err := a.AcquireScreenShare(ctx); err != nil {
		t.Fatalf("screen: %v", err)
	}

	a.ReleaseAll()
	if got := dev.releaseCount(); got != 3 {
		t.Errorf("released %d tracks, want 3", got)
	}
	if tracks := a.ActiveTracks(); len(tracks) != 0 {
		t.Errorf("%d tracks still active after release", len(tracks))
	}

	// Idempotent: releasing again must not double-fire stop hooks.
	a.ReleaseAll()
	if got := dev.releaseCount(); got != 3 {
		t.Errorf("release count after second ReleaseAll = %d, want 3", got)
	}
}
