package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/edustream/backend/internal/chat"
	"github.com/edustream/backend/internal/companion"
	"github.com/edustream/backend/internal/media"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/internal/playback"
	"github.com/edustream/backend/pkg/utils"
)

// fakeDevice hands out real tracks and records how many were released.
type fakeDevice struct {
	mu       sync.Mutex
	camErr   error
	micErr   error
	released int
}

func (d *fakeDevice) releaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *fakeDevice) newTrack(kind media.Kind, label, mime string) (*media.Track, error) {
	return media.NewTrack(kind, label, mime, func() {
		d.mu.Lock()
		d.released++
		d.mu.Unlock()
	})
}

func (d *fakeDevice) OpenCamera(_ context.Context, _ media.CameraConstraints) (*media.Track, error) {
	if d.camErr != nil {
		return nil, d.camErr
	}
	return d.newTrack(media.KindVideo, "camera", webrtc.MimeTypeVP8)
}

func (d *fakeDevice) OpenMicrophone(_ context.Context, _ media.MicrophoneConstraints) (*media.Track, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.newTrack(media.KindAudio, "microphone", webrtc.MimeTypeOpus)
}

func (d *fakeDevice) OpenScreen(_ context.Context) (*media.Track, *media.Track, error) {
	v, err := d.newTrack(media.KindVideo, "screen", webrtc.MimeTypeVP8)
	return v, nil, err
}

type fakeIngest struct {
	mu          sync.Mutex
	startErr    error
	started     bool
	stops       int
	panicOnStop bool
}

func (f *fakeIngest) Start(_ context.Context, _ *models.LiveSession, _ string, _, _ *media.Track) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeIngest) ReplaceVideoTrack(_ *media.Track) error { return nil }

func (f *fakeIngest) Stop() {
	f.mu.Lock()
	f.stops++
	panics := f.panicOnStop
	f.started = false
	f.mu.Unlock()
	if panics {
		panic("transport gone")
	}
}

func (f *fakeIngest) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakePlayback struct {
	mu       sync.Mutex
	attached int
	detached int
}

func (f *fakePlayback) Attach(_ context.Context, _ string, _ playback.VideoSink) error {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
	return nil
}

func (f *fakePlayback) Detach() {
	f.mu.Lock()
	f.detached++
	f.mu.Unlock()
}

type testRig struct {
	store    *MemoryStore
	chat     *chat.MemoryStore
	device   *fakeDevice
	ingest   *fakeIngest
	playback *fakePlayback
	ctrl     *Controller
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		store:    NewMemoryStore(),
		chat:     chat.NewMemoryStore(),
		device:   &fakeDevice{},
		ingest:   &fakeIngest{},
		playback: &fakePlayback{},
	}
	capture := media.NewAdapter(rig.device, nil)
	rig.ctrl = NewController(rig.store, rig.chat, capture, rig.ingest, rig.playback, ControllerConfig{
		PlaybackURLTemplate: "https://stream.example.com/hls/%s/index.m3u8",
		CompanionOptions: []companion.Option{
			companion.WithIntervals(10*time.Millisecond, 10*time.Millisecond),
		},
	}, nil)
	return rig
}

func (rig *testRig) createSession(t *testing.T, max int, settings models.Settings) *models.LiveSession {
	t.Helper()
	s, err := rig.ctrl.CreateSession(context.Background(), CreateSpec{
		CourseID:       uuid.New(),
		InstructorID:   uuid.New(),
		Title:          "intro to distributed systems",
		ScheduledStart: time.Now().Add(time.Hour),
		ScheduledEnd:   time.Now().Add(2 * time.Hour),
		MaxAttendees:   max,
		Settings:       settings,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestStartSession(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 10, models.DefaultSettings())

	live, key, err := rig.ctrl.StartSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if live.Status != models.StatusLive {
		t.Errorf("status = %s, want live", live.Status)
	}
	if live.ActualStart == nil {
		t.Error("actual start not set")
	}
	if !strings.HasPrefix(key, "ls_") {
		t.Errorf("stream key %q missing prefix", key)
	}
	if !rig.ingest.started {
		t.Error("ingest not started")
	}
	if want := "https://stream.example.com/hls/" + s.ID.String() + "/index.m3u8"; live.PlaybackURL != want {
		t.Errorf("playback url = %q, want %q", live.PlaybackURL, want)
	}

	// The plaintext key verifies against the stored hash and is never
	// retrievable again.
	stored, _ := rig.store.Get(context.Background(), s.ID)
	if !utils.CheckStreamKey(key, stored.StreamKeyHash) {
		t.Error("stream key does not verify against stored hash")
	}

	if _, _, err := rig.ctrl.StartSession(context.Background(), s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second start err = %v, want ErrInvalidTransition", err)
	}
}

func TestStartSessionMicFailureReleasesCamera(t *testing.T) {
	rig := newTestRig(t)
	rig.device.micErr = errors.New("mic busy")
	s := rig.createSession(t, 10, models.DefaultSettings())

	_, _, err := rig.ctrl.StartSession(context.Background(), s.ID)
	if !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if got := rig.device.releaseCount(); got != 1 {
		t.Errorf("released %d tracks, want 1 (the camera)", got)
	}
	stored, _ := rig.store.Get(context.Background(), s.ID)
	if stored.Status != models.StatusScheduled {
		t.Errorf("status = %s, want scheduled after failed start", stored.Status)
	}
}

func TestStartSessionIngestFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.ingest.startErr = errors.New("edge unreachable")
	s := rig.createSession(t, 10, models.DefaultSettings())

	live, key, err := rig.ctrl.StartSession(context.Background(), s.ID)
	if err == nil {
		t.Fatal("want ingest error")
	}
	// The transition is not rolled back and the key is still handed out, so
	// the broadcaster can retry against the live session.
	if live == nil || live.Status != models.StatusLive {
		t.Fatalf("session = %+v, want live", live)
	}
	if key == "" {
		t.Error("stream key missing")
	}
	if rig.ctrl.Companion(s.ID) != nil {
		t.Error("companion channel started despite ingest failure")
	}
}

func TestCancelThenStart(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 10, models.DefaultSettings())

	if _, err := rig.ctrl.CancelSession(context.Background(), s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := rig.ctrl.StartSession(context.Background(), s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start after cancel err = %v, want ErrInvalidTransition", err)
	}
}

func TestJoinCapacityAndReconnect(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 2, models.DefaultSettings())
	if _, _, err := rig.ctrl.StartSession(context.Background(), s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx := context.Background()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	if err := rig.ctrl.JoinSession(ctx, s.ID, alice, "alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := rig.ctrl.JoinSession(ctx, s.ID, bob, "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if err := rig.ctrl.JoinSession(ctx, s.ID, carol, "carol"); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("join at capacity err = %v, want ErrCapacityExceeded", err)
	}

	// Reconnect while already active: no-op, no double counting, still one
	// active record.
	if err := rig.ctrl.JoinSession(ctx, s.ID, alice, "alice"); err != nil {
		t.Fatalf("rejoin alice: %v", err)
	}
	stored, _ := rig.store.Get(ctx, s.ID)
	if stored.CurrentAttendees != 2 {
		t.Errorf("current attendees = %d, want 2", stored.CurrentAttendees)
	}
	if stored.PeakAttendees != 2 {
		t.Errorf("peak attendees = %d, want 2", stored.PeakAttendees)
	}
	recs, _ := rig.ctrl.Attendance(ctx, s.ID)
	activeAlice := 0
	for _, r := range recs {
		if r.UserID == alice && r.IsActive {
			activeAlice++
		}
	}
	if activeAlice != 1 {
		t.Errorf("alice has %d active records, want 1", activeAlice)
	}
}

func TestDuplicateJoinDoesNotDoubleCountObserver(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()

	// Viewer-only instance: the session went live elsewhere, so no broadcast
	// holds the companion channel open here.
	if _, err := rig.store.Start(ctx, s.ID, "hash", "https://stream.example.com/hls/x/index.m3u8"); err != nil {
		t.Fatalf("start: %v", err)
	}

	viewer := uuid.New()
	if err := rig.ctrl.JoinSession(ctx, s.ID, viewer, "viewer"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ch := rig.ctrl.Companion(s.ID)
	if ch == nil || !ch.Running() {
		t.Fatal("companion not running after first join")
	}

	// Reconnect no-op must not register a second local observer.
	if err := rig.ctrl.JoinSession(ctx, s.ID, viewer, "viewer"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := rig.ctrl.LeaveSession(ctx, s.ID, viewer); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if ch.Running() {
		t.Error("companion still polling after the only viewer left")
	}
	if rig.ctrl.Companion(s.ID) != nil {
		t.Error("companion runtime retained after the only viewer left")
	}
}

func TestJoinRequiresLive(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()

	if err := rig.ctrl.JoinSession(ctx, s.ID, uuid.New(), "early"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("join scheduled err = %v, want ErrInvalidTransition", err)
	}

	if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rig.ctrl.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := rig.ctrl.JoinSession(ctx, s.ID, uuid.New(), "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("join ended err = %v, want ErrInvalidTransition", err)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()
	if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	user := uuid.New()
	if err := rig.ctrl.JoinSession(ctx, s.ID, user, "u"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := rig.ctrl.LeaveSession(ctx, s.ID, user); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := rig.ctrl.LeaveSession(ctx, s.ID, user); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	stored, _ := rig.store.Get(ctx, s.ID)
	if stored.CurrentAttendees != 0 {
		t.Errorf("current attendees = %d, want 0", stored.CurrentAttendees)
	}
	// Peak is retained after everyone leaves.
	if stored.PeakAttendees != 1 {
		t.Errorf("peak attendees = %d, want 1", stored.PeakAttendees)
	}
}

func TestEndSessionTeardown(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()
	if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rig.ctrl.JoinSession(ctx, s.ID, uuid.New(), "viewer"); err != nil {
		t.Fatalf("join: %v", err)
	}

	var hookCalled bool
	rig.ctrl.OnEnded(func(_ context.Context, ended *models.LiveSession) {
		hookCalled = ended.Status == models.StatusEnded
	})

	ended, err := rig.ctrl.EndSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != models.StatusEnded {
		t.Errorf("status = %s, want ended", ended.Status)
	}
	if ended.ActualEnd == nil {
		t.Error("actual end not set")
	}
	if ended.StreamKeyHash != "" {
		t.Error("stream key hash not cleared")
	}
	if !hookCalled {
		t.Error("OnEnded hook not invoked")
	}
	if rig.ingest.stopCount() != 1 {
		t.Errorf("ingest stops = %d, want 1", rig.ingest.stopCount())
	}
	if rig.device.releaseCount() != 2 {
		t.Errorf("released %d tracks, want 2", rig.device.releaseCount())
	}
	if rig.ctrl.Companion(s.ID) != nil {
		t.Error("companion channel still registered after end")
	}

	// All attendance records are closed by the transition.
	recs, _ := rig.ctrl.Attendance(ctx, s.ID)
	for _, r := range recs {
		if r.IsActive || r.LeaveTime == nil {
			t.Errorf("record %s still open after end", r.ID)
		}
	}
}

func TestEndSessionSurvivesPanickingStep(t *testing.T) {
	rig := newTestRig(t)
	rig.ingest.panicOnStop = true
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()
	if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	ended, err := rig.ctrl.EndSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != models.StatusEnded {
		t.Errorf("status = %s, want ended", ended.Status)
	}
	// The panicking ingest stop must not block capture release.
	if rig.device.releaseCount() != 2 {
		t.Errorf("released %d tracks, want 2", rig.device.releaseCount())
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("requires live session", func(t *testing.T) {
		rig := newTestRig(t)
		s := rig.createSession(t, 5, models.DefaultSettings())
		_, err := rig.ctrl.SendMessage(ctx, s.ID, uuid.New(), "u", "hello", false)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("requires chat enabled", func(t *testing.T) {
		rig := newTestRig(t)
		settings := models.DefaultSettings()
		settings.AllowChat = false
		s := rig.createSession(t, 5, settings)
		if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err := rig.ctrl.SendMessage(ctx, s.ID, uuid.New(), "u", "hello", false)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})

	t.Run("messages come back in order", func(t *testing.T) {
		rig := newTestRig(t)
		s := rig.createSession(t, 5, models.DefaultSettings())
		if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
			t.Fatalf("start: %v", err)
		}
		user := uuid.New()
		for _, text := range []string{"first", "second", "third"} {
			if _, err := rig.ctrl.SendMessage(ctx, s.ID, user, "u", text, false); err != nil {
				t.Fatalf("send %q: %v", text, err)
			}
		}
		msgs, err := rig.ctrl.Messages(ctx, s.ID, 10)
		if err != nil {
			t.Fatalf("messages: %v", err)
		}
		if len(msgs) != 3 {
			t.Fatalf("got %d messages, want 3", len(msgs))
		}
		for i, want := range []string{"first", "second", "third"} {
			if msgs[i].Message != want {
				t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Message, want)
			}
		}
	})
}

func TestAuthorizeIngest(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()

	_, key, err := rig.ctrl.StartSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rig.ctrl.AuthorizeIngest(ctx, s.ID, key); err != nil {
		t.Errorf("authorize with correct key: %v", err)
	}
	if err := rig.ctrl.AuthorizeIngest(ctx, s.ID, "ls_wrong"); err == nil {
		t.Error("authorize with wrong key succeeded")
	}

	if _, err := rig.ctrl.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	// End clears the hash; the old key must never authenticate again.
	if err := rig.ctrl.AuthorizeIngest(ctx, s.ID, key); err == nil {
		t.Error("old key authorized after session ended")
	}
}

func TestCompanionLifecycleWithObservers(t *testing.T) {
	rig := newTestRig(t)
	s := rig.createSession(t, 5, models.DefaultSettings())
	ctx := context.Background()
	if _, _, err := rig.ctrl.StartSession(ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	ch := rig.ctrl.Companion(s.ID)
	if ch == nil || !ch.Running() {
		t.Fatal("companion not running after broadcast start")
	}

	user := uuid.New()
	if err := rig.ctrl.JoinSession(ctx, s.ID, user, "u"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// The broadcaster still holds the channel open after the last viewer
	// leaves.
	if err := rig.ctrl.LeaveSession(ctx, s.ID, user); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := rig.ctrl.Companion(s.ID); got == nil || !got.Running() {
		t.Error("companion stopped while the broadcast is still up")
	}

	if _, err := rig.ctrl.EndSession(ctx, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if ch.Running() {
		t.Error("companion still running after end")
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in            string
		width, height int
	}{
		{"1280x720", 1280, 720},
		{"1920X1080", 1920, 1080},
		{"bogus", 0, 0},
		{"", 0, 0},
		{"120x", 0, 0},
	}
	for _, tt := range tests {
		w, h := parseResolution(tt.in)
		if w != tt.width || h != tt.height {
			t.Errorf("parseResolution(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.width, tt.height)
		}
	}
}
