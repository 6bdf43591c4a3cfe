package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		buffered time.Duration
		want     Health
	}{
		{15 * time.Second, HealthExcellent},
		{10*time.Second + time.Millisecond, HealthExcellent},
		{10 * time.Second, HealthGood},
		{6 * time.Second, HealthGood},
		{5 * time.Second, HealthFair},
		{3 * time.Second, HealthFair},
		{2 * time.Second, HealthPoor},
		{0, HealthPoor},
	}
	for _, tt := range tests {
		if got := ClassifyHealth(tt.buffered); got != tt.want {
			t.Errorf("ClassifyHealth(%v) = %s, want %s", tt.buffered, got, tt.want)
		}
	}
}

type fakeSink struct {
	mu       sync.Mutex
	buffered time.Duration
}

func (s *fakeSink) BufferedAhead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

type fakeEngineSession struct {
	mu         sync.Mutex
	renditions []*Rendition
	closed     bool
}

func (s *fakeEngineSession) SetRendition(r *Rendition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renditions = append(s.renditions, r)
	return nil
}

func (s *fakeEngineSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeEngine struct {
	session *fakeEngineSession
	openErr error
}

func (e *fakeEngine) Name() string                  { return "fake" }
func (e *fakeEngine) Supports(manifestURL string) bool { return true }

func (e *fakeEngine) Open(_ context.Context, _ string, _ VideoSink) (EngineSession, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.session = &fakeEngineSession{}
	return e.session, nil
}

func manifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAttachAndDetach(t *testing.T) {
	srv := manifestServer(t)
	engine := &fakeEngine{}
	c := NewClient([]Engine{engine}, srv.Client(), nil)
	sink := &fakeSink{}

	if err := c.Attach(context.Background(), srv.URL+"/index.m3u8", sink); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := c.Attach(context.Background(), srv.URL+"/index.m3u8", sink); err == nil {
		t.Error("second attach succeeded, want error")
	}

	c.Detach()
	if !engine.session.closed {
		t.Error("engine session not closed on detach")
	}
	// Detach is idempotent.
	c.Detach()
}

func TestAttachNoEngine(t *testing.T) {
	c := NewClient(nil, nil, nil)
	err := c.Attach(context.Background(), "rtmp://nope", &fakeSink{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestSetQuality(t *testing.T) {
	srv := manifestServer(t)
	engine := &fakeEngine{}
	c := NewClient([]Engine{engine}, srv.Client(), nil)

	if err := c.SetQuality("ultra"); err == nil {
		t.Error("unknown quality accepted")
	}
	// Quality set before attach is applied when the session opens.
	if err := c.SetQuality(QualityHigh); err != nil {
		t.Fatalf("set quality: %v", err)
	}

	if err := c.Attach(context.Background(), srv.URL+"/index.m3u8", &fakeSink{}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer c.Detach()

	engine.session.mu.Lock()
	pinned := len(engine.session.renditions) == 1 &&
		engine.session.renditions[0] != nil &&
		engine.session.renditions[0].Bandwidth == 5000000
	engine.session.mu.Unlock()
	if !pinned {
		t.Error("high quality not pinned on attach")
	}

	// Switching back to auto releases the pin.
	if err := c.SetQuality(QualityAuto); err != nil {
		t.Fatalf("set auto: %v", err)
	}
	engine.session.mu.Lock()
	last := engine.session.renditions[len(engine.session.renditions)-1]
	engine.session.mu.Unlock()
	if last != nil {
		t.Errorf("auto pinned rendition %+v, want nil", last)
	}
	if c.Quality() != QualityAuto {
		t.Errorf("quality = %s, want auto", c.Quality())
	}
}
