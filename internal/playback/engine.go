package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ManifestSink is a sink that can consume an adaptive manifest directly
// (native adaptive playback support).
type ManifestSink interface {
	VideoSink
	AttachManifest(url string) error
	DetachManifest()
}

// NativeEngine uses the sink's own adaptive playback: the manifest (or a
// pinned variant playlist) is handed straight to the sink.
type NativeEngine struct{}

// Name returns the engine name.
func (NativeEngine) Name() string { return "native" }

// Supports reports whether this engine can play the manifest.
func (NativeEngine) Supports(manifestURL string) bool {
	return strings.HasSuffix(strings.ToLower(strings.SplitN(manifestURL, "?", 2)[0]), ".m3u8")
}

// Open attaches the manifest to the sink.
func (NativeEngine) Open(_ context.Context, manifestURL string, sink VideoSink) (EngineSession, error) {
	ms, ok := sink.(ManifestSink)
	if !ok {
		return nil, fmt.Errorf("sink has no native manifest support")
	}
	if err := ms.AttachManifest(manifestURL); err != nil {
		return nil, err
	}
	return &nativeSession{sink: ms, master: manifestURL}, nil
}

type nativeSession struct {
	mu     sync.Mutex
	sink   ManifestSink
	master string
	closed bool
}

// SetRendition re-attaches either the pinned variant playlist or the master
// manifest (adaptive).
func (s *nativeSession) SetRendition(r *Rendition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if r == nil {
		return s.sink.AttachManifest(s.master)
	}
	return s.sink.AttachManifest(r.URI)
}

func (s *nativeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.sink.DetachManifest()
	return nil
}
