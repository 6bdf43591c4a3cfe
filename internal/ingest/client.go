// Package ingest pushes a local broadcast upstream over a WHIP-style
// (WebRTC-HTTP ingestion) endpoint derived from the session's playback host.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/edustream/backend/internal/media"
	"github.com/edustream/backend/internal/models"
)

// ErrConnection means the ingest endpoint is unreachable or rejected the
// stream key. The session stays live in the store; the caller surfaces a
// reconnecting/failed indicator instead of failing silently.
var ErrConnection = errors.New("ingest connection failed")

// Sender is an outbound track slot supporting hot replacement.
type Sender interface {
	ReplaceTrack(t webrtc.TrackLocal) error
}

// Transport is the protocol boundary: it opens the broadcast connection and
// attaches tracks. The production implementation speaks WHIP over a pion
// PeerConnection; tests substitute a fake.
type Transport interface {
	Connect(ctx context.Context, endpoint, streamKey string) error
	AddTrack(t webrtc.TrackLocal) (Sender, error)
	Close() error
}

// Client drives one outbound broadcast. It borrows track references from the
// capture adapter and never stops a track itself.
type Client struct {
	transport Transport
	log       *zap.Logger

	mu          sync.Mutex
	started     bool
	videoSender Sender
	audioSender Sender
}

// NewClient creates an ingest client over the given transport.
func NewClient(transport Transport, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{transport: transport, log: log}
}

// ResolveEndpoint derives the ingest endpoint from the playback manifest URL's
// host: the broadcast is pushed to the same edge that serves playback.
func ResolveEndpoint(playbackURL string) (string, error) {
	u, err := url.Parse(playbackURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: unusable playback url %q", ErrConnection, playbackURL)
	}
	return "https://" + u.Host + "/whip", nil
}

// Start opens the broadcast connection and attaches the current video and
// audio tracks, authenticating with the session's stream key.
func (c *Client) Start(ctx context.Context, session *models.LiveSession, streamKey string, video, audio *media.Track) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	endpoint, err := ResolveEndpoint(session.PlaybackURL)
	if err != nil {
		return err
	}
	if err := c.transport.Connect(ctx, endpoint, streamKey); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	var videoSender, audioSender Sender
	if video != nil {
		if videoSender, err = c.transport.AddTrack(video.Local()); err != nil {
			_ = c.transport.Close()
			return fmt.Errorf("%w: attach video: %v", ErrConnection, err)
		}
	}
	if audio != nil {
		if audioSender, err = c.transport.AddTrack(audio.Local()); err != nil {
			_ = c.transport.Close()
			return fmt.Errorf("%w: attach audio: %v", ErrConnection, err)
		}
	}

	c.mu.Lock()
	c.started = true
	c.videoSender = videoSender
	c.audioSender = audioSender
	c.mu.Unlock()

	c.log.Info("ingest started",
		zap.String("session_id", session.ID.String()),
		zap.String("endpoint", endpoint))
	return nil
}

// ReplaceVideoTrack hot-swaps the outgoing video (screen share toggles)
// without interrupting audio or restarting the connection.
func (c *Client) ReplaceVideoTrack(t *media.Track) error {
	c.mu.Lock()
	sender := c.videoSender
	started := c.started
	c.mu.Unlock()
	if !started || sender == nil {
		return nil
	}
	if err := sender.ReplaceTrack(t.Local()); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

// Started reports whether a broadcast is in flight.
func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Stop ends the outbound broadcast. Idempotent: stopping an already-stopped
// client is a no-op. Track release is the capture adapter's job, not ours.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.videoSender = nil
	c.audioSender = nil
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.log.Warn("ingest transport close", zap.Error(err))
	}
}
