// Package playback pulls an adaptive-bitrate manifest and renders it into a
// video sink, tracking buffer health for display.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnsupported means neither the native adaptive engine nor the software
// player can handle the manifest.
var ErrUnsupported = errors.New("playback not supported")

// Quality is a discrete playback quality level. Auto delegates to the adaptive
// algorithm; the fixed levels pin a rendition.
type Quality string

const (
	QualityAuto   Quality = "auto"
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Health classifies connection quality from buffered seconds ahead of the
// playhead. Display only; it never alters playback behavior.
type Health string

const (
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthFair      Health = "fair"
	HealthPoor      Health = "poor"
)

// healthProbeInterval is how often buffer depth is sampled.
const healthProbeInterval = 10 * time.Second

// ClassifyHealth maps buffered playback time to a health level.
func ClassifyHealth(buffered time.Duration) Health {
	switch {
	case buffered > 10*time.Second:
		return HealthExcellent
	case buffered > 5*time.Second:
		return HealthGood
	case buffered > 2*time.Second:
		return HealthFair
	default:
		return HealthPoor
	}
}

// VideoSink is where decoded output goes. Abstracting the sink keeps the
// client independent of any concrete UI widget, so the state machine is
// testable headless.
type VideoSink interface {
	// BufferedAhead returns seconds of media buffered past the playhead.
	BufferedAhead() time.Duration
}

// Engine is one playback implementation (native adaptive or software
// demuxer). The client tries engines in order and uses the first that
// supports the manifest.
type Engine interface {
	Name() string
	Supports(manifestURL string) bool
	Open(ctx context.Context, manifestURL string, sink VideoSink) (EngineSession, error)
}

// EngineSession is an open playback pipeline.
type EngineSession interface {
	// SetRendition pins playback to a fixed variant; nil returns to adaptive.
	SetRendition(r *Rendition) error
	Close() error
}

// Client attaches a playback manifest to a video sink and manages quality
// selection and the health probe.
type Client struct {
	engines    []Engine
	httpClient *http.Client
	log        *zap.Logger

	mu       sync.Mutex
	session  EngineSession
	manifest *Manifest
	quality  Quality
	health   Health
	onHealth func(Health)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewClient creates a playback client trying the given engines in order.
func NewClient(engines []Engine, httpClient *http.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		engines:    engines,
		httpClient: httpClient,
		log:        log,
		quality:    QualityAuto,
		health:     HealthPoor,
	}
}

// OnHealth registers the callback invoked on every health probe.
func (c *Client) OnHealth(fn func(Health)) {
	c.mu.Lock()
	c.onHealth = fn
	c.mu.Unlock()
}

// Attach begins playback of the manifest into the sink and starts the health
// probe. Fails with ErrUnsupported when no engine can play the manifest.
func (c *Client) Attach(ctx context.Context, manifestURL string, sink VideoSink) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return fmt.Errorf("already attached")
	}
	c.mu.Unlock()

	var engine Engine
	for _, e := range c.engines {
		if e.Supports(manifestURL) {
			engine = e
			break
		}
	}
	if engine == nil {
		return fmt.Errorf("%w: no engine for %q", ErrUnsupported, manifestURL)
	}

	manifest, err := FetchManifest(ctx, c.httpClient, manifestURL)
	if err != nil {
		return err
	}
	session, err := engine.Open(ctx, manifestURL, sink)
	if err != nil {
		return fmt.Errorf("open %s engine: %w", engine.Name(), err)
	}

	probeCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.session = session
	c.manifest = manifest
	c.cancel = cancel
	c.done = done
	quality := c.quality
	c.mu.Unlock()

	if r := manifest.Select(quality); r != nil {
		if err := session.SetRendition(r); err != nil {
			c.log.Warn("pin rendition", zap.Error(err))
		}
	}

	go c.probeLoop(probeCtx, sink, done)
	c.log.Info("playback attached", zap.String("engine", engine.Name()), zap.String("manifest", manifestURL))
	return nil
}

func (c *Client) probeLoop(ctx context.Context, sink VideoSink, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := ClassifyHealth(sink.BufferedAhead())
			c.mu.Lock()
			c.health = h
			fn := c.onHealth
			c.mu.Unlock()
			if fn != nil {
				fn(h)
			}
		}
	}
}

// SetQuality switches quality level; fixed levels pin the matching rendition,
// auto returns control to the adaptive algorithm.
func (c *Client) SetQuality(q Quality) error {
	switch q {
	case QualityAuto, QualityLow, QualityMedium, QualityHigh:
	default:
		return fmt.Errorf("unknown quality %q", q)
	}
	c.mu.Lock()
	c.quality = q
	session := c.session
	manifest := c.manifest
	c.mu.Unlock()
	if session == nil || manifest == nil {
		return nil
	}
	return session.SetRendition(manifest.Select(q))
}

// Quality returns the current quality level.
func (c *Client) Quality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// Health returns the last probed health level.
func (c *Client) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Detach stops playback, the health probe and releases decode resources.
// Never propagates errors: faults are logged so teardown always completes.
func (c *Client) Detach() {
	c.mu.Lock()
	session := c.session
	cancel := c.cancel
	done := c.done
	c.session = nil
	c.manifest = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if session != nil {
		if err := session.Close(); err != nil {
			c.log.Warn("playback session close", zap.Error(err))
		}
	}
}
