package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edustream/backend/internal/chat"
	"github.com/edustream/backend/internal/companion"
	"github.com/edustream/backend/internal/media"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/internal/playback"
	"github.com/edustream/backend/pkg/utils"
)

// IngestClient is the broadcaster-side streaming boundary.
type IngestClient interface {
	Start(ctx context.Context, session *models.LiveSession, streamKey string, video, audio *media.Track) error
	ReplaceVideoTrack(t *media.Track) error
	Stop()
}

// PlaybackClient is the viewer-side streaming boundary.
type PlaybackClient interface {
	Attach(ctx context.Context, manifestURL string, sink playback.VideoSink) error
	Detach()
}

// ControllerConfig tunes the controller.
type ControllerConfig struct {
	// PlaybackURLTemplate produces the manifest URL for a session, e.g.
	// "https://stream.example.com/hls/%s/index.m3u8".
	PlaybackURLTemplate string
	// CompanionOptions are applied to every companion channel.
	CompanionOptions []companion.Option
}

// Controller owns the session lifecycle. It is the single writer of status
// transitions and orchestrates the capture, ingest, playback and companion
// collaborators, all of which are injected at construction so the controller
// is testable with fakes and carries no process-wide state.
type Controller struct {
	store    Store
	chat     chat.Store
	capture  *media.Adapter
	ingest   IngestClient
	playback PlaybackClient
	cfg      ControllerConfig
	log      *zap.Logger

	// newStreamKey returns the plaintext credential and its at-rest hash.
	newStreamKey func() (plain, hash string, err error)

	mu       sync.Mutex
	runtimes map[uuid.UUID]*sessionRuntime
	onEnded  func(ctx context.Context, s *models.LiveSession)
}

// sessionRuntime is the per-session local state: the companion channel and
// how many local observers (broadcast + viewers) hold it open.
type sessionRuntime struct {
	companion    *companion.Channel
	observers    int
	broadcasting bool
}

// NewController creates a session controller.
func NewController(store Store, chatStore chat.Store, capture *media.Adapter, ingestClient IngestClient, playbackClient PlaybackClient, cfg ControllerConfig, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		store:        store,
		chat:         chatStore,
		capture:      capture,
		ingest:       ingestClient,
		playback:     playbackClient,
		cfg:          cfg,
		log:          log,
		newStreamKey: utils.NewStreamKey,
		runtimes:     make(map[uuid.UUID]*sessionRuntime),
	}
	if capture != nil && ingestClient != nil {
		capture.OnVideoSwap(func(t *media.Track) {
			if err := ingestClient.ReplaceVideoTrack(t); err != nil {
				log.Warn("video track swap", zap.Error(err))
			}
		})
	}
	return c
}

// CreateSession validates and persists a new session in the scheduled state.
func (c *Controller) CreateSession(ctx context.Context, spec CreateSpec) (*models.LiveSession, error) {
	return c.store.Create(ctx, spec)
}

// GetSession returns a session by ID.
func (c *Controller) GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return c.store.Get(ctx, id)
}

// ListSessions returns the sessions of a course.
func (c *Controller) ListSessions(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	return c.store.ListByCourse(ctx, courseID)
}

// StartSession takes a scheduled session live: media is acquired and the
// transition committed before anything is observable, so the session is never
// reported live without media flowing. Returns the session and the plaintext
// stream key (only ever returned here).
//
// Ingest failure after the transition does not roll the session back; the
// error is surfaced so the caller can show a reconnecting indicator, and the
// companion channel is not started until ingest is attached.
func (c *Controller) StartSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, string, error) {
	cur, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if cur.Status != models.StatusScheduled {
		return nil, "", transitionError("start", cur.Status)
	}

	width, height := parseResolution(cur.Settings.Resolution)
	video, err := c.capture.AcquireCamera(ctx, media.CameraConstraints{
		Width: width, Height: height, Framerate: cur.Settings.Framerate,
	})
	if err != nil {
		return nil, "", err
	}
	audio, err := c.capture.AcquireMicrophone(ctx, media.DefaultMicrophoneConstraints())
	if err != nil {
		// No partially-acquired tracks may dangle past a failed start.
		c.capture.ReleaseAll()
		return nil, "", err
	}

	key, hash, err := c.newStreamKey()
	if err != nil {
		c.capture.ReleaseAll()
		return nil, "", fmt.Errorf("generate stream key: %w", err)
	}

	s, err := c.store.Start(ctx, id, hash, fmt.Sprintf(c.cfg.PlaybackURLTemplate, id))
	if err != nil {
		c.capture.ReleaseAll()
		return nil, "", err
	}

	if err := c.ingest.Start(ctx, s, key, video, audio); err != nil {
		c.log.Warn("ingest start failed; session stays live",
			zap.String("session_id", id.String()), zap.Error(err))
		return s, key, err
	}

	c.observe(id, true)
	c.log.Info("session started", zap.String("session_id", id.String()), zap.String("course_id", s.CourseID.String()))
	return s, key, nil
}

// EndSession transitions live → ended and tears down every owned resource.
// Each teardown step is isolated: one failure never blocks the others, and
// the call does not return until timers, tracks and connections are released.
func (c *Controller) EndSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, err := c.store.End(ctx, id)
	if err != nil {
		return nil, err
	}

	c.teardown(id)

	c.mu.Lock()
	onEnded := c.onEnded
	c.mu.Unlock()
	if onEnded != nil {
		onEnded(ctx, s)
	}
	c.log.Info("session ended",
		zap.String("session_id", id.String()),
		zap.Duration("duration", s.Duration()))
	return s, nil
}

// teardown stops the companion channel, the outbound broadcast, local
// playback and all capture tracks. Never returns an error; each step guards
// itself.
func (c *Controller) teardown(id uuid.UUID) {
	c.mu.Lock()
	rt := c.runtimes[id]
	delete(c.runtimes, id)
	c.mu.Unlock()

	if rt != nil && rt.companion != nil {
		c.step(id, "companion stop", rt.companion.Stop)
	}
	c.step(id, "ingest stop", c.ingest.Stop)
	if c.playback != nil {
		c.step(id, "playback detach", c.playback.Detach)
	}
	c.step(id, "capture release", c.capture.ReleaseAll)
}

// step runs one teardown action, containing panics so the remaining steps
// always execute.
func (c *Controller) step(id uuid.UUID, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("teardown step failed",
				zap.String("session_id", id.String()),
				zap.String("step", name),
				zap.Any("cause", r))
		}
	}()
	fn()
}

// CancelSession cancels a session that has not started.
func (c *Controller) CancelSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return c.store.Cancel(ctx, id)
}

// JoinSession records attendance for a viewer and starts the companion
// channel on the first local observer. Duplicate joins while active are
// no-ops; joining a non-live session fails with ErrInvalidTransition; a full
// session fails with ErrCapacityExceeded.
func (c *Controller) JoinSession(ctx context.Context, sessionID, userID uuid.UUID, userName string) error {
	joined, err := c.store.Join(ctx, sessionID, userID, userName)
	if err != nil {
		return err
	}
	// A reconnect no-op must not count a second local observer, or the
	// companion channel would outlive the last real viewer.
	if joined {
		c.observe(sessionID, false)
	}
	return nil
}

// LeaveSession closes the viewer's attendance record (idempotent) and stops
// the companion channel and playback when the last local observer leaves.
func (c *Controller) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	if err := c.store.Leave(ctx, sessionID, userID); err != nil {
		return err
	}

	c.mu.Lock()
	rt := c.runtimes[sessionID]
	var stop *companion.Channel
	if rt != nil && rt.observers > 0 {
		rt.observers--
		if rt.observers == 0 && !rt.broadcasting {
			stop = rt.companion
			delete(c.runtimes, sessionID)
		}
	}
	c.mu.Unlock()

	if stop != nil {
		stop.Stop()
		if c.playback != nil {
			c.playback.Detach()
		}
	}
	return nil
}

// observe registers a local observer, starting the companion channel if it is
// the first. The channel runs on its own context: its lifetime is bound to the
// session (Stop on end / last leave), not to the caller's request.
func (c *Controller) observe(sessionID uuid.UUID, broadcasting bool) {
	c.mu.Lock()
	rt := c.runtimes[sessionID]
	if rt == nil {
		rt = &sessionRuntime{
			companion: companion.NewChannel(sessionID, c.chat, c.store, c.log, c.cfg.CompanionOptions...),
		}
		c.runtimes[sessionID] = rt
	}
	if broadcasting {
		rt.broadcasting = true
	} else {
		rt.observers++
	}
	ch := rt.companion
	c.mu.Unlock()

	ch.Start(context.Background())
}

// Companion returns the running companion channel for a session, or nil.
func (c *Controller) Companion(sessionID uuid.UUID) *companion.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt := c.runtimes[sessionID]; rt != nil {
		return rt.companion
	}
	return nil
}

// AttachPlayback starts viewer playback of a live session into the sink.
func (c *Controller) AttachPlayback(ctx context.Context, sessionID uuid.UUID, sink playback.VideoSink) error {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.StatusLive {
		return transitionError("watch", s.Status)
	}
	return c.playback.Attach(ctx, s.PlaybackURL, sink)
}

// SendMessage appends a chat message; chat must be enabled and the session
// live.
func (c *Controller) SendMessage(ctx context.Context, sessionID, userID uuid.UUID, userName, text string, isInstructor bool) (*models.ChatMessage, error) {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != models.StatusLive {
		return nil, transitionError("chat in", s.Status)
	}
	if !s.Settings.AllowChat {
		return nil, validationf("chat is disabled for this session")
	}
	msg := &models.ChatMessage{
		SessionID:    sessionID,
		UserID:       userID,
		UserName:     userName,
		Message:      text,
		IsInstructor: isInstructor,
	}
	if err := c.chat.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages returns the latest chat messages in display order.
func (c *Controller) Messages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	return c.chat.Latest(ctx, sessionID, limit)
}

// Attendance returns the attendance records of a session.
func (c *Controller) Attendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	return c.store.Attendance(ctx, sessionID)
}

// AuthorizeIngest checks a presented stream key against the live session's
// stored hash. Used by the ingest edge; always fails once a session has ended
// because End clears the hash.
func (c *Controller) AuthorizeIngest(ctx context.Context, sessionID uuid.UUID, streamKey string) error {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != models.StatusLive || s.StreamKeyHash == "" {
		return transitionError("ingest into", s.Status)
	}
	if !utils.CheckStreamKey(streamKey, s.StreamKeyHash) {
		return validationf("stream key rejected")
	}
	return nil
}

// OnEnded registers a hook invoked after a session ends and its resources are
// released (e.g. to enqueue a recording upload).
func (c *Controller) OnEnded(fn func(ctx context.Context, s *models.LiveSession)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// parseResolution splits "1280x720"; zero values mean device defaults.
func parseResolution(s string) (width, height int) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return w, h
}
