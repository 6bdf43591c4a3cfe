// Package companion runs the chat + attendance refresh loops that accompany a
// live session. The subscription-shaped interface lets a push transport
// replace the polling loops without changing callers.
package companion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edustream/backend/internal/models"
)

const (
	// DefaultChatInterval is the chat refresh period.
	DefaultChatInterval = 2 * time.Second
	// DefaultAttendanceInterval is the attendee-list refresh period.
	DefaultAttendanceInterval = 5 * time.Second
)

// ChatSource reads and appends session chat.
type ChatSource interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	Latest(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// AttendanceSource reads the attendance list.
type AttendanceSource interface {
	Attendance(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error)
}

// Subscriber receives refreshed data. Implemented by both this polling channel
// and the push (WebSocket) transport.
type Subscriber interface {
	OnMessages(fn func([]models.ChatMessage)) (unsubscribe func())
	OnAttendance(fn func([]models.AttendanceRecord)) (unsubscribe func())
}

// Channel polls chat every chatInterval and attendance every
// attendanceInterval for one session. Both loops start together and stop
// together; Stop does not return until no further source calls can occur.
type Channel struct {
	sessionID uuid.UUID
	chat      ChatSource
	att       AttendanceSource
	chatEvery time.Duration
	attEvery  time.Duration
	limit     int
	log       *zap.Logger

	mu      sync.Mutex
	nextSub int
	msgSubs map[int]func([]models.ChatMessage)
	attSubs map[int]func([]models.AttendanceRecord)
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option tunes a Channel.
type Option func(*Channel)

// WithIntervals overrides the polling periods (tests use short ones).
func WithIntervals(chat, attendance time.Duration) Option {
	return func(c *Channel) {
		c.chatEvery = chat
		c.attEvery = attendance
	}
}

// WithChatLimit overrides how many messages each poll fetches.
func WithChatLimit(n int) Option {
	return func(c *Channel) { c.limit = n }
}

// NewChannel creates a companion channel for one session.
func NewChannel(sessionID uuid.UUID, chat ChatSource, att AttendanceSource, log *zap.Logger, opts ...Option) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		sessionID: sessionID,
		chat:      chat,
		att:       att,
		chatEvery: DefaultChatInterval,
		attEvery:  DefaultAttendanceInterval,
		limit:     50,
		log:       log,
		msgSubs:   make(map[int]func([]models.ChatMessage)),
		attSubs:   make(map[int]func([]models.AttendanceRecord)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessages subscribes to chat refreshes. The returned function unsubscribes.
func (c *Channel) OnMessages(fn func([]models.ChatMessage)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.msgSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.msgSubs, id)
		c.mu.Unlock()
	}
}

// OnAttendance subscribes to attendance refreshes.
func (c *Channel) OnAttendance(fn func([]models.AttendanceRecord)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.attSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.attSubs, id)
		c.mu.Unlock()
	}
}

// Send appends a chat message for this session.
func (c *Channel) Send(ctx context.Context, userID uuid.UUID, userName, text string, isInstructor bool) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		SessionID:    c.sessionID,
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

// Start launches both polling loops. Calling Start on a running channel is a
// no-op.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(2)
	c.mu.Unlock()

	go c.pollChat(loopCtx)
	go c.pollAttendance(loopCtx)
}

func (c *Channel) pollChat(ctx context.Context) {
	defer c.wg.Done()
	c.refreshChat(ctx)
	ticker := time.NewTicker(c.chatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshChat(ctx)
		}
	}
}

func (c *Channel) refreshChat(ctx context.Context) {
	msgs, err := c.chat.Latest(ctx, c.sessionID, c.limit)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("chat poll", zap.Error(err), zap.String("session_id", c.sessionID.String()))
		}
		return
	}
	c.mu.Lock()
	subs := make([]func([]models.ChatMessage), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(msgs)
	}
}

func (c *Channel) pollAttendance(ctx context.Context) {
	defer c.wg.Done()
	c.refreshAttendance(ctx)
	ticker := time.NewTicker(c.attEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshAttendance(ctx)
		}
	}
}

func (c *Channel) refreshAttendance(ctx context.Context) {
	recs, err := c.att.Attendance(ctx, c.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("attendance poll", zap.Error(err), zap.String("session_id", c.sessionID.String()))
		}
		return
	}
	active := recs[:0:0]
	for _, r := range recs {
		if r.IsActive {
			active = append(active, r)
		}
	}
	c.mu.Lock()
	subs := make([]func([]models.AttendanceRecord), 0, len(c.attSubs))
	for _, fn := range c.attSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(active)
	}
}

// Running reports whether the loops are active.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop cancels both loops and waits for them to exit, so no source call can
// happen after Stop returns. Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}
