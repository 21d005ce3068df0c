// Package session holds the in-memory handle that exclusively owns one
// protocol client for the lifetime of a live session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/shawn/chat-relay/internal/protocol"
)

// ErrNotReady is returned when a send is attempted on a handle without a
// live, ready connection.
var ErrNotReady = errors.New("session not ready")

const (
	defaultEventBuffer = 64
	clearStateTimeout  = 5 * time.Second
)

// Listener receives a handle's events, one at a time and in the order the
// client emitted them.
type Listener interface {
	OnScanCode(h *Handle, code string)
	OnAuthenticated(h *Handle)
	OnReady(h *Handle, id *protocol.Identity)
	OnDisconnected(h *Handle, reason string)
	OnMessage(h *Handle, msg *protocol.Message)
}

// Handle wraps one protocol.Client.
type Handle struct {
	id       string
	tenantID string
	client   protocol.Client
	rng      humanize.Rand
	sleeper  humanize.Sleeper
	bufSize  int

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once

	events    chan protocol.Event
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Handle.
type Option func(*Handle)

// WithRand sets the random source used for typing simulation.
func WithRand(r humanize.Rand) Option {
	return func(h *Handle) { h.rng = r }
}

// WithSleeper replaces the timer used between keystrokes.
func WithSleeper(s humanize.Sleeper) Option {
	return func(h *Handle) { h.sleeper = s }
}

// WithEventBuffer sets how many events may queue before the client blocks.
func WithEventBuffer(n int) Option {
	return func(h *Handle) { h.bufSize = n }
}

// Dial creates a handle and its underlying client. The client is not
// connected until Initialize is called.
func Dial(sessionID, tenantID string, d protocol.Dialer, opts ...Option) (*Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:       sessionID,
		tenantID: tenantID,
		rng:      humanize.NewProcessRand(),
		sleeper:  humanize.RealSleep,
		bufSize:  defaultEventBuffer,
		readyCh:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.events = make(chan protocol.Event, h.bufSize)

	c, err := d.Dial(sessionID, h)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial %s: %w", sessionID, err)
	}
	h.client = c
	return h, nil
}

func (h *Handle) ID() string       { return h.id }
func (h *Handle) TenantID() string { return h.tenantID }
func (h *Handle) IsReady() bool    { return h.ready.Load() }

// Client exposes the underlying client for message detail lookups.
func (h *Handle) Client() protocol.Client { return h.client }

// Ready is closed once a ready event has been fully handled by the listener.
func (h *Handle) Ready() <-chan struct{} { return h.readyCh }

// Done is closed when the event pump has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Emit implements protocol.EventSink. Events emitted after Close are dropped.
func (h *Handle) Emit(ev protocol.Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

// Pump delivers queued events to l until the handle is closed. Run it in its
// own goroutine, once per handle.
func (h *Handle) Pump(l Listener) {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.events:
			h.dispatch(l, ev)
		}
	}
}

func (h *Handle) dispatch(l Listener, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventQR:
		l.OnScanCode(h, ev.Code)
	case protocol.EventAuthenticated:
		l.OnAuthenticated(h)
	case protocol.EventReady:
		h.ready.Store(true)
		l.OnReady(h, ev.Identity)
		h.readyOnce.Do(func() { close(h.readyCh) })
	case protocol.EventDisconnected:
		h.ready.Store(false)
		l.OnDisconnected(h, ev.Reason)
	case protocol.EventMessage:
		if ev.Message != nil {
			l.OnMessage(h, ev.Message)
		}
	default:
		slog.Warn("session: unknown event", "session", h.id, "kind", ev.Kind)
	}
}

// Initialize connects the underlying client.
func (h *Handle) Initialize(ctx context.Context) error {
	return h.client.Initialize(ctx)
}

// Logout ends the remote session and purges local credentials.
func (h *Handle) Logout(ctx context.Context) error {
	h.ready.Store(false)
	return h.client.Logout(ctx)
}

// Destroy tears down the client's local resources.
func (h *Handle) Destroy(ctx context.Context) error {
	h.ready.Store(false)
	return h.client.Destroy(ctx)
}

// Close stops the event pump and cancels in-flight humanized sends. It does
// not touch the client.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.ready.Store(false)
		h.cancel()
	})
}

// SendPlain sends text immediately.
func (h *Handle) SendPlain(ctx context.Context, chatID, text string) bool {
	if !h.IsReady() {
		slog.Error("session: cannot send message, client not ready", "session", h.id)
		return false
	}
	if err := h.client.SendMessage(ctx, chatID, protocol.Content{Text: text}, protocol.SendOptions{}); err != nil {
		slog.Error("session: send message failed", "session", h.id, "chat", chatID, "err", err)
		return false
	}
	return true
}

// SendHumanized shows a typing indicator for as long as a person would need
// to type text, then sends text unchanged as a single message.
func (h *Handle) SendHumanized(ctx context.Context, chatID, text string, p humanize.Policy) bool {
	if !p.Enabled {
		return h.SendPlain(ctx, chatID, text)
	}
	if !h.IsReady() {
		slog.Error("session: cannot send message, client not ready", "session", h.id)
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	ty := humanize.NewTypist(text, p, h.rng)
	for !ty.Finished() {
		if err := h.client.SendStateTyping(ctx, chatID); err != nil {
			slog.Debug("session: typing indicator failed", "session", h.id, "chat", chatID, "err", err)
		}
		step, _ := ty.Next()
		if err := h.sleeper.Sleep(ctx, step.Delay); err != nil {
			slog.Warn("session: humanized send cancelled", "session", h.id, "chat", chatID, "err", err)
			h.clearState(ctx, chatID)
			return false
		}
	}

	if err := h.sleeper.Sleep(ctx, p.PauseAfterTyping(h.rng)); err != nil {
		slog.Warn("session: humanized send cancelled", "session", h.id, "chat", chatID, "err", err)
		h.clearState(ctx, chatID)
		return false
	}
	if err := h.client.SendMessage(ctx, chatID, protocol.Content{Text: text}, protocol.SendOptions{}); err != nil {
		slog.Error("session: humanized send failed", "session", h.id, "chat", chatID, "err", err)
		h.clearState(ctx, chatID)
		return false
	}
	h.clearState(ctx, chatID)
	return true
}

// SendMedia fetches mediaURL and sends it without any typing simulation.
func (h *Handle) SendMedia(ctx context.Context, chatID, mediaURL, caption string) error {
	if !h.IsReady() {
		return ErrNotReady
	}
	slog.Info("session: fetching media", "session", h.id, "url", mediaURL)
	media, err := h.client.FetchMedia(ctx, mediaURL)
	if err != nil {
		var mfe *protocol.MediaFetchError
		if errors.As(err, &mfe) {
			return err
		}
		return &protocol.MediaFetchError{Kind: protocol.MediaFetchFailed, URL: mediaURL, Err: err}
	}
	if media == nil || media.MimeType == "" {
		return &protocol.MediaFetchError{Kind: protocol.MediaUnknownMIME, URL: mediaURL}
	}
	content := protocol.Content{Media: media}
	if err := h.client.SendMessage(ctx, chatID, content, protocol.SendOptions{Caption: caption}); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	slog.Info("session: media sent", "session", h.id, "chat", chatID, "mimetype", media.MimeType)
	return nil
}

// clearState works even when ctx is already cancelled.
func (h *Handle) clearState(ctx context.Context, chatID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearStateTimeout)
	defer cancel()
	if err := h.client.ClearState(cctx, chatID); err != nil {
		slog.Debug("session: clear state failed", "session", h.id, "chat", chatID, "err", err)
	}
}
