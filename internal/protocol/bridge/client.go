package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shawn/chat-relay/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second

	maxFrameBytes = 64 << 20 // media arrives inline as base64
)

// ErrClosed is returned by calls made on a client whose socket is gone.
var ErrClosed = errors.New("bridge connection closed")

// Error is a command failure reported by the bridge.
type Error struct {
	Op      string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge %s: %s (%s)", e.Op, e.Message, e.Code)
}

// frame is the single message shape in both directions.
type frame struct {
	Type  string          `json:"type"` // command, result, event
	ID    string          `json:"id,omitempty"`
	Op    string          `json:"op,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const errCodeUnknownMIME = "unknown_mime"

type client struct {
	d         *Dialer
	sessionID string
	sink      protocol.EventSink

	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	closing atomic.Bool

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan frame
}

func newClient(d *Dialer, sessionID string, sink protocol.EventSink) *client {
	return &client{
		d:         d,
		sessionID: sessionID,
		sink:      sink,
		pending:   make(map[string]chan frame),
	}
}

// Initialize opens the session socket and asks the bridge to start the
// session. Scan codes and readiness arrive afterwards as events.
func (c *client) Initialize(ctx context.Context) error {
	conn, _, err := c.d.ws.DialContext(ctx, c.d.socketURL(c.sessionID), nil)
	if err != nil {
		return fmt.Errorf("connect bridge: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.writeMu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.writeMu.Unlock()

	go c.readLoop(conn, c.done)
	go c.pingLoop(conn, c.done)

	return c.call(ctx, "initialize", nil, nil)
}

func (c *client) Logout(ctx context.Context) error {
	if !c.connected() {
		return c.d.removeArtifacts(c.sessionID)
	}
	err := c.call(ctx, "logout", nil, nil)
	c.close()
	if rmErr := c.d.removeArtifacts(c.sessionID); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func (c *client) Destroy(ctx context.Context) error {
	if !c.connected() {
		return nil
	}
	err := c.call(ctx, "destroy", nil, nil)
	c.close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *client) SendMessage(ctx context.Context, chatID string, content protocol.Content, opts protocol.SendOptions) error {
	args := struct {
		ChatID  string          `json:"chat_id"`
		Text    string          `json:"text,omitempty"`
		Media   *protocol.Media `json:"media,omitempty"`
		Caption string          `json:"caption,omitempty"`
	}{ChatID: chatID, Text: content.Text, Media: content.Media, Caption: opts.Caption}
	return c.call(ctx, "send_message", args, nil)
}

func (c *client) SendStateTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, "typing", chatArgs{ChatID: chatID}, nil)
}

func (c *client) ClearState(ctx context.Context, chatID string) error {
	return c.call(ctx, "clear_state", chatArgs{ChatID: chatID}, nil)
}

type chatArgs struct {
	ChatID string `json:"chat_id"`
}

func (c *client) FetchMedia(ctx context.Context, url string) (*protocol.Media, error) {
	var media protocol.Media
	err := c.call(ctx, "fetch_media", struct {
		URL string `json:"url"`
	}{URL: url}, &media)
	var be *Error
	switch {
	case err == nil:
	case errors.As(err, &be) && be.Code == errCodeUnknownMIME:
		return nil, &protocol.MediaFetchError{Kind: protocol.MediaUnknownMIME, URL: url, Err: err}
	default:
		return nil, &protocol.MediaFetchError{Kind: protocol.MediaFetchFailed, URL: url, Err: err}
	}
	if media.MimeType == "" {
		return nil, &protocol.MediaFetchError{Kind: protocol.MediaUnknownMIME, URL: url}
	}
	return &media, nil
}

type messageArgs struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
}

func (c *client) Contact(ctx context.Context, msg *protocol.Message) (*protocol.Contact, error) {
	var contact protocol.Contact
	if err := c.call(ctx, "contact", messageArgs{MessageID: msg.ID, From: msg.From}, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// DownloadMedia returns nil, nil when the bridge has no payload for msg.
func (c *client) DownloadMedia(ctx context.Context, msg *protocol.Message) (*protocol.Media, error) {
	var media *protocol.Media
	if err := c.call(ctx, "download_media", messageArgs{MessageID: msg.ID, From: msg.From}, &media); err != nil {
		return nil, err
	}
	return media, nil
}

func (c *client) connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn != nil && !c.closing.Load()
}

// call sends one command and waits for its result.
func (c *client) call(ctx context.Context, op string, args, out any) error {
	var data json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("bridge %s: encode: %w", op, err)
		}
		data = b
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	done, err := c.write(frame{Type: "command", ID: id, Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("bridge %s: %w", op, err)
	}

	var res frame
	select {
	case res = <-ch:
	case <-done:
		return fmt.Errorf("bridge %s: %w", op, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("bridge %s: %w", op, ctx.Err())
	}
	if res.Error != nil {
		return &Error{Op: op, Code: res.Error.Code, Message: res.Error.Message}
	}
	if out != nil && len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, out); err != nil {
			return fmt.Errorf("bridge %s: decode result: %w", op, err)
		}
	}
	return nil
}

// write sends f and returns the done channel of the socket it went out on.
func (c *client) write(f frame) (<-chan struct{}, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil || c.closing.Load() {
		return nil, ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil, err
	}
	return c.done, nil
}

func (c *client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				slog.Warn("bridge: connection lost", "session", c.sessionID, "err", err)
				c.sink.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "bridge connection lost"})
			}
			return
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			slog.Warn("bridge: invalid frame", "session", c.sessionID, "err", err)
			continue
		}
		switch f.Type {
		case "result":
			c.pendingMu.Lock()
			ch := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ch != nil {
				select {
				case ch <- f:
				default:
				}
			}
		case "event":
			ev, err := decodeEvent(f)
			if err != nil {
				slog.Warn("bridge: invalid event", "session", c.sessionID, "event", f.Event, "err", err)
				continue
			}
			c.sink.Emit(ev)
		}
	}
}

func (c *client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = conn.Close()
}

func decodeEvent(f frame) (protocol.Event, error) {
	switch f.Event {
	case "qr":
		var d struct {
			Code string `json:"code"`
		}
		err := unmarshalData(f.Data, &d)
		return protocol.Event{Kind: protocol.EventQR, Code: d.Code}, err
	case "authenticated":
		return protocol.Event{Kind: protocol.EventAuthenticated}, nil
	case "ready":
		var id protocol.Identity
		err := unmarshalData(f.Data, &id)
		return protocol.Event{Kind: protocol.EventReady, Identity: &id}, err
	case "disconnected":
		var d struct {
			Reason string `json:"reason"`
		}
		err := unmarshalData(f.Data, &d)
		return protocol.Event{Kind: protocol.EventDisconnected, Reason: d.Reason}, err
	case "message":
		var m protocol.Message
		if err := unmarshalData(f.Data, &m); err != nil {
			return protocol.Event{}, err
		}
		return protocol.Event{Kind: protocol.EventMessage, Message: &m}, nil
	}
	return protocol.Event{}, fmt.Errorf("unknown event %q", f.Event)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
