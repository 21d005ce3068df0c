package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shawn/chat-relay/internal/humanize"
	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper never blocks; it records requested delays.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	onCall func(ctx context.Context, n int) error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.onCall != nil {
		if err := s.onCall(ctx, n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) OnScanCode(_ *session.Handle, code string)          { l.add("qr:" + code) }
func (l *recordingListener) OnAuthenticated(_ *session.Handle)                  { l.add("authenticated") }
func (l *recordingListener) OnReady(_ *session.Handle, _ *protocol.Identity)    { l.add("ready") }
func (l *recordingListener) OnDisconnected(_ *session.Handle, reason string)    { l.add("disconnected:" + reason) }
func (l *recordingListener) OnMessage(_ *session.Handle, msg *protocol.Message) { l.add("message:" + msg.ID) }

func newReadyHandle(t *testing.T, sl humanize.Sleeper) (*session.Handle, *protocol.MockClient) {
	t.Helper()
	d := protocol.NewMockDialer()
	h, err := session.Dial("s1", "t1", d, session.WithSleeper(sl), session.WithRand(humanize.NewRand(11)))
	require.NoError(t, err)
	t.Cleanup(h.Close)

	l := &recordingListener{}
	go h.Pump(l)
	c := d.Client("s1")
	c.Emit(protocol.Event{Kind: protocol.EventReady, Identity: &protocol.Identity{PushName: "me"}})
	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never became ready")
	}
	return h, c
}

func TestPump_PreservesEventOrder(t *testing.T) {
	d := protocol.NewMockDialer()
	h, err := session.Dial("s1", "t1", d)
	require.NoError(t, err)
	defer h.Close()

	l := &recordingListener{}
	go h.Pump(l)
	c := d.Client("s1")
	c.Emit(protocol.Event{Kind: protocol.EventQR, Code: "abc"})
	c.Emit(protocol.Event{Kind: protocol.EventAuthenticated})
	c.Emit(protocol.Event{Kind: protocol.EventReady})
	c.Emit(protocol.Event{Kind: protocol.EventDisconnected, Reason: "LOGOUT"})

	require.Eventually(t, func() bool { return len(l.Events()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"qr:abc", "authenticated", "ready", "disconnected:LOGOUT"}, l.Events())
	assert.False(t, h.IsReady())
}

func TestEmit_AfterCloseDoesNotBlock(t *testing.T) {
	d := protocol.NewMockDialer()
	h, err := session.Dial("s1", "t1", d, session.WithEventBuffer(1))
	require.NoError(t, err)
	h.Close()

	done := make(chan struct{})
	go func() {
		c := d.Client("s1")
		for i := 0; i < 5; i++ {
			c.Emit(protocol.Event{Kind: protocol.EventQR, Code: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked after Close")
	}
}

func TestDial_Error(t *testing.T) {
	d := protocol.NewMockDialer()
	d.DialErr = errors.New("no browser")
	_, err := session.Dial("s1", "t1", d)
	assert.Error(t, err)
}

func TestSendPlain_NotReady(t *testing.T) {
	d := protocol.NewMockDialer()
	h, err := session.Dial("s1", "t1", d)
	require.NoError(t, err)
	defer h.Close()

	assert.False(t, h.SendPlain(context.Background(), "chat", "hi"))
	assert.Empty(t, d.Client("s1").Sent())
}

func TestSendPlain_Ready(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	assert.True(t, h.SendPlain(context.Background(), "chat@c.us", "hi"))
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, "hi", c.Sent()[0].Content.Text)
}

func TestSendPlain_ClientError(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	c.SendErr = errors.New("boom")
	assert.False(t, h.SendPlain(context.Background(), "chat", "hi"))
}

func TestSendHumanized_DisabledBehavesLikePlain(t *testing.T) {
	sl := &recordingSleeper{}
	h, c := newReadyHandle(t, sl)
	p := humanize.Defaults()
	p.Enabled = false

	assert.True(t, h.SendHumanized(context.Background(), "chat", "hello", p))
	assert.Empty(t, sl.delays)
	assert.Equal(t, 0, c.TypingCalls())
	require.Len(t, c.Sent(), 1)
}

func TestSendHumanized_NoTyposOneDelayPerRune(t *testing.T) {
	sl := &recordingSleeper{}
	h, c := newReadyHandle(t, sl)
	p := humanize.Defaults()
	p.ErrorProbability = 0
	text := "hello there"

	require.True(t, h.SendHumanized(context.Background(), "chat", text, p))

	// one delay per rune plus the pause after typing
	assert.Len(t, sl.delays, len(text)+1)
	assert.Equal(t, len(text), c.TypingCalls())
	for _, d := range sl.delays[:len(text)] {
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
	pause := sl.delays[len(text)]
	assert.GreaterOrEqual(t, pause, 700*time.Millisecond)
	assert.LessOrEqual(t, pause, 2200*time.Millisecond)

	require.Len(t, c.Sent(), 1)
	assert.Equal(t, text, c.Sent()[0].Content.Text)
	assert.Equal(t, 1, c.ClearCalls())
}

func TestSendHumanized_TyposNeverAlterSentText(t *testing.T) {
	sl := &recordingSleeper{}
	h, c := newReadyHandle(t, sl)
	p := humanize.Defaults()
	p.ErrorProbability = 1
	p.MaxBackspaceChars = 3
	text := "typos are only cosmetic"

	require.True(t, h.SendHumanized(context.Background(), "chat", text, p))

	var erase int
	for _, d := range sl.delays {
		if d >= 200*time.Millisecond && d <= 400*time.Millisecond {
			erase++
		}
	}
	assert.Greater(t, len(sl.delays), len(text)+1, "typo steps add extra delays")
	assert.Greater(t, erase, 0)
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, text, c.Sent()[0].Content.Text)
}

func TestSendHumanized_TypingErrorsAreNotFatal(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	c.TypingErr = errors.New("chat not found")
	p := humanize.Defaults()
	p.ErrorProbability = 0

	assert.True(t, h.SendHumanized(context.Background(), "chat", "ok", p))
	assert.Len(t, c.Sent(), 1)
}

func TestSendHumanized_SendFailureClearsState(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	c.SendErr = errors.New("offline")
	p := humanize.Defaults()
	p.ErrorProbability = 0

	assert.False(t, h.SendHumanized(context.Background(), "chat", "ok", p))
	assert.Equal(t, 1, c.ClearCalls())
}

func TestSendHumanized_CloseCancelsInFlightSend(t *testing.T) {
	var h *session.Handle
	sl := &recordingSleeper{}
	sl.onCall = func(ctx context.Context, n int) error {
		if n != 3 {
			return nil
		}
		h.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("close did not cancel the send context")
		}
	}
	h, c := newReadyHandle(t, sl)
	p := humanize.Defaults()
	p.ErrorProbability = 0

	assert.False(t, h.SendHumanized(context.Background(), "chat", "a long message", p))
	assert.Len(t, sl.delays, 3)
	assert.Empty(t, c.Sent())
	assert.Equal(t, 1, c.ClearCalls(), "typing indicator must be cleared on cancel")
}

func TestSendMedia_NotReady(t *testing.T) {
	d := protocol.NewMockDialer()
	h, err := session.Dial("s1", "t1", d)
	require.NoError(t, err)
	defer h.Close()

	assert.ErrorIs(t, h.SendMedia(context.Background(), "chat", "http://x/a.png", ""), session.ErrNotReady)
}

func TestSendMedia_UnknownMIME(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	c.FetchMediaFunc = func(context.Context, string) (*protocol.Media, error) {
		return &protocol.Media{Data: "AA=="}, nil
	}
	err := h.SendMedia(context.Background(), "chat", "http://x/page", "cap")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnknownMIME)

	var mfe *protocol.MediaFetchError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, protocol.MediaUnknownMIME, mfe.Kind)
	assert.Empty(t, c.Sent())
}

func TestSendMedia_FetchFailure(t *testing.T) {
	h, c := newReadyHandle(t, &recordingSleeper{})
	c.FetchMediaFunc = func(context.Context, string) (*protocol.Media, error) {
		return nil, errors.New("404")
	}
	err := h.SendMedia(context.Background(), "chat", "http://x/missing.png", "")
	var mfe *protocol.MediaFetchError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, protocol.MediaFetchFailed, mfe.Kind)
	assert.NotErrorIs(t, err, protocol.ErrUnknownMIME)
}

func TestSendMedia_SendsWithCaptionAndNoTyping(t *testing.T) {
	sl := &recordingSleeper{}
	h, c := newReadyHandle(t, sl)

	require.NoError(t, h.SendMedia(context.Background(), "chat", "http://x/a.png", "look"))
	require.Len(t, c.Sent(), 1)
	assert.Equal(t, "image/png", c.Sent()[0].Content.Media.MimeType)
	assert.Equal(t, "look", c.Sent()[0].Opts.Caption)
	assert.Empty(t, sl.delays)
	assert.Equal(t, 0, c.TypingCalls())
}
