package protocol

import (
	"context"
	"sync"
)

// Sent records one SendMessage call on a MockClient.
type Sent struct {
	ChatID  string
	Content Content
	Opts    SendOptions
}

// MockClient is an in-memory Client for testing. Tests drive lifecycle
// events through Emit.
type MockClient struct {
	SessionID string

	InitializeFunc func(ctx context.Context, c *MockClient) error
	LogoutErr      error
	DestroyErr     error
	SendErr        error
	TypingErr      error
	FetchMediaFunc func(ctx context.Context, url string) (*Media, error)
	ContactFunc    func(ctx context.Context, msg *Message) (*Contact, error)
	DownloadFunc   func(ctx context.Context, msg *Message) (*Media, error)

	sink EventSink

	mu        sync.Mutex
	sent      []Sent
	typing    int
	cleared   int
	loggedOut bool
	destroyed bool
}

// Emit forwards ev to the sink the client was dialed with.
func (c *MockClient) Emit(ev Event) {
	c.sink.Emit(ev)
}

func (c *MockClient) Initialize(ctx context.Context) error {
	if c.InitializeFunc != nil {
		return c.InitializeFunc(ctx, c)
	}
	return nil
}

func (c *MockClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return c.LogoutErr
}

func (c *MockClient) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return c.DestroyErr
}

func (c *MockClient) SendMessage(_ context.Context, chatID string, content Content, opts SendOptions) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{ChatID: chatID, Content: content, Opts: opts})
	return nil
}

func (c *MockClient) SendStateTyping(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing++
	return c.TypingErr
}

func (c *MockClient) ClearState(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return nil
}

func (c *MockClient) FetchMedia(ctx context.Context, url string) (*Media, error) {
	if c.FetchMediaFunc != nil {
		return c.FetchMediaFunc(ctx, url)
	}
	return &Media{Data: "AA==", MimeType: "image/png", Filename: "file.png"}, nil
}

func (c *MockClient) Contact(ctx context.Context, msg *Message) (*Contact, error) {
	if c.ContactFunc != nil {
		return c.ContactFunc(ctx, msg)
	}
	return &Contact{PushName: "Sender", Number: msg.From}, nil
}

func (c *MockClient) DownloadMedia(ctx context.Context, msg *Message) (*Media, error) {
	if c.DownloadFunc != nil {
		return c.DownloadFunc(ctx, msg)
	}
	return nil, nil
}

// Sent returns a copy of all sent messages.
func (c *MockClient) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// TypingCalls returns how many times the typing indicator was set.
func (c *MockClient) TypingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// ClearCalls returns how many times the chat state was cleared.
func (c *MockClient) ClearCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

func (c *MockClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *MockClient) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// MockDialer hands out MockClients and records purges.
type MockDialer struct {
	// Configure, if set, is applied to every client before it is returned.
	Configure func(c *MockClient)
	DialErr   error

	mu      sync.Mutex
	clients map[string]*MockClient
	purged  []string
}

func NewMockDialer() *MockDialer {
	return &MockDialer{clients: make(map[string]*MockClient)}
}

func (d *MockDialer) Dial(sessionID string, sink EventSink) (Client, error) {
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := &MockClient{SessionID: sessionID, sink: sink}
	if d.Configure != nil {
		d.Configure(c)
	}
	d.mu.Lock()
	d.clients[sessionID] = c
	d.mu.Unlock()
	return c, nil
}

func (d *MockDialer) Purge(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purged = append(d.purged, sessionID)
	return nil
}

// Client returns the most recent client dialed for sessionID.
func (d *MockDialer) Client(sessionID string) *MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[sessionID]
}

// Purged returns the session ids passed to Purge.
func (d *MockDialer) Purged() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.purged...)
}
