// Package protocol defines the contract between the gateway and the client
// library that holds the actual connection to the messaging network.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind tags an Event.
type EventKind int

const (
	EventQR EventKind = iota
	EventAuthenticated
	EventReady
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one lifecycle or message notification from a Client. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Code     string    // EventQR
	Identity *Identity // EventReady
	Reason   string    // EventDisconnected
	Message  *Message  // EventMessage
}

// Identity describes the account a session is logged in as.
type Identity struct {
	PushName string `json:"pushname"`
	Number   string `json:"number"`
}

// Message is an inbound message as reported by the client.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromMe    bool      `json:"from_me"`
	IsStatus  bool      `json:"is_status"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	HasMedia  bool      `json:"has_media"`
}

// Contact is the sender of a message.
type Contact struct {
	PushName string `json:"pushname"`
	Number   string `json:"number"`
	IsMe     bool   `json:"is_me"`
}

// Media is a base64 payload with its type information.
type Media struct {
	Data     string `json:"data"`
	MimeType string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
}

// Content is what gets sent: either Text or Media.
type Content struct {
	Text  string
	Media *Media
}

// SendOptions are extra parameters for SendMessage.
type SendOptions struct {
	Caption string `json:"caption,omitempty"`
}

// EventSink receives events from a Client in emission order.
type EventSink interface {
	Emit(ev Event)
}

// Client is one live connection instance. A Client is owned by exactly one
// session handle.
type Client interface {
	Initialize(ctx context.Context) error
	// Logout ends the remote session and purges local credentials.
	Logout(ctx context.Context) error
	// Destroy tears down local resources without logging out.
	Destroy(ctx context.Context) error
	SendMessage(ctx context.Context, chatID string, content Content, opts SendOptions) error
	SendStateTyping(ctx context.Context, chatID string) error
	ClearState(ctx context.Context, chatID string) error
	FetchMedia(ctx context.Context, url string) (*Media, error)
	Contact(ctx context.Context, msg *Message) (*Contact, error)
	DownloadMedia(ctx context.Context, msg *Message) (*Media, error)
}

// Dialer creates clients and cleans up after sessions that have none.
type Dialer interface {
	Dial(sessionID string, sink EventSink) (Client, error)
	// Purge removes persisted credentials for sessionID without a live client.
	Purge(ctx context.Context, sessionID string) error
}

// ErrUnknownMIME is matched by a MediaFetchError whose payload type could
// not be determined.
var ErrUnknownMIME = errors.New("could not determine media MIME type")

// MediaErrorKind distinguishes media fetch failures.
type MediaErrorKind int

const (
	MediaFetchFailed MediaErrorKind = iota
	MediaUnknownMIME
)

// MediaFetchError is returned when media cannot be loaded from a URL.
type MediaFetchError struct {
	Kind MediaErrorKind
	URL  string
	Err  error
}

func (e *MediaFetchError) Error() string {
	if e.Kind == MediaUnknownMIME {
		return fmt.Sprintf("fetch media %s: unknown MIME type", e.URL)
	}
	return fmt.Sprintf("fetch media %s: %v", e.URL, e.Err)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }

func (e *MediaFetchError) Is(target error) bool {
	return target == ErrUnknownMIME && e.Kind == MediaUnknownMIME
}
