// Package webhook relays inbound messages to a tenant's HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shawn/chat-relay/internal/protocol"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 20 * time.Second

// Sender describes who sent an inbound message.
type Sender struct {
	PushName string `json:"pushname"`
	Number   string `json:"number"`
	IsMe     bool   `json:"isMe"`
}

// Envelope is the normalized inbound message posted to a webhook. Media
// fields are null when the message carries no media.
type Envelope struct {
	SessionID     string  `json:"sessionId"`
	ChatID        string  `json:"chatId"`
	MessageID     string  `json:"messageId"`
	Sender        Sender  `json:"sender"`
	Timestamp     string  `json:"timestamp"`
	Type          string  `json:"type"`
	Body          string  `json:"body"`
	MediaData     *string `json:"mediaData"`
	MediaMimetype *string `json:"mediaMimetype"`
	MediaFilename *string `json:"mediaFilename"`
}

// payload is the wire body: the envelope nested under "body".
type payload struct {
	Body *Envelope `json:"body"`
}

// DeliveryError is returned when a webhook endpoint rejects a delivery.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Details is the part of protocol.Client needed to enrich an envelope.
type Details interface {
	Contact(ctx context.Context, msg *protocol.Message) (*protocol.Contact, error)
	DownloadMedia(ctx context.Context, msg *protocol.Message) (*protocol.Media, error)
}

// BuildEnvelope normalizes msg, looking up the sender and downloading any
// attached media. A failed media download leaves the media fields null.
func BuildEnvelope(ctx context.Context, sessionID string, d Details, msg *protocol.Message) (*Envelope, error) {
	contact, err := d.Contact(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	env := &Envelope{
		SessionID: sessionID,
		ChatID:    msg.From,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		Type:      msg.Type,
		Body:      msg.Body,
	}
	if contact != nil {
		env.Sender = Sender{PushName: contact.PushName, Number: contact.Number, IsMe: contact.IsMe}
	}
	if msg.HasMedia {
		media, err := d.DownloadMedia(ctx, msg)
		if err != nil {
			slog.Error("webhook: failed to download media", "session", sessionID, "message", msg.ID, "err", err)
		} else if media != nil {
			env.MediaData = &media.Data
			env.MediaMimetype = &media.MimeType
			env.MediaFilename = &media.Filename
		}
	}
	return env, nil
}

// Client posts envelopes. One attempt per delivery, no retries.
type Client struct {
	httpClient *http.Client
}

// New creates a webhook client whose requests are abandoned after timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// NewWithHTTPClient lets callers supply an instrumented transport.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// Deliver POSTs env to url.
func (c *Client) Deliver(ctx context.Context, url string, env *Envelope) error {
	data, err := json.Marshal(payload{Body: env})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
