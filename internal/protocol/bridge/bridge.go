// Package bridge implements protocol.Dialer against an external bridge
// daemon that owns the actual messaging-network connections. Each session
// gets one WebSocket carrying commands, their results and pushed events.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shawn/chat-relay/internal/protocol"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	handshakeTimeout   = 10 * time.Second
)

// Dialer connects sessions to the bridge at a base URL.
type Dialer struct {
	base    *url.URL
	dataDir string
	http    *http.Client
	ws      *websocket.Dialer
}

// New returns a Dialer for the bridge at baseURL. Local session artifacts
// live under dataDir/session-<id>.
func New(baseURL, dataDir string) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("bridge url %q: scheme must be http or https", baseURL)
	}
	return &Dialer{
		base:    u,
		dataDir: dataDir,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		ws:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// Dial returns an unconnected client; the socket is opened by Initialize.
func (d *Dialer) Dial(sessionID string, sink protocol.EventSink) (protocol.Client, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("dial: empty session id")
	}
	return newClient(d, sessionID, sink), nil
}

// Purge asks the bridge to drop stored credentials for sessionID and
// removes its local artifacts. A session the bridge does not know is not
// an error. Local artifacts are removed even when the bridge call fails.
func (d *Dialer) Purge(ctx context.Context, sessionID string) error {
	err := d.purgeRemote(ctx, sessionID)
	if rmErr := d.removeArtifacts(sessionID); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	if err != nil {
		return err
	}
	slog.Info("bridge: purged session", "session", sessionID)
	return nil
}

func (d *Dialer) purgeRemote(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.endpoint(sessionID, "auth"), nil)
	if err != nil {
		return fmt.Errorf("purge %s: %w", sessionID, err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("purge %s: %w", sessionID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("purge %s: bridge returned %d: %s", sessionID, resp.StatusCode, body)
	}
	return nil
}

func (d *Dialer) removeArtifacts(sessionID string) error {
	if d.dataDir == "" {
		return nil
	}
	dir := filepath.Join(d.dataDir, "session-"+sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// endpoint builds {base}/sessions/{id}/{leaf}.
func (d *Dialer) endpoint(sessionID, leaf string) string {
	return d.base.JoinPath("sessions", sessionID, leaf).String()
}

func (d *Dialer) socketURL(sessionID string) string {
	u := *d.base.JoinPath("sessions", sessionID, "ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}
