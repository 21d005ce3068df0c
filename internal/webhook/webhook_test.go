package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shawn/chat-relay/internal/protocol"
	"github.com/shawn/chat-relay/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetails struct {
	contact  *protocol.Contact
	media    *protocol.Media
	mediaErr error
}

func (s stubDetails) Contact(context.Context, *protocol.Message) (*protocol.Contact, error) {
	return s.contact, nil
}

func (s stubDetails) DownloadMedia(context.Context, *protocol.Message) (*protocol.Media, error) {
	return s.media, s.mediaErr
}

func testMessage() *protocol.Message {
	return &protocol.Message{
		ID:        "false_123@c.us_ABC",
		From:      "123@c.us",
		Timestamp: time.Unix(1700000000, 0),
		Type:      "chat",
		Body:      "hello",
	}
}

func TestBuildEnvelope_Text(t *testing.T) {
	d := stubDetails{contact: &protocol.Contact{PushName: "Ann", Number: "123"}}
	env, err := webhook.BuildEnvelope(context.Background(), "s1", d, testMessage())
	require.NoError(t, err)

	assert.Equal(t, "s1", env.SessionID)
	assert.Equal(t, "123@c.us", env.ChatID)
	assert.Equal(t, "false_123@c.us_ABC", env.MessageID)
	assert.Equal(t, "Ann", env.Sender.PushName)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", env.Timestamp)
	assert.Nil(t, env.MediaData)
}

func TestBuildEnvelope_Media(t *testing.T) {
	msg := testMessage()
	msg.HasMedia = true
	d := stubDetails{
		contact: &protocol.Contact{PushName: "Ann"},
		media:   &protocol.Media{Data: "AA==", MimeType: "image/jpeg", Filename: "a.jpg"},
	}
	env, err := webhook.BuildEnvelope(context.Background(), "s1", d, msg)
	require.NoError(t, err)
	require.NotNil(t, env.MediaData)
	assert.Equal(t, "AA==", *env.MediaData)
	assert.Equal(t, "image/jpeg", *env.MediaMimetype)
	assert.Equal(t, "a.jpg", *env.MediaFilename)
}

func TestBuildEnvelope_MediaDownloadFailureIsNotFatal(t *testing.T) {
	msg := testMessage()
	msg.HasMedia = true
	d := stubDetails{contact: &protocol.Contact{}, mediaErr: errors.New("expired")}
	env, err := webhook.BuildEnvelope(context.Background(), "s1", d, msg)
	require.NoError(t, err)
	assert.Nil(t, env.MediaData)
}

func TestDeliver_PostsNestedBody(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env, err := webhook.BuildEnvelope(context.Background(), "s1",
		stubDetails{contact: &protocol.Contact{Number: "123", IsMe: false}}, testMessage())
	require.NoError(t, err)

	require.NoError(t, webhook.New(time.Second).Deliver(context.Background(), srv.URL, env))
	body := got["body"]
	require.NotNil(t, body)
	assert.Equal(t, "s1", body["sessionId"])
	assert.Equal(t, "hello", body["body"])
	assert.Contains(t, body, "mediaData")
	assert.Nil(t, body["mediaData"])
	sender := body["sender"].(map[string]any)
	assert.Equal(t, "123", sender["number"])
	assert.Equal(t, false, sender["isMe"])
}

func TestDeliver_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := webhook.New(time.Second).Deliver(context.Background(), srv.URL, &webhook.Envelope{})
	var de *webhook.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
}

func TestDeliver_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := webhook.New(50*time.Millisecond).Deliver(context.Background(), srv.URL, &webhook.Envelope{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
