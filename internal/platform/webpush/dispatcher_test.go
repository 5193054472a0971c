package webpush_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushline/go-push-delivery/internal/platform/webpush"
	"github.com/pushline/go-push-delivery/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// subscriptionToken builds a JSON-encoded subscription the push service
// libraries will accept: real VAPID-compatible browser keys pointing at
// the mock push server.
func subscriptionToken(t *testing.T, endpoint string) string {
	t.Helper()

	browserKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	sub := webpushgo.Subscription{
		Endpoint: endpoint,
		Keys: webpushgo.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(browserKey.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	raw, err := json.Marshal(sub)
	require.NoError(t, err)
	return string(raw)
}

func TestWebPushDispatcher_SendBatch(t *testing.T) {
	// Simulates the browser vendor's push service.
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/success":
			w.Header().Set("Location", "https://push.example.test/receipt/1")
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpushgo.GenerateVAPIDKeys()
	require.NoError(t, err)

	dispatcher := webpush.NewDispatcher(webpush.Config{
		PublicKey:       publicKey,
		PrivateKey:      privateKey,
		SubscriberEmail: "mailto:test-runner@pushline.dev",
	}, newTestLogger())

	ctx := context.Background()
	n := push.Notification{ID: "n-1", Title: "Test", Body: "Body"}

	t.Run("Mixed batch settles per address", func(t *testing.T) {
		addrs := []push.Address{
			{Channel: push.ChannelWebPush, Token: subscriptionToken(t, mockServer.URL+"/success")},
			{Channel: push.ChannelWebPush, Token: subscriptionToken(t, mockServer.URL+"/expired")},
			{Channel: push.ChannelWebPush, Token: subscriptionToken(t, mockServer.URL+"/error")},
		}

		outcomes, err := dispatcher.SendBatch(ctx, n, addrs)

		require.NoError(t, err)
		require.Len(t, outcomes, 3)
		assert.True(t, outcomes[0].Delivered())
		assert.Equal(t, "https://push.example.test/receipt/1", outcomes[0].MessageID)
		assert.Contains(t, outcomes[1].Error, "subscription expired")
		assert.Contains(t, outcomes[2].Error, "rejected")
	})

	t.Run("Malformed subscription fails its own address only", func(t *testing.T) {
		addrs := []push.Address{
			{Channel: push.ChannelWebPush, Token: "{not json"},
			{Channel: push.ChannelWebPush, Token: subscriptionToken(t, mockServer.URL+"/success")},
		}

		outcomes, err := dispatcher.SendBatch(ctx, n, addrs)

		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Contains(t, outcomes[0].Error, "malformed subscription")
		assert.True(t, outcomes[1].Delivered())
	})

	t.Run("Empty batch is a no-op", func(t *testing.T) {
		outcomes, err := dispatcher.SendBatch(ctx, n, nil)
		require.NoError(t, err)
		assert.Empty(t, outcomes)
	})
}
