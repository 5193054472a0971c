// Package webpush provides the browser push channel dispatcher, speaking
// the VAPID web push protocol.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/pushline/go-push-delivery/pkg/push"
)

const defaultTTLSeconds = 60

// Config holds the VAPID key pair identifying this sender.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		subscriber: cfg.SubscriberEmail,
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

func (d *Dispatcher) Channel() push.Channel {
	return push.ChannelWebPush
}

// SendBatch delivers to a batch of browser subscriptions. Each address
// token is the JSON-encoded subscription; a malformed token fails only
// its own address.
func (d *Dispatcher) SendBatch(ctx context.Context, n push.Notification, addrs []push.Address) ([]push.Outcome, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]any{
			"title":   n.Title,
			"body":    n.Body,
			"icon":    n.ImageURL,
			"actions": n.Actions,
			"tag":     n.CollapseKey,
		},
		"data": n.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webpush payload: %w", err)
	}

	ttl := defaultTTLSeconds
	if n.TTL > 0 {
		ttl = int(n.TTL.Seconds())
	}

	outcomes := make([]push.Outcome, 0, len(addrs))
	for _, addr := range addrs {
		var sub webpushgo.Subscription
		if err := json.Unmarshal([]byte(addr.Token), &sub); err != nil {
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("malformed subscription: %v", err)))
			continue
		}

		resp, err := webpushgo.SendNotification(payloadBytes, &sub, &webpushgo.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             ttl,
			Urgency:         urgency(n.Priority),
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("webpush transport failed: %v", err)))
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			outcomes = append(outcomes, push.Delivered(addr, messageID(resp)))
		case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("subscription expired (%d)", resp.StatusCode)))
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("webpush rejected (%d)", resp.StatusCode)))
		}
		_ = resp.Body.Close()
	}

	return outcomes, nil
}

// The push service does not hand back a message id. Use the Location
// header when the service supplies one, otherwise mint a receipt id.
func messageID(resp *http.Response) string {
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc
	}
	return uuid.NewString()
}

func urgency(p push.Priority) webpushgo.Urgency {
	switch p {
	case push.PriorityHigh:
		return webpushgo.UrgencyHigh
	case push.PriorityLow:
		return webpushgo.UrgencyLow
	default:
		return webpushgo.UrgencyNormal
	}
}
