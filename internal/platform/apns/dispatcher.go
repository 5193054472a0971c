// Package apns provides the Apple Push Notification Service channel
// dispatcher.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // the app bundle id
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

// NewDispatcher creates a configured APNs dispatcher. It parses the P8
// key immediately so bad credentials fail at startup, not per-call.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})

	return &Dispatcher{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

func (d *Dispatcher) Channel() push.Channel {
	return push.ChannelAPNS
}

// SendBatch delivers to a batch of APNs device tokens. The APNs HTTP/2
// API is unary, so we iterate; each token settles independently and a
// transport error on one push is that address's failure, never the
// batch's.
func (d *Dispatcher) SendBatch(ctx context.Context, n push.Notification, addrs []push.Address) ([]push.Outcome, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	builder := d.buildPayload(n)
	outcomes := make([]push.Outcome, 0, len(addrs))

	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("apns send aborted: %v", err)))
			continue
		}

		notif := &apns2.Notification{
			DeviceToken: addr.Token,
			Topic:       d.topic,
			Payload:     builder,
			Priority:    apnsPriority(n.Priority),
			CollapseID:  n.CollapseKey,
		}
		if n.TTL > 0 {
			notif.Expiration = time.Now().Add(n.TTL)
		}

		res, err := d.client.Push(notif)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", addr.Token, "err", err)
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("apns transport failed: %v", err)))
			continue
		}

		if res.Sent() {
			outcomes = append(outcomes, push.Delivered(addr, res.ApnsID))
		} else {
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
			outcomes = append(outcomes, push.Failed(addr, fmt.Sprintf("apns rejected: %s", res.Reason)))
		}
	}

	return outcomes, nil
}

func (d *Dispatcher) buildPayload(n push.Notification) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body)

	if n.Sound != "" {
		builder.Sound(n.Sound)
	}
	if n.Badge > 0 {
		builder.Badge(n.Badge)
	}
	if n.ChannelGroup != "" {
		builder.ThreadID(n.ChannelGroup)
	}
	// Actions on iOS resolve via a registered category on the device.
	if len(n.Actions) > 0 {
		builder.Category(n.Actions[0].ID)
	}
	for k, v := range n.Data {
		builder.Custom(k, v)
	}
	return builder
}

func apnsPriority(p push.Priority) int {
	if p == push.PriorityLow {
		return apns2.PriorityLow
	}
	return apns2.PriorityHigh
}
