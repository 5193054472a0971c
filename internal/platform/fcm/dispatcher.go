// Package fcm provides the Firebase Cloud Messaging channel dispatcher.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// *messaging.Client satisfies MessagingClient.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) Channel() push.Channel {
	return push.ChannelFCM
}

// SendBatch multicasts one notification to a batch of FCM tokens and maps
// the batch response back onto the input addresses, one outcome each.
// The returned error is reserved for whole-batch transport failure.
func (d *Dispatcher) SendBatch(ctx context.Context, n push.Notification, addrs []push.Address) ([]push.Outcome, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	tokens := make([]string, len(addrs))
	for i, addr := range addrs {
		tokens[i] = addr.Token
	}

	br, err := d.client.SendEachForMulticast(ctx, d.buildMessage(n, tokens))
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	outcomes := make([]push.Outcome, 0, len(addrs))
	for i, resp := range br.Responses {
		if resp.Success {
			outcomes = append(outcomes, push.Delivered(addrs[i], resp.MessageID))
			continue
		}
		description := "fcm rejected token"
		if resp.Error != nil {
			description = resp.Error.Error()
		}
		outcomes = append(outcomes, push.Failed(addrs[i], description))
	}

	d.logger.Debug("FCM batch settled",
		"notification_id", n.ID, "success", br.SuccessCount, "failure", br.FailureCount)
	return outcomes, nil
}

func (d *Dispatcher) buildMessage(n push.Notification, tokens []string) *messaging.MulticastMessage {
	android := &messaging.AndroidConfig{
		Priority:    androidPriority(n.Priority),
		CollapseKey: n.CollapseKey,
		Notification: &messaging.AndroidNotification{
			Sound:     n.Sound,
			ChannelID: n.ChannelGroup,
			ImageURL:  n.ImageURL,
		},
	}
	if n.TTL > 0 {
		ttl := n.TTL
		android.TTL = &ttl
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data,
		Notification: &messaging.Notification{
			Title:    n.Title,
			Body:     n.Body,
			ImageURL: n.ImageURL,
		},
		Android: android,
	}
}

// FCM only distinguishes two delivery priorities.
func androidPriority(p push.Priority) string {
	if p == push.PriorityHigh {
		return "high"
	}
	return "normal"
}
