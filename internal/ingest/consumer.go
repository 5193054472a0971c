// Package ingest consumes send requests from a Pub/Sub subscription and
// drives the delivery coordinator.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// SendRequest is the wire shape of one ingested delivery request.
type SendRequest struct {
	Notification push.Notification `json:"notification"`
	Addresses    []push.Address    `json:"addresses,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
}

// Sender mirrors the coordinator's send surface.
type Sender interface {
	Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error)
}

// Deferrer mirrors the scheduler bridge.
type Deferrer interface {
	Schedule(ctx context.Context, n push.Notification, targetTime time.Time) (string, *push.Result, error)
}

// Consumer pulls send requests off Pub/Sub. Malformed payloads are acked
// and dropped so one poison message cannot wedge the subscription;
// transient send failures are nacked for redelivery.
type Consumer struct {
	subscriber *pubsub.Subscriber
	sender     Sender
	deferrer   Deferrer
	logger     *slog.Logger
}

func NewConsumer(subscriber *pubsub.Subscriber, sender Sender, deferrer Deferrer, logger *slog.Logger) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		sender:     sender,
		deferrer:   deferrer,
		logger:     logger.With("component", "IngestConsumer"),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Ingest consumer starting")
	return c.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		req, err := decodeSendRequest(msg.Data)
		if err != nil {
			c.logger.Warn("Dropping malformed send request", "msg_id", msg.ID, "err", err)
			msg.Ack()
			return
		}

		if err := c.handle(ctx, req); err != nil {
			c.logger.Error("Send request failed, nacking for retry", "msg_id", msg.ID, "err", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) handle(ctx context.Context, req *SendRequest) error {
	if req.ScheduledAt != nil {
		_, _, err := c.deferrer.Schedule(ctx, req.Notification, *req.ScheduledAt)
		return err
	}

	result, err := c.sender.Send(ctx, req.Notification, req.Addresses)
	if err != nil {
		return err
	}
	c.logger.Info("Ingested notification delivered",
		"notification_id", req.Notification.ID,
		"sent", result.TotalSent,
		"failed", result.TotalFailed,
	)
	return nil
}

// decodeSendRequest validates the minimum a request needs before it can
// be dispatched.
func decodeSendRequest(payload []byte) (*SendRequest, error) {
	var req SendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal send request: %w", err)
	}
	if req.Notification.ID == "" {
		return nil, fmt.Errorf("send request missing notification id")
	}
	if req.Notification.Title == "" && req.Notification.Body == "" {
		return nil, fmt.Errorf("send request has neither title nor body")
	}
	return &req, nil
}

// EnsureSubscription creates the ingest subscription with a dead-letter
// policy if it does not already exist.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, projectID, subscriptionID, topicID, dlqTopicID string, logger *slog.Logger) (*pubsub.Subscriber, error) {
	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)

	subConfig := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              fmt.Sprintf("projects/%s/topics/%s", projectID, topicID),
		AckDeadlineSeconds: 10,
	}
	if dlqTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	_, err := client.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subName)
		} else {
			return nil, fmt.Errorf("could not create subscription %s: %w", subName, err)
		}
	}

	return client.Subscriber(subName), nil
}
