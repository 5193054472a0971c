// Package delivery contains the fan-out coordinator and its satellites:
// the stats aggregator, the scheduler bridge and the template sender.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// Sender is the coordinator's send surface, extracted so the scheduler
// bridge, the template sender, the queue worker and the API can be tested
// against a mock.
type Sender interface {
	Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error)
}

// Coordinator fans one notification out across the configured channel
// dispatchers and folds their outcomes into a single Result.
type Coordinator struct {
	dispatchers map[push.Channel]push.Dispatcher
	registry    push.DeviceRegistry
	store       push.DeliveryStore
	stats       *Stats
	logger      *slog.Logger
}

func NewCoordinator(
	dispatchers []push.Dispatcher,
	registry push.DeviceRegistry,
	store push.DeliveryStore,
	stats *Stats,
	logger *slog.Logger,
) *Coordinator {
	byChannel := make(map[push.Channel]push.Dispatcher, len(dispatchers))
	for _, d := range dispatchers {
		byChannel[d.Channel()] = d
	}
	return &Coordinator{
		dispatchers: byChannel,
		registry:    registry,
		store:       store,
		stats:       stats,
		logger:      logger.With("component", "Coordinator"),
	}
}

// Send resolves recipients, dispatches every non-empty channel group
// concurrently, waits for all of them to settle and merges the outcomes.
//
// A nil explicit list means "look the target user up in the registry";
// zero resolved addresses is a valid, loggable outcome, not an error.
// Per-channel and per-address failures are captured inside the Result and
// never escape as errors.
func (c *Coordinator) Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error) {
	if len(c.dispatchers) == 0 {
		return nil, push.ErrUninitialized
	}

	addrs := explicit
	if addrs == nil {
		resolved, err := c.registry.AddressesForUser(ctx, n.TargetUser)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve addresses for %q: %w", n.TargetUser, err)
		}
		addrs = resolved
	} else if len(addrs) == 0 {
		return nil, push.ErrEmptyAddressList
	}

	result := new(push.Result)
	if len(addrs) == 0 {
		c.logger.Info("No addresses registered for user", "notification_id", n.ID, "target_user", n.TargetUser)
		c.finish(ctx, n, result)
		return result, nil
	}

	groups := partitionByChannel(addrs)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for channel, group := range groups {
		dispatcher, ok := c.dispatchers[channel]
		if !ok {
			// Channel not configured: degrade to all-failed so the other
			// channels are still attempted.
			mu.Lock()
			result.Absorb(failAll(group, fmt.Sprintf("channel unavailable: %s not configured", channel))...)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(channel push.Channel, dispatcher push.Dispatcher, group []push.Address) {
			defer wg.Done()
			outcomes := c.dispatch(ctx, dispatcher, n, group)
			mu.Lock()
			result.Absorb(outcomes...)
			mu.Unlock()
		}(channel, dispatcher, group)
	}
	wg.Wait()

	c.finish(ctx, n, result)
	return result, nil
}

// dispatch runs one channel's bulk send and guarantees one outcome per
// input address, whatever the adapter does.
func (c *Coordinator) dispatch(ctx context.Context, d push.Dispatcher, n push.Notification, group []push.Address) (outcomes []push.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Dispatcher panicked", "channel", d.Channel(), "panic", r)
			outcomes = failAll(group, fmt.Sprintf("dispatcher panic: %v", r))
		}
	}()

	outcomes, err := d.SendBatch(ctx, n, group)
	if err != nil {
		// Channel-wide transport failure: every address in this group
		// fails with the channel-level error.
		c.logger.Error("Channel dispatch failed", "channel", d.Channel(), "notification_id", n.ID, "err", err)
		return failAll(group, err.Error())
	}

	return reconcile(group, outcomes)
}

// finish applies the side effects of a settled send: stats first, then a
// best-effort delivery-log write. Logging failures are swallowed after a
// warning; delivery already happened.
func (c *Coordinator) finish(ctx context.Context, n push.Notification, result *push.Result) {
	c.stats.Record(result)

	rec := push.DeliveryRecord{
		ID:         n.ID,
		Title:      n.Title,
		Body:       n.Body,
		TargetUser: n.TargetUser,
		Sent:       result.TotalSent,
		Failed:     result.TotalFailed,
		SentAt:     time.Now().UTC(),
		Data:       n.Data,
	}
	if err := c.store.LogDelivery(ctx, rec); err != nil {
		c.logger.Warn("Failed to write delivery log", "notification_id", n.ID, "err", err)
	}
}

// reconcile enforces the one-outcome-per-address contract: any input
// address an adapter dropped is reported failed rather than silently
// missing from the result.
func reconcile(group []push.Address, outcomes []push.Outcome) []push.Outcome {
	covered := make(map[push.Address]bool, len(outcomes))
	for _, o := range outcomes {
		covered[o.Address] = true
	}
	for _, addr := range group {
		if !covered[addr] {
			outcomes = append(outcomes, push.Failed(addr, "dispatcher returned no outcome for address"))
		}
	}
	return outcomes
}

func failAll(group []push.Address, description string) []push.Outcome {
	outcomes := make([]push.Outcome, 0, len(group))
	for _, addr := range group {
		outcomes = append(outcomes, push.Failed(addr, description))
	}
	return outcomes
}

func partitionByChannel(addrs []push.Address) map[push.Channel][]push.Address {
	groups := make(map[push.Channel][]push.Address)
	for _, addr := range addrs {
		groups[addr.Channel] = append(groups[addr.Channel], addr)
	}
	return groups
}
