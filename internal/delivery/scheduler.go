package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// Scheduler bridges deferred delivery onto the queue collaborator. It
// never drops a past-due schedule: anything already due goes straight to
// the coordinator instead of the queue.
type Scheduler struct {
	sender Sender
	queue  push.Queue
	now    func() time.Time
	logger *slog.Logger
}

func NewScheduler(sender Sender, queue push.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sender: sender,
		queue:  queue,
		now:    time.Now,
		logger: logger.With("component", "Scheduler"),
	}
}

// Schedule defers n until targetTime. If targetTime has already elapsed
// the notification is sent immediately and the returned job id is empty;
// otherwise the job id identifies the queued entry for cancellation.
func (s *Scheduler) Schedule(ctx context.Context, n push.Notification, targetTime time.Time) (string, *push.Result, error) {
	delay := targetTime.Sub(s.now())
	if delay <= 0 {
		s.logger.Info("Target time already elapsed, sending immediately", "notification_id", n.ID)
		result, err := s.sender.Send(ctx, n, nil)
		return "", result, err
	}

	if s.queue == nil {
		return "", nil, fmt.Errorf("deferred delivery unavailable: no queue configured")
	}
	jobID, err := s.queue.Enqueue(ctx, n, delay)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("Notification queued for later delivery",
		"notification_id", n.ID, "job_id", jobID, "delay", delay)
	return jobID, nil, nil
}

// SendBulk sends each notification sequentially and collects one result
// per input. A call-level failure on one entry is recorded as a fully
// failed result for that entry and does not stop the rest.
func (s *Scheduler) SendBulk(ctx context.Context, notifications []push.Notification) []*push.Result {
	results := make([]*push.Result, 0, len(notifications))
	for _, n := range notifications {
		result, err := s.sender.Send(ctx, n, nil)
		if err != nil {
			s.logger.Error("Bulk entry failed", "notification_id", n.ID, "err", err)
			failed := new(push.Result)
			failed.Absorb(push.Failed(push.Address{Token: n.TargetUser}, err.Error()))
			results = append(results, failed)
			continue
		}
		results = append(results, result)
	}
	return results
}
