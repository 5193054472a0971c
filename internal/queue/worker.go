package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// Sender is the slice of the coordinator the worker needs.
type Sender interface {
	Send(ctx context.Context, n push.Notification, explicit []push.Address) (*push.Result, error)
}

// jobSource is what the worker polls. Satisfied by *RedisQueue.
type jobSource interface {
	PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

// Worker polls the queue and sends due notifications. Once a job is
// handed to the sender it is no longer cancellable.
type Worker struct {
	source    jobSource
	sender    Sender
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

func NewWorker(source jobSource, sender Sender, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		source:    source,
		sender:    sender,
		interval:  interval,
		batchSize: 100,
		logger:    logger.With("component", "QueueWorker"),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("Queue worker started", "interval", w.interval)
	go w.run(ctx)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("Queue worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Drain anything already due on startup.
	w.deliverDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.deliverDue(ctx)
		}
	}
}

func (w *Worker) deliverDue(ctx context.Context) {
	jobs, err := w.source.PopDue(ctx, time.Now(), w.batchSize)
	if err != nil {
		w.logger.Error("Failed to poll due jobs", "err", err)
		return
	}

	for _, job := range jobs {
		result, err := w.sender.Send(ctx, job.Notification, nil)
		if err != nil {
			w.logger.Error("Deferred send failed", "job_id", job.ID, "notification_id", job.Notification.ID, "err", err)
			continue
		}
		w.logger.Info("Deferred notification delivered",
			"job_id", job.ID,
			"notification_id", job.Notification.ID,
			"sent", result.TotalSent,
			"failed", result.TotalFailed,
		)
	}
}
