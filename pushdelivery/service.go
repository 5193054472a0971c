// Package pushdelivery assembles the delivery coordinator, its channel
// dispatchers, the HTTP surface and the background workers into one
// runnable service.
package pushdelivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushline/go-push-delivery/internal/api"
	"github.com/pushline/go-push-delivery/internal/delivery"
	"github.com/pushline/go-push-delivery/internal/ingest"
	"github.com/pushline/go-push-delivery/internal/queue"
	"github.com/pushline/go-push-delivery/pushdelivery/config"
	"github.com/pushline/go-push-delivery/pkg/push"
)

// Dependencies carries the externally constructed collaborators.
type Dependencies struct {
	Dispatchers []push.Dispatcher
	Registry    push.DeviceRegistry
	Store       push.DeliveryStore
	Queue       push.Queue
	// QueueSource lets the worker poll due jobs; normally the same
	// *queue.RedisQueue as Queue.
	QueueSource *queue.RedisQueue
}

// Service owns the HTTP server and background workers.
type Service struct {
	Coordinator *delivery.Coordinator
	Scheduler   *delivery.Scheduler
	Templates   *delivery.TemplateSender
	Stats       *delivery.Stats

	httpServer *http.Server
	worker     *queue.Worker
	consumer   *ingest.Consumer
	ready      atomic.Bool
	logger     *slog.Logger
}

// New wires the service together. The ingest consumer stays nil-safe so
// a deployment without Pub/Sub still runs the HTTP surface and queue.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Service, error) {
	if len(deps.Dispatchers) == 0 {
		return nil, fmt.Errorf("at least one channel dispatcher is required")
	}

	stats := delivery.NewStats(prometheus.DefaultRegisterer)
	coordinator := delivery.NewCoordinator(deps.Dispatchers, deps.Registry, deps.Store, stats, logger)
	scheduler := delivery.NewScheduler(coordinator, deps.Queue, logger)
	templates := delivery.NewTemplateSender(deps.Store, coordinator, logger)

	svc := &Service{
		Coordinator: coordinator,
		Scheduler:   scheduler,
		Templates:   templates,
		Stats:       stats,
		logger:      logger,
	}

	if deps.QueueSource != nil {
		svc.worker = queue.NewWorker(deps.QueueSource, coordinator, cfg.Queue.PollInterval, logger)
	}

	sendAPI := api.NewSendAPI(coordinator, templates, scheduler, deps.Store, stats, deps.Queue, logger)
	tokenAPI := api.NewTokenAPI(deps.Registry, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		sendAPI.RegisterRoutes(r)
		tokenAPI.RegisterRoutes(r)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if svc.ready.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	svc.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return svc, nil
}

// AttachConsumer enables the Pub/Sub ingest path. Must be called before
// Start.
func (s *Service) AttachConsumer(c *ingest.Consumer) {
	s.consumer = c
}

// Start launches the background workers and blocks serving HTTP until
// Shutdown or a listener error.
func (s *Service) Start(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Start(ctx)
	}
	if s.consumer != nil {
		go func() {
			if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Ingest consumer stopped", "err", err)
			}
		}()
	}

	s.ready.Store(true)
	s.logger.Info("Service is now ready.", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down service components...")
	s.ready.Store(false)

	if s.worker != nil {
		s.worker.Stop()
	}

	var finalErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	s.logger.Info("Service shutdown complete.")
	return finalErr
}
