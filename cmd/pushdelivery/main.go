package main

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"
	"gopkg.in/yaml.v3"

	"github.com/pushline/go-push-delivery/internal/ingest"
	"github.com/pushline/go-push-delivery/internal/platform/apns"
	"github.com/pushline/go-push-delivery/internal/platform/fcm"
	"github.com/pushline/go-push-delivery/internal/platform/webpush"
	"github.com/pushline/go-push-delivery/internal/queue"
	"github.com/pushline/go-push-delivery/internal/storage/cache"
	fsStore "github.com/pushline/go-push-delivery/internal/storage/firestore"
	"github.com/pushline/go-push-delivery/pkg/push"
	"github.com/pushline/go-push-delivery/pushdelivery"
	"github.com/pushline/go-push-delivery/pushdelivery/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-delivery")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	store := fsStore.NewStore(fsClient)

	// --- Registry (Decorated) + Queue ---
	var registry push.DeviceRegistry = store
	logger.Info("Device registry initialized", "type", "firestore")

	deps := pushdelivery.Dependencies{
		Registry: registry,
		Store:    store,
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		deps.Registry = cache.NewCachedRegistry(registry, redisClient, cfg.RegistryCacheTTL)
		logger.Info("Device registry upgraded", "type", "redis_cached_firestore")

		redisQueue := queue.NewRedisQueue(redisClient.Raw(), logger)
		deps.Queue = redisQueue
		deps.QueueSource = redisQueue
	} else {
		logger.Warn("Redis disabled; deferred delivery and registry caching are off.")
	}

	// --- Dispatchers ---

	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	deps.Dispatchers = append(deps.Dispatchers, fcm.NewDispatcher(fcmMessaging, logger))

	// B. Mobile (APNs) - only when credentials are present, so a
	// deployment without an Apple app still runs.
	if cfg.APNS.P8KeyContent != "" {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
		}, logger)
		if err != nil {
			logger.Error("Failed to create APNs dispatcher", "err", err)
			os.Exit(1)
		}
		deps.Dispatchers = append(deps.Dispatchers, apnsDispatcher)
	} else {
		logger.Warn("APNs signing key missing. APNs deliveries will report the channel unavailable.")
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	} else {
		logger.Info("Web Push dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}
	deps.Dispatchers = append(deps.Dispatchers, webpush.NewDispatcher(webpush.Config{
		PublicKey:       cfg.Vapid.PublicKey,
		PrivateKey:      cfg.Vapid.PrivateKey,
		SubscriberEmail: cfg.Vapid.SubscriberEmail,
	}, logger))

	// --- Service ---
	service, err := pushdelivery.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	// --- Ingest Consumer (optional) ---
	if cfg.SubscriptionID != "" && cfg.TopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		subscriber, err := ingest.EnsureSubscription(ctx, psClient, cfg.ProjectID,
			cfg.SubscriptionID, cfg.TopicID, cfg.SubscriptionDLQTopicID, logger)
		if err != nil {
			logger.Error("Failed to ensure ingest subscription", "err", err)
			os.Exit(1)
		}
		service.AttachConsumer(ingest.NewConsumer(subscriber, service.Coordinator, service.Scheduler, logger))
	} else {
		logger.Info("No Pub/Sub subscription configured, HTTP-only mode.")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}
