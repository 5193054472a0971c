package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushline/go-push-delivery/pushdelivery/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:              "yaml-project",
			ListenAddr:             ":9000",
			TopicID:                "yaml-topic",
			SubscriptionID:         "yaml-subscription",
			SubscriptionDLQTopicID: "yaml-dlq",
			RedisConfig: config.YamlRedisConfig{
				Addr:    "localhost:6379",
				DB:      2,
				Enabled: true,
			},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:       "yaml-public-key",
				PrivateKey:      "yaml-private-key",
				SubscriberEmail: "yaml@test.com",
			},
			APNSConfig: config.YamlAPNSConfig{
				KeyID:    "yaml-key",
				TeamID:   "yaml-team",
				BundleID: "com.yaml.app",
			},
			QueuePollInterval: "500ms",
			RegistryCacheTTL:  "1h",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)

		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.True(t, cfg.Redis.Enabled)

		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml-private-key", cfg.Vapid.PrivateKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)

		assert.Equal(t, "yaml-key", cfg.APNS.KeyID)
		assert.Equal(t, "yaml-team", cfg.APNS.TeamID)
		assert.Equal(t, "com.yaml.app", cfg.APNS.BundleID)

		assert.Equal(t, 500*time.Millisecond, cfg.Queue.PollInterval)
		assert.Equal(t, time.Hour, cfg.RegistryCacheTTL)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Empty(t, cfg.ListenAddr)
		assert.False(t, cfg.Redis.Enabled)
		assert.Empty(t, cfg.Vapid.PublicKey)
		assert.Zero(t, cfg.Queue.PollInterval)
	})

	t.Run("Invalid durations are ignored, not fatal", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:         "p",
			QueuePollInterval: "soon",
			RegistryCacheTTL:  "a while",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Zero(t, cfg.Queue.PollInterval)
		assert.Zero(t, cfg.RegistryCacheTTL)
	})
}
