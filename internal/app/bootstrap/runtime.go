package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/homecare-visits/internal/config"
	"github.com/wolfman30/homecare-visits/internal/events"
	"github.com/wolfman30/homecare-visits/internal/notify"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// AWSConfigLoader resolves SDK configuration for the SES fallback.
type AWSConfigLoader func(ctx context.Context, cfg *appconfig.Config) (aws.Config, error)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildEmailSender prefers SendGrid, then SES, and returns nil when neither is configured.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, loadAWS AWSConfigLoader) notify.EmailSender {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		logger.Info("admin email via sendgrid")
		return sg
	}

	if strings.TrimSpace(cfg.SESFromEmail) == "" || loadAWS == nil {
		return nil
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		logger.Warn("ses disabled: aws config failed", "error", err)
		return nil
	}
	ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
		FromEmail: cfg.SESFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	if ses == nil {
		return nil
	}
	logger.Info("admin email via ses", "region", awsCfg.Region)
	return ses
}

// BuildAdminAlerter wraps the configured email sender. A nil result disables alerts.
func BuildAdminAlerter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, loadAWS AWSConfigLoader) *notify.AdminAlerter {
	sender := BuildEmailSender(ctx, cfg, logger, loadAWS)
	if sender == nil {
		return nil
	}
	return notify.NewAdminAlerter(sender, cfg.AdminAlertEmails, logger)
}

// BuildLifecycleSink publishes outbox events to Kafka when brokers are configured,
// otherwise it logs them. The returned close func is never nil.
func BuildLifecycleSink(cfg *appconfig.Config, logger *logging.Logger) (events.DeliveryHandler, func() error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && len(cfg.KafkaBrokers) > 0 {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaLifecycleTopic)
		logger.Info("lifecycle events to kafka", "topic", cfg.KafkaLifecycleTopic, "brokers", len(cfg.KafkaBrokers))
		return sink, sink.Close
	}
	return events.NewLogSink(logger), func() error { return nil }
}
