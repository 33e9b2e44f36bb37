/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payout-webhook-service.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisLockPrefix        string `mapstructure:"REDIS_LOCK_PREFIX"`
	TransferLockTTLSeconds int    `mapstructure:"TRANSFER_LOCK_TTL_SECONDS"`
	DeliveryExchange       string `mapstructure:"DELIVERY_EXCHANGE"`
	DeliveryQueue          string `mapstructure:"DELIVERY_QUEUE"`
	NotificationExchange   string `mapstructure:"NOTIFICATION_EXCHANGE"`
	NotificationQueue      string `mapstructure:"NOTIFICATION_QUEUE"`
	WiseAPIBaseURL         string `mapstructure:"WISE_API_BASE_URL"`
	WiseProfileID          string `mapstructure:"WISE_PROFILE_ID"`
	WiseWebhookPublicKey   string `mapstructure:"WISE_WEBHOOK_PUBLIC_KEY"`
	InternalJWTSecret      string `mapstructure:"INTERNAL_JWT_SECRET"`
	MaxDeliveryAttempts    int    `mapstructure:"MAX_DELIVERY_ATTEMPTS"`
	RetrySweepSchedule     string `mapstructure:"RETRY_SWEEP_SCHEDULE"`
	SendGridAPIKey         string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail      string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName       string `mapstructure:"SENDGRID_FROM_NAME"`
	SendGridSandboxMode    bool   `mapstructure:"SENDGRID_SANDBOX_MODE"`
}

const (
	defaultServerPort           = "8080"
	defaultRedisLockPrefix      = "payout:transfer_lock"
	defaultTransferLockTTL      = 30
	defaultDeliveryExchange     = "payout.webhooks"
	defaultDeliveryQueue        = "payout_webhook_service.deliveries"
	defaultNotificationExchange = "payout.notifications"
	defaultNotificationQueue    = "payout_webhook_service.investor_emails"
	defaultWiseAPIBaseURL       = "https://api.transferwise.com"
	defaultMaxDeliveryAttempts  = 5
	defaultRetrySweepSchedule   = "@every 30s"
)

// LoadConfig reads configuration from environment variables and an optional .env
// file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("REDIS_LOCK_PREFIX", defaultRedisLockPrefix)
	viper.SetDefault("TRANSFER_LOCK_TTL_SECONDS", defaultTransferLockTTL)
	viper.SetDefault("DELIVERY_EXCHANGE", defaultDeliveryExchange)
	viper.SetDefault("DELIVERY_QUEUE", defaultDeliveryQueue)
	viper.SetDefault("NOTIFICATION_EXCHANGE", defaultNotificationExchange)
	viper.SetDefault("NOTIFICATION_QUEUE", defaultNotificationQueue)
	viper.SetDefault("WISE_API_BASE_URL", defaultWiseAPIBaseURL)
	viper.SetDefault("MAX_DELIVERY_ATTEMPTS", defaultMaxDeliveryAttempts)
	viper.SetDefault("RETRY_SWEEP_SCHEDULE", defaultRetrySweepSchedule)
	viper.SetDefault("SENDGRID_FROM_NAME", "Payouts")
	viper.SetDefault("SENDGRID_SANDBOX_MODE", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL", "RABBITMQ_URL", "CLOUDAMQP_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("TRANSFER_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("DELIVERY_EXCHANGE")
	_ = viper.BindEnv("DELIVERY_QUEUE")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_QUEUE")
	_ = viper.BindEnv("WISE_API_BASE_URL")
	_ = viper.BindEnv("WISE_PROFILE_ID")
	_ = viper.BindEnv("WISE_WEBHOOK_PUBLIC_KEY")
	_ = viper.BindEnv("INTERNAL_JWT_SECRET")
	_ = viper.BindEnv("MAX_DELIVERY_ATTEMPTS")
	_ = viper.BindEnv("RETRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SENDGRID_API_KEY")
	_ = viper.BindEnv("SENDGRID_FROM_EMAIL")
	_ = viper.BindEnv("SENDGRID_FROM_NAME")
	_ = viper.BindEnv("SENDGRID_SANDBOX_MODE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSpace(config.RedisLockPrefix)
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = defaultRedisLockPrefix
	}
	if config.TransferLockTTLSeconds <= 0 {
		config.TransferLockTTLSeconds = defaultTransferLockTTL
	}
	if config.MaxDeliveryAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"invalid MAX_DELIVERY_ATTEMPTS; using default\" value=%d", config.MaxDeliveryAttempts)
		config.MaxDeliveryAttempts = defaultMaxDeliveryAttempts
	}
	if strings.TrimSpace(config.RetrySweepSchedule) == "" {
		config.RetrySweepSchedule = defaultRetrySweepSchedule
	}
	config.WiseProfileID = strings.TrimSpace(config.WiseProfileID)
	config.WiseAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.WiseAPIBaseURL), "/")
	config.WiseWebhookPublicKey = normalizePEM(config.WiseWebhookPublicKey)
	config.InternalJWTSecret = strings.TrimSpace(config.InternalJWTSecret)
	config.SendGridAPIKey = strings.TrimSpace(config.SendGridAPIKey)
	config.SendGridFromEmail = strings.TrimSpace(config.SendGridFromEmail)

	return
}

// normalizePEM restores newlines in keys passed through single-line env vars.
func normalizePEM(raw string) string {
	key := strings.Trim(strings.TrimSpace(raw), "\"'")
	return strings.ReplaceAll(key, `\n`, "\n")
}
