/**
 * @description
 * This package handles configuration management for the lifecycle-service. It
 * uses Viper to read settings from environment variables, with defaults for
 * every lifecycle tuning knob.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration variables for the lifecycle-service.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	JWKSURL             string `mapstructure:"JWKS_URL"`
	ComputeAPIBaseURL   string `mapstructure:"COMPUTE_API_BASE_URL"`
	ComputeAPIKey       string `mapstructure:"COMPUTE_API_KEY"`
	ComputeProject      string `mapstructure:"COMPUTE_PROJECT"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`

	LifecycleSweepSchedule string `mapstructure:"LIFECYCLE_SWEEP_SCHEDULE"`
	CPanelSweepSchedule    string `mapstructure:"CPANEL_SWEEP_SCHEDULE"`

	GracePeriodDays             int   `mapstructure:"GRACE_PERIOD_DAYS"`
	SuspensionPeriodDays        int   `mapstructure:"SUSPENSION_PERIOD_DAYS"`
	ReinstatementFeeCents       int64 `mapstructure:"REINSTATEMENT_FEE_CENTS"`
	DueBufferSeconds            int   `mapstructure:"DUE_BUFFER_SECONDS"`
	CPanelReminderWindowMinutes int   `mapstructure:"CPANEL_REMINDER_WINDOW_MINUTES"`
	ProvisionOpTimeoutSeconds   int   `mapstructure:"PROVISION_OP_TIMEOUT_SECONDS"`

	WebhostPlanID string `mapstructure:"WEBHOST_PLAN_ID"`

	RenewRateLimitPerMinute int    `mapstructure:"RENEW_RATE_LIMIT_PER_MINUTE"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "notifications")
	viper.SetDefault("LIFECYCLE_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("CPANEL_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("GRACE_PERIOD_DAYS", 5)
	viper.SetDefault("SUSPENSION_PERIOD_DAYS", 0)
	viper.SetDefault("REINSTATEMENT_FEE_CENTS", 100) // one unit of currency
	viper.SetDefault("DUE_BUFFER_SECONDS", 60)
	viper.SetDefault("CPANEL_REMINDER_WINDOW_MINUTES", 21600) // 15 days
	viper.SetDefault("PROVISION_OP_TIMEOUT_SECONDS", 120)
	viper.SetDefault("RENEW_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "lifecycle:rate_limit")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("COMPUTE_API_BASE_URL")
	_ = viper.BindEnv("COMPUTE_API_KEY")
	_ = viper.BindEnv("COMPUTE_PROJECT")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("LIFECYCLE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("CPANEL_SWEEP_SCHEDULE")
	_ = viper.BindEnv("GRACE_PERIOD_DAYS")
	_ = viper.BindEnv("SUSPENSION_PERIOD_DAYS")
	_ = viper.BindEnv("REINSTATEMENT_FEE_CENTS")
	_ = viper.BindEnv("DUE_BUFFER_SECONDS")
	_ = viper.BindEnv("CPANEL_REMINDER_WINDOW_MINUTES")
	_ = viper.BindEnv("PROVISION_OP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("WEBHOST_PLAN_ID")
	_ = viper.BindEnv("RENEW_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
