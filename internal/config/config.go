// Package config provides configuration loading, validation, and management
// for the linkbot gateway. It handles reading from YAML files, setting default
// values, environment overrides, and validating configuration parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvProduction is the deployment environment value that enables push-mode
// transport selection.
const EnvProduction = "production"

// Config defines the application configuration. Values can be set via
// config.yaml or environment variables prefixed with BOT_
// (e.g. BOT_LOG_LEVEL). The platform-wide variables BOT_ACCESS_TOKEN,
// PUBLIC_WEBHOOK_BASE_URL, DEPLOYMENT_ENV and BOT_DEBUG are bound explicitly.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Deployment   DeploymentConfig   `mapstructure:"deployment"`
	Bot          BotConfig          `mapstructure:"bot"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	API          APIConfig          `mapstructure:"api"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Verification VerificationConfig `mapstructure:"verification"`
	Messages     MessagesConfig     `mapstructure:"messages"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DeploymentConfig classifies the running environment.
type DeploymentConfig struct {
	Env string `mapstructure:"env" validate:"required,oneof=production staging development test"`
}

// BotConfig holds the messaging-platform credential and lifecycle tuning.
// An empty AccessToken disables the bot feature; it is not a fatal condition.
type BotConfig struct {
	AccessToken string `mapstructure:"access_token"`
	Debug       bool   `mapstructure:"debug"`

	InitGuard          time.Duration `mapstructure:"init_guard"           validate:"min=0,max=1m"`
	RestartGrace       time.Duration `mapstructure:"restart_grace"        validate:"min=0,max=1m"`
	ConflictRetryDelay time.Duration `mapstructure:"conflict_retry_delay" validate:"min=0,max=10m"`
	UnhealthyAfter     int           `mapstructure:"unhealthy_after"      validate:"min=1"`
}

// WebhookConfig configures push-mode transport. PublicBaseURL is the
// externally reachable base; push mode is used only when it is set and the
// deployment environment is production.
type WebhookConfig struct {
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`
	ListenAddr    string `mapstructure:"listen_addr"     validate:"required"`
	Path          string `mapstructure:"path"            validate:"required,startswith=/"`
}

// APIConfig configures the internal HTTP surface used by the rest of the
// platform to inject notifications and probe health. It must not be exposed
// publicly.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// VerificationConfig tunes the one-time code protocol.
type VerificationConfig struct {
	CodeLength     int           `mapstructure:"code_length"     validate:"min=6,max=32"`
	CodeTTL        time.Duration `mapstructure:"code_ttl"        validate:"min=1m,max=168h"`
	PurgeRetention time.Duration `mapstructure:"purge_retention" validate:"min=1h"`
}

// MessagesConfig holds user-facing reply templates.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome"        validate:"required"`
	Help          string `mapstructure:"help"           validate:"required"`
	GeneralError  string `mapstructure:"general_error"  validate:"required"`
	NotLinked     string `mapstructure:"not_linked"     validate:"required"`
	InvalidCode   string `mapstructure:"invalid_code"   validate:"required"`
	AlreadyUsed   string `mapstructure:"already_used"   validate:"required"`
	Expired       string `mapstructure:"expired"        validate:"required"`
}

// SchedulerConfig configures scheduled background tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a single scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml file (optional)
// 3. Environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Spec-level environment variables keep their historical names.
	bindings := map[string]string{
		"bot.access_token":        "BOT_ACCESS_TOKEN",
		"bot.debug":               "BOT_DEBUG",
		"webhook.public_base_url": "PUBLIC_WEBHOOK_BASE_URL",
		"deployment.env":          "DEPLOYMENT_ENV",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	// Allow missing config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether the deployment is classified as production.
func (c *Config) IsProduction() bool {
	return c.Deployment.Env == EnvProduction
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("deployment.env", "development")

	v.SetDefault("bot.init_guard", 3*time.Second)
	v.SetDefault("bot.restart_grace", 2*time.Second)
	v.SetDefault("bot.conflict_retry_delay", 5*time.Second)
	v.SetDefault("bot.unhealthy_after", 3)

	v.SetDefault("webhook.listen_addr", ":8443")
	v.SetDefault("webhook.path", "/telegram/webhook")

	v.SetDefault("api.listen_addr", "127.0.0.1:8081")

	v.SetDefault("database.path", "linkbot.db")

	v.SetDefault("verification.code_length", 8)
	v.SetDefault("verification.code_ttl", 15*time.Minute)
	v.SetDefault("verification.purge_retention", 24*time.Hour)

	v.SetDefault("messages.welcome", "👋 Welcome! Your chat ID is `%d`. Enter it in your account settings to receive a verification code, then send /verify_<code> here.")
	v.SetDefault("messages.help", "Available commands:\n/start - show your chat ID\n/verify_<code> - link this chat to your account\n/status - show link status\n/transactions - show your last transactions\n/disconnect - unlink this chat\n/ping - check the bot is alive")
	v.SetDefault("messages.general_error", "❌ An error occurred. Please try again later.")
	v.SetDefault("messages.not_linked", "This chat is not linked to any account. Your chat ID is `%d`.")
	v.SetDefault("messages.invalid_code", "❌ Invalid verification code.")
	v.SetDefault("messages.already_used", "❌ This verification code has already been used.")
	v.SetDefault("messages.expired", "❌ This verification code has expired. Request a new one from your account settings.")

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"purge_codes": {Enabled: true, Schedule: "0 0 4 * * *"},
		"bot_health":  {Enabled: true, Schedule: "0 */1 * * * *"},
	})
}
