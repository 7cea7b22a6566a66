package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the notification
// daemon. Values load from the environment with optional .env support.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	LINE     LINEConfig
	SMTP     SMTPConfig
	SMS      SMSConfig
	Retry    RetryConfig
	Timeouts TimeoutConfig
	Kafka    KafkaConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// DatabaseConfig holds the delivery log database connection settings.
type DatabaseConfig struct {
	URL string
}

// LINEConfig stores LINE Messaging API credentials. The channel secret
// signs inbound webhooks; the channel token authenticates outbound
// pushes.
type LINEConfig struct {
	ChannelSecret string
	ChannelToken  string
	APIBaseURL    string
}

// SMTPConfig stores SMTP credentials for email delivery.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMSConfig stores the SMS gateway credentials and dialing defaults.
type SMSConfig struct {
	APIBaseURL  string
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CountryCode string
}

// RetryConfig controls same-channel retry behaviour. BackoffUnitSeconds
// is the linear backoff unit: the n-th retry waits n*unit.
type RetryConfig struct {
	MaxAttempts        int
	BackoffUnitSeconds int
	WorkerConcurrency  int
	SweepInterval      string
}

// TimeoutConfig bounds outbound provider calls so a stalled transport
// cannot block the fallback chain.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// KafkaConfig configures the optional delivery status event stream.
// When Brokers is empty the daemon runs with a no-op publisher.
type KafkaConfig struct {
	Brokers     []string
	StatusTopic string
}

// Load reads environment variables, applies defaults, validates
// required values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Database.URL = ldr.getString("DATABASE_URL", "", true)

	cfg.LINE.ChannelSecret = ldr.getString("LINE_CHANNEL_SECRET", "", true)
	cfg.LINE.ChannelToken = ldr.getString("LINE_CHANNEL_TOKEN", "", true)
	cfg.LINE.APIBaseURL = ldr.getString("LINE_API_BASE_URL", "https://api.line.me", false)

	cfg.SMTP.Host = ldr.getString("SMTP_HOST", "", true)
	cfg.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.SMTP.From = ldr.getString("SMTP_FROM", "", true)

	cfg.SMS.APIBaseURL = ldr.getString("SMS_API_BASE_URL", "https://api.twilio.com", false)
	cfg.SMS.AccountSID = ldr.getString("SMS_ACCOUNT_SID", "", true)
	cfg.SMS.AuthToken = ldr.getString("SMS_AUTH_TOKEN", "", true)
	cfg.SMS.FromNumber = ldr.getString("SMS_FROM_NUMBER", "", true)
	cfg.SMS.CountryCode = ldr.getString("SMS_COUNTRY_CODE", "81", false)

	cfg.Retry.MaxAttempts = ldr.getInt("RETRY_MAX_ATTEMPTS", 3, false)
	cfg.Retry.BackoffUnitSeconds = ldr.getInt("RETRY_BACKOFF_UNIT_SECONDS", 300, false)
	cfg.Retry.WorkerConcurrency = ldr.getInt("RETRY_WORKER_CONCURRENCY", 4, false)
	cfg.Retry.SweepInterval = ldr.getString("RETRY_SWEEP_INTERVAL", "@every 1m", false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 10, false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "notification.status", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
