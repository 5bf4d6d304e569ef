// Package config loads authflow-server settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/frog8/authflow"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds service configuration. Library tunables not exposed here keep
// authflow.DefaultConfig values.
type Config struct {
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	Env            string `mapstructure:"APP_ENV"`
	LogDevelopment bool   `mapstructure:"LOG_DEVELOPMENT"`

	// RedisAddr empty selects the simulated backend.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	OTPDigits      int           `mapstructure:"OTP_DIGITS"`
	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPReveal logs issued codes in clear text. Refused when APP_ENV=production.
	OTPReveal bool `mapstructure:"OTP_REVEAL"`

	IssueDelay      time.Duration `mapstructure:"ISSUE_DELAY"`
	VerifyDelay     time.Duration `mapstructure:"VERIFY_DELAY"`
	AckDelay        time.Duration `mapstructure:"ACK_DELAY"`
	StepTimeout     time.Duration `mapstructure:"STEP_TIMEOUT"`
	FlowIdleTimeout time.Duration `mapstructure:"FLOW_IDLE_TIMEOUT"`

	// GrantSecret enables portal grants when set; at least 32 bytes.
	GrantSecret string        `mapstructure:"GRANT_SECRET"`
	GrantTTL    time.Duration `mapstructure:"GRANT_TTL"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `mapstructure:"TWILIO_FROM"`

	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	AuditEnabled    bool   `mapstructure:"AUDIT_ENABLED"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	AuditMongoDB    string `mapstructure:"AUDIT_MONGO_DB"`

	CORSOrigins      string  `mapstructure:"CORS_ORIGINS"`
	APIRatePerSecond float64 `mapstructure:"API_RATE_PER_SECOND"`
	APIRateBurst     int     `mapstructure:"API_RATE_BURST"`
	MetricsEnabled   bool    `mapstructure:"METRICS_ENABLED"`
}

// Load reads the given .env files (default ".env") into the process
// environment, then builds Config from the environment via viper. Missing
// files are ignored; variables already set win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	defaults := authflow.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTP_DIGITS", defaults.OTP.Digits)
	v.SetDefault("OTP_TTL", defaults.OTP.TTL)
	v.SetDefault("OTP_MAX_ATTEMPTS", defaults.OTP.MaxAttempts)
	v.SetDefault("OTP_REVEAL", false)
	v.SetDefault("ISSUE_DELAY", defaults.Simulation.IssueDelay)
	v.SetDefault("VERIFY_DELAY", defaults.Simulation.VerifyDelay)
	v.SetDefault("ACK_DELAY", defaults.Flow.AckDelay)
	v.SetDefault("STEP_TIMEOUT", defaults.Flow.StepTimeout)
	v.SetDefault("FLOW_IDLE_TIMEOUT", defaults.Flow.IdleTimeout)
	v.SetDefault("GRANT_SECRET", "")
	v.SetDefault("GRANT_TTL", defaults.Grant.TTL)
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM", "")
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "authflow-audit")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("AUDIT_MONGO_DB", "authflow")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("API_RATE_PER_SECOND", 5.0)
	v.SetDefault("API_RATE_BURST", 20)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.OTPReveal && cfg.IsProduction() {
		return nil, errors.New("config: OTP_REVEAL must not be true when APP_ENV=production")
	}
	if cfg.GrantSecret != "" && len(cfg.GrantSecret) < 32 {
		return nil, errors.New("config: GRANT_SECRET must be at least 32 bytes")
	}
	if cfg.TwilioAccountSID != "" && (cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "") {
		return nil, errors.New("config: TWILIO_AUTH_TOKEN and TWILIO_FROM are required with TWILIO_ACCOUNT_SID")
	}
	if cfg.APIRatePerSecond < 0 || cfg.APIRateBurst < 0 {
		return nil, errors.New("config: API rate limits must be >= 0")
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// EngineConfig maps service settings onto the library configuration.
func (c *Config) EngineConfig() authflow.Config {
	cfg := authflow.DefaultConfig()

	cfg.Flow.AckDelay = c.AckDelay
	cfg.Flow.StepTimeout = c.StepTimeout
	cfg.Flow.IdleTimeout = c.FlowIdleTimeout
	cfg.Simulation.IssueDelay = c.IssueDelay
	cfg.Simulation.VerifyDelay = c.VerifyDelay
	cfg.OTP.Digits = c.OTPDigits
	cfg.OTP.TTL = c.OTPTTL
	cfg.OTP.MaxAttempts = c.OTPMaxAttempts

	if c.GrantSecret != "" {
		cfg.Grant.Enabled = true
		cfg.Grant.SigningMethod = "hs256"
		cfg.Grant.PrivateKey = []byte(c.GrantSecret)
		cfg.Grant.TTL = c.GrantTTL
	}

	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	return cfg
}

// KafkaBrokersList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokersList() []string {
	return splitList(c.KafkaBrokers)
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
