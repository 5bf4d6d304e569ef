package authflow

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of an Engine. Build clones it, so mutating a
// Config after Build has no effect on the running engine.
type Config struct {
	Flow       FlowConfig
	Simulation SimulationConfig
	OTP        OTPConfig
	Grant      GrantConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig controls controller timing and registry housekeeping.
type FlowConfig struct {
	// AckDelay is how long the success acknowledgement shows before the
	// completion notification fires.
	AckDelay time.Duration
	// StepTimeout bounds every backend step. Zero disables the bound.
	StepTimeout time.Duration
	// IdleTimeout is how long a flow may sit untouched before the janitor
	// closes it as abandoned.
	IdleTimeout time.Duration
	// RetainCompleted keeps finished flows readable for this long after the
	// completion notification.
	RetainCompleted time.Duration
	// JanitorInterval is the sweep period. Zero disables the janitor.
	JanitorInterval time.Duration
	// MaxFlows caps live flows per engine. Zero means unlimited.
	MaxFlows int
}

/*
====================================
SIMULATION CONFIG
====================================
*/

// SimulationConfig drives SimulatedBackend, the fixed-delay stand-in for a
// real issuance service.
type SimulationConfig struct {
	IssueDelay  time.Duration
	VerifyDelay time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls code shape and the Redis backed issuance path.
type OTPConfig struct {
	Digits              int
	TTL                 time.Duration
	MaxAttempts         int
	RedisPrefix         string
	EnablePhoneThrottle bool
	EnableIPThrottle    bool
	IssueWindow         time.Duration
	MaxIssuesPerWindow  int
}

/*
====================================
GRANT CONFIG
====================================
*/

// GrantConfig controls the portal grant minted on success.
type GrantConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration matching the original investor
// login form: 1.5s simulated send and verify, 2s acknowledgement, 6 digit codes.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			AckDelay:        2 * time.Second,
			StepTimeout:     30 * time.Second,
			IdleTimeout:     15 * time.Minute,
			RetainCompleted: 5 * time.Minute,
			JanitorInterval: time.Minute,
			MaxFlows:        0,
		},
		Simulation: SimulationConfig{
			IssueDelay:  1500 * time.Millisecond,
			VerifyDelay: 1500 * time.Millisecond,
		},
		OTP: OTPConfig{
			Digits:              6,
			TTL:                 5 * time.Minute,
			MaxAttempts:         5,
			RedisPrefix:         "af",
			EnablePhoneThrottle: true,
			EnableIPThrottle:    true,
			IssueWindow:         15 * time.Minute,
			MaxIssuesPerWindow:  5,
		},
		Grant: GrantConfig{
			Enabled:       false,
			TTL:           30 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "frog8-authflow",
			Audience:      "frog8-investor-portal",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Grant.PrivateKey = cloneBytes(cfg.Grant.PrivateKey)
	out.Grant.PublicKey = cloneBytes(cfg.Grant.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting. Build calls it; callers loading
// config from files or env can call it early to fail fast.
func (c *Config) Validate() error {
	// Flow
	if c.Flow.AckDelay < 0 {
		return errors.New("Flow AckDelay must be >= 0")
	}
	if c.Flow.StepTimeout < 0 {
		return errors.New("Flow StepTimeout must be >= 0")
	}
	if c.Flow.JanitorInterval < 0 {
		return errors.New("Flow JanitorInterval must be >= 0")
	}
	if c.Flow.JanitorInterval > 0 && c.Flow.IdleTimeout <= 0 {
		return errors.New("Flow IdleTimeout must be > 0 when the janitor is enabled")
	}
	if c.Flow.RetainCompleted < 0 {
		return errors.New("Flow RetainCompleted must be >= 0")
	}
	if c.Flow.MaxFlows < 0 {
		return errors.New("Flow MaxFlows must be >= 0")
	}

	// Simulation
	if c.Simulation.IssueDelay < 0 || c.Simulation.VerifyDelay < 0 {
		return errors.New("Simulation delays must be >= 0")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.TTL > 15*time.Minute {
		return errors.New("OTP TTL must be <= 15m")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP MaxAttempts must be between 1 and 10")
	}
	if strings.TrimSpace(c.OTP.RedisPrefix) == "" {
		return errors.New("OTP RedisPrefix must not be empty")
	}
	if c.OTP.EnablePhoneThrottle || c.OTP.EnableIPThrottle {
		if c.OTP.IssueWindow <= 0 {
			return errors.New("OTP IssueWindow must be > 0 when throttles are enabled")
		}
		if c.OTP.MaxIssuesPerWindow <= 0 {
			return errors.New("OTP MaxIssuesPerWindow must be > 0 when throttles are enabled")
		}
	}

	// Grant
	if c.Grant.Enabled {
		if c.Grant.TTL <= 0 {
			return errors.New("Grant TTL must be > 0")
		}
		switch c.Grant.SigningMethod {
		case "hs256":
			if len(c.Grant.PrivateKey) < 32 {
				return errors.New("hs256 grant secret must be at least 32 bytes")
			}
		case "ed25519":
			if len(c.Grant.PrivateKey) == 0 || len(c.Grant.PublicKey) == 0 {
				return errors.New("ed25519 grants require PrivateKey and PublicKey")
			}
		default:
			return errors.New("unsupported Grant signing method")
		}
		if c.Grant.Issuer != "" && strings.TrimSpace(c.Grant.Issuer) == "" {
			return errors.New("Grant Issuer must not be blank")
		}
		if c.Grant.Audience != "" && strings.TrimSpace(c.Grant.Audience) == "" {
			return errors.New("Grant Audience must not be blank")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
