package authflow

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigMatchesLoginFormTimings(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Simulation.IssueDelay != 1500*time.Millisecond || cfg.Simulation.VerifyDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected simulation delays %+v", cfg.Simulation)
	}
	if cfg.Flow.AckDelay != 2*time.Second {
		t.Fatalf("unexpected ack delay %v", cfg.Flow.AckDelay)
	}
	if cfg.OTP.Digits != 6 {
		t.Fatalf("unexpected digits %d", cfg.OTP.Digits)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "ack delay zero valid",
			mutate:    func(c *Config) { c.Flow.AckDelay = 0 },
			wantValid: true,
		},
		{
			name:      "ack delay negative invalid",
			mutate:    func(c *Config) { c.Flow.AckDelay = -time.Second },
			wantValid: false,
		},
		{
			name:      "step timeout negative invalid",
			mutate:    func(c *Config) { c.Flow.StepTimeout = -time.Second },
			wantValid: false,
		},
		{
			name: "janitor without idle timeout invalid",
			mutate: func(c *Config) {
				c.Flow.JanitorInterval = time.Second
				c.Flow.IdleTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "janitor disabled without idle timeout valid",
			mutate: func(c *Config) {
				c.Flow.JanitorInterval = 0
				c.Flow.IdleTimeout = 0
			},
			wantValid: true,
		},
		{
			name:      "max flows negative invalid",
			mutate:    func(c *Config) { c.Flow.MaxFlows = -1 },
			wantValid: false,
		},
		{
			name:      "simulation delay negative invalid",
			mutate:    func(c *Config) { c.Simulation.VerifyDelay = -time.Millisecond },
			wantValid: false,
		},
		{
			name:      "digits 8 valid",
			mutate:    func(c *Config) { c.OTP.Digits = 8 },
			wantValid: true,
		},
		{
			name:      "digits 5 invalid",
			mutate:    func(c *Config) { c.OTP.Digits = 5 },
			wantValid: false,
		},
		{
			name:      "digits 11 invalid",
			mutate:    func(c *Config) { c.OTP.Digits = 11 },
			wantValid: false,
		},
		{
			name:      "otp ttl too long invalid",
			mutate:    func(c *Config) { c.OTP.TTL = time.Hour },
			wantValid: false,
		},
		{
			name:      "max attempts zero invalid",
			mutate:    func(c *Config) { c.OTP.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "blank redis prefix invalid",
			mutate:    func(c *Config) { c.OTP.RedisPrefix = "  " },
			wantValid: false,
		},
		{
			name: "throttles without window invalid",
			mutate: func(c *Config) {
				c.OTP.IssueWindow = 0
			},
			wantValid: false,
		},
		{
			name: "throttles off without window valid",
			mutate: func(c *Config) {
				c.OTP.EnablePhoneThrottle = false
				c.OTP.EnableIPThrottle = false
				c.OTP.IssueWindow = 0
			},
			wantValid: true,
		},
		{
			name: "grant hs256 valid",
			mutate: func(c *Config) {
				c.Grant.Enabled = true
				c.Grant.PrivateKey = secret
			},
			wantValid: true,
		},
		{
			name: "grant hs256 short secret invalid",
			mutate: func(c *Config) {
				c.Grant.Enabled = true
				c.Grant.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "grant ed25519 missing public key invalid",
			mutate: func(c *Config) {
				c.Grant.Enabled = true
				c.Grant.SigningMethod = "ed25519"
				c.Grant.PrivateKey = secret
			},
			wantValid: false,
		},
		{
			name: "grant unknown method invalid",
			mutate: func(c *Config) {
				c.Grant.Enabled = true
				c.Grant.SigningMethod = "rs256"
				c.Grant.PrivateKey = secret
			},
			wantValid: false,
		},
		{
			name: "grant blank audience invalid",
			mutate: func(c *Config) {
				c.Grant.Enabled = true
				c.Grant.PrivateKey = secret
				c.Grant.Audience = "   "
			},
			wantValid: false,
		},
		{
			name: "grant disabled ignores keys",
			mutate: func(c *Config) {
				c.Grant.SigningMethod = "rs256"
			},
			wantValid: true,
		},
		{
			name: "audit zero buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestBuildConfigImmutabilityAgainstExternalMutation(t *testing.T) {
	cfg := testConfig()
	cfg.Grant.Enabled = true
	cfg.Grant.PrivateKey = []byte("01234567890123456789012345678901")

	engine := buildTestEngine(t, cfg, nil)

	before := engine.config.Grant.PrivateKey[0]
	cfg.Grant.PrivateKey[0] = 'X'

	if engine.config.Grant.PrivateKey[0] != before {
		t.Fatal("engine config key mutated from external config after build")
	}
}
