package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIssueRateLimited        = errors.New("otp issuance rate limited")
	ErrIssueLimiterUnavailable = errors.New("otp issuance limiter unavailable")
)

type OTPIssueConfig struct {
	Prefix              string
	EnablePhoneThrottle bool
	EnableIPThrottle    bool
	Window              time.Duration
	MaxIssues           int
}

// OTPIssueLimiter counts code issuances per phone and per client IP in
// fixed windows.
type OTPIssueLimiter struct {
	redis  redis.UniversalClient
	config OTPIssueConfig
}

func NewOTPIssueLimiter(redisClient redis.UniversalClient, cfg OTPIssueConfig) *OTPIssueLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "af"
	}
	return &OTPIssueLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckIssue counts one issuance against phone and ip. An empty ip skips the
// IP window.
func (l *OTPIssueLimiter) CheckIssue(ctx context.Context, phone, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnablePhoneThrottle {
		if err := l.enforceFixedWindow(ctx, l.PhoneKey(phone)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.IPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *OTPIssueLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIssueLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrIssueLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxIssues) {
		return ErrIssueRateLimited
	}
	return nil
}

func (l *OTPIssueLimiter) PhoneKey(phone string) string {
	return l.config.Prefix + "i:" + phone
}

func (l *OTPIssueLimiter) IPKey(ip string) string {
	return l.config.Prefix + "ip:" + ip
}
