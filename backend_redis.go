package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frog8/authflow/delivery"
	"github.com/frog8/authflow/internal"
	"github.com/frog8/authflow/internal/flows"
	"github.com/frog8/authflow/internal/limiters"
	"github.com/frog8/authflow/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RedisBackend issues real codes: a random OTP is hashed into Redis with a
// TTL and an attempt counter, then handed to a delivery.Sender. Verification
// is a single atomic consume.
//
// Keys (default prefix "af"): afc:<challengeID> holds the record,
// afi:<phone> and afip:<ip> hold the issuance throttle windows.
type RedisBackend struct {
	cfg     OTPConfig
	store   *stores.OTPStore
	limiter *limiters.OTPIssueLimiter
	sender  delivery.Sender
	deps    flows.OTPDeps
}

func NewRedisBackend(client redis.UniversalClient, cfg OTPConfig, sender delivery.Sender) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("redis backend requires a redis client")
	}
	if sender == nil {
		return nil, errors.New("redis backend requires a sender")
	}
	check := defaultConfig()
	check.OTP = cfg
	if err := check.Validate(); err != nil {
		return nil, err
	}

	b := &RedisBackend{
		cfg:    cfg,
		store:  stores.NewOTPStore(client, cfg.RedisPrefix),
		sender: sender,
		limiter: limiters.NewOTPIssueLimiter(client, limiters.OTPIssueConfig{
			Prefix:              cfg.RedisPrefix,
			EnablePhoneThrottle: cfg.EnablePhoneThrottle,
			EnableIPThrottle:    cfg.EnableIPThrottle,
			Window:              cfg.IssueWindow,
			MaxIssues:           cfg.MaxIssuesPerWindow,
		}),
	}
	b.deps = b.buildDeps(nil)
	return b, nil
}

// attach routes backend metrics and audit events through e.
func (b *RedisBackend) attach(e *Engine) {
	b.deps = b.buildDeps(e)
}

func (b *RedisBackend) IssueCode(ctx context.Context, creds Credentials) (Challenge, error) {
	res, err := flows.RunIssueOTP(ctx, creds.Phone, b.deps)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		ID:          res.ChallengeID,
		Destination: res.Destination,
		ExpiresAt:   res.ExpiresAt,
	}, nil
}

func (b *RedisBackend) VerifyCode(ctx context.Context, challenge Challenge, code string) error {
	if !internal.ValidChallengeID(challenge.ID) {
		return ErrCodeExpired
	}
	return flows.RunVerifyOTP(ctx, challenge.ID, code, b.deps)
}

func (b *RedisBackend) buildDeps(e *Engine) flows.OTPDeps {
	deps := flows.OTPDeps{
		Digits:      b.cfg.Digits,
		TTL:         b.cfg.TTL,
		MaxAttempts: b.cfg.MaxAttempts,

		ClientIPFromContext: clientIPFromContext,
		MaskPhone:           MaskPhone,

		CheckIssueLimiter: b.limiter.CheckIssue,
		MapLimiterError:   mapOTPLimiterError,
		MapStoreError:     mapOTPStoreError,

		NewChallengeID: internal.NewChallengeID,
		GenerateCode:   internal.NewOTP,
		HashCode:       internal.HashCode,

		SaveRecord: func(ctx context.Context, id string, rec flows.OTPStoreRecord, ttl time.Duration) error {
			return b.store.Save(ctx, id, &stores.OTPRecord{
				Phone:      rec.Phone,
				SecretHash: rec.SecretHash,
				ExpiresAt:  rec.ExpiresAt,
				Attempts:   rec.Attempts,
			}, ttl)
		},
		DeleteRecord: b.store.Delete,
		ConsumeRecord: func(ctx context.Context, id string, hash [32]byte, maxAttempts int, now time.Time) (flows.OTPStoreRecord, error) {
			rec, err := b.store.Consume(ctx, id, hash, maxAttempts, now)
			if err != nil {
				return flows.OTPStoreRecord{}, err
			}
			return flows.OTPStoreRecord{
				Phone:      rec.Phone,
				SecretHash: rec.SecretHash,
				ExpiresAt:  rec.ExpiresAt,
				Attempts:   rec.Attempts,
			}, nil
		},

		SendCode: b.sender.SendOTP,

		Metrics: flows.OTPMetrics{
			OTPIssued:           int(MetricOTPIssued),
			OTPIssueFailed:      int(MetricOTPIssueFailed),
			OTPVerified:         int(MetricOTPVerified),
			OTPRejected:         int(MetricOTPRejected),
			OTPAttemptsExceeded: int(MetricOTPAttemptsExceeded),
			OTPRateLimited:      int(MetricOTPRateLimited),
		},
		Events: flows.OTPEvents{
			OTPIssued:   auditEventOTPIssued,
			OTPRejected: auditEventOTPRejected,
			OTPVerified: auditEventOTPVerified,
		},
		Errors: flows.OTPErrors{
			EngineNotReady:   ErrEngineNotReady,
			RateLimited:      ErrRateLimited,
			Unavailable:      ErrServiceUnavailable,
			CodeMismatch:     ErrCodeMismatch,
			CodeExpired:      ErrCodeExpired,
			AttemptsExceeded: ErrAttemptsExceeded,
		},
	}

	if e != nil {
		deps.Now = e.now
		deps.MetricInc = func(id int) { e.metricInc(MetricID(id)) }
		deps.EmitAudit = func(ctx context.Context, event string, success bool, err error, meta func() map[string]string) {
			e.emitAudit(ctx, event, success, flowIDFromContext(ctx), "", err, meta)
		}
		deps.EmitRateLimit = e.emitRateLimit
	}
	return deps
}

func mapOTPLimiterError(err error) error {
	switch {
	case errors.Is(err, limiters.ErrIssueRateLimited):
		return ErrRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}

func mapOTPStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrOTPNotFound), errors.Is(err, stores.ErrOTPExpired):
		return ErrCodeExpired
	case errors.Is(err, stores.ErrOTPMismatch):
		return ErrCodeMismatch
	case errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return ErrAttemptsExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}
