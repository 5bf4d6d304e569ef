package flows

import (
	"context"
	"errors"
	"time"
)

type OTPStoreRecord struct {
	Phone      string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

type OTPIssueResult struct {
	ChallengeID string
	Destination string
	ExpiresAt   time.Time
}

type OTPMetrics struct {
	OTPIssued           int
	OTPIssueFailed      int
	OTPVerified         int
	OTPRejected         int
	OTPAttemptsExceeded int
	OTPRateLimited      int
}

type OTPEvents struct {
	OTPIssued   string
	OTPRejected string
	OTPVerified string
}

type OTPErrors struct {
	EngineNotReady   error
	RateLimited      error
	Unavailable      error
	CodeMismatch     error
	CodeExpired      error
	AttemptsExceeded error
}

type OTPDeps struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time
	MaskPhone           func(string) string

	CheckIssueLimiter func(context.Context, string, string) error
	MapLimiterError   func(error) error
	MapStoreError     func(error) error

	NewChallengeID func() (string, error)
	GenerateCode   func(int) (string, error)
	HashCode       func(string) [32]byte

	SaveRecord    func(context.Context, string, OTPStoreRecord, time.Duration) error
	DeleteRecord  func(context.Context, string) error
	ConsumeRecord func(context.Context, string, [32]byte, int, time.Time) (OTPStoreRecord, error)

	SendCode func(context.Context, string, string) error

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics OTPMetrics
	Events  OTPEvents
	Errors  OTPErrors
}

// RunIssueOTP throttles, generates, stores and delivers one code for phone.
// A delivery failure deletes the stored record so an undelivered code can
// never be verified.
func RunIssueOTP(ctx context.Context, phone string, deps OTPDeps) (OTPIssueResult, error) {
	normalizeOTPDeps(&deps)

	if deps.SaveRecord == nil || deps.NewChallengeID == nil || deps.GenerateCode == nil || deps.SendCode == nil {
		return OTPIssueResult{}, deps.Errors.EngineNotReady
	}

	masked := deps.MaskPhone(phone)
	ip := deps.ClientIPFromContext(ctx)

	if deps.CheckIssueLimiter != nil {
		if err := deps.CheckIssueLimiter(ctx, phone, ip); err != nil {
			mapped := deps.MapLimiterError(err)
			deps.MetricInc(deps.Metrics.OTPIssueFailed)
			if errors.Is(mapped, deps.Errors.RateLimited) {
				deps.MetricInc(deps.Metrics.OTPRateLimited)
				deps.EmitRateLimit(ctx, "otp_issue", func() map[string]string {
					return map[string]string{
						"destination": masked,
					}
				})
			}
			deps.EmitAudit(ctx, deps.Events.OTPIssued, false, mapped, func() map[string]string {
				return map[string]string{
					"destination": masked,
					"reason":      "limiter",
				}
			})
			return OTPIssueResult{}, mapped
		}
	}

	challengeID, err := deps.NewChallengeID()
	if err != nil {
		deps.MetricInc(deps.Metrics.OTPIssueFailed)
		return OTPIssueResult{}, deps.Errors.Unavailable
	}
	code, err := deps.GenerateCode(deps.Digits)
	if err != nil {
		deps.MetricInc(deps.Metrics.OTPIssueFailed)
		return OTPIssueResult{}, deps.Errors.Unavailable
	}

	expiresAt := deps.Now().Add(deps.TTL)
	record := OTPStoreRecord{
		Phone:      phone,
		SecretHash: deps.HashCode(code),
		ExpiresAt:  expiresAt.Unix(),
	}
	if err := deps.SaveRecord(ctx, challengeID, record, deps.TTL); err != nil {
		mapped := deps.MapStoreError(err)
		deps.MetricInc(deps.Metrics.OTPIssueFailed)
		deps.EmitAudit(ctx, deps.Events.OTPIssued, false, mapped, func() map[string]string {
			return map[string]string{
				"destination": masked,
				"reason":      "store",
			}
		})
		return OTPIssueResult{}, mapped
	}

	if err := deps.SendCode(ctx, phone, code); err != nil {
		if deps.DeleteRecord != nil {
			// best effort; the record expires on its own
			_ = deps.DeleteRecord(context.WithoutCancel(ctx), challengeID)
		}
		deps.MetricInc(deps.Metrics.OTPIssueFailed)
		deps.EmitAudit(ctx, deps.Events.OTPIssued, false, deps.Errors.Unavailable, func() map[string]string {
			return map[string]string{
				"destination": masked,
				"reason":      "delivery",
			}
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OTPIssueResult{}, ctxErr
		}
		return OTPIssueResult{}, errors.Join(deps.Errors.Unavailable, err)
	}

	deps.MetricInc(deps.Metrics.OTPIssued)
	deps.EmitAudit(ctx, deps.Events.OTPIssued, true, nil, func() map[string]string {
		return map[string]string{
			"destination":  masked,
			"challenge_id": challengeID,
		}
	})

	return OTPIssueResult{
		ChallengeID: challengeID,
		Destination: masked,
		ExpiresAt:   expiresAt,
	}, nil
}

// RunVerifyOTP consumes the challenge record when code matches.
func RunVerifyOTP(ctx context.Context, challengeID, code string, deps OTPDeps) error {
	normalizeOTPDeps(&deps)

	if deps.ConsumeRecord == nil || deps.HashCode == nil {
		return deps.Errors.EngineNotReady
	}
	if challengeID == "" {
		deps.MetricInc(deps.Metrics.OTPRejected)
		return deps.Errors.CodeExpired
	}

	record, err := deps.ConsumeRecord(ctx, challengeID, deps.HashCode(code), deps.MaxAttempts, deps.Now())
	if err != nil {
		mapped := deps.MapStoreError(err)
		if !errors.Is(mapped, deps.Errors.Unavailable) {
			deps.MetricInc(deps.Metrics.OTPRejected)
		}
		if errors.Is(mapped, deps.Errors.AttemptsExceeded) {
			deps.MetricInc(deps.Metrics.OTPAttemptsExceeded)
		}
		deps.EmitAudit(ctx, deps.Events.OTPRejected, false, mapped, func() map[string]string {
			return map[string]string{
				"challenge_id": challengeID,
			}
		})
		return mapped
	}

	deps.MetricInc(deps.Metrics.OTPVerified)
	deps.EmitAudit(ctx, deps.Events.OTPVerified, true, nil, func() map[string]string {
		return map[string]string{
			"challenge_id": challengeID,
			"destination":  deps.MaskPhone(record.Phone),
		}
	})
	return nil
}

func normalizeOTPDeps(deps *OTPDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.MaskPhone == nil {
		deps.MaskPhone = func(string) string { return "" }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(error) error { return deps.Errors.Unavailable }
	}
}
