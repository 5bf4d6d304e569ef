package authflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SimulatedBackend stands in for a real issuance service: every step is a
// fixed, cancellable delay and any well-formed code is accepted. The hooks
// let tests inject failures.
type SimulatedBackend struct {
	IssueDelay  time.Duration
	VerifyDelay time.Duration

	// FailIssue, when set, runs after the issue delay; a non-nil error fails the step.
	FailIssue func(Credentials) error
	// FailVerify, when set, runs after the verify delay; a non-nil error rejects the code.
	FailVerify func(code string) error

	issued   atomic.Uint64
	verified atomic.Uint64
}

func NewSimulatedBackend(cfg SimulationConfig) *SimulatedBackend {
	return &SimulatedBackend{
		IssueDelay:  cfg.IssueDelay,
		VerifyDelay: cfg.VerifyDelay,
	}
}

func (b *SimulatedBackend) IssueCode(ctx context.Context, creds Credentials) (Challenge, error) {
	if err := sleepContext(ctx, b.IssueDelay); err != nil {
		return Challenge{}, err
	}
	if b.FailIssue != nil {
		if err := b.FailIssue(creds); err != nil {
			return Challenge{}, err
		}
	}
	b.issued.Add(1)
	return Challenge{
		ID:          uuid.NewString(),
		Destination: MaskPhone(creds.Phone),
	}, nil
}

func (b *SimulatedBackend) VerifyCode(ctx context.Context, _ Challenge, code string) error {
	if err := sleepContext(ctx, b.VerifyDelay); err != nil {
		return err
	}
	if b.FailVerify != nil {
		if err := b.FailVerify(code); err != nil {
			return err
		}
	}
	b.verified.Add(1)
	return nil
}

// Issued counts completed IssueCode calls.
func (b *SimulatedBackend) Issued() uint64 {
	return b.issued.Load()
}

// Verified counts accepted VerifyCode calls.
func (b *SimulatedBackend) Verified() uint64 {
	return b.verified.Load()
}
