package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frog8/authflow/jwt"
	"go.uber.org/zap"
)

// Banner texts shown by the presentation layer after a failed async step.
const (
	BannerSendFailed   = "Failed to send OTP. Please try again."
	BannerInvalidCode  = "Invalid OTP. Please try again."
	BannerResendFailed = "Failed to resend OTP. Please try again."
)

// Controller drives one login flow: Collecting -> Verifying -> Succeeded.
//
// All methods are safe for concurrent use. At most one backend step runs at
// a time; any operation attempted while a step is outstanding fails with
// ErrBusy and leaves the flow untouched.
type Controller struct {
	id         string
	engine     *Engine
	onComplete func(Completion)

	lifeCtx    context.Context
	lifeCancel context.CancelCauseFunc

	mu          sync.Mutex
	state       FlowState
	pending     bool
	closed      bool
	notified    bool
	banner      string
	fieldErrors map[string]string
	prefill     Credentials
	creds       *Credentials
	challenge   Challenge
	grantToken  string
	completedAt time.Time
	lastActive  time.Time
	ackTimer    *time.Timer

	done     chan struct{}
	doneOnce sync.Once
}

func newController(e *Engine, id string, onComplete func(Completion)) *Controller {
	lifeCtx, lifeCancel := context.WithCancelCause(context.Background())
	return &Controller{
		id:         id,
		engine:     e,
		onComplete: onComplete,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		state:      StateCollecting,
		lastActive: e.now(),
		done:       make(chan struct{}),
	}
}

// ID returns the flow id assigned by Engine.Start.
func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a backend step is outstanding.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Done is closed once the completion notification has fired or the flow was closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns a copy of everything a presentation layer renders.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:          c.id,
		State:       c.state,
		Loading:     c.pending,
		Banner:      c.banner,
		Prefill:     c.prefill,
		Destination: c.challenge.Destination,
		Completed:   c.notified,
		GrantToken:  c.grantToken,
	}
	if len(c.fieldErrors) > 0 {
		snap.FieldErrors = make(map[string]string, len(c.fieldErrors))
		for k, v := range c.fieldErrors {
			snap.FieldErrors[k] = v
		}
	}
	return snap
}

/*
====================================
OPERATIONS
====================================
*/

// SubmitCredentials validates creds and, when valid, issues a code and moves
// the flow to Verifying. Invalid input returns a *ValidationError and leaves
// the state alone.
func (c *Controller) SubmitCredentials(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if err := c.admitLocked(StateCollecting); err != nil {
		c.mu.Unlock()
		c.reject(ctx, err)
		return err
	}
	c.lastActive = c.engine.now()
	c.prefill = creds
	if err := c.engine.validator.Credentials(creds); err != nil {
		c.fieldErrors = FieldErrors(err)
		c.mu.Unlock()
		c.engine.metricInc(MetricCredentialsRejected)
		c.engine.emitAudit(ctx, auditEventCredentialsRejected, false, c.id, StateCollecting.String(), err, func() map[string]string {
			return fieldList(FieldErrors(err))
		})
		return err
	}
	c.fieldErrors = nil
	c.banner = ""
	stepCtx, finish := c.beginStepLocked(ctx)
	c.mu.Unlock()
	defer finish()

	start := time.Now()
	challenge, err := c.engine.backend.IssueCode(stepCtx, creds)
	c.engine.observe(MetricIssueLatency, time.Since(start))

	c.mu.Lock()
	c.pending = false
	c.lastActive = c.engine.now()
	if err = c.settleLocked(ctx, stepCtx, err, BannerSendFailed); err != nil {
		c.mu.Unlock()
		c.stepFailed(ctx, auditEventCodeIssueFailed, MetricCodeIssueFailed, StateCollecting, err)
		return err
	}
	captured := creds
	c.creds = &captured
	c.challenge = challenge
	c.state = StateVerifying
	c.mu.Unlock()

	c.engine.metricInc(MetricCodeIssued)
	c.engine.emitAudit(ctx, auditEventCodeIssued, true, c.id, StateVerifying.String(), nil, func() map[string]string {
		return map[string]string{"destination": challenge.Destination}
	})
	c.engine.logger.Debug("code issued",
		zap.String("flow_id", c.id),
		zap.String("destination", challenge.Destination),
	)
	return nil
}

// SubmitCode verifies code against the issued challenge. On success the flow
// becomes terminal and the completion notification is scheduled after
// Flow.AckDelay.
func (c *Controller) SubmitCode(ctx context.Context, code string) error {
	c.mu.Lock()
	if err := c.admitLocked(StateVerifying); err != nil {
		c.mu.Unlock()
		c.reject(ctx, err)
		return err
	}
	c.lastActive = c.engine.now()
	if err := c.engine.validator.Code(code); err != nil {
		c.fieldErrors = FieldErrors(err)
		c.mu.Unlock()
		c.engine.metricInc(MetricCodeRejected)
		c.engine.emitAudit(ctx, auditEventCodeRejected, false, c.id, StateVerifying.String(), err, nil)
		return err
	}
	c.fieldErrors = nil
	c.banner = ""
	challenge := c.challenge
	creds := *c.creds
	stepCtx, finish := c.beginStepLocked(ctx)
	c.mu.Unlock()
	defer finish()

	start := time.Now()
	err := c.engine.backend.VerifyCode(stepCtx, challenge, code)
	c.engine.observe(MetricVerifyLatency, time.Since(start))

	var token string
	if err == nil {
		token = c.mintGrant(creds)
	}

	c.mu.Lock()
	c.pending = false
	c.lastActive = c.engine.now()
	if err = c.settleLocked(ctx, stepCtx, err, BannerInvalidCode); err != nil {
		back := errors.Is(err, ErrAttemptsExceeded)
		if back {
			c.state = StateCollecting
			c.challenge = Challenge{}
			c.prefill = creds
			c.creds = nil
		}
		state := c.state
		c.mu.Unlock()
		c.stepFailed(ctx, auditEventCodeRejected, MetricCodeRejected, state, err)
		return err
	}
	c.state = StateSucceeded
	c.grantToken = token
	c.completedAt = c.engine.now()
	c.ackTimer = time.AfterFunc(c.engine.config.Flow.AckDelay, c.notify)
	c.mu.Unlock()

	c.engine.metricInc(MetricCodeVerified)
	c.engine.emitAudit(ctx, auditEventCodeVerified, true, c.id, StateSucceeded.String(), nil, nil)
	c.engine.logger.Debug("code verified", zap.String("flow_id", c.id))
	return nil
}

// ResendCode issues a fresh code for the captured credentials. The state
// stays Verifying whatever the outcome.
func (c *Controller) ResendCode(ctx context.Context) error {
	c.mu.Lock()
	if err := c.admitLocked(StateVerifying); err != nil {
		c.mu.Unlock()
		c.reject(ctx, err)
		return err
	}
	c.lastActive = c.engine.now()
	c.banner = ""
	c.fieldErrors = nil
	creds := *c.creds
	stepCtx, finish := c.beginStepLocked(ctx)
	c.mu.Unlock()
	defer finish()

	start := time.Now()
	challenge, err := c.engine.backend.IssueCode(stepCtx, creds)
	c.engine.observe(MetricIssueLatency, time.Since(start))

	c.mu.Lock()
	c.pending = false
	c.lastActive = c.engine.now()
	if err = c.settleLocked(ctx, stepCtx, err, BannerResendFailed); err != nil {
		c.mu.Unlock()
		c.stepFailed(ctx, auditEventCodeIssueFailed, MetricCodeIssueFailed, StateVerifying, err)
		return err
	}
	c.challenge = challenge
	c.mu.Unlock()

	c.engine.metricInc(MetricCodeResent)
	c.engine.emitAudit(ctx, auditEventCodeResent, true, c.id, StateVerifying.String(), nil, func() map[string]string {
		return map[string]string{"destination": challenge.Destination}
	})
	return nil
}

// GoBack returns to Collecting. The issued challenge is dropped and the
// captured credentials survive only as prefill, so the next
// SubmitCredentials issues a new code.
func (c *Controller) GoBack() error {
	c.mu.Lock()
	if err := c.admitLocked(StateVerifying); err != nil {
		c.mu.Unlock()
		c.reject(context.Background(), err)
		return err
	}
	c.lastActive = c.engine.now()
	c.state = StateCollecting
	c.challenge = Challenge{}
	c.banner = ""
	c.fieldErrors = nil
	if c.creds != nil {
		c.prefill = *c.creds
	}
	c.creds = nil
	c.mu.Unlock()

	c.engine.metricInc(MetricFlowBack)
	c.engine.emitAudit(context.Background(), auditEventFlowBack, true, c.id, StateCollecting.String(), nil, nil)
	return nil
}

// Close tears the flow down: any in-flight step is cancelled and its result
// discarded, a pending completion never fires, and every later operation
// returns ErrFlowClosed. Close is idempotent.
func (c *Controller) Close() {
	if first, abandoned := c.shutdown(); first {
		c.engine.flowClosed(c, abandoned)
	}
}

// shutdown reports whether this call closed the flow and whether the flow was
// abandoned, meaning closed before its completion notification fired.
func (c *Controller) shutdown() (first, abandoned bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, false
	}
	c.closed = true
	abandoned = !c.notified
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	c.creds = nil
	c.prefill = Credentials{}
	c.mu.Unlock()

	c.lifeCancel(ErrFlowClosed)
	c.doneOnce.Do(func() { close(c.done) })
	return true, abandoned
}

/*
====================================
STEP HELPERS
====================================
*/

// admitLocked checks that an operation may start from want. Caller holds c.mu.
func (c *Controller) admitLocked(want FlowState) error {
	if c.closed || c.state == StateSucceeded {
		return ErrFlowClosed
	}
	if c.pending {
		return ErrBusy
	}
	if c.state != want {
		return ErrInvalidTransition
	}
	return nil
}

// beginStepLocked marks the flow pending and derives the step context from
// the caller's ctx and the flow lifetime. Caller holds c.mu.
func (c *Controller) beginStepLocked(ctx context.Context) (context.Context, func()) {
	c.pending = true

	stepCtx, cancel := context.WithCancelCause(withFlowID(ctx, c.id))
	stop := context.AfterFunc(c.lifeCtx, func() { cancel(ErrFlowClosed) })

	cancelTimeout := context.CancelFunc(func() {})
	if d := c.engine.config.Flow.StepTimeout; d > 0 {
		stepCtx, cancelTimeout = context.WithTimeoutCause(stepCtx, d, ErrTimeout)
	}

	return stepCtx, func() {
		cancelTimeout()
		stop()
		cancel(nil)
	}
}

// settleLocked classifies a finished step and sets the banner for failures
// the user should see. Caller holds c.mu.
func (c *Controller) settleLocked(ctx, stepCtx context.Context, err error, banner string) error {
	if c.closed {
		return ErrFlowClosed
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(context.Cause(stepCtx), ErrTimeout):
		err = ErrTimeout
	case ctx.Err() != nil:
		return ctx.Err()
	case isBackendSentinel(err):
	default:
		err = fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	c.banner = banner
	return err
}

func (c *Controller) stepFailed(ctx context.Context, event string, metric MetricID, state FlowState, err error) {
	if errors.Is(err, ErrFlowClosed) {
		return
	}
	if errors.Is(err, ErrTimeout) {
		c.engine.metricInc(MetricStepTimeout)
	}
	c.engine.metricInc(metric)
	c.engine.emitAudit(ctx, event, false, c.id, state.String(), err, nil)
	if isBackendSentinel(err) {
		c.engine.logger.Warn("flow step failed",
			zap.String("flow_id", c.id),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func (c *Controller) reject(ctx context.Context, err error) {
	if !errors.Is(err, ErrBusy) {
		return
	}
	c.engine.metricInc(MetricBusyRejected)
	c.engine.emitAudit(ctx, auditEventBusyRejected, false, c.id, c.State().String(), err, nil)
}

func (c *Controller) mintGrant(creds Credentials) string {
	if c.engine.grants == nil {
		return ""
	}
	token, err := c.engine.grants.IssueGrant(jwt.GrantSubject{
		FlowID:       c.id,
		Name:         creds.Name,
		MaskedPhone:  MaskPhone(creds.Phone),
		ReferralCode: creds.ReferralCode,
	})
	if err != nil {
		c.engine.logger.Error("grant issuance failed", zap.String("flow_id", c.id), zap.Error(err))
		return ""
	}
	c.engine.metricInc(MetricGrantIssued)
	return token
}

// notify fires the completion notification at most once, and never after Close.
func (c *Controller) notify() {
	c.mu.Lock()
	if c.closed || c.notified || c.state != StateSucceeded {
		c.mu.Unlock()
		return
	}
	c.notified = true
	completion := Completion{
		FlowID:      c.id,
		GrantToken:  c.grantToken,
		CompletedAt: c.completedAt,
	}
	if c.creds != nil {
		completion.Name = c.creds.Name
		completion.Phone = c.creds.Phone
	}
	c.creds = nil
	c.prefill = Credentials{}
	c.mu.Unlock()

	if c.onComplete != nil {
		c.onComplete(completion)
	}
	c.doneOnce.Do(func() { close(c.done) })

	c.engine.metricInc(MetricFlowCompleted)
	c.engine.emitAudit(context.Background(), auditEventFlowCompleted, true, c.id, StateSucceeded.String(), nil, nil)
	c.engine.flowCompleted(c)
}

// idle reports how long the flow has gone untouched. Pending and finished
// flows are never idle.
func (c *Controller) idle(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending || c.closed || c.state == StateSucceeded {
		return 0
	}
	return now.Sub(c.lastActive)
}

func fieldList(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k := range fields {
		out["field."+k] = "invalid"
	}
	return out
}
