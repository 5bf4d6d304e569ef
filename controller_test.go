package authflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestControllerHappyPathNotifiesOnceAfterAck(t *testing.T) {
	cfg := testConfig()
	cfg.Flow.AckDelay = 50 * time.Millisecond
	engine := buildTestEngine(t, cfg, nil)

	rec := &completionRecorder{}
	c := startFlow(t, engine, rec)

	if c.State() != StateCollecting {
		t.Fatalf("expected collecting, got %s", c.State())
	}
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	if c.State() != StateVerifying {
		t.Fatalf("expected verifying, got %s", c.State())
	}
	if got := c.Snapshot().Destination; got != "+*******0123" {
		t.Fatalf("unexpected destination %q", got)
	}

	verifiedAt := time.Now()
	if err := c.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if c.State() != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", c.State())
	}
	if rec.count() != 0 {
		t.Fatal("completion must wait for the acknowledgement delay")
	}

	waitDone(t, c)
	if elapsed := time.Since(verifiedAt); elapsed < 50*time.Millisecond {
		t.Fatalf("completion fired after %v, before the ack delay", elapsed)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly one completion, got %d", rec.count())
	}
	got := rec.last()
	if got.Name != "Ada Lovelace" || got.Phone != "+14155550123" || got.FlowID != c.ID() {
		t.Fatalf("unexpected completion %+v", got)
	}

	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("completion fired more than once: %d", rec.count())
	}
}

func TestSubmitCredentialsValidationKeepsState(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	err := c.SubmitCredentials(context.Background(), Credentials{
		Name:  "A",
		Phone: "12345",
		Email: "not-an-email",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	fields := FieldErrors(err)
	for _, f := range []string{FieldName, FieldPhone, FieldEmail} {
		if fields[f] == "" {
			t.Fatalf("expected error for field %q, got %v", f, fields)
		}
	}
	if fields[FieldPhone] != "Please enter a valid phone number" {
		t.Fatalf("unexpected phone message %q", fields[FieldPhone])
	}
	if c.State() != StateCollecting {
		t.Fatalf("state changed on invalid input: %s", c.State())
	}
	if backend.issueCalls.Load() != 0 {
		t.Fatal("backend must not be called for invalid input")
	}
	snap := c.Snapshot()
	if snap.Loading || snap.Banner != "" || len(snap.FieldErrors) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubmitCredentialsValidatesRawInput(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		field string
	}{
		{
			name:  "padded phone",
			creds: Credentials{Name: "Jo", Phone: " +919876543210", Email: "jo@x.com"},
			field: FieldPhone,
		},
		{
			name:  "phone trailing space",
			creds: Credentials{Name: "Jo", Phone: "+919876543210 ", Email: "jo@x.com"},
			field: FieldPhone,
		},
		{
			name:  "padded email",
			creds: Credentials{Name: "Jo", Phone: "+919876543210", Email: " jo@x.com"},
			field: FieldEmail,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := newGatedBackend()
			engine := buildTestEngine(t, testConfig(), backend)
			c := startFlow(t, engine, nil)

			err := c.SubmitCredentials(context.Background(), tc.creds)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if FieldErrors(err)[tc.field] == "" {
				t.Fatalf("expected %s error, got %v", tc.field, FieldErrors(err))
			}
			if c.State() != StateCollecting {
				t.Fatalf("expected collecting, got %s", c.State())
			}
			if backend.issueCalls.Load() != 0 {
				t.Fatal("backend must not be called for invalid input")
			}
			if got := c.Snapshot().Prefill.Phone; got != tc.creds.Phone {
				t.Fatalf("prefill must keep the input as entered, got %q", got)
			}
		})
	}
}

func TestSubmitCredentialsAcceptsLongReferralCode(t *testing.T) {
	engine := buildTestEngine(t, testConfig(), nil)
	c := startFlow(t, engine, nil)

	creds := validCredentials()
	creds.ReferralCode = strings.Repeat("R", 65)
	if err := c.SubmitCredentials(context.Background(), creds); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	if c.State() != StateVerifying {
		t.Fatalf("expected verifying, got %s", c.State())
	}
}

func TestSubmitCodeValidation(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	go func() { backend.release <- nil }()
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	backend.waitEntered(t, "issue")

	tests := []struct {
		code string
		want string
	}{
		{code: "12345", want: "OTP must be 6 digits"},
		{code: "1234567", want: "OTP must be 6 digits"},
		{code: "12a456", want: "OTP must contain only digits"},
		{code: "", want: "OTP must be 6 digits"},
	}
	for _, tt := range tests {
		err := c.SubmitCode(context.Background(), tt.code)
		if got := FieldErrors(err)[FieldCode]; got != tt.want {
			t.Fatalf("code %q: expected %q, got %q (%v)", tt.code, tt.want, got, err)
		}
		if c.State() != StateVerifying {
			t.Fatalf("code %q changed state to %s", tt.code, c.State())
		}
	}
	if backend.verifyCalls.Load() != 0 {
		t.Fatal("backend must not verify malformed codes")
	}
}

func TestOperationsRejectedOutsideTheirState(t *testing.T) {
	engine := buildTestEngine(t, testConfig(), nil)
	c := startFlow(t, engine, nil)

	if err := c.SubmitCode(context.Background(), "123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SubmitCode in collecting: expected ErrInvalidTransition, got %v", err)
	}
	if err := c.ResendCode(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ResendCode in collecting: expected ErrInvalidTransition, got %v", err)
	}
	if err := c.GoBack(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("GoBack in collecting: expected ErrInvalidTransition, got %v", err)
	}
	if c.State() != StateCollecting {
		t.Fatalf("unexpected state %s", c.State())
	}
}

func TestSucceededIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.Flow.AckDelay = time.Hour
	engine := buildTestEngine(t, cfg, nil)
	c := startFlow(t, engine, nil)

	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	if err := c.SubmitCode(context.Background(), "000000"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := c.SubmitCode(context.Background(), "000000"); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
	if err := c.GoBack(); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
	if err := c.ResendCode(context.Background()); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
	if err := c.SubmitCredentials(context.Background(), validCredentials()); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed, got %v", err)
	}
}

func TestBusyWhileStepPending(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	result := make(chan error, 1)
	go func() {
		result <- c.SubmitCredentials(context.Background(), validCredentials())
	}()
	backend.waitEntered(t, "issue")

	if !c.Loading() {
		t.Fatal("expected loading while issuance is pending")
	}
	if err := c.SubmitCredentials(context.Background(), validCredentials()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := c.SubmitCode(context.Background(), "123456"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := c.GoBack(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	backend.release <- nil
	if err := <-result; err != nil {
		t.Fatalf("pending SubmitCredentials failed: %v", err)
	}
	if c.Loading() {
		t.Fatal("loading must clear once the step finishes")
	}
	if c.State() != StateVerifying {
		t.Fatalf("expected verifying, got %s", c.State())
	}
	if backend.issueCalls.Load() != 1 {
		t.Fatalf("expected one issuance, got %d", backend.issueCalls.Load())
	}
}

func TestConcurrentSubmitCredentialsOnlyOneProceeds(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			results <- c.SubmitCredentials(context.Background(), validCredentials())
		}()
	}

	backend.waitEntered(t, "issue")
	for i := 0; i < callers-1; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrBusy) {
				t.Fatalf("expected ErrBusy, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("rejected callers must return without waiting")
		}
	}

	backend.release <- nil
	wg.Wait()
	if err := <-results; err != nil {
		t.Fatalf("winning caller failed: %v", err)
	}
	if backend.issueCalls.Load() != 1 {
		t.Fatalf("expected one issuance, got %d", backend.issueCalls.Load())
	}
}

func TestCloseDuringPendingStepDiscardsResult(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	rec := &completionRecorder{}
	c := startFlow(t, engine, rec)

	result := make(chan error, 1)
	go func() {
		result <- c.SubmitCredentials(context.Background(), validCredentials())
	}()
	backend.waitEntered(t, "issue")

	c.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrFlowClosed) {
			t.Fatalf("expected ErrFlowClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the pending step")
	}

	if c.State() != StateCollecting {
		t.Fatalf("closed flow must not transition, got %s", c.State())
	}
	waitDone(t, c)
	if err := c.SubmitCredentials(context.Background(), validCredentials()); !errors.Is(err, ErrFlowClosed) {
		t.Fatalf("expected ErrFlowClosed after Close, got %v", err)
	}
	if _, err := engine.Lookup(c.ID()); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("closed flow must leave the registry, got %v", err)
	}
	c.Close()
	if rec.count() != 0 {
		t.Fatal("closed flow must never notify")
	}
}

func TestCloseDuringAckDelaySuppressesCompletion(t *testing.T) {
	cfg := testConfig()
	cfg.Flow.AckDelay = 100 * time.Millisecond
	engine := buildTestEngine(t, cfg, nil)
	rec := &completionRecorder{}
	c := startFlow(t, engine, rec)

	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	if err := c.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	c.Close()

	time.Sleep(200 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("completion fired after Close: %d", rec.count())
	}
	if c.Snapshot().Completed {
		t.Fatal("closed flow must not report completion")
	}
}

func TestCallerCancellationLeavesNoBanner(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- c.SubmitCredentials(ctx, validCredentials())
	}()
	backend.waitEntered(t, "issue")
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Banner != "" || snap.Loading || snap.State != StateCollecting {
		t.Fatalf("unexpected snapshot after cancellation %+v", snap)
	}

	go func() { backend.release <- nil }()
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("retry after cancellation failed: %v", err)
	}
}

func TestIssueFailureSetsBannerAndRetryClearsIt(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	backend.release <- errors.New("smtp relay down")
	err := c.SubmitCredentials(context.Background(), validCredentials())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Banner != BannerSendFailed {
		t.Fatalf("expected send banner, got %q", snap.Banner)
	}
	if snap.State != StateCollecting {
		t.Fatalf("expected collecting, got %s", snap.State)
	}

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := c.Snapshot().Banner; got != "" {
		t.Fatalf("banner must clear on the next step, got %q", got)
	}
}

func TestVerifyRejectionKeepsVerifying(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}

	backend.release <- ErrCodeMismatch
	if err := c.SubmitCode(context.Background(), "654321"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateVerifying || snap.Banner != BannerInvalidCode {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	backend.release <- nil
	if err := c.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("second attempt failed: %v", err)
	}
	if c.State() != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", c.State())
	}
}

func TestAttemptsExceededReturnsToCollecting(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}

	backend.release <- ErrAttemptsExceeded
	if err := c.SubmitCode(context.Background(), "111111"); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateCollecting {
		t.Fatalf("expected collecting, got %s", snap.State)
	}
	if snap.Prefill.Phone != "+14155550123" || snap.Destination != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestResendReplacesChallengeAndKeepsState(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	backend.release <- ErrCodeMismatch
	_ = c.SubmitCode(context.Background(), "000000")
	if c.Snapshot().Banner == "" {
		t.Fatal("expected invalid code banner")
	}

	backend.release <- errors.New("carrier rejected")
	if err := c.ResendCode(context.Background()); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if got := c.Snapshot().Banner; got != BannerResendFailed {
		t.Fatalf("expected resend banner, got %q", got)
	}
	if c.State() != StateVerifying {
		t.Fatalf("failed resend changed state to %s", c.State())
	}

	backend.release <- nil
	if err := c.ResendCode(context.Background()); err != nil {
		t.Fatalf("ResendCode failed: %v", err)
	}
	snap := c.Snapshot()
	if snap.Banner != "" || snap.State != StateVerifying {
		t.Fatalf("unexpected snapshot after resend %+v", snap)
	}
	if backend.issueCalls.Load() != 3 {
		t.Fatalf("expected 3 issuances, got %d", backend.issueCalls.Load())
	}
}

func TestGoBackPrefillsAndNextSubmitIssuesAgain(t *testing.T) {
	backend := newGatedBackend()
	engine := buildTestEngine(t, testConfig(), backend)
	c := startFlow(t, engine, nil)

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), validCredentials()); err != nil {
		t.Fatalf("SubmitCredentials failed: %v", err)
	}
	if err := c.GoBack(); err != nil {
		t.Fatalf("GoBack failed: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateCollecting {
		t.Fatalf("expected collecting, got %s", snap.State)
	}
	if snap.Prefill != validCredentials() {
		t.Fatalf("expected prefill, got %+v", snap.Prefill)
	}
	if snap.Destination != "" {
		t.Fatal("challenge must be dropped on back navigation")
	}

	backend.release <- nil
	if err := c.SubmitCredentials(context.Background(), snap.Prefill); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if backend.issueCalls.Load() != 2 {
		t.Fatalf("expected a fresh issuance, got %d calls", backend.issueCalls.Load())
	}
}

func TestStepTimeout(t *testing.T) {
	backend := newGatedBackend()
	cfg := testConfig()
	cfg.Flow.StepTimeout = 30 * time.Millisecond
	engine := buildTestEngine(t, cfg, backend)
	c := startFlow(t, engine, nil)

	err := c.SubmitCredentials(context.Background(), validCredentials())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Banner != BannerSendFailed || snap.State != StateCollecting || snap.Loading {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSimulatedBackendDelayIsCancellable(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.IssueDelay = time.Hour
	engine := buildTestEngine(t, cfg, nil)
	c := startFlow(t, engine, nil)

	result := make(chan error, 1)
	go func() {
		result <- c.SubmitCredentials(context.Background(), validCredentials())
	}()
	waitFor(t, "pending issuance", c.Loading)
	c.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrFlowClosed) {
			t.Fatalf("expected ErrFlowClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("simulated delay ignored cancellation")
	}
}
