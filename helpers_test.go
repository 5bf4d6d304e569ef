package authflow

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// testConfig returns defaults with every timer short enough for unit tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Flow.AckDelay = 20 * time.Millisecond
	cfg.Flow.StepTimeout = 0
	cfg.Flow.JanitorInterval = 0
	cfg.Flow.RetainCompleted = time.Minute
	cfg.Simulation.IssueDelay = 0
	cfg.Simulation.VerifyDelay = 0
	return cfg
}

func validCredentials() Credentials {
	return Credentials{
		Name:  "Ada Lovelace",
		Phone: "+14155550123",
		Email: "ada@example.com",
	}
}

// gatedBackend blocks every step until the test releases it, so tests can
// observe and interfere with the pending window.
type gatedBackend struct {
	entered chan string
	release chan error

	issueCalls  atomic.Int64
	verifyCalls atomic.Int64
	lastCode    atomic.Value
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		entered: make(chan string, 16),
		release: make(chan error, 16),
	}
}

func (b *gatedBackend) IssueCode(ctx context.Context, creds Credentials) (Challenge, error) {
	n := b.issueCalls.Add(1)
	b.entered <- "issue"
	select {
	case err := <-b.release:
		if err != nil {
			return Challenge{}, err
		}
		return Challenge{
			ID:          "challenge-" + strconv.FormatInt(n, 10),
			Destination: MaskPhone(creds.Phone),
		}, nil
	case <-ctx.Done():
		return Challenge{}, ctx.Err()
	}
}

func (b *gatedBackend) VerifyCode(ctx context.Context, _ Challenge, code string) error {
	b.verifyCalls.Add(1)
	b.lastCode.Store(code)
	b.entered <- "verify"
	select {
	case err := <-b.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *gatedBackend) waitEntered(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-b.entered:
		if got != want {
			t.Fatalf("expected %s step, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s step", want)
	}
}

type completionRecorder struct {
	mu    sync.Mutex
	calls []Completion
}

func (r *completionRecorder) record(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *completionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *completionRecorder) last() Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Completion{}
	}
	return r.calls[len(r.calls)-1]
}

func buildTestEngine(t *testing.T, cfg Config, backend Backend) *Engine {
	t.Helper()

	b := New().WithConfig(cfg)
	if backend != nil {
		b.WithBackend(backend)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func startFlow(t *testing.T, engine *Engine, rec *completionRecorder) *Controller {
	t.Helper()

	var onComplete func(Completion)
	if rec != nil {
		onComplete = rec.record
	}
	c, err := engine.Start(context.Background(), onComplete)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("flow did not finish")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
