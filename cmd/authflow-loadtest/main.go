package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/frog8/authflow"
	"github.com/frog8/authflow/delivery"
	"github.com/redis/go-redis/v9"
)

// codeBook remembers the last code delivered to each phone.
type codeBook struct {
	codes sync.Map
}

func (b *codeBook) SendOTP(_ context.Context, phone, code string) error {
	b.codes.Store(phone, code)
	return nil
}

func (b *codeBook) lookup(phone string) string {
	v, ok := b.codes.Load(phone)
	if !ok {
		return ""
	}
	return v.(string)
}

var _ delivery.Sender = (*codeBook)(nil)

func main() {
	var (
		flows       = flag.Int("flows", 20000, "number of login flows to run")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		backend     = flag.String("backend", "redis", "code backend: redis or simulated")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		issueDelay  = flag.Duration("issue-delay", 0, "simulated issue delay")
		verifyDelay = flag.Duration("verify-delay", 0, "simulated verify delay")
	)
	flag.Parse()

	if *flows <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "flows and concurrency must be > 0")
		os.Exit(2)
	}

	cfg := authflow.DefaultConfig()
	cfg.Flow.AckDelay = 0
	cfg.Flow.RetainCompleted = 0
	cfg.Flow.StepTimeout = 10 * time.Second
	cfg.Simulation.IssueDelay = *issueDelay
	cfg.Simulation.VerifyDelay = *verifyDelay
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	book := &codeBook{}
	b := authflow.New().WithConfig(cfg)

	switch *backend {
	case "simulated":
		fmt.Println("using simulated backend")
	case "redis":
		client, cleanup, err := redisClient(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		b.WithRedis(client).WithSender(book)
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q\n", *backend)
		os.Exit(2)
	}

	engine, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	stats := runFlows(engine, book, *flows, *concurrency)

	fmt.Println("---- results ----")
	printStats("issue", stats.issue)
	printStats("verify", stats.verify)
	printStats("flow", stats.flow)

	snap := engine.MetricsSnapshot()
	fmt.Printf("completed=%d abandoned=%d issue_failures=%d\n",
		snap.Counters[authflow.MetricFlowCompleted],
		snap.Counters[authflow.MetricFlowAbandoned],
		snap.Counters[authflow.MetricCodeIssueFailed],
	)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

type runStats struct {
	issue  phaseStats
	verify phaseStats
	flow   phaseStats
}

type sampler struct {
	mu       sync.Mutex
	samples  []time.Duration
	failures int64
}

func (s *sampler) add(d time.Duration, err error) {
	s.mu.Lock()
	s.samples = append(s.samples, d)
	if err != nil {
		s.failures++
	}
	s.mu.Unlock()
}

func runFlows(engine *authflow.Engine, book *codeBook, flows, concurrency int) runStats {
	var (
		wg     sync.WaitGroup
		cursor int64
		issue  sampler
		verify sampler
		whole  sampler
	)

	ctx := context.Background()
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= flows {
					return
				}
				t0 := time.Now()
				err := runOne(ctx, engine, book, i, &issue, &verify)
				whole.add(time.Since(t0), err)
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	return runStats{
		issue:  computeStats(total, issue.samples, issue.failures),
		verify: computeStats(total, verify.samples, verify.failures),
		flow:   computeStats(total, whole.samples, whole.failures),
	}
}

func runOne(ctx context.Context, engine *authflow.Engine, book *codeBook, i int, issue, verify *sampler) error {
	phone := fmt.Sprintf("+1415%07d", i)
	ctl, err := engine.Start(ctx, nil)
	if err != nil {
		return err
	}
	defer ctl.Close()

	t0 := time.Now()
	err = ctl.SubmitCredentials(ctx, authflow.Credentials{
		Name:  fmt.Sprintf("Load Tester %d", i),
		Phone: phone,
		Email: fmt.Sprintf("load%d@example.com", i),
	})
	issue.add(time.Since(t0), err)
	if err != nil {
		return err
	}

	code := book.lookup(phone)
	if code == "" {
		code = "123456"
	}

	t0 = time.Now()
	err = ctl.SubmitCode(ctx, code)
	verify.add(time.Since(t0), err)
	if err != nil {
		return err
	}

	select {
	case <-ctl.Done():
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("completion not delivered")
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
