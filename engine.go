package authflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frog8/authflow/internal/audit"
	"github.com/frog8/authflow/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine owns the shared pieces of every flow (backend, metrics, audit,
// grant issuer) and a registry of live controllers keyed by flow id.
//
// Engine instances are built by Builder and are safe for concurrent use.
type Engine struct {
	config    Config
	backend   Backend
	validator *inputValidator
	metrics   *Metrics
	audit     *audit.Dispatcher
	logger    *zap.Logger
	grants    *jwt.Manager
	clock     func() time.Time

	mu     sync.Mutex
	flows  map[string]*Controller
	closed bool

	stopJanitor chan struct{}
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// Start registers a new flow in StateCollecting. onComplete, if non-nil, is
// called exactly once, Flow.AckDelay after the code was verified, unless the
// flow is closed first.
func (e *Engine) Start(ctx context.Context, onComplete func(Completion)) (*Controller, error) {
	if e == nil || e.backend == nil || e.validator == nil {
		return nil, ErrEngineNotReady
	}

	id := uuid.NewString()
	c := newController(e, id, onComplete)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineNotReady
	}
	if limit := e.config.Flow.MaxFlows; limit > 0 && len(e.flows) >= limit {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: flow capacity reached", ErrServiceUnavailable)
	}
	e.flows[id] = c
	e.mu.Unlock()

	e.metricInc(MetricFlowStarted)
	e.emitAudit(ctx, auditEventFlowStarted, true, id, StateCollecting.String(), nil, nil)
	e.logger.Debug("flow started", zap.String("flow_id", id))
	return c, nil
}

// Lookup returns a live or recently completed flow.
func (e *Engine) Lookup(id string) (*Controller, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return c, nil
}

// Abandon closes the flow and removes it from the registry.
func (e *Engine) Abandon(id string) error {
	c, err := e.Lookup(id)
	if err != nil {
		return err
	}
	c.Close()
	return nil
}

// ActiveFlows returns the number of registered flows.
func (e *Engine) ActiveFlows() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.flows)
}

// ParseGrant verifies a grant token minted for a succeeded flow.
func (e *Engine) ParseGrant(token string) (*jwt.GrantClaims, error) {
	if e == nil || e.grants == nil {
		return nil, ErrGrantInvalid
	}
	claims, err := e.grants.ParseGrant(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGrantInvalid, err)
	}
	return claims, nil
}

// Backend returns the backend flows run against.
func (e *Engine) Backend() Backend {
	if e == nil {
		return nil
	}
	return e.backend
}

// Close stops the janitor, closes every registered flow and drains the
// audit buffer. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		flows := make([]*Controller, 0, len(e.flows))
		for _, c := range e.flows {
			flows = append(flows, c)
		}
		e.mu.Unlock()

		if e.stopJanitor != nil {
			close(e.stopJanitor)
			<-e.janitorDone
		}
		for _, c := range flows {
			c.Close()
		}
		if e.audit != nil {
			if err := e.audit.Close(); err != nil {
				e.logger.Warn("audit sink close failed", zap.Error(err))
			}
		}
		_ = e.logger.Sync()
	})
}

// AuditDropped returns the number of audit events that never reached the sink.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

/*
====================================
REGISTRY HOUSEKEEPING
====================================
*/

func (e *Engine) remove(c *Controller) {
	e.mu.Lock()
	if e.flows[c.id] == c {
		delete(e.flows, c.id)
	}
	e.mu.Unlock()
}

func (e *Engine) flowClosed(c *Controller, abandoned bool) {
	e.remove(c)
	if !abandoned {
		return
	}
	e.metricInc(MetricFlowAbandoned)
	e.emitAudit(context.Background(), auditEventFlowAbandoned, true, c.id, c.State().String(), nil, nil)
	e.logger.Debug("flow abandoned", zap.String("flow_id", c.id))
}

// flowCompleted keeps a finished flow readable for Flow.RetainCompleted.
func (e *Engine) flowCompleted(c *Controller) {
	retain := e.config.Flow.RetainCompleted
	if retain <= 0 {
		c.Close()
		return
	}
	time.AfterFunc(retain, c.Close)
}

func (e *Engine) startJanitor() {
	interval := e.config.Flow.JanitorInterval
	if interval <= 0 {
		return
	}
	e.stopJanitor = make(chan struct{})
	e.janitorDone = make(chan struct{})

	go func() {
		defer close(e.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-e.stopJanitor:
				return
			}
		}
	}()
}

// sweep closes flows idle longer than Flow.IdleTimeout.
func (e *Engine) sweep() {
	now := e.now()
	limit := e.config.Flow.IdleTimeout

	e.mu.Lock()
	flows := make([]*Controller, 0, len(e.flows))
	for _, c := range e.flows {
		flows = append(flows, c)
	}
	e.mu.Unlock()

	reaped := 0
	for _, c := range flows {
		if c.idle(now) > limit {
			c.Close()
			reaped++
		}
	}
	if reaped > 0 {
		e.logger.Info("reaped idle flows", zap.Int("count", reaped))
	}
}
