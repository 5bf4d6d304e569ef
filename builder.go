package authflow

import (
	"errors"

	"github.com/frog8/authflow/delivery"
	"github.com/frog8/authflow/internal/audit"
	"github.com/frog8/authflow/jwt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it once during initialization,
// call Build, and discard it; a Builder cannot be reused.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	backend   Backend
	sender    delivery.Sender
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The Builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the code backend explicitly. It takes precedence over WithRedis.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis selects RedisBackend when no explicit backend is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSender sets how RedisBackend delivers codes. Without one, codes are
// logged masked through the engine logger.
func (b *Builder) WithSender(sender delivery.Sender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination. Auditing itself is switched by
// Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. Backend
// selection: an explicit WithBackend wins, then RedisBackend when a Redis
// client was supplied, otherwise SimulatedBackend with Config.Simulation
// delays.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:    cfg,
		validator: newInputValidator(cfg.OTP.Digits),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger.Named("authflow"),
		flows:     make(map[string]*Controller),
	}

	// -------- BACKEND --------
	switch {
	case b.backend != nil:
		engine.backend = b.backend
	case b.redis != nil:
		sender := b.sender
		if sender == nil {
			sender = delivery.NewLogSender(engine.logger, false)
		}
		rb, err := NewRedisBackend(b.redis, cfg.OTP, sender)
		if err != nil {
			return nil, err
		}
		engine.backend = rb
	default:
		engine.backend = NewSimulatedBackend(cfg.Simulation)
	}
	if rb, ok := engine.backend.(*RedisBackend); ok {
		rb.attach(engine)
	}

	// -------- GRANTS --------
	if cfg.Grant.Enabled {
		gm, err := jwt.NewManager(jwt.Config{
			TTL:           cfg.Grant.TTL,
			SigningMethod: jwt.SigningMethod(cfg.Grant.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Grant.PrivateKey),
			PublicKey:     cloneBytes(cfg.Grant.PublicKey),
			Issuer:        cfg.Grant.Issuer,
			Audience:      cfg.Grant.Audience,
		})
		if err != nil {
			return nil, err
		}
		engine.grants = gm
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine.startJanitor()
	b.built = true

	return engine, nil
}
