package auditsink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/frog8/authflow"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig configures a MongoSink that owns its client.
type MongoConfig struct {
	URI          string
	Database     string
	Collection   string
	WriteTimeout time.Duration
}

// MongoSink inserts one document per audit event.
type MongoSink struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
	written atomic.Uint64
	failed  atomic.Uint64
}

// ConnectMongo connects and pings. The caller owns the returned client.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// NewMongoSink connects to cfg.URI and writes into cfg.Database/cfg.Collection.
// Close disconnects the client.
func NewMongoSink(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoSink, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongo audit sink requires URI and Database")
	}
	if cfg.Collection == "" {
		cfg.Collection = "audit_events"
	}

	client, err := ConnectMongo(ctx, cfg.URI)
	if err != nil {
		return nil, err
	}
	s := NewMongoSinkForCollection(client.Database(cfg.Database).Collection(cfg.Collection), cfg.WriteTimeout, logger)
	s.client = client

	if err := s.EnsureIndexes(ctx); err != nil {
		s.logger.Warn("audit index creation failed", zap.Error(err))
	}
	return s, nil
}

// NewMongoSinkForCollection writes into an existing collection. Close leaves
// the collection's client connected.
func NewMongoSinkForCollection(coll *mongo.Collection, timeout time.Duration, logger *zap.Logger) *MongoSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSink{
		coll:    coll,
		timeout: timeout,
		logger:  logger.Named("audit.mongo"),
	}
}

// EnsureIndexes creates the flow lookup and time range indexes.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "flow_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("flow_timestamp_idx"),
		},
		{
			Keys:    bson.D{{Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("event_timestamp_idx"),
		},
	})
	return err
}

func (s *MongoSink) Emit(ctx context.Context, event authflow.AuditEvent) {
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.coll.InsertOne(writeCtx, event); err != nil {
		s.failed.Add(1)
		s.logger.Warn("audit event not stored",
			zap.String("event_type", event.EventType),
			zap.String("flow_id", event.FlowID),
			zap.Error(err),
		)
		return
	}
	s.written.Add(1)
}

func (s *MongoSink) Written() uint64 {
	return s.written.Load()
}

func (s *MongoSink) Failed() uint64 {
	return s.failed.Load()
}

func (s *MongoSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
