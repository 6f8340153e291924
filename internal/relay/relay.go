// Package relay fans action frames out to other server instances through
// Redis pub/sub, so clients of one workspace may connect to any instance.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
)

// Sink receives frames published by other instances.
type Sink interface {
	DeliverRemote(workspaceID string, data []byte)
}

type envelope struct {
	Origin      string          `json:"origin"`
	WorkspaceID string          `json:"workspaceId"`
	Frame       json.RawMessage `json:"frame"`
}

// Relay publishes local broadcasts and delivers remote ones.
type Relay struct {
	client     *redis.Client
	prefix     string
	instanceID string
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, m *metrics.Metrics) (*Relay, error) {
	redis.SetLogger(redisLogger{log: logger.Global().WithPrefix("redis")})

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "refsync"
	}
	r := &Relay{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.NewString(),
		metrics:    m,
		log:        logger.Global().WithPrefix("relay"),
	}
	r.log.Info("Connected to redis at %s as instance %s", cfg.Addr, r.instanceID)
	return r, nil
}

// InstanceID identifies this process on the relay channels.
func (r *Relay) InstanceID() string { return r.instanceID }

func (r *Relay) channel(workspaceID string) string {
	return r.prefix + ":workspace:" + workspaceID
}

// Publish sends frame to every other instance.
func (r *Relay) Publish(ctx context.Context, workspaceID string, frame []byte) error {
	msg, err := json.Marshal(envelope{Origin: r.instanceID, WorkspaceID: workspaceID, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(workspaceID), msg).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel(workspaceID), err)
	}
	if r.metrics != nil {
		r.metrics.RelayMessages.WithLabelValues(metrics.DirectionPublished).Inc()
	}
	return nil
}

// Run delivers frames of other instances to sink until ctx is done.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	pubsub := r.client.PSubscribe(ctx, r.channel("*"))
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg, sink)
		}
	}
}

func (r *Relay) handle(msg *redis.Message, sink Sink) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.Warn("Ignoring malformed relay message on %s: %v", msg.Channel, err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	if want := strings.TrimPrefix(msg.Channel, r.prefix+":workspace:"); env.WorkspaceID != want {
		r.log.Warn("Relay message for %s arrived on %s", env.WorkspaceID, msg.Channel)
		return
	}
	if r.metrics != nil {
		r.metrics.RelayMessages.WithLabelValues(metrics.DirectionReceived).Inc()
	}
	sink.DeliverRemote(env.WorkspaceID, env.Frame)
}

// Close closes the Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}

type redisLogger struct {
	log *logger.Logger
}

func (l redisLogger) Printf(_ context.Context, format string, v ...interface{}) {
	l.log.Warn(format, v...)
}
