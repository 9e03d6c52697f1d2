// Package redisrelay shares committed notifications between instances over Redis pub/sub,
// so a session connected to any instance sees changes committed by every instance.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"videomonitoring/internal/logger"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/observability/metrics"
)

const defaultQueue = 1024

// Injector receives messages relayed from other instances.
type Injector interface {
	Inject(msg notify.Message)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay forwards local messages to Redis and injects remote ones into the hub.
type Relay struct {
	client  *redis.Client
	pub     publisher
	channel string
	origin  string
	out     chan notify.Message
	logger  *zap.Logger
}

// Config configures the relay.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Origin   string
	Queue    int
}

// New connects a relay. Origin must be unique per instance.
func New(cfg Config, l *zap.Logger) (*Relay, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis relay: empty addr")
	}
	if cfg.Channel == "" {
		return nil, errors.New("redis relay: empty channel")
	}
	if cfg.Origin == "" {
		return nil, errors.New("redis relay: empty origin")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	r := newRelay(client, cfg, l)
	r.client = client
	return r, nil
}

func newRelay(pub publisher, cfg Config, l *zap.Logger) *Relay {
	queue := cfg.Queue
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Relay{
		pub:     pub,
		channel: cfg.Channel,
		origin:  cfg.Origin,
		out:     make(chan notify.Message, queue),
		logger:  logger.OrNop(l),
	}
}

// Ping checks connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Forward implements notify.Forwarder. It never blocks.
func (r *Relay) Forward(msg notify.Message) {
	if msg.Origin != r.origin {
		return
	}
	select {
	case r.out <- msg:
	default:
		metrics.IncNotification("relay_dropped")
		r.logger.Warn("relay queue full, message not shared",
			zap.String("type", msg.Type), zap.String("account_id", msg.AccountID))
	}
}

// Run publishes forwarded messages and injects remote ones until ctx is done.
func (r *Relay) Run(ctx context.Context, sink Injector) error {
	if r.client == nil {
		r.publishLoop(ctx)
		return nil
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	go r.publishLoop(ctx)

	remote := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-remote:
			if !ok {
				return errors.New("redis relay: subscription closed")
			}
			r.handle(m.Payload, sink)
		}
	}
}

// Close releases the client.
func (r *Relay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.out:
			r.publish(ctx, msg)
		}
	}
}

func (r *Relay) publish(ctx context.Context, msg notify.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("relay encode", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.pub.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		metrics.IncNotification("relay_failed")
		r.logger.Warn("relay publish", zap.Error(err), zap.String("account_id", msg.AccountID))
	}
}

func (r *Relay) handle(payload string, sink Injector) {
	var msg notify.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("relay decode", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	sink.Inject(msg)
}
