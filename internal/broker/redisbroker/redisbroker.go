// Package redisbroker fans row-change events out over Redis pub/sub.
package redisbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/broker"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

const name = "redis"

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Broker implements backend.Realtime and backend.Publisher on Redis.
type Broker struct {
	rdb    *redis.Client
	owned  bool
	logger *logger.Logger
}

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Broker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	b := New(rdb, log)
	b.owned = true
	return b, nil
}

// New wraps an existing client. Close leaves it open.
func New(rdb *redis.Client, log *logger.Logger) *Broker {
	return &Broker{rdb: rdb, logger: log.Named("redisbroker")}
}

// Publish sends ev on the channel of its table.
func (b *Broker) Publish(ctx context.Context, ev backend.ChangeEvent) error {
	data, err := broker.Encode(ev)
	if err != nil {
		return err
	}
	channel := broker.Subject(ev.Table)
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	metrics.BrokerPublishedTotal.WithLabelValues(name, ev.Table).Inc()
	return nil
}

// OpenChannel subscribes to the channel of filter.Table, or to every table
// when it is empty, and waits for the server's subscription reply.
func (b *Broker) OpenChannel(ctx context.Context, topic string, filter backend.EventFilter, handler func(backend.ChangeEvent)) (backend.Channel, error) {
	var ps *redis.PubSub
	if filter.Table != "" {
		ps = b.rdb.Subscribe(ctx, broker.Subject(filter.Table))
	} else {
		ps = b.rdb.PSubscribe(ctx, broker.SubjectPrefix+".*")
	}
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c := &channel{
		ps:         ps,
		dispatcher: broker.NewDispatcher(name, topic, filter, handler, b.logger),
	}
	c.wg.Add(1)
	go c.pump()
	return c, nil
}

// Ping checks the server answers.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the client if Connect opened it.
func (b *Broker) Close() error {
	if !b.owned {
		return nil
	}
	return b.rdb.Close()
}

type channel struct {
	ps         *redis.PubSub
	dispatcher *broker.Dispatcher
	wg         sync.WaitGroup
}

func (c *channel) pump() {
	defer c.wg.Done()
	for msg := range c.ps.Channel() {
		c.dispatcher.Receive(msg.Channel, []byte(msg.Payload))
	}
}

func (c *channel) Topic() string {
	return c.dispatcher.Topic()
}

func (c *channel) Close() error {
	err := c.ps.Close()
	c.wg.Wait()
	c.dispatcher.Close()
	if err != nil {
		return fmt.Errorf("close subscription %s: %w", c.dispatcher.Topic(), err)
	}
	return nil
}
