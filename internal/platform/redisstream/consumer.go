package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

const DefaultField = "payload"

type Config struct {
	Addr     string
	Stream   string
	Group    string
	Consumer string
	// Field is the stream entry field that holds the message body.
	Field string
	// Block is how long one read waits for new entries.
	Block time.Duration
	Count int64
	// ClaimIdle is how long an unacknowledged entry waits before it is delivered again.
	ClaimIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Field == "" {
		c.Field = DefaultField
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	return c
}

// Handler processes one entry. An error leaves the entry pending for redelivery
// unless the consumer's permanent predicate says otherwise.
type Handler func(ctx context.Context, id string, payload []byte) error

// Consumer reads a Redis stream as a member of a consumer group.
type Consumer struct {
	log *logger.Logger
	rdb *goredis.Client
	cfg Config
}

func NewConsumer(log *logger.Logger, cfg Config) (*Consumer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewConsumerWithClient(log, rdb, cfg)
}

func NewConsumerWithClient(log *logger.Logger, rdb *goredis.Client, cfg Config) (*Consumer, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if strings.TrimSpace(cfg.Stream) == "" || strings.TrimSpace(cfg.Group) == "" || strings.TrimSpace(cfg.Consumer) == "" {
		return nil, fmt.Errorf("stream, group and consumer are required")
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		log: log.With("service", "RedisStreamConsumer", "stream", cfg.Stream, "group", cfg.Group),
		rdb: rdb,
		cfg: cfg,
	}, nil
}

// EnsureGroup creates the stream and the consumer group when they are missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis group create: %w", err)
	}
	return nil
}

// Publish appends payload to the stream.
func (c *Consumer) Publish(ctx context.Context, payload []byte) (string, error) {
	return c.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]interface{}{c.cfg.Field: payload},
	}).Result()
}

// Run consumes until ctx is done. Entries whose handler error satisfies
// permanent are acknowledged and dropped; a nil permanent treats every error as transient.
func (c *Consumer) Run(ctx context.Context, h Handler, permanent func(error) bool) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("Consuming stream", "consumer", c.cfg.Consumer)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.reclaim(ctx, h, permanent); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Reclaiming pending entries failed", "error", err)
		}
		streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Reading stream failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				c.deliver(ctx, m, h, permanent)
			}
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context, h Handler, permanent func(error) bool) error {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    c.cfg.Count,
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		c.log.Debug("Redelivering pending entry", "entry_id", m.ID)
		c.deliver(ctx, m, h, permanent)
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, m goredis.XMessage, h Handler, permanent func(error) bool) {
	payload, ok := fieldBytes(m.Values[c.cfg.Field])
	if !ok {
		c.log.Warn("Dropping entry without payload field", "entry_id", m.ID, "field", c.cfg.Field)
		c.ack(ctx, m.ID)
		return
	}
	err := h(ctx, m.ID, payload)
	switch {
	case err == nil:
		c.ack(ctx, m.ID)
	case permanent != nil && permanent(err):
		c.log.Warn("Dropping entry that can never succeed", "entry_id", m.ID, "error", err)
		c.ack(ctx, m.ID)
	default:
		c.log.Warn("Entry failed, leaving it pending", "entry_id", m.ID, "error", err)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Warn("Acknowledging entry failed", "entry_id", id, "error", err)
	}
}

func fieldBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return nil, false
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
