package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

var errPermanent = errors.New("never valid")

func newTestConsumer(t *testing.T) (*Consumer, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c, err := NewConsumerWithClient(logger.Nop(), rdb, Config{
		Stream:    "aktivitetslogg",
		Group:     "activitylog",
		Consumer:  "test-1",
		Block:     20 * time.Millisecond,
		ClaimIdle: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c, rdb
}

func TestConsumerDeliversAcksAndRedelivers(t *testing.T) {
	c, rdb := newTestConsumer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx), "group creation is idempotent")

	for _, p := range []string{"a", "flaky", "poison"} {
		_, err := c.Publish(ctx, []byte(p))
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	handler := func(_ context.Context, _ string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen[string(payload)]++
		switch string(payload) {
		case "flaky":
			if seen["flaky"] == 1 {
				return errors.New("database busy")
			}
		case "poison":
			return errPermanent
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, handler, func(err error) bool { return errors.Is(err, errPermanent) })
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["flaky"] >= 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		pending, err := rdb.XPending(context.Background(), "aktivitetslogg", "activitylog").Result()
		return err == nil && pending.Count == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["a"])
	assert.Equal(t, 1, seen["poison"], "permanent failures are acknowledged, not retried")
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumerWithClient(logger.Nop(), nil, Config{Stream: "s", Group: "g", Consumer: "c"})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	_, err = NewConsumerWithClient(logger.Nop(), rdb, Config{Stream: "s", Group: "g"})
	assert.Error(t, err)

	_, err = NewConsumer(logger.Nop(), Config{})
	assert.Error(t, err)
}
