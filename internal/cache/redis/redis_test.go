package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManager_AcquireAndRelease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "odds_cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:odds_cleanup"))

	_, err = lm.Acquire(ctx, "odds_cleanup", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()
	assert.False(t, mr.Exists("lock:odds_cleanup"))

	again, err := lm.Acquire(ctx, "odds_cleanup", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_ReleaseKeepsForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	release, err := lm.Acquire(context.Background(), "job", time.Minute)
	require.NoError(t, err)

	require.NoError(t, mr.Set("lock:job", "someone-else"))
	release()
	assert.True(t, mr.Exists("lock:job"))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "rpc:getLogs", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "rpc:getLogs", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(1500 * time.Millisecond)
	ok, err = rl.Allow(ctx, "rpc:getLogs", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBus_Streams(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "stream:market_lifecycle", []byte(`{"stage":"started"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "stream:market_lifecycle", []byte(`{"stage":"confirmed"}`)))

	msgs, err := bus.StreamRead(ctx, "stream:market_lifecycle", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"stage":"confirmed"}`, string(msgs[1].Payload))

	rest, err := bus.StreamRead(ctx, "stream:market_lifecycle", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)

	require.NoError(t, bus.StreamAppend(ctx, "stream:market_lifecycle", []byte(`{"stage":"failed"}`)))
	tail, err := bus.StreamTail(ctx, "stream:market_lifecycle", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.JSONEq(t, `{"stage":"confirmed"}`, string(tail[0].Payload))
	assert.JSONEq(t, `{"stage":"failed"}`, string(tail[1].Payload))
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "odds:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "odds:1:7", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
