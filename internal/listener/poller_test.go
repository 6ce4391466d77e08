package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const testAddress = "0x00000000000000000000000000000000000000aa"

type logRange struct{ from, to uint64 }

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	logs    map[uint64][]types.Log
	calls   []logRange
	failGet error
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) GetLogs(_ context.Context, _ common.Address, _ common.Hash, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, logRange{from, to})
	if f.failGet != nil {
		return nil, f.failGet
	}
	var out []types.Log
	for b := from; b <= to; b++ {
		out = append(out, f.logs[b]...)
	}
	return out, nil
}

func (f *fakeSource) ranges() []logRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logRange(nil), f.calls...)
}

type memCursor struct {
	mu      sync.Mutex
	blocks  map[string]uint64
	failSet error
}

func newMemCursor() *memCursor { return &memCursor{blocks: make(map[string]uint64)} }

func (m *memCursor) Load(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[key], nil
}

func (m *memCursor) Save(_ context.Context, key string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	if block > m.blocks[key] {
		m.blocks[key] = block
	}
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, src LogSource, cur domain.CursorStore, h Handler, opts ...Option) *Poller {
	t.Helper()
	p, err := NewPoller(Config{
		Key:           "positionupdate:test",
		Address:       testAddress,
		Interval:      10 * time.Millisecond,
		MaxBlockRange: 100,
	}, src, cur, h, discardLogger(), opts...)
	require.NoError(t, err)
	return p
}

func TestNewPoller_MissingAddress(t *testing.T) {
	_, err := NewPoller(Config{Key: "k", Address: ""}, &fakeSource{}, newMemCursor(),
		func(context.Context, []types.Log) error { return nil }, discardLogger())
	assert.ErrorIs(t, err, domain.ErrMissingContract)
}

func TestTick_AdvancesCursorAfterHandler(t *testing.T) {
	src := &fakeSource{head: 50, logs: map[uint64][]types.Log{
		10: {{BlockNumber: 10}},
		42: {{BlockNumber: 42}},
	}}
	cur := newMemCursor()
	var got []types.Log
	p := newTestPoller(t, src, cur, func(_ context.Context, logs []types.Log) error {
		got = append(got, logs...)
		return nil
	})

	require.NoError(t, p.Tick(context.Background()))
	assert.Len(t, got, 2)
	assert.Equal(t, []logRange{{1, 50}}, src.ranges())

	block, _ := cur.Load(context.Background(), p.Key())
	assert.EqualValues(t, 50, block)
}

func TestTick_SkipsWhenCaughtUp(t *testing.T) {
	src := &fakeSource{head: 50}
	cur := newMemCursor()
	cur.blocks["positionupdate:test"] = 50
	called := false
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error {
		called = true
		return nil
	})

	require.NoError(t, p.Tick(context.Background()))
	assert.False(t, called)
	assert.Empty(t, src.ranges())
}

func TestTick_ChunksLargeRanges(t *testing.T) {
	src := &fakeSource{head: 250}
	cur := newMemCursor()
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error { return nil })

	for range 3 {
		require.NoError(t, p.Tick(context.Background()))
	}
	assert.Equal(t, []logRange{{1, 100}, {101, 200}, {201, 250}}, src.ranges())
}

func TestTick_HandlerErrorDoesNotAdvance(t *testing.T) {
	src := &fakeSource{head: 20}
	cur := newMemCursor()
	cur.blocks["positionupdate:test"] = 10
	fail := true
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})

	require.Error(t, p.Tick(context.Background()))
	block, _ := cur.Load(context.Background(), p.Key())
	assert.EqualValues(t, 10, block)

	fail = false
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, []logRange{{11, 20}, {11, 20}}, src.ranges())
	block, _ = cur.Load(context.Background(), p.Key())
	assert.EqualValues(t, 20, block)
}

func TestTick_FetchErrorDoesNotAdvance(t *testing.T) {
	src := &fakeSource{head: 20, failGet: errors.New("rpc down")}
	cur := newMemCursor()
	called := false
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error {
		called = true
		return nil
	})

	require.Error(t, p.Tick(context.Background()))
	assert.False(t, called)
	block, _ := cur.Load(context.Background(), p.Key())
	assert.Zero(t, block)
}

func TestTick_SaveErrorIsSwallowed(t *testing.T) {
	src := &fakeSource{head: 5}
	cur := newMemCursor()
	cur.failSet = errors.New("db down")
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error { return nil })

	assert.NoError(t, p.Tick(context.Background()))
}

func TestTick_StartBlockUsedWithoutCursor(t *testing.T) {
	src := &fakeSource{head: 1000}
	cur := newMemCursor()
	p, err := NewPoller(Config{
		Key:           "k",
		Address:       testAddress,
		MaxBlockRange: 2000,
		StartBlock:    900,
	}, src, cur, func(context.Context, []types.Log) error { return nil }, discardLogger())
	require.NoError(t, err)

	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, []logRange{{900, 1000}}, src.ranges())
}

func TestTick_RateLimitedSkipsFetch(t *testing.T) {
	src := &fakeSource{head: 5}
	cur := newMemCursor()
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error { return nil },
		WithRateLimiter(denyLimiter{}, 5))

	require.NoError(t, p.Tick(context.Background()))
	assert.Empty(t, src.ranges())
}

func TestCursorIsMonotonicAcrossRestarts(t *testing.T) {
	src := &fakeSource{head: 30}
	cur := newMemCursor()
	h := func(context.Context, []types.Log) error { return nil }

	first := newTestPoller(t, src, cur, h)
	require.NoError(t, first.Tick(context.Background()))

	src.head = 60
	second := newTestPoller(t, src, cur, h)
	require.NoError(t, second.Tick(context.Background()))

	assert.Equal(t, []logRange{{1, 30}, {31, 60}}, src.ranges())
}

func TestStart_StopHaltsLoop(t *testing.T) {
	src := &fakeSource{head: 10}
	cur := newMemCursor()
	p := newTestPoller(t, src, cur, func(context.Context, []types.Log) error { return nil })

	h := p.Start(context.Background())
	require.Eventually(t, func() bool {
		b, _ := cur.Load(context.Background(), p.Key())
		return b == 10
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRegistry_ArmIsIdempotent(t *testing.T) {
	reg := NewRegistry(discardLogger())
	starts := 0
	start := func() (*Handle, error) {
		starts++
		h := newHandle("a")
		go func() {
			<-h.stop
			close(h.done)
		}()
		return h, nil
	}

	armed, err := reg.Arm("a", start)
	require.NoError(t, err)
	assert.True(t, armed)

	armed, err = reg.Arm("a", start)
	require.NoError(t, err)
	assert.False(t, armed)
	assert.Equal(t, 1, starts)
	assert.Equal(t, []string{"a"}, reg.Keys())

	reg.StopAll()
	assert.Empty(t, reg.Keys())
	assert.False(t, reg.Has("a"))
}

func TestRegistry_RearmWaitsForStoppingLoop(t *testing.T) {
	reg := NewRegistry(discardLogger())
	release := make(chan struct{})
	first := newHandle("a")
	go func() {
		<-first.stop
		<-release
		close(first.done)
	}()
	_, err := reg.Arm("a", func() (*Handle, error) { return first, nil })
	require.NoError(t, err)

	stopped := make(chan bool, 1)
	go func() { stopped <- reg.Stop("a") }()
	require.Eventually(t, func() bool { return first.stopped() }, time.Second, time.Millisecond)

	rearmed := make(chan struct{})
	go func() {
		_, _ = reg.Arm("a", func() (*Handle, error) {
			select {
			case <-first.done:
			default:
				t.Error("new loop started before the old one exited")
			}
			h := newHandle("a")
			go func() {
				<-h.stop
				close(h.done)
			}()
			return h, nil
		})
		close(rearmed)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the loop exited")
	case <-rearmed:
		t.Fatal("Arm returned before the old loop exited")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.True(t, <-stopped)
	<-rearmed
	assert.Equal(t, []string{"a"}, reg.Keys())
	reg.StopAll()
}

func TestRegistry_StartErrorIsNotRegistered(t *testing.T) {
	reg := NewRegistry(discardLogger())
	_, err := reg.Arm("b", func() (*Handle, error) { return nil, domain.ErrMissingContract })
	assert.ErrorIs(t, err, domain.ErrMissingContract)
	assert.False(t, reg.Has("b"))
}

func TestDispatch_SkipsBadLogsAndPanics(t *testing.T) {
	logs := []types.Log{{BlockNumber: 1}, {BlockNumber: 2}, {BlockNumber: 3}, {BlockNumber: 4}}
	var handled []uint64
	h := Dispatch("test",
		func(l types.Log) (uint64, error) {
			if l.BlockNumber == 2 {
				return 0, errors.New("bad log")
			}
			return l.BlockNumber, nil
		},
		func(_ context.Context, n uint64) error {
			if n == 3 {
				panic("handler blew up")
			}
			handled = append(handled, n)
			return nil
		},
		discardLogger(),
	)

	require.NoError(t, h(context.Background(), logs))
	assert.Equal(t, []uint64{1, 4}, handled)
}

func TestDispatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := Dispatch("test",
		func(l types.Log) (uint64, error) { return l.BlockNumber, nil },
		func(context.Context, uint64) error { return nil },
		discardLogger(),
	)
	assert.ErrorIs(t, h(ctx, []types.Log{{BlockNumber: 1}}), context.Canceled)
}
