package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

var oddsNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRecorder(store *memOdds, cfg OddsConfig) *HistoricalOddsRecorder {
	r := NewHistoricalOddsRecorder(store, nil, nil, nil, nil, cfg, discardLogger())
	r.now = func() time.Time { return oddsNow }
	return r
}

func point(ts time.Time, yes int) domain.OddsPoint {
	return domain.RaffleOddsPoint(1, 7, yes, ts)
}

func TestQuery_DownsamplesWithAnchor(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	for i := range 50 {
		require.NoError(t, store.Append(ctx, point(oddsNow.Add(-2*time.Hour+time.Duration(i)*time.Minute), 1000)))
	}
	for j := range 550 {
		require.NoError(t, store.Append(ctx, point(oddsNow.Add(-time.Hour+time.Duration(j)*6*time.Second), 2000+j)))
	}
	r := newTestRecorder(store, OddsConfig{})

	h, err := r.Query(ctx, 1, 7, domain.OddsRange1H)
	require.NoError(t, err)

	assert.True(t, h.Downsampled)
	assert.LessOrEqual(t, len(h.Points), 500)
	assert.Equal(t, len(h.Points), h.Count)
	assert.Equal(t, oddsNow.Add(-time.Hour), h.Points[0].Timestamp)
	assert.Equal(t, 1000, h.Points[0].YesBps)
	assert.False(t, h.Points[1].Timestamp.Before(h.Points[0].Timestamp))
	assert.GreaterOrEqual(t, h.Points[1].YesBps, 2000)
}

func TestQuery_EvenlySpacedTwoHours(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	for i := range 600 {
		require.NoError(t, store.Append(ctx, point(oddsNow.Add(-2*time.Hour+time.Duration(i)*12*time.Second), 3000+i)))
	}
	r := newTestRecorder(store, OddsConfig{})

	h, err := r.Query(ctx, 1, 7, domain.OddsRange1H)
	require.NoError(t, err)

	assert.False(t, h.Downsampled)
	require.Len(t, h.Points, 301)
	assert.Equal(t, oddsNow.Add(-time.Hour), h.Points[0].Timestamp)
	assert.Equal(t, 3000+299, h.Points[0].YesBps)
	assert.Equal(t, 3000+300, h.Points[1].YesBps)
}

func TestQuery_AnchorWithoutDownsampling(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-3*time.Hour), 4200)))
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-30*time.Minute), 4300)))
	r := newTestRecorder(store, OddsConfig{})

	h, err := r.Query(ctx, 1, 7, domain.OddsRange1H)
	require.NoError(t, err)

	assert.False(t, h.Downsampled)
	require.Len(t, h.Points, 2)
	assert.Equal(t, oddsNow.Add(-time.Hour), h.Points[0].Timestamp)
	assert.Equal(t, 4200, h.Points[0].YesBps)
	assert.Equal(t, 4300, h.Points[1].YesBps)
}

func TestQuery_AllRangeHasNoAnchor(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-400*24*time.Hour), 100)))
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-time.Minute), 200)))
	r := newTestRecorder(store, OddsConfig{})

	h, err := r.Query(ctx, 1, 7, domain.OddsRangeAll)
	require.NoError(t, err)

	require.Len(t, h.Points, 2)
	assert.Equal(t, oddsNow.Add(-400*24*time.Hour), h.Points[0].Timestamp)
}

func TestQuery_EmptyHistory(t *testing.T) {
	r := newTestRecorder(&memOdds{}, OddsConfig{})

	h, err := r.Query(context.Background(), 1, 7, domain.OddsRange1D)
	require.NoError(t, err)

	assert.NotNil(t, h.Points)
	assert.Zero(t, h.Count)
}

func TestDownsample_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{501, 999, 1000, 1001, 4321} {
		pts := make([]domain.OddsPoint, n)
		for i := range pts {
			yes := rng.IntN(domain.BpsScale + 1)
			pts[i] = domain.OddsPoint{
				Timestamp:    oddsNow.Add(time.Duration(i) * time.Second),
				YesBps:       yes,
				NoBps:        domain.BpsScale - yes,
				HybridBps:    rng.IntN(domain.BpsScale + 1),
				RaffleBps:    rng.IntN(domain.BpsScale + 1),
				SentimentBps: rng.IntN(domain.BpsScale + 1),
			}
		}

		out := downsample(pts, 500)
		assert.LessOrEqual(t, len(out), 500, "n=%d", n)
		for _, p := range out {
			for _, v := range []int{p.YesBps, p.NoBps, p.HybridBps, p.RaffleBps, p.SentimentBps} {
				assert.GreaterOrEqual(t, v, 0)
				assert.LessOrEqual(t, v, domain.BpsScale)
			}
		}
	}
}

func TestRecord_PublishesLivePoint(t *testing.T) {
	store := &memOdds{}
	bus := newMemBus()
	r := NewHistoricalOddsRecorder(store, bus, nil, nil, nil, OddsConfig{}, discardLogger())

	require.NoError(t, r.Record(context.Background(), point(oddsNow, 3300)))

	assert.Len(t, store.all(), 1)
	require.Len(t, bus.published[OddsChannel(1, 7)], 1)
	assert.Contains(t, string(bus.published["odds:1:7"][0]), `"yes_bps":3300`)
}

func TestCleanup_ArchivesThenDeletes(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-100*24*time.Hour), 1)))
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-91*24*time.Hour), 2)))
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-time.Hour), 3)))

	archiver := &fakeArchiver{store: store}
	audit := &memAudit{}
	r := NewHistoricalOddsRecorder(store, nil, archiver, &memLocks{}, audit,
		OddsConfig{ArchiveBeforeCleanup: true}, discardLogger())
	r.now = func() time.Time { return oddsNow }

	n, err := r.Cleanup(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, n)
	assert.Equal(t, oddsNow.Add(-90*24*time.Hour), archiver.before)
	assert.Len(t, store.all(), 1)
	assert.Equal(t, []string{"odds_cleanup"}, audit.events)
}

func TestCleanup_ArchiveFailureKeepsData(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-100*24*time.Hour), 1)))

	archiver := &fakeArchiver{store: store, err: errors.New("s3 down")}
	r := NewHistoricalOddsRecorder(store, nil, archiver, nil, nil,
		OddsConfig{ArchiveBeforeCleanup: true}, discardLogger())
	r.now = func() time.Time { return oddsNow }

	_, err := r.Cleanup(ctx)
	assert.Error(t, err)
	assert.Len(t, store.all(), 1)
}

func TestCleanup_SkipsWhenLockHeld(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow.Add(-100*24*time.Hour), 1)))
	r := NewHistoricalOddsRecorder(store, nil, nil, &memLocks{held: true}, nil, OddsConfig{}, discardLogger())
	r.now = func() time.Time { return oddsNow }

	n, err := r.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.all(), 1)
}

func TestClear_RemovesOneMarket(t *testing.T) {
	store := &memOdds{}
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, point(oddsNow, 1)))
	require.NoError(t, store.Append(ctx, domain.RaffleOddsPoint(1, 8, 5, oddsNow)))
	r := newTestRecorder(store, OddsConfig{})

	n, err := r.Clear(ctx, 1, 7)
	require.NoError(t, err)

	assert.EqualValues(t, 1, n)
	require.Len(t, store.all(), 1)
	assert.EqualValues(t, 8, store.all()[0].MarketID)
}
