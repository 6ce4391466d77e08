package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const (
	defaultMaxOddsPoints = 500
	defaultOddsRetention = 90 * 24 * time.Hour
	oddsCleanupLockKey   = "odds_cleanup"
	oddsCleanupLockTTL   = 10 * time.Minute
)

// OddsChannelPattern matches every odds channel.
const OddsChannelPattern = "odds:*"

// OddsChannel is the pub/sub channel carrying live points for one market.
func OddsChannel(seasonID, marketID int64) string {
	return fmt.Sprintf("odds:%d:%d", seasonID, marketID)
}

// OddsRecorder appends odds points.
type OddsRecorder interface {
	Record(ctx context.Context, p domain.OddsPoint) error
}

// OddsConfig tunes the odds history.
type OddsConfig struct {
	MaxPoints            int
	Retention            time.Duration
	ArchiveBeforeCleanup bool
}

// HistoricalOddsRecorder is the append-only odds time series with range
// queries, downsampling and retention.
type HistoricalOddsRecorder struct {
	store    domain.OddsStore
	bus      domain.SignalBus
	archiver domain.OddsArchiver
	locks    domain.LockManager
	audit    domain.AuditStore
	cfg      OddsConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewHistoricalOddsRecorder creates the recorder. bus, archiver, locks and
// audit are optional.
func NewHistoricalOddsRecorder(
	store domain.OddsStore,
	bus domain.SignalBus,
	archiver domain.OddsArchiver,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg OddsConfig,
	logger *slog.Logger,
) *HistoricalOddsRecorder {
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = defaultMaxOddsPoints
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultOddsRetention
	}
	return &HistoricalOddsRecorder{
		store:    store,
		bus:      bus,
		archiver: archiver,
		locks:    locks,
		audit:    audit,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "odds_recorder")),
	}
}

// Record appends p and publishes it to live subscribers.
func (r *HistoricalOddsRecorder) Record(ctx context.Context, p domain.OddsPoint) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = r.now().UTC()
	}
	if err := r.store.Append(ctx, p); err != nil {
		return fmt.Errorf("odds: record: %w", err)
	}
	if r.bus != nil {
		payload, _ := json.Marshal(p)
		if err := r.bus.Publish(ctx, OddsChannel(p.SeasonID, p.MarketID), payload); err != nil {
			r.logger.WarnContext(ctx, "odds publish failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Query returns the history of one market inside rng. Limited ranges start
// with the last earlier point clamped to the window start, and results over
// the point budget are bucket-averaged.
func (r *HistoricalOddsRecorder) Query(ctx context.Context, seasonID, marketID int64, rng domain.OddsRange) (domain.OddsHistory, error) {
	var since time.Time
	if w := rng.Window(); w > 0 {
		since = r.now().UTC().Add(-w)
	}

	points, err := r.store.ListSince(ctx, seasonID, marketID, since)
	if err != nil {
		return domain.OddsHistory{}, fmt.Errorf("odds: query: %w", err)
	}

	var anchor []domain.OddsPoint
	if !since.IsZero() {
		p, ok, err := r.store.LatestBefore(ctx, seasonID, marketID, since)
		if err != nil {
			return domain.OddsHistory{}, fmt.Errorf("odds: query anchor: %w", err)
		}
		if ok {
			p.Timestamp = since
			anchor = []domain.OddsPoint{p}
		}
	}

	out := domain.OddsHistory{Points: append(anchor, points...)}
	if len(out.Points) > r.cfg.MaxPoints {
		// The anchor stays a point of its own so its value survives.
		budget := r.cfg.MaxPoints - len(anchor)
		if budget < 1 {
			out.Points = downsample(out.Points, r.cfg.MaxPoints)
		} else {
			out.Points = append(anchor, downsample(points, budget)...)
		}
		out.Downsampled = true
	}
	if out.Points == nil {
		out.Points = []domain.OddsPoint{}
	}
	out.Count = len(out.Points)
	return out, nil
}

// downsample splits points into equal-size buckets of ceil(n/limit) and
// averages every bps field per bucket. The bucket keeps its first timestamp.
func downsample(points []domain.OddsPoint, limit int) []domain.OddsPoint {
	n := len(points)
	size := (n + limit - 1) / limit
	out := make([]domain.OddsPoint, 0, (n+size-1)/size)

	for start := 0; start < n; start += size {
		end := min(start+size, n)
		bucket := points[start:end]

		var yes, no, hybrid, raffle, sentiment int
		for _, p := range bucket {
			yes += p.YesBps
			no += p.NoBps
			hybrid += p.HybridBps
			raffle += p.RaffleBps
			sentiment += p.SentimentBps
		}
		k := len(bucket)
		out = append(out, domain.OddsPoint{
			SeasonID:     bucket[0].SeasonID,
			MarketID:     bucket[0].MarketID,
			Timestamp:    bucket[0].Timestamp,
			YesBps:       avgBps(yes, k),
			NoBps:        avgBps(no, k),
			HybridBps:    avgBps(hybrid, k),
			RaffleBps:    avgBps(raffle, k),
			SentimentBps: avgBps(sentiment, k),
		})
	}
	return out
}

func avgBps(sum, n int) int {
	return domain.ClampBps((sum + n/2) / n)
}

// Cleanup deletes points older than the retention window, archiving them
// first when configured. Only one replica runs it at a time.
func (r *HistoricalOddsRecorder) Cleanup(ctx context.Context) (int64, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, oddsCleanupLockKey, oddsCleanupLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.DebugContext(ctx, "odds cleanup running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("odds: cleanup lock: %w", err)
		}
		defer unlock()
	}

	before := r.now().UTC().Add(-r.cfg.Retention)

	var archived int64
	if r.cfg.ArchiveBeforeCleanup && r.archiver != nil {
		n, err := r.archiver.ArchiveOdds(ctx, before)
		if err != nil {
			return 0, fmt.Errorf("odds: archive before cleanup: %w", err)
		}
		archived = n
	}

	deleted, err := r.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("odds: cleanup: %w", err)
	}

	r.logger.InfoContext(ctx, "odds history pruned",
		slog.Time("before", before),
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)
	if r.audit != nil {
		if err := r.audit.Log(ctx, "odds_cleanup", map[string]any{
			"before":   before,
			"archived": archived,
			"deleted":  deleted,
		}); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return deleted, nil
}

// Clear deletes the whole history of one market.
func (r *HistoricalOddsRecorder) Clear(ctx context.Context, seasonID, marketID int64) (int64, error) {
	n, err := r.store.DeleteMarket(ctx, seasonID, marketID)
	if err != nil {
		return 0, fmt.Errorf("odds: clear: %w", err)
	}
	r.logger.InfoContext(ctx, "odds history cleared",
		slog.Int64("season_id", seasonID),
		slog.Int64("market_id", marketID),
		slog.Int64("deleted", n),
	)
	return n, nil
}

// RunCleanup prunes the history every interval until ctx is done.
func (r *HistoricalOddsRecorder) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Cleanup(ctx); err != nil {
				r.logger.ErrorContext(ctx, "odds cleanup failed", slog.String("error", err.Error()))
			}
		}
	}
}
