package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// MaterializeResult reports what HandleMarketCreated did.
type MaterializeResult struct {
	Market  domain.Market
	Created bool
	// Linked is set when an existing row only lacked its contract address.
	Linked         bool
	InitialBps     int
	OddsRecorded   bool
	UnknownType    bool
	AlreadyPresent bool
}

// MarketMaterializer turns a MarketCreated event into a durable market row and
// its first odds point.
type MarketMaterializer struct {
	types   *domain.MarketTypeRegistry
	seasons domain.SeasonStore
	curves  CurveReader
	players domain.PlayerStore
	markets domain.MarketStore
	odds    OddsRecorder
	clock   BlockClock
	logger  *slog.Logger
}

// NewMarketMaterializer creates the materializer.
func NewMarketMaterializer(
	types *domain.MarketTypeRegistry,
	seasons domain.SeasonStore,
	curves CurveReader,
	players domain.PlayerStore,
	markets domain.MarketStore,
	odds OddsRecorder,
	clock BlockClock,
	logger *slog.Logger,
) *MarketMaterializer {
	return &MarketMaterializer{
		types:   types,
		seasons: seasons,
		curves:  curves,
		players: players,
		markets: markets,
		odds:    odds,
		clock:   clock,
		logger:  logger.With(slog.String("component", "market_materializer")),
	}
}

// HandleMarketCreated materializes one market. Duplicate deliveries are
// successful no-ops.
func (m *MarketMaterializer) HandleMarketCreated(ctx context.Context, ev domain.MarketCreated) (MaterializeResult, error) {
	mt := m.types.Resolve(ev.MarketTypeHash)
	log := m.logger.With(
		slog.Int64("season_id", ev.SeasonID),
		slog.String("player", ev.Player),
		slog.String("market_type", mt.String()),
		slog.String("market_address", ev.MarketAddress),
	)
	res := MaterializeResult{UnknownType: mt.IsUnknown()}
	if res.UnknownType {
		log.WarnContext(ctx, "unregistered market type hash")
	}

	exists, err := m.markets.HasMarket(ctx, ev.SeasonID, ev.Player, mt)
	if err != nil {
		return res, fmt.Errorf("materializer: has market: %w", err)
	}
	if exists {
		res.AlreadyPresent = true
		return m.linkExisting(ctx, log, ev, mt, res)
	}

	playerID, err := m.players.GetOrCreateID(ctx, ev.Player)
	if errors.Is(err, domain.ErrAlreadyExists) {
		playerID, err = m.players.GetOrCreateID(ctx, ev.Player)
	}
	if err != nil {
		return res, fmt.Errorf("materializer: player id: %w", err)
	}

	res.InitialBps = m.initialBps(ctx, log, ev)

	addr := ev.MarketAddress
	created, err := m.markets.Create(ctx, domain.Market{
		SeasonID:              ev.SeasonID,
		PlayerID:              playerID,
		PlayerAddress:         ev.Player,
		Type:                  mt,
		ContractAddress:       &addr,
		CurrentProbabilityBps: res.InitialBps,
		IsActive:              true,
		LastSyncedBlock:       ev.BlockNumber,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		log.InfoContext(ctx, "market created concurrently, skipping")
		res.AlreadyPresent = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("materializer: create market: %w", err)
	}
	res.Market = created
	res.Created = true

	log.InfoContext(ctx, "market materialized",
		slog.Int64("market_id", created.ID),
		slog.Int("initial_bps", res.InitialBps),
	)

	if m.odds != nil {
		ts := blockTimeOrNow(ctx, m.clock, ev.BlockNumber)
		if err := m.odds.Record(ctx, domain.InitialOddsPoint(ev.SeasonID, created.ID, res.InitialBps, ts)); err != nil {
			log.WarnContext(ctx, "initial odds point failed", slog.String("error", err.Error()))
		} else {
			res.OddsRecorded = true
		}
	}
	return res, nil
}

// linkExisting fills in the contract address of a row that was created
// before its contract was known; otherwise it is a plain skip.
func (m *MarketMaterializer) linkExisting(ctx context.Context, log *slog.Logger, ev domain.MarketCreated, mt domain.MarketType, res MaterializeResult) (MaterializeResult, error) {
	markets, err := m.markets.ListBySeason(ctx, ev.SeasonID)
	if err != nil {
		log.InfoContext(ctx, "market already exists, skipping")
		return res, nil
	}
	for _, existing := range markets {
		if !domain.SameAddress(existing.PlayerAddress, ev.Player) || !existing.Type.Equal(mt) {
			continue
		}
		res.Market = existing
		if existing.Materialized() {
			log.InfoContext(ctx, "market already exists, skipping")
			return res, nil
		}
		if err := m.markets.UpdateContractAddress(ctx, existing.ID, ev.MarketAddress, ev.BlockNumber); err != nil {
			return res, fmt.Errorf("materializer: link contract: %w", err)
		}
		addr := ev.MarketAddress
		res.Market.ContractAddress = &addr
		res.Linked = true
		log.InfoContext(ctx, "market contract linked", slog.Int64("market_id", existing.ID))
		return res, nil
	}
	return res, nil
}

// initialBps reads the bonding curve directly instead of trusting the last
// synchronizer write. Any read failure yields 0.
func (m *MarketMaterializer) initialBps(ctx context.Context, log *slog.Logger, ev domain.MarketCreated) int {
	season, err := m.seasons.Get(ctx, ev.SeasonID)
	if err != nil || season.BondingCurveAddress == "" {
		log.WarnContext(ctx, "season curve unknown, initial probability defaults to 0")
		return 0
	}
	tickets, err := m.curves.PlayerTickets(ctx, season.BondingCurveAddress, ev.Player)
	if err != nil {
		log.WarnContext(ctx, "ticket read failed", slog.String("error", err.Error()))
		return 0
	}
	total, err := m.curves.TotalSupply(ctx, season.BondingCurveAddress)
	if err != nil {
		log.WarnContext(ctx, "total supply read failed", slog.String("error", err.Error()))
		return 0
	}
	return domain.ProbabilityBps(tickets, total)
}
