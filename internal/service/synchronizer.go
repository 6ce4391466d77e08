package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// MarketCreator is the slice of MarketCreationOrchestrator the synchronizer
// needs.
type MarketCreator interface {
	CreateMarket(ctx context.Context, factory string, req MarketRequest) CreationResult
}

// ProbabilityPusher is the slice of OracleSyncService the synchronizer
// needs.
type ProbabilityPusher interface {
	UpdateRaffleProbability(ctx context.Context, market string, bps int) OracleResult
}

// SyncResult summarises one processed PositionUpdate.
type SyncResult struct {
	Probabilities  map[string]int
	Updated        int64
	Crossed        bool
	Creation       *CreationResult
	OraclePushes   int
	OracleFailures int
	Recorded       bool
}

// ProbabilitySynchronizer recomputes a whole season's win probabilities
// whenever one player's ticket position changes.
type ProbabilitySynchronizer struct {
	raffle  SeasonReader
	curves  CurveReader
	players domain.PlayerStore
	markets domain.MarketStore
	txs     domain.TransactionStore
	clock   BlockClock
	creator MarketCreator
	oracle  ProbabilityPusher
	odds    OddsRecorder
	factory string
	logger  *slog.Logger
}

// SynchronizerDeps groups the collaborators of a ProbabilitySynchronizer.
// Oracle and Odds are optional.
type SynchronizerDeps struct {
	Raffle       SeasonReader
	Curves       CurveReader
	Players      domain.PlayerStore
	Markets      domain.MarketStore
	Transactions domain.TransactionStore
	Clock        BlockClock
	Creator      MarketCreator
	Oracle       ProbabilityPusher
	Odds         OddsRecorder
	Factory      string
}

// NewProbabilitySynchronizer creates the synchronizer.
func NewProbabilitySynchronizer(deps SynchronizerDeps, logger *slog.Logger) *ProbabilitySynchronizer {
	return &ProbabilitySynchronizer{
		raffle:  deps.Raffle,
		curves:  deps.Curves,
		players: deps.Players,
		markets: deps.Markets,
		txs:     deps.Transactions,
		clock:   deps.Clock,
		creator: deps.Creator,
		oracle:  deps.Oracle,
		odds:    deps.Odds,
		factory: deps.Factory,
		logger:  logger.With(slog.String("component", "probability_sync")),
	}
}

// HandlePositionUpdate processes one PositionUpdate emitted by curve. Every
// step is isolated: a failure is logged and the remaining steps still run.
// Only context cancellation is returned as an error.
func (s *ProbabilitySynchronizer) HandlePositionUpdate(ctx context.Context, curve string, ev domain.PositionUpdate) (SyncResult, error) {
	log := s.logger.With(
		slog.Int64("season_id", ev.SeasonID),
		slog.String("player", ev.Player),
		slog.String("tx_hash", ev.TxHash),
	)
	var res SyncResult

	probs, err := s.recompute(ctx, log, curve, ev)
	if err != nil {
		log.ErrorContext(ctx, "probability recomputation failed", slog.String("error", err.Error()))
	}
	res.Probabilities = probs

	var markets []domain.Market
	if len(probs) > 0 {
		res.Updated, markets = s.persist(ctx, log, ev, probs)
	}

	oldBps := domain.ProbabilityBps(ev.OldTickets, ev.TotalTickets)
	newBps := domain.ProbabilityBps(ev.NewTickets, ev.TotalTickets)
	if domain.CrossesThreshold(oldBps, newBps) {
		res.Crossed = true
		log.InfoContext(ctx, "threshold crossed",
			slog.Int("old_bps", oldBps),
			slog.Int("new_bps", newBps),
		)
		if s.creator != nil {
			cr := s.creator.CreateMarket(ctx, s.factory, MarketRequest{
				SeasonID:       ev.SeasonID,
				Player:         ev.Player,
				OldTickets:     ev.OldTickets,
				NewTickets:     ev.NewTickets,
				TotalTickets:   ev.TotalTickets,
				ProbabilityBps: newBps,
			})
			res.Creation = &cr
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.OraclePushes, res.OracleFailures = s.pushOracle(ctx, log, ev, markets, probs)

	res.Recorded = s.recordTransaction(ctx, log, ev)
	return res, ctx.Err()
}

// recompute returns bps for every participant at or above the threshold,
// keyed by lower-case address.
func (s *ProbabilitySynchronizer) recompute(ctx context.Context, log *slog.Logger, curve string, ev domain.PositionUpdate) (map[string]int, error) {
	participants, err := s.raffle.Participants(ctx, ev.SeasonID)
	if err != nil {
		return nil, fmt.Errorf("sync: participants: %w", err)
	}
	if !containsAddress(participants, ev.Player) {
		participants = append(participants, ev.Player)
	}

	maxSupply, err := s.curves.MaxSupply(ctx, curve)
	if err != nil {
		log.WarnContext(ctx, "max supply read failed, threshold filter disabled", slog.String("error", err.Error()))
		maxSupply = 0
	}
	threshold := domain.ThresholdTickets(maxSupply)

	probs := make(map[string]int, len(participants))
	for _, p := range participants {
		if err := ctx.Err(); err != nil {
			return probs, err
		}
		if _, err := s.ensurePlayer(ctx, p); err != nil {
			log.WarnContext(ctx, "player registry write failed",
				slog.String("participant", p),
				slog.String("error", err.Error()),
			)
		}

		tickets, err := s.curves.PlayerTickets(ctx, curve, p)
		if err != nil {
			log.WarnContext(ctx, "ticket read failed",
				slog.String("participant", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		if tickets < threshold || tickets <= 0 {
			continue
		}
		probs[strings.ToLower(p)] = domain.ProbabilityBps(tickets, ev.TotalTickets)
	}
	return probs, nil
}

func (s *ProbabilitySynchronizer) ensurePlayer(ctx context.Context, address string) (int64, error) {
	id, err := s.players.GetOrCreateID(ctx, address)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost an insert race with another poller; the row is there now.
		id, err = s.players.GetOrCreateID(ctx, address)
	}
	return id, err
}

// persist bulk-writes probabilities onto existing markets and returns the
// season's markets for the oracle step.
func (s *ProbabilitySynchronizer) persist(ctx context.Context, log *slog.Logger, ev domain.PositionUpdate, probs map[string]int) (int64, []domain.Market) {
	updates := make([]domain.ProbabilityUpdate, 0, len(probs))
	for addr, bps := range probs {
		updates = append(updates, domain.ProbabilityUpdate{PlayerAddress: addr, Bps: bps})
	}

	updated, err := s.markets.UpdateProbabilities(ctx, ev.SeasonID, updates, ev.BlockNumber)
	if err != nil {
		log.ErrorContext(ctx, "bulk probability update failed", slog.String("error", err.Error()))
	}

	markets, err := s.markets.ListBySeason(ctx, ev.SeasonID)
	if err != nil {
		log.WarnContext(ctx, "market list failed", slog.String("error", err.Error()))
		return updated, nil
	}
	s.checkSum(ctx, log, markets, probs)
	return updated, markets
}

// checkSum warns when active winner markets stray from 100% by more than
// their rounding allowance.
func (s *ProbabilitySynchronizer) checkSum(ctx context.Context, log *slog.Logger, markets []domain.Market, probs map[string]int) {
	sum, k := 0, 0
	for _, m := range markets {
		if !m.IsActive || m.IsSettled || !m.Type.Equal(domain.WinnerPrediction) {
			continue
		}
		bps, ok := probs[strings.ToLower(m.PlayerAddress)]
		if !ok {
			bps = m.CurrentProbabilityBps
		}
		sum += bps
		k++
	}
	if k == 0 {
		return
	}
	if diff := sum - domain.BpsScale; diff > k || diff < -k {
		log.WarnContext(ctx, "probability sum mismatch",
			slog.Int("sum_bps", sum),
			slog.Int("markets", k),
		)
	}
}

func (s *ProbabilitySynchronizer) pushOracle(ctx context.Context, log *slog.Logger, ev domain.PositionUpdate, markets []domain.Market, probs map[string]int) (pushes, failures int) {
	ts := blockTimeOrNow(ctx, s.clock, ev.BlockNumber)
	for _, m := range markets {
		if !m.IsActive || m.IsSettled || !m.Type.Equal(domain.WinnerPrediction) {
			continue
		}
		bps, ok := probs[strings.ToLower(m.PlayerAddress)]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return pushes, failures
		}

		if s.odds != nil {
			if err := s.odds.Record(ctx, domain.RaffleOddsPoint(ev.SeasonID, m.ID, bps, ts)); err != nil {
				log.WarnContext(ctx, "odds point write failed",
					slog.Int64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		if s.oracle == nil || !m.Materialized() {
			continue
		}
		pushes++
		r := s.oracle.UpdateRaffleProbability(ctx, *m.ContractAddress, bps)
		if !r.Success {
			failures++
			log.WarnContext(ctx, "oracle push failed",
				slog.String("market", *m.ContractAddress),
				slog.Int("attempts", r.Attempts),
				slog.String("error", errString(r.Err)),
			)
		}
	}
	return pushes, failures
}

func (s *ProbabilitySynchronizer) recordTransaction(ctx context.Context, log *slog.Logger, ev domain.PositionUpdate) bool {
	if ev.TxHash == "" {
		return false
	}
	delta := ev.NewTickets - ev.OldTickets
	inserted, err := s.txs.Record(ctx, domain.RaffleTransaction{
		SeasonID:       ev.SeasonID,
		UserAddress:    ev.Player,
		Type:           domain.TxTypeFor(delta),
		TicketDelta:    delta,
		TxHash:         ev.TxHash,
		BlockNumber:    ev.BlockNumber,
		BlockTimestamp: blockTimeOrNow(ctx, s.clock, ev.BlockNumber),
		TicketsBefore:  ev.OldTickets,
		TicketsAfter:   ev.NewTickets,
	})
	if err != nil {
		log.ErrorContext(ctx, "transaction record failed", slog.String("error", err.Error()))
		return false
	}
	if !inserted {
		log.DebugContext(ctx, "transaction already recorded")
	}
	return inserted
}

func containsAddress(list []string, addr string) bool {
	for _, a := range list {
		if domain.SameAddress(a, addr) {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
