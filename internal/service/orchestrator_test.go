package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

type orchestratorHarness struct {
	orch      *MarketCreationOrchestrator
	markets   *memMarkets
	failures  *memFailures
	relay     *fakeMarketRelay
	receipts  *fakeReceipts
	broadcast *recordingBroadcaster
}

func newOrchestratorHarness(relayErrs, receiptErrs []error) *orchestratorHarness {
	h := &orchestratorHarness{
		markets:   &memMarkets{},
		failures:  &memFailures{},
		relay:     &fakeMarketRelay{scripted: scripted{errs: relayErrs}},
		receipts:  &fakeReceipts{scripted: scripted{errs: receiptErrs}},
		broadcast: &recordingBroadcaster{},
	}
	h.orch = NewMarketCreationOrchestrator(h.markets, h.failures, h.relay, h.receipts, h.broadcast,
		OrchestratorConfig{MaxAttempts: 3, ReceiptTimeout: time.Second}, discardLogger())
	return h
}

var crossing = MarketRequest{
	SeasonID:       1,
	Player:         "0xp",
	OldTickets:     0,
	NewTickets:     150,
	TotalTickets:   10000,
	ProbabilityBps: 150,
}

func TestCreateMarket_Confirmed(t *testing.T) {
	h := newOrchestratorHarness(nil, nil)

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	assert.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, "0xcreate", res.Hash)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{domain.LifecycleStarted, domain.LifecycleConfirmed}, h.broadcast.stages())
	assert.Empty(t, h.failures.rows)
}

func TestCreateMarket_SkipsExistingMarket(t *testing.T) {
	h := newOrchestratorHarness(nil, nil)
	h.markets.add(domain.Market{SeasonID: 1, PlayerAddress: "0xP", Type: domain.WinnerPrediction, IsActive: true})

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	assert.True(t, res.Skipped)
	assert.Zero(t, h.relay.count())
	assert.Empty(t, h.broadcast.stages())
}

func TestCreateMarket_RetriesTransientErrors(t *testing.T) {
	h := newOrchestratorHarness([]error{errors.New("relay busy")}, nil)

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestCreateMarket_TerminalFailureIsLogged(t *testing.T) {
	busy := errors.New("relay busy")
	h := newOrchestratorHarness([]error{busy, busy, busy}, nil)

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	require.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, busy)
	assert.Equal(t, []string{domain.LifecycleStarted, domain.LifecycleFailed}, h.broadcast.stages())

	require.Len(t, h.failures.rows, 1)
	fa := h.failures.rows[0]
	assert.NotEmpty(t, fa.ID)
	assert.Equal(t, int64(1), fa.SeasonID)
	assert.Equal(t, "0xp", fa.PlayerAddress)
	assert.Equal(t, 3, fa.Attempts)
	assert.Equal(t, SourceThresholdCrossing, fa.Source)
	assert.True(t, fa.Type.Equal(domain.WinnerPrediction))
}

func TestCreateMarket_RevertStopsRetrying(t *testing.T) {
	h := newOrchestratorHarness(nil, []error{domain.ErrReverted})

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, domain.ErrReverted)
	assert.Len(t, h.failures.rows, 1)
}

func TestCreateMarket_ReceiptTimeoutDoesNotResubmit(t *testing.T) {
	timeout := fmt.Errorf("chain: wait for 0xcreate: %w", context.DeadlineExceeded)
	h := newOrchestratorHarness(nil, []error{timeout})

	res := h.orch.CreateMarket(context.Background(), "0xfactory", crossing)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, h.relay.count())
	assert.Equal(t, "0xcreate", res.Hash)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.Len(t, h.failures.rows, 1)
}

func TestCreateMarket_MissingFactory(t *testing.T) {
	h := newOrchestratorHarness(nil, nil)

	res := h.orch.CreateMarket(context.Background(), "", crossing)

	assert.ErrorIs(t, res.Err, domain.ErrMissingContract)
	assert.Zero(t, h.relay.count())
	assert.Len(t, h.failures.rows, 1)
}

func TestBusBroadcaster_PublishesAndStreams(t *testing.T) {
	bus := newMemBus()
	b := NewBusBroadcaster(bus, discardLogger())

	b.Broadcast(context.Background(), domain.MarketLifecycle{Stage: domain.LifecycleStarted, SeasonID: 1})

	assert.Len(t, bus.published[LifecycleChannel], 1)
	assert.Len(t, bus.streams[LifecycleStream], 1)
	assert.Contains(t, string(bus.published[LifecycleChannel][0]), `"stage":"started"`)
}
