package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const raffleAddr = "0xRaffle"

func threeSeasons() *fakeRaffle {
	return &fakeRaffle{
		current: 3,
		configs: map[int64]domain.SeasonConfig{
			1: {SeasonID: 1, BondingCurveAddress: "0xc1", RaffleTokenAddress: "0xt1"},
			2: {SeasonID: 2, BondingCurveAddress: "0xc2", RaffleTokenAddress: "0xt2"},
			3: {SeasonID: 3, BondingCurveAddress: "0xc3", RaffleTokenAddress: "0xt3", IsActive: true},
		},
	}
}

type activations struct {
	seasons []int64
	err     error
}

func (a *activations) fn(_ context.Context, id int64, _, _ string) error {
	a.seasons = append(a.seasons, id)
	return a.err
}

func TestReconcile_EmptyRegistry(t *testing.T) {
	seasons := newMemSeasons()
	audit := &memAudit{}
	r := NewSeasonReconciler(threeSeasons(), raffleAddr, seasons, audit, discardLogger())
	act := &activations{}

	res, err := r.ReconcileSeasonsFromChain(context.Background(), act.fn)
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Inspected: 3, Upserted: 3, Activated: 1}, res)
	assert.Equal(t, []int64{3}, act.seasons)
	assert.Equal(t, "0xc3", seasons.rows[3].BondingCurveAddress)
	assert.Equal(t, raffleAddr, seasons.rows[3].RaffleAddress)
	assert.Equal(t, []string{"season_reconcile"}, audit.events)
}

func TestReconcile_ConsistentStateIsNoop(t *testing.T) {
	seasons := newMemSeasons()
	r := NewSeasonReconciler(threeSeasons(), raffleAddr, seasons, nil, discardLogger())
	_, err := r.ReconcileSeasonsFromChain(context.Background(), nil)
	require.NoError(t, err)

	act := &activations{}
	res, err := r.ReconcileSeasonsFromChain(context.Background(), act.fn)
	require.NoError(t, err)

	assert.Zero(t, res.Upserted)
	assert.Equal(t, 1, res.Activated)
	assert.Equal(t, []int64{3}, act.seasons)
}

func TestReconcile_HealsDrift(t *testing.T) {
	seasons := newMemSeasons()
	seasons.rows[1] = domain.Season{ID: 1, BondingCurveAddress: "0xC1", RaffleTokenAddress: "0xT1", RaffleAddress: "0xraffle", IsActive: true}
	seasons.rows[2] = domain.Season{ID: 2, RaffleAddress: raffleAddr}
	seasons.rows[3] = domain.Season{ID: 3, BondingCurveAddress: "0xc3", RaffleTokenAddress: "0xt3", RaffleAddress: "0xother", IsActive: true}
	r := NewSeasonReconciler(threeSeasons(), raffleAddr, seasons, nil, discardLogger())

	res, err := r.ReconcileSeasonsFromChain(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Upserted)
	assert.False(t, seasons.rows[1].IsActive)
	assert.Equal(t, "0xc2", seasons.rows[2].BondingCurveAddress)
	assert.Equal(t, raffleAddr, seasons.rows[3].RaffleAddress)
}

func TestReconcile_ActivationErrorIsNotCounted(t *testing.T) {
	r := NewSeasonReconciler(threeSeasons(), raffleAddr, newMemSeasons(), nil, discardLogger())
	act := &activations{err: errors.New("listener start failed")}

	res, err := r.ReconcileSeasonsFromChain(context.Background(), act.fn)
	require.NoError(t, err)

	assert.Zero(t, res.Activated)
	assert.Equal(t, 3, res.Upserted)
}

func TestReconcile_ChainUnavailable(t *testing.T) {
	raffle := threeSeasons()
	raffle.err = errors.New("rpc down")
	r := NewSeasonReconciler(raffle, raffleAddr, newMemSeasons(), nil, discardLogger())

	_, err := r.ReconcileSeasonsFromChain(context.Background(), nil)
	assert.Error(t, err)
}
