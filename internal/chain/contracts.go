package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// Raffle reads season state from the raffle contract.
type Raffle struct {
	client  *Client
	address common.Address
}

// NewRaffle binds a reader to the raffle at address.
func NewRaffle(client *Client, address string) (*Raffle, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: raffle %q: %w", address, domain.ErrMissingContract)
	}
	return &Raffle{client: client, address: common.HexToAddress(address)}, nil
}

// Address returns the raffle address as hex.
func (r *Raffle) Address() string { return r.address.Hex() }

// CurrentSeasonID returns the highest season id created so far.
func (r *Raffle) CurrentSeasonID(ctx context.Context) (int64, error) {
	out, err := r.client.Read(ctx, r.address, RaffleABI, "currentSeasonId")
	if err != nil {
		return 0, err
	}
	return toInt64(out[0])
}

// SeasonConfig returns the contract addresses and active flag of a season.
func (r *Raffle) SeasonConfig(ctx context.Context, seasonID int64) (domain.SeasonConfig, error) {
	out, err := r.client.Read(ctx, r.address, RaffleABI, "getSeasonDetails", big.NewInt(seasonID))
	if err != nil {
		return domain.SeasonConfig{}, err
	}
	if len(out) < 3 {
		return domain.SeasonConfig{}, fmt.Errorf("chain: getSeasonDetails: %d outputs", len(out))
	}
	token, ok1 := out[0].(common.Address)
	curve, ok2 := out[1].(common.Address)
	active, ok3 := out[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return domain.SeasonConfig{}, fmt.Errorf("chain: getSeasonDetails: unexpected output types")
	}
	return domain.SeasonConfig{
		SeasonID:            seasonID,
		BondingCurveAddress: addressOrEmpty(curve),
		RaffleTokenAddress:  addressOrEmpty(token),
		IsActive:            active,
	}, nil
}

// Participants returns every address holding tickets in a season.
func (r *Raffle) Participants(ctx context.Context, seasonID int64) ([]string, error) {
	out, err := r.client.Read(ctx, r.address, RaffleABI, "getParticipants", big.NewInt(seasonID))
	if err != nil {
		return nil, err
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("chain: getParticipants: unexpected output %T", out[0])
	}
	players := make([]string, 0, len(addrs))
	for _, a := range addrs {
		players = append(players, a.Hex())
	}
	return players, nil
}

// Curves reads ticket balances from bonding curve contracts.
type Curves struct {
	client *Client
}

// NewCurves returns a reader usable with any season's curve.
func NewCurves(client *Client) *Curves {
	return &Curves{client: client}
}

// PlayerTickets returns a player's ticket count on the given curve.
func (c *Curves) PlayerTickets(ctx context.Context, curve, player string) (int64, error) {
	out, err := c.client.Read(ctx, common.HexToAddress(curve), CurveABI, "playerTickets", common.HexToAddress(player))
	if err != nil {
		return 0, err
	}
	return toInt64(out[0])
}

// TotalSupply returns the number of tickets sold on the curve.
func (c *Curves) TotalSupply(ctx context.Context, curve string) (int64, error) {
	out, err := c.client.Read(ctx, common.HexToAddress(curve), CurveABI, "totalSupply")
	if err != nil {
		return 0, err
	}
	return toInt64(out[0])
}

// MaxSupply returns the curve's ticket cap.
func (c *Curves) MaxSupply(ctx context.Context, curve string) (int64, error) {
	out, err := c.client.Read(ctx, common.HexToAddress(curve), CurveABI, "maxSupply")
	if err != nil {
		return 0, err
	}
	return toInt64(out[0])
}

func addressOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}
