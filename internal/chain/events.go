package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// DecodePositionUpdate decodes a bonding curve PositionUpdate log.
func DecodePositionUpdate(l types.Log) (domain.PositionUpdate, error) {
	if len(l.Topics) < 3 || l.Topics[0] != PositionUpdateTopic {
		return domain.PositionUpdate{}, fmt.Errorf("chain: log %s/%d is not PositionUpdate", l.TxHash.Hex(), l.Index)
	}
	values, err := CurveABI.Unpack("PositionUpdate", l.Data)
	if err != nil {
		return domain.PositionUpdate{}, fmt.Errorf("chain: unpack PositionUpdate: %w", err)
	}
	if len(values) < 3 {
		return domain.PositionUpdate{}, fmt.Errorf("chain: PositionUpdate: %d values", len(values))
	}
	seasonID, err := topicInt64(l.Topics[1])
	if err != nil {
		return domain.PositionUpdate{}, err
	}
	oldTickets, err := toInt64(values[0])
	if err != nil {
		return domain.PositionUpdate{}, err
	}
	newTickets, err := toInt64(values[1])
	if err != nil {
		return domain.PositionUpdate{}, err
	}
	total, err := toInt64(values[2])
	if err != nil {
		return domain.PositionUpdate{}, err
	}
	return domain.PositionUpdate{
		SeasonID:     seasonID,
		Player:       common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		OldTickets:   oldTickets,
		NewTickets:   newTickets,
		TotalTickets: total,
		TxHash:       l.TxHash.Hex(),
		BlockNumber:  l.BlockNumber,
		LogIndex:     l.Index,
	}, nil
}

// DecodeMarketCreated decodes a factory MarketCreated log.
func DecodeMarketCreated(l types.Log) (domain.MarketCreated, error) {
	if len(l.Topics) < 4 || l.Topics[0] != MarketCreatedTopic {
		return domain.MarketCreated{}, fmt.Errorf("chain: log %s/%d is not MarketCreated", l.TxHash.Hex(), l.Index)
	}
	values, err := FactoryABI.Unpack("MarketCreated", l.Data)
	if err != nil {
		return domain.MarketCreated{}, fmt.Errorf("chain: unpack MarketCreated: %w", err)
	}
	if len(values) < 2 {
		return domain.MarketCreated{}, fmt.Errorf("chain: MarketCreated: %d values", len(values))
	}
	conditionID, ok := values[0].([32]byte)
	if !ok {
		return domain.MarketCreated{}, fmt.Errorf("chain: MarketCreated conditionId: unexpected %T", values[0])
	}
	market, ok := values[1].(common.Address)
	if !ok {
		return domain.MarketCreated{}, fmt.Errorf("chain: MarketCreated fpmmAddress: unexpected %T", values[1])
	}
	seasonID, err := topicInt64(l.Topics[1])
	if err != nil {
		return domain.MarketCreated{}, err
	}
	return domain.MarketCreated{
		SeasonID:       seasonID,
		Player:         common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
		MarketTypeHash: l.Topics[3].Hex(),
		ConditionID:    common.Hash(conditionID).Hex(),
		MarketAddress:  market.Hex(),
		TxHash:         l.TxHash.Hex(),
		BlockNumber:    l.BlockNumber,
	}, nil
}

// DecodeSeasonEvent decodes a raffle SeasonStarted or SeasonEnded log.
func DecodeSeasonEvent(l types.Log) (domain.SeasonEvent, error) {
	if len(l.Topics) < 2 {
		return domain.SeasonEvent{}, fmt.Errorf("chain: season log %s/%d has %d topics", l.TxHash.Hex(), l.Index, len(l.Topics))
	}
	var started bool
	switch l.Topics[0] {
	case SeasonStartedTopic:
		started = true
	case SeasonEndedTopic:
	default:
		return domain.SeasonEvent{}, fmt.Errorf("chain: log %s/%d is not a season event", l.TxHash.Hex(), l.Index)
	}
	seasonID, err := topicInt64(l.Topics[1])
	if err != nil {
		return domain.SeasonEvent{}, err
	}
	return domain.SeasonEvent{
		SeasonID:    seasonID,
		Started:     started,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}, nil
}

func topicInt64(t common.Hash) (int64, error) {
	return toInt64(new(big.Int).SetBytes(t.Bytes()))
}
