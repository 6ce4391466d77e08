package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// ABI fragments for the functions and events the backend touches. Only the
// members used here are declared.
const (
	raffleABIJSON = `[
	{"type":"function","name":"currentSeasonId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getSeasonDetails","stateMutability":"view","inputs":[{"name":"seasonId","type":"uint256"}],"outputs":[
		{"name":"raffleToken","type":"address"},
		{"name":"bondingCurve","type":"address"},
		{"name":"isActive","type":"bool"},
		{"name":"status","type":"uint8"},
		{"name":"totalParticipants","type":"uint256"},
		{"name":"totalTickets","type":"uint256"}]},
	{"type":"function","name":"getParticipants","stateMutability":"view","inputs":[{"name":"seasonId","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"event","name":"SeasonStarted","anonymous":false,"inputs":[{"name":"seasonId","type":"uint256","indexed":true}]},
	{"type":"event","name":"SeasonEnded","anonymous":false,"inputs":[{"name":"seasonId","type":"uint256","indexed":true}]}
]`

	curveABIJSON = `[
	{"type":"function","name":"playerTickets","stateMutability":"view","inputs":[{"name":"player","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"PositionUpdate","anonymous":false,"inputs":[
		{"name":"seasonId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"oldTickets","type":"uint256","indexed":false},
		{"name":"newTickets","type":"uint256","indexed":false},
		{"name":"totalTickets","type":"uint256","indexed":false},
		{"name":"probabilityBps","type":"uint256","indexed":false}]}
]`

	factoryABIJSON = `[
	{"type":"function","name":"createMarket","stateMutability":"nonpayable","inputs":[
		{"name":"seasonId","type":"uint256"},
		{"name":"player","type":"address"},
		{"name":"oldTickets","type":"uint256"},
		{"name":"newTickets","type":"uint256"},
		{"name":"totalTickets","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"MarketCreated","anonymous":false,"inputs":[
		{"name":"seasonId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"marketType","type":"bytes32","indexed":true},
		{"name":"conditionId","type":"bytes32","indexed":false},
		{"name":"fpmmAddress","type":"address","indexed":false}]}
]`

	oracleABIJSON = `[
	{"type":"function","name":"updateRaffleProbability","stateMutability":"nonpayable","inputs":[{"name":"market","type":"address"},{"name":"raffleProbabilityBps","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"updateMarketSentiment","stateMutability":"nonpayable","inputs":[{"name":"market","type":"address"},{"name":"marketSentimentBps","type":"uint256"}],"outputs":[]}
]`
)

var (
	RaffleABI  = mustParseABI(raffleABIJSON)
	CurveABI   = mustParseABI(curveABIJSON)
	FactoryABI = mustParseABI(factoryABIJSON)
	OracleABI  = mustParseABI(oracleABIJSON)
)

// Event topics watched by the listeners.
var (
	PositionUpdateTopic = CurveABI.Events["PositionUpdate"].ID
	MarketCreatedTopic  = FactoryABI.Events["MarketCreated"].ID
	SeasonStartedTopic  = RaffleABI.Events["SeasonStarted"].ID
	SeasonEndedTopic    = RaffleABI.Events["SeasonEnded"].ID
)

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}

// MarketTypeHash returns keccak256(name), the on-chain market type id.
func MarketTypeHash(name string) string {
	return ethcrypto.Keccak256Hash([]byte(name)).Hex()
}

// DefaultMarketTypes registers the market types deployed by the factory.
func DefaultMarketTypes() *domain.MarketTypeRegistry {
	return domain.NewMarketTypeRegistry(map[string]domain.MarketKind{
		MarketTypeHash("WINNER_PREDICTION"): domain.MarketKindWinnerPrediction,
		MarketTypeHash("POSITION_SIZE"):     domain.MarketKindPositionSize,
		MarketTypeHash("BEHAVIORAL"):        domain.MarketKindBehavioral,
	})
}
