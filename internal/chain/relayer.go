package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// TxBackend is the subset of *ethclient.Client used to send transactions.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// gasLimitBuffer pads estimated gas by 20%.
const gasLimitBuffer = 120

// Relayer submits contract writes from the backend wallet, which pays gas on
// behalf of players. Submissions are serialised so nonces never collide
// between pollers; waiting for receipts is left to the caller.
type Relayer struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	mu      sync.Mutex
}

// NewRelayer creates a Relayer from a hex private key.
func NewRelayer(backend TxBackend, privateKeyHex string, chainID int64) (*Relayer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: relayer key: %w", err)
	}
	return &Relayer{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
	}, nil
}

// From returns the relayer wallet address.
func (r *Relayer) From() string { return r.from.Hex() }

// Submit packs and sends a call, returning the transaction hash.
func (r *Relayer) Submit(ctx context.Context, to string, contract abi.ABI, method string, args ...any) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("chain: %s target %q: %w", method, to, domain.ErrMissingContract)
	}
	target := common.HexToAddress(to)
	data, err := contract.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, err := r.backend.PendingNonceAt(ctx, r.from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{From: r.from, To: &target, Data: data})
	if err != nil {
		return "", fmt.Errorf("chain: estimate gas %s: %w", method, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * gasLimitBuffer / 100,
		To:        &target,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign %s: %w", method, err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send %s: %w", method, err)
	}
	return signed.Hash().Hex(), nil
}

// CreateMarket asks the factory to deploy a market for a threshold crossing.
func (r *Relayer) CreateMarket(ctx context.Context, factory string, seasonID int64, player string, oldTickets, newTickets, totalTickets int64) (string, error) {
	return r.Submit(ctx, factory, FactoryABI, "createMarket",
		big.NewInt(seasonID),
		common.HexToAddress(player),
		big.NewInt(oldTickets),
		big.NewInt(newTickets),
		big.NewInt(totalTickets),
	)
}

// UpdateRaffleProbability pushes a raffle-derived probability to the oracle.
func (r *Relayer) UpdateRaffleProbability(ctx context.Context, oracle, market string, bps int) (string, error) {
	return r.Submit(ctx, oracle, OracleABI, "updateRaffleProbability",
		common.HexToAddress(market), big.NewInt(int64(bps)))
}

// UpdateMarketSentiment pushes a trading-derived sentiment to the oracle.
func (r *Relayer) UpdateMarketSentiment(ctx context.Context, oracle, market string, bps int) (string, error) {
	return r.Submit(ctx, oracle, OracleABI, "updateMarketSentiment",
		common.HexToAddress(market), big.NewInt(int64(bps)))
}
