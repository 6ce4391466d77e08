// Package chain adapts go-ethereum's JSON-RPC client to the reads, writes and
// log queries the sync engine needs. Integers leave this package as int64 or
// uint64; nothing downstream handles big.Int.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// Backend is the subset of *ethclient.Client used for reads.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// receiptPollInterval is how often WaitForReceipt re-checks a pending tx.
const receiptPollInterval = 2 * time.Second

// Client is the read side of the chain adapter.
type Client struct {
	backend Backend
	closeFn func()
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &Client{backend: ec, closeFn: ec.Close}, ec, nil
}

// NewClient wraps an existing backend (used with fakes in tests).
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// GetLogs returns logs emitted by address with the given event topic in the
// inclusive block range [from, to].
func (c *Client) GetLogs(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain: get logs %s [%d,%d]: %w", address.Hex(), from, to, err)
	}
	return logs, nil
}

// Read calls a view function and returns its unpacked outputs.
func (c *Client) Read(ctx context.Context, address common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, address.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return values, nil
}

// BlockTime returns the timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (time.Time, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: header %d: %w", n, err)
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

// WaitForReceipt polls until the transaction is mined or ctx ends. A mined
// transaction with failed status returns domain.ErrReverted.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: tx %s: %w", txHash, domain.ErrReverted)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			// still pending
		default:
			return fmt.Errorf("chain: receipt %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: wait for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
