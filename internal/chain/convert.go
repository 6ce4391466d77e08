package chain

import (
	"fmt"
	"math/big"
)

// toInt64 converts an RPC integer to int64. Every big.Int read from the chain
// passes through here or toUint64 exactly once.
func toInt64(v any) (int64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return 0, fmt.Errorf("chain: expected *big.Int, got %T", v)
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("chain: integer %s overflows int64", n.String())
	}
	return n.Int64(), nil
}

func toUint64(v any) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return 0, fmt.Errorf("chain: expected *big.Int, got %T", v)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("chain: integer %s overflows uint64", n.String())
	}
	return n.Uint64(), nil
}
