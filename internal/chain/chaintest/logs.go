package chaintest

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PoolCreatedLog builds a PoolCreated log for the exchange ABI: token0 and token1
// indexed, pool in data.
func PoolCreatedLog(t testing.TB, parsed abi.ABI, exchange common.Address, block uint64, index uint, token0, token1, pool common.Address) types.Log {
	t.Helper()
	event := parsed.Events["PoolCreated"]
	data, err := event.Inputs.NonIndexed().Pack(pool)
	if err != nil {
		t.Fatalf("pack PoolCreated: %v", err)
	}
	return types.Log{
		Address:     exchange,
		Topics:      []common.Hash{event.ID, AddressTopic(token0), AddressTopic(token1)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

// SwappedLog builds a Swapped log for the exchange ABI.
func SwappedLog(t testing.TB, parsed abi.ABI, exchange common.Address, block uint64, index uint, sender, tokenIn, tokenOut common.Address) types.Log {
	t.Helper()
	event := parsed.Events["Swapped"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1000), big.NewInt(997))
	if err != nil {
		t.Fatalf("pack Swapped: %v", err)
	}
	return types.Log{
		Address:     exchange,
		Topics:      []common.Hash{event.ID, AddressTopic(sender), AddressTopic(tokenIn), AddressTopic(tokenOut)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
