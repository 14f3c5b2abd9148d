// Package chaintest provides an in-memory chain.Reader for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dexterity/internal/chain"
)

// FilterCall records one FilterLogs invocation.
type FilterCall struct {
	From      uint64
	To        uint64
	Addresses []common.Address
	Topic0    []common.Hash
}

// Reader serves logs from memory. FilterLogs applies the same address, topic0 and
// block-range matching a node would.
type Reader struct {
	mu sync.Mutex

	Head uint64
	Logs []types.Log

	// FilterErrs are returned, one per call, before logs are served.
	FilterErrs []error
	HeadErr    error
	Calls      map[string][]byte

	filterCalls []FilterCall
}

var _ chain.Reader = (*Reader)(nil)

func (r *Reader) AddLog(log types.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, log)
	if log.BlockNumber > r.Head {
		r.Head = log.BlockNumber
	}
}

func (r *Reader) FilterCalls() []FilterCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FilterCall, len(r.filterCalls))
	copy(out, r.filterCalls)
	return out
}

func (r *Reader) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.HeadErr != nil {
		return 0, r.HeadErr
	}
	return r.Head, nil
}

func (r *Reader) FilterLogs(ctx context.Context, fromBlock uint64, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.filterCalls = append(r.filterCalls, FilterCall{From: fromBlock, To: toBlock, Addresses: addresses, Topic0: topic0})
	if len(r.FilterErrs) > 0 {
		err := r.FilterErrs[0]
		r.FilterErrs = r.FilterErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	out := make([]types.Log, 0)
	for _, log := range r.Logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, log.Address) {
			continue
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || !containsHash(topic0, log.Topics[0])) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (r *Reader) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(msg.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.Calls[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return resp, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, item := range list {
		if item == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, hash common.Hash) bool {
	for _, item := range list {
		if item == hash {
			return true
		}
	}
	return false
}
