package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dexterity/internal/exchange"
	"dexterity/internal/metrics"
	"dexterity/internal/model"
)

// LogStore reads logs previously written by the indexer.
type LogStore interface {
	QueryLogs(ctx context.Context, chainID uint64, address common.Address, topic0 common.Hash, fromBlock uint64) ([]model.LogRecord, error)
}

// Pinger is implemented by stores and engines that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexedEngine serves queries from a local log index instead of the node.
// Results are only as fresh as the last indexer run.
type IndexedEngine struct {
	store     LogStore
	fromBlock uint64
	metrics   *metrics.Metrics
}

func NewIndexedEngine(store LogStore, fromBlock uint64, m *metrics.Metrics) *IndexedEngine {
	return &IndexedEngine{store: store, fromBlock: fromBlock, metrics: m}
}

func (e *IndexedEngine) Query(ctx context.Context, handle *exchange.Handle, kind Kind) ([]model.LogRecord, error) {
	start := time.Now()
	records, err := e.query(ctx, handle, kind)
	e.metrics.ObserveLogQuery(string(kind), time.Since(start), len(records), err)
	return records, err
}

func (e *IndexedEngine) query(ctx context.Context, handle *exchange.Handle, kind Kind) ([]model.LogRecord, error) {
	if err := validate(handle, kind); err != nil {
		return nil, err
	}
	if e.store == nil {
		return nil, fmt.Errorf("log store is nil")
	}
	// Indexed records carry the node's chain id; without one nothing would match.
	if handle.ChainID == 0 {
		return nil, fmt.Errorf("exchange handle has no chain id")
	}
	topic, err := handle.Decoder.Topic(string(kind))
	if err != nil {
		return nil, err
	}

	records, err := e.store.QueryLogs(ctx, handle.ChainID, handle.Address, topic, e.fromBlock)
	if err != nil {
		return nil, fmt.Errorf("query indexed %s logs: %w", kind, err)
	}

	out := make([]model.LogRecord, 0, len(records))
	for _, record := range records {
		if record.Removed {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Ping checks the log store when it supports it.
func (e *IndexedEngine) Ping(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("log store is nil")
	}
	if p, ok := e.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
