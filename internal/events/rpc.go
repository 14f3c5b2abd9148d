package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dexterity/internal/chain"
	"dexterity/internal/exchange"
	"dexterity/internal/metrics"
	"dexterity/internal/model"
)

// RPCConfig bounds the node calls of a full-history scan.
type RPCConfig struct {
	FromBlock uint64
	// BatchSize splits the scan into ranges of this many blocks. Zero means a single
	// eth_getLogs over the whole history.
	BatchSize    uint64
	CallTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// RPCEngine queries logs directly from the JSON-RPC node on every call.
type RPCEngine struct {
	cfg     RPCConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRPCEngine(cfg RPCConfig, logger *zap.Logger, m *metrics.Metrics) *RPCEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCEngine{cfg: cfg, logger: logger, metrics: m}
}

func (e *RPCEngine) Query(ctx context.Context, handle *exchange.Handle, kind Kind) ([]model.LogRecord, error) {
	start := time.Now()
	records, err := e.query(ctx, handle, kind)
	e.metrics.ObserveLogQuery(string(kind), time.Since(start), len(records), err)
	return records, err
}

func (e *RPCEngine) query(ctx context.Context, handle *exchange.Handle, kind Kind) ([]model.LogRecord, error) {
	if err := validate(handle, kind); err != nil {
		return nil, err
	}
	if handle.Chain == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	topic, err := handle.Decoder.Topic(string(kind))
	if err != nil {
		return nil, err
	}

	var head uint64
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		head, err = handle.Chain.LatestBlockNumber(ctx)
		if err != nil {
			e.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}

	records := make([]model.LogRecord, 0)
	if head < e.cfg.FromBlock {
		return records, nil
	}

	ranges := []chain.BlockRange{{From: e.cfg.FromBlock, To: head}}
	if e.cfg.BatchSize > 0 {
		ranges, err = chain.SplitRange(e.cfg.FromBlock, head, e.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
	}

	addresses := []common.Address{handle.Address}
	topics := []common.Hash{topic}
	ingestedAt := time.Now().UTC()
	for _, blockRange := range ranges {
		var logs []types.Log
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			logs, err = handle.Chain.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topics)
			if err != nil {
				e.logger.Warn("filter logs failed",
					zap.Error(err),
					zap.String("event", string(kind)),
					zap.Uint64("from", blockRange.From),
					zap.Uint64("to", blockRange.To),
				)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("filter %s logs [%d, %d]: %w", kind, blockRange.From, blockRange.To, err)
		}

		for _, log := range logs {
			if log.Removed {
				continue
			}
			records = append(records, model.NewLogRecord(handle.ChainID, log, 0, ingestedAt))
		}
	}

	e.logger.Debug("event logs fetched",
		zap.String("event", string(kind)),
		zap.String("exchange", handle.Address.Hex()),
		zap.Uint64("head", head),
		zap.Int("logs", len(records)),
	)
	return records, nil
}

// call runs fn with a per-attempt timeout and the configured retry policy.
func (e *RPCEngine) call(ctx context.Context, fn func(context.Context) error) error {
	return chain.WithRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		if e.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
		}
		return fn(ctx)
	})
}
