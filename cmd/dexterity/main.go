package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dexterity/internal/chain"
	"dexterity/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "dexterity",
		Short:        "Dexterity pool and swap discovery service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve discovered tokens and swap counts over HTTP",
		RunE:  runServe,
	}

	addCommonFlags(serveCmd)
	serveCmd.Flags().String("handle-strategy", "eager", "exchange binding strategy (eager, per-request)")
	serveCmd.Flags().String("listen", ":3000", "HTTP listen address")
	serveCmd.Flags().String("source", "rpc", "event source (rpc, jsonl, postgres)")
	serveCmd.Flags().Duration("cache-ttl", 0, "response cache TTL, 0 disables caching")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the response cache, empty means in-process")
	serveCmd.Flags().String("redis-password", "", "Redis password")
	serveCmd.Flags().Int("redis-db", 0, "Redis database")
	serveCmd.Flags().Duration("read-timeout", 15*time.Second, "HTTP read timeout")
	serveCmd.Flags().Duration("write-timeout", 2*time.Minute, "HTTP write timeout")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	serveCmd.Flags().Bool("metrics", true, "expose /metrics")
	serveCmd.Flags().Uint64("batch-size", 0, "blocks per log query, 0 means one query over the whole history")

	root.AddCommand(serveCmd)

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Copy the exchange's event logs into a local index",
		RunE:  runIndex,
	}

	addCommonFlags(indexCmd)
	indexCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	indexCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	indexCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	indexCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")

	root.AddCommand(indexCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "http://localhost:8545", "JSON-RPC URL")
	cmd.Flags().String("ledger", "./contracts/broadcast/DepositsAndSwaps.s.sol/1/run-latest.json", "deployment ledger (broadcast run-latest.json)")
	cmd.Flags().String("artifact", "./contracts/out/Dexterity.sol/Dexterity.json", "exchange build artifact, empty uses the built-in ABI")
	cmd.Flags().String("contract-name", "Dexterity", "exchange contract name in the ledger")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Duration("rpc-timeout", 30*time.Second, "timeout of a single RPC call")
	cmd.Flags().Int("max-retries", 3, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("out", "./data/logs.jsonl", "JSONL log index path")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

type chainIDReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
}

// nodeChainID asks the node for its chain id. Handles bound in serve and index both
// use it, so indexed records and indexed queries agree on the chain.
func nodeChainID(ctx context.Context, client chainIDReader, c config.Common) (uint64, error) {
	var id *big.Int
	err := chain.WithRetry(ctx, c.MaxRetries, c.RetryBackoff, func(ctx context.Context) error {
		if c.RPCTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.RPCTimeout)
			defer cancel()
		}
		var err error
		id, err = client.GetChainID(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}
