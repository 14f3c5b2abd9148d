package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexterity/internal/chain"
	"dexterity/internal/config"
	"dexterity/internal/exchange"
	"dexterity/internal/indexer"
	"dexterity/internal/ledger"
	"dexterity/internal/storage"
	"dexterity/internal/storage/postgres"
)

func runIndex(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIndex(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parsedABI, err := exchange.LoadABI(cfg.Artifact)
	if err != nil {
		return fmt.Errorf("load exchange abi: %w", err)
	}
	l, err := ledger.LoadFile(cfg.Ledger)
	if err != nil {
		return err
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := nodeChainID(ctx, chainClient, cfg.Common)
	if err != nil {
		return err
	}

	handle, err := exchange.Binding{ContractName: cfg.ContractName, ABI: parsedABI, Chain: chainClient, ChainID: chainID}.Bind(l)
	if err != nil {
		return err
	}

	var sinks storage.Multi
	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}

	var checkpoint indexer.Checkpointer
	if cfg.CheckpointEnabled {
		checkpoint = indexer.NewFileCheckpoint(cfg.Checkpoint)
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres %s: %w", redactDSN(cfg.PGDSN), err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, store)
		if cfg.CheckpointEnabled {
			checkpoint = &indexer.DBCheckpoint{Store: store, Name: indexer.CheckpointName(handle.ChainID, handle.Address)}
		}
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		BatchSize:    cfg.BatchSize,
		CallTimeout:  cfg.RPCTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, handle, chainClient, sinks, checkpoint, logger)

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("exchange", handle.Address.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
	)

	return runner.Run(ctx)
}
