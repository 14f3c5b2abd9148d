package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexterity/internal/api"
	"dexterity/internal/cache"
	"dexterity/internal/chain"
	"dexterity/internal/config"
	"dexterity/internal/discovery"
	"dexterity/internal/events"
	"dexterity/internal/exchange"
	"dexterity/internal/ledger"
	"dexterity/internal/metrics"
	"dexterity/internal/storage"
	"dexterity/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	return serve(ctx, cfg, logger)
}

// serve wires the service and runs the HTTP server until ctx is done. Any binding
// failure returns before a listener is opened.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	parsedABI, err := exchange.LoadABI(cfg.Artifact)
	if err != nil {
		return fmt.Errorf("load exchange abi: %w", err)
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

	var ledgers ledger.Source
	if cfg.HandleStrategy == exchange.StrategyPerRequest {
		ledgers = ledger.NewFileSource(cfg.Ledger)
	} else {
		l, err := ledger.LoadFile(cfg.Ledger)
		if err != nil {
			return err
		}
		ledgers = ledger.Static{Ledger: l}
	}

	binding := exchange.Binding{ContractName: cfg.ContractName, ABI: parsedABI, Chain: chainClient, ChainID: chainID}
	provider, err := exchange.NewProvider(ctx, cfg.HandleStrategy, ledgers, binding, logger)
	if err != nil {
		return fmt.Errorf("bind exchange: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	engine, closeEngine, err := newEngine(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeEngine()

	responseCache, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	svc := discovery.NewService(provider, engine, discovery.Options{
		Cache:    responseCache,
		CacheTTL: cfg.CacheTTL,
		Metrics:  m,
		Logger:   logger,
	})

	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		gatherer = registry
	}
	server := api.NewServer(api.Config{
		Listen:          cfg.Listen,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ReadyTimeout:    cfg.RPCTimeout,
	}, svc, logger, m, gatherer)

	logger.Info("serve start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID),
		zap.String("ledger", cfg.Ledger),
		zap.String("artifact", cfg.Artifact),
		zap.String("contract", cfg.ContractName),
		zap.String("handle_strategy", cfg.HandleStrategy),
		zap.String("source", cfg.Source),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("listen", cfg.Listen),
	)

	return server.Start(ctx)
}

func newEngine(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (events.Engine, func(), error) {
	switch cfg.Source {
	case config.SourceJSONL:
		return events.NewIndexedEngine(storage.NewJsonlStorage(cfg.Out), cfg.FromBlock, m), func() {}, nil
	case config.SourcePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres %s: %w", redactDSN(cfg.PGDSN), err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return events.NewIndexedEngine(store, cfg.FromBlock, m), store.Close, nil
	default:
		return events.NewRPCEngine(events.RPCConfig{
			FromBlock:    cfg.FromBlock,
			BatchSize:    cfg.BatchSize,
			CallTimeout:  cfg.RPCTimeout,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, logger, m), func() {}, nil
	}
}

func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	if cfg.CacheTTL <= 0 {
		return cache.Nop{}, func() {}, nil
	}
	if cfg.RedisAddr == "" {
		return cache.NewMemory(), func() {}, nil
	}

	rdb, err := cache.NewRedis(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return nil, nil, err
	}
	if err := rdb.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, requests will bypass the cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return rdb, func() { _ = rdb.Close() }, nil
}
