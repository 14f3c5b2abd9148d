// Package discovery derives the exchange's token set, pools and swap count from its
// event history.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dexterity/internal/cache"
	"dexterity/internal/dex"
	"dexterity/internal/events"
	"dexterity/internal/exchange"
	"dexterity/internal/metrics"
	"dexterity/internal/model"
)

const metadataConcurrency = 8

type Options struct {
	// Cache holds computed responses for CacheTTL. Nil or a zero TTL disables it.
	Cache    cache.Cache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service answers discovery queries. It holds no state derived from the chain
// other than the optional response cache and immutable token metadata.
type Service struct {
	provider exchange.Provider
	engine   events.Engine

	cache     cache.Cache
	cacheTTL  time.Duration
	metaCache *dex.TokenMetaCache
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewService(provider exchange.Provider, engine events.Engine, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := opts.Cache
	if c == nil || opts.CacheTTL <= 0 {
		c = cache.Nop{}
	}
	return &Service{
		provider:  provider,
		engine:    engine,
		cache:     c,
		cacheTTL:  opts.CacheTTL,
		metaCache: dex.NewTokenMetaCache(),
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Tokens returns one entry per distinct token referenced by PoolCreated events:
// the token's deployed contract name, or nil when the ledger does not know it.
func (s *Service) Tokens(ctx context.Context) ([]*string, error) {
	handle, err := s.provider.Handle(ctx)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("tokens", handle), func() ([]*string, error) {
		addresses, err := s.tokenAddresses(ctx, handle)
		if err != nil {
			return nil, err
		}
		return ResolveNames(handle.Ledger, addresses), nil
	})
}

// Swaps returns the number of Swapped events emitted by the exchange.
func (s *Service) Swaps(ctx context.Context) (int, error) {
	handle, err := s.provider.Handle(ctx)
	if err != nil {
		return 0, err
	}
	return cached(ctx, s, cacheKey("swaps", handle), func() (int, error) {
		logs, err := s.engine.Query(ctx, handle, events.KindSwapped)
		if err != nil {
			return 0, err
		}
		return CountSwaps(handle.Decoder, logs)
	})
}

// Pools returns every pool created in the exchange, in creation order.
func (s *Service) Pools(ctx context.Context) ([]model.Pool, error) {
	handle, err := s.provider.Handle(ctx)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s, cacheKey("pools", handle), func() ([]model.Pool, error) {
		created, err := s.poolsCreated(ctx, handle)
		if err != nil {
			return nil, err
		}
		return BuildPools(handle.Ledger, created), nil
	})
}

// TokenMetadata reads ERC20 metadata for every token in the token set. Metadata is
// kept in memory for the life of the service; ledger names come from the handle's
// ledger snapshot.
func (s *Service) TokenMetadata(ctx context.Context) ([]model.TokenMeta, error) {
	handle, err := s.provider.Handle(ctx)
	if err != nil {
		return nil, err
	}
	addresses, err := s.tokenAddresses(ctx, handle)
	if err != nil {
		return nil, err
	}
	metas := make([]model.TokenMeta, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataConcurrency)
	for i, address := range addresses {
		i, token := i, common.HexToAddress(address)
		g.Go(func() error {
			meta, ok := s.metaCache.Get(token)
			if !ok {
				var err error
				meta, err = dex.FetchTokenMeta(gctx, handle.Chain, token, s.logger)
				if err != nil {
					return fmt.Errorf("token %s metadata: %w", token.Hex(), err)
				}
				s.metaCache.Set(token, meta)
			}
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range metas {
		metas[i].ContractName = resolveName(handle.Ledger, metas[i].Address)
	}
	return metas, nil
}

// Ready checks that a handle can be obtained, the node answers and, for engines
// backed by a log store, that the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	handle, err := s.provider.Handle(ctx)
	if err != nil {
		return err
	}
	if _, err := handle.Chain.LatestBlockNumber(ctx); err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	if p, ok := s.engine.(events.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("log store: %w", err)
		}
	}
	return nil
}

func (s *Service) poolsCreated(ctx context.Context, handle *exchange.Handle) ([]model.PoolCreatedEvent, error) {
	logs, err := s.engine.Query(ctx, handle, events.KindPoolCreated)
	if err != nil {
		return nil, err
	}
	return handle.Decoder.DecodePoolsCreated(logs)
}

func (s *Service) tokenAddresses(ctx context.Context, handle *exchange.Handle) ([]string, error) {
	created, err := s.poolsCreated(ctx, handle)
	if err != nil {
		return nil, err
	}
	return TokenAddressSet(created), nil
}

func cacheKey(name string, handle *exchange.Handle) string {
	return fmt.Sprintf("%s:%d:%s", name, handle.ChainID, strings.ToLower(handle.Address.Hex()))
}

// cached serves key from the response cache, computing and storing it on a miss.
// Cache failures are logged and never fail the call.
func cached[T any](ctx context.Context, s *Service, key string, compute func() (T, error)) (T, error) {
	if s.cacheTTL > 0 {
		data, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.metrics.ObserveCache("error")
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		case ok:
			var value T
			if err := json.Unmarshal(data, &value); err == nil {
				s.metrics.ObserveCache("hit")
				return value, nil
			}
			s.metrics.ObserveCache("error")
			s.logger.Warn("cache entry undecodable", zap.String("key", key))
		default:
			s.metrics.ObserveCache("miss")
		}
	}

	value, err := compute()
	if err != nil {
		return value, err
	}

	if s.cacheTTL > 0 {
		data, err := json.Marshal(value)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
		if err != nil {
			s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return value, nil
}
