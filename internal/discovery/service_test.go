package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexterity/internal/cache"
	"dexterity/internal/chain/chaintest"
	"dexterity/internal/dex"
	"dexterity/internal/events"
	"dexterity/internal/exchange"
	"dexterity/internal/ledger"
	"dexterity/internal/model"
)

var (
	exchangeAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	poolAB       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolBC       = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	trader       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type countingEngine struct {
	events.Engine

	mu    sync.Mutex
	calls map[events.Kind]int
}

func (e *countingEngine) Query(ctx context.Context, handle *exchange.Handle, kind events.Kind) ([]model.LogRecord, error) {
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[events.Kind]int)
	}
	e.calls[kind]++
	e.mu.Unlock()
	return e.Engine.Query(ctx, handle, kind)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection refused")
}

type failingProvider struct{ err error }

func (p failingProvider) Handle(context.Context) (*exchange.Handle, error) { return nil, p.err }

type countingSource struct {
	ledger.Source

	mu    sync.Mutex
	loads int
}

func (s *countingSource) Load(ctx context.Context) (*ledger.Ledger, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.Source.Load(ctx)
}

type pingingEngine struct {
	events.Engine
	err error
}

func (e pingingEngine) Ping(context.Context) error { return e.err }

type fixture struct {
	reader  *chaintest.Reader
	parsed  abi.ABI
	engine  *countingEngine
	service *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	parsed, err := exchange.LoadABI("")
	require.NoError(t, err)

	reader := &chaintest.Reader{}
	l := testLedger()
	provider, err := exchange.NewEagerProvider(context.Background(), ledger.Static{Ledger: l},
		exchange.Binding{ContractName: "Dexterity", ABI: parsed, Chain: reader})
	require.NoError(t, err)

	engine := &countingEngine{Engine: events.NewRPCEngine(events.RPCConfig{}, zaptest.NewLogger(t), nil)}
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	return &fixture{
		reader:  reader,
		parsed:  parsed,
		engine:  engine,
		service: NewService(provider, engine, opts),
	}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.reader.AddLog(chaintest.PoolCreatedLog(t, f.parsed, exchangeAddr, 2, 0, common.HexToAddress(addrA), common.HexToAddress(addrB), poolAB))
	f.reader.AddLog(chaintest.PoolCreatedLog(t, f.parsed, exchangeAddr, 3, 0, common.HexToAddress(addrB), common.HexToAddress(addrC), poolBC))
	f.reader.AddLog(chaintest.SwappedLog(t, f.parsed, exchangeAddr, 4, 0, trader, common.HexToAddress(addrA), common.HexToAddress(addrB)))
	f.reader.AddLog(chaintest.SwappedLog(t, f.parsed, exchangeAddr, 4, 1, trader, common.HexToAddress(addrA), common.HexToAddress(addrB)))
}

func TestServiceTokens(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	names, err := f.service.Tokens(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 3)
	require.NotNil(t, names[0])
	require.NotNil(t, names[1])
	assert.Equal(t, "TokenA", *names[0])
	assert.Equal(t, "TokenB", *names[1])
	assert.Nil(t, names[2])
}

func TestServiceSwapsCountsRepeats(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	count, err := f.service.Swaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestServiceEmptyHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	names, err := f.service.Tokens(ctx)
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)

	count, err := f.service.Swaps(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	pools, err := f.service.Pools(ctx)
	require.NoError(t, err)
	assert.NotNil(t, pools)
	assert.Empty(t, pools)
}

func TestServiceIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)
	ctx := context.Background()

	first, err := f.service.Tokens(ctx)
	require.NoError(t, err)
	second, err := f.service.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	swaps1, err := f.service.Swaps(ctx)
	require.NoError(t, err)
	swaps2, err := f.service.Swaps(ctx)
	require.NoError(t, err)
	assert.Equal(t, swaps1, swaps2)
	assert.Equal(t, 2, f.engine.calls[events.KindSwapped], "no cache by default")
}

func TestServicePools(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	pools, err := f.service.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, strings.ToLower(poolAB.Hex()), pools[0].Address)
	assert.Equal(t, strings.ToLower(addrB), pools[1].Token0)
	require.NotNil(t, pools[1].Token0Name)
	assert.Equal(t, "TokenB", *pools[1].Token0Name)
	assert.Nil(t, pools[1].Token1Name)
}

func TestServiceDecodeError(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	// PoolCreated signature with the indexed token topics missing.
	event := f.parsed.Events["PoolCreated"]
	data, err := event.Inputs.NonIndexed().Pack(poolAB)
	require.NoError(t, err)
	f.reader.AddLog(types.Log{Address: exchangeAddr, Topics: []common.Hash{event.ID}, Data: data, BlockNumber: 9})

	_, err = f.service.Tokens(context.Background())
	var decodeErr *dex.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "PoolCreated", decodeErr.Event)
}

func TestServiceConnectivityError(t *testing.T) {
	f := newFixture(t, Options{})
	f.reader.HeadErr = errors.New("dial tcp: connection refused")

	_, err := f.service.Swaps(context.Background())
	assert.Error(t, err)
	assert.Error(t, f.service.Ready(context.Background()))
}

func TestServiceProviderError(t *testing.T) {
	svc := NewService(failingProvider{err: exchange.ErrContractNotDeployed}, nil, Options{})
	ctx := context.Background()

	_, err := svc.Tokens(ctx)
	assert.ErrorIs(t, err, exchange.ErrContractNotDeployed)
	_, err = svc.Swaps(ctx)
	assert.ErrorIs(t, err, exchange.ErrContractNotDeployed)
	_, err = svc.Pools(ctx)
	assert.ErrorIs(t, err, exchange.ErrContractNotDeployed)
	_, err = svc.TokenMetadata(ctx)
	assert.ErrorIs(t, err, exchange.ErrContractNotDeployed)
	assert.ErrorIs(t, svc.Ready(ctx), exchange.ErrContractNotDeployed)
}

func TestServiceReady(t *testing.T) {
	f := newFixture(t, Options{})
	assert.NoError(t, f.service.Ready(context.Background()))
}

func TestServiceReadyChecksLogStore(t *testing.T) {
	f := newFixture(t, Options{})
	provider, err := exchange.NewEagerProvider(context.Background(), ledger.Static{Ledger: testLedger()},
		exchange.Binding{ContractName: "Dexterity", ABI: f.parsed, Chain: f.reader})
	require.NoError(t, err)

	down := NewService(provider, pingingEngine{Engine: f.engine, err: errors.New("connection refused")}, Options{})
	assert.ErrorContains(t, down.Ready(context.Background()), "log store")

	up := NewService(provider, pingingEngine{Engine: f.engine}, Options{})
	assert.NoError(t, up.Ready(context.Background()))
}

func TestServicePerRequestReadsLedgerOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)
	source := &countingSource{Source: ledger.Static{Ledger: testLedger()}}
	provider := exchange.NewPerRequestProvider(source,
		exchange.Binding{ContractName: "Dexterity", ABI: f.parsed, Chain: f.reader}, zaptest.NewLogger(t))
	svc := NewService(provider, f.engine, Options{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	names, err := svc.Tokens(ctx)
	require.NoError(t, err)
	require.Len(t, names, 3)
	require.NotNil(t, names[0])
	assert.Equal(t, "TokenA", *names[0])
	assert.Equal(t, 1, source.loads, "handle and names share one ledger snapshot")

	_, err = svc.Pools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.loads)
}

func TestServiceCache(t *testing.T) {
	f := newFixture(t, Options{Cache: cache.NewMemory(), CacheTTL: time.Minute})
	f.seed(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		count, err := f.service.Swaps(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		names, err := f.service.Tokens(ctx)
		require.NoError(t, err)
		assert.Len(t, names, 3)
	}
	assert.Equal(t, 1, f.engine.calls[events.KindSwapped])
	assert.Equal(t, 1, f.engine.calls[events.KindPoolCreated])
}

func TestServiceCacheFailureIsBypassed(t *testing.T) {
	f := newFixture(t, Options{Cache: failingCache{}, CacheTTL: time.Minute})
	f.seed(t)

	count, err := f.service.Swaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

const erc20JSON = `[
  {"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
  {"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

func TestServiceTokenMetadata(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	erc20, err := abi.JSON(strings.NewReader(erc20JSON))
	require.NoError(t, err)
	pack := func(method string, value interface{}) []byte {
		out, err := erc20.Methods[method].Outputs.Pack(value)
		require.NoError(t, err)
		return out
	}
	f.reader.Calls = map[string][]byte{
		string(erc20.Methods["decimals"].ID): pack("decimals", uint8(18)),
		string(erc20.Methods["symbol"].ID):   pack("symbol", "TKN"),
		string(erc20.Methods["name"].ID):     pack("name", "Token"),
	}

	metas, err := f.service.TokenMetadata(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, strings.ToLower(addrA), metas[0].Address)
	assert.Equal(t, uint8(18), metas[0].Decimals)
	assert.Equal(t, "TKN", metas[0].Symbol)
	require.NotNil(t, metas[0].ContractName)
	assert.Equal(t, "TokenA", *metas[0].ContractName)
	assert.Nil(t, metas[2].ContractName)

	// Metadata is cached; a reverting node no longer matters.
	f.reader.Calls = nil
	again, err := f.service.TokenMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metas, again)
}

func TestServiceTokenMetadataFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t)

	_, err := f.service.TokenMetadata(context.Background())
	assert.Error(t, err)
}
