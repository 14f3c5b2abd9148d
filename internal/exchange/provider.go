package exchange

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dexterity/internal/ledger"
)

const (
	StrategyEager      = "eager"
	StrategyPerRequest = "per-request"
)

// Provider hands out the exchange handle for a request.
type Provider interface {
	Handle(ctx context.Context) (*Handle, error)
}

// EagerProvider resolves the handle once, at construction.
type EagerProvider struct {
	handle *Handle
}

// NewEagerProvider binds immediately. An error here is a fatal configuration error.
func NewEagerProvider(ctx context.Context, source ledger.Source, binding Binding) (*EagerProvider, error) {
	l, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	handle, err := binding.Bind(l)
	if err != nil {
		return nil, err
	}
	return &EagerProvider{handle: handle}, nil
}

func (p *EagerProvider) Handle(context.Context) (*Handle, error) {
	return p.handle, nil
}

// PerRequestProvider reloads the ledger and rebinds on every call.
type PerRequestProvider struct {
	source  ledger.Source
	binding Binding
	logger  *zap.Logger
}

func NewPerRequestProvider(source ledger.Source, binding Binding, logger *zap.Logger) *PerRequestProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerRequestProvider{source: source, binding: binding, logger: logger}
}

func (p *PerRequestProvider) Handle(ctx context.Context) (*Handle, error) {
	l, err := p.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	handle, err := p.binding.Bind(l)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("exchange handle resolved", zap.String("address", handle.Address.Hex()))
	return handle, nil
}

// NewProvider builds the provider for strategy.
func NewProvider(ctx context.Context, strategy string, source ledger.Source, binding Binding, logger *zap.Logger) (Provider, error) {
	switch strategy {
	case "", StrategyEager:
		return NewEagerProvider(ctx, source, binding)
	case StrategyPerRequest:
		return NewPerRequestProvider(source, binding, logger), nil
	default:
		return nil, fmt.Errorf("unknown handle strategy: %s", strategy)
	}
}
