// Package events fetches the exchange contract's raw event logs.
package events

import (
	"context"
	"fmt"

	"dexterity/internal/dex"
	"dexterity/internal/exchange"
	"dexterity/internal/model"
)

// Kind names an exchange event.
type Kind string

const (
	KindPoolCreated Kind = dex.EventPoolCreated
	KindSwapped     Kind = dex.EventSwapped
)

// Engine returns every log of one event kind emitted by the bound exchange, in chain
// order, from the configured start block up to the current head.
type Engine interface {
	Query(ctx context.Context, handle *exchange.Handle, kind Kind) ([]model.LogRecord, error)
}

func validate(handle *exchange.Handle, kind Kind) error {
	if handle == nil {
		return fmt.Errorf("exchange handle is nil")
	}
	if handle.Decoder == nil {
		return fmt.Errorf("exchange handle has no decoder")
	}
	switch kind {
	case KindPoolCreated, KindSwapped:
		return nil
	default:
		return fmt.Errorf("unsupported event kind: %s", kind)
	}
}
