package dex

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dexterity/internal/model"
)

// DecodeError reports a log whose shape does not match the bound ABI.
type DecodeError struct {
	Event    string
	TxHash   string
	LogIndex uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s log %s:%d: %v", e.Event, e.TxHash, e.LogIndex, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ExchangeDecoder decodes the exchange contract's PoolCreated and Swapped logs.
type ExchangeDecoder struct {
	poolCreated abi.Event
	swapped     abi.Event
}

// NewExchangeDecoder validates that parsed carries both events.
// PoolCreated must start with three address arguments (token0, token1, pool).
func NewExchangeDecoder(parsed abi.ABI) (*ExchangeDecoder, error) {
	poolCreated, ok := parsed.Events[EventPoolCreated]
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", EventPoolCreated)
	}
	swapped, ok := parsed.Events[EventSwapped]
	if !ok {
		return nil, fmt.Errorf("abi has no %s event", EventSwapped)
	}
	if poolCreated.Anonymous || swapped.Anonymous {
		return nil, fmt.Errorf("anonymous exchange events are not supported")
	}
	if len(poolCreated.Inputs) < 3 {
		return nil, fmt.Errorf("%s has %d inputs, want at least 3", EventPoolCreated, len(poolCreated.Inputs))
	}
	for i := 0; i < 3; i++ {
		if poolCreated.Inputs[i].Type.T != abi.AddressTy {
			return nil, fmt.Errorf("%s input %d is %s, want address", EventPoolCreated, i, poolCreated.Inputs[i].Type.String())
		}
	}

	return &ExchangeDecoder{poolCreated: poolCreated, swapped: swapped}, nil
}

// Topic returns the signature topic of the named event.
func (d *ExchangeDecoder) Topic(event string) (common.Hash, error) {
	switch event {
	case EventPoolCreated:
		return d.poolCreated.ID, nil
	case EventSwapped:
		return d.swapped.ID, nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported event name: %s", event)
	}
}

// DecodePoolCreated converts a raw PoolCreated log into a typed event.
func (d *ExchangeDecoder) DecodePoolCreated(log model.LogRecord) (model.PoolCreatedEvent, error) {
	values, err := eventValues(d.poolCreated, log)
	if err != nil {
		return model.PoolCreatedEvent{}, newDecodeError(EventPoolCreated, log, err)
	}

	addresses := make([]common.Address, 3)
	for i := range addresses {
		addresses[i], err = asAddress(values[i])
		if err != nil {
			return model.PoolCreatedEvent{}, newDecodeError(EventPoolCreated, log, fmt.Errorf("argument %d: %w", i, err))
		}
	}

	return model.PoolCreatedEvent{
		Token0:      addresses[0].Hex(),
		Token1:      addresses[1].Hex(),
		Pool:        addresses[2].Hex(),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
	}, nil
}

// DecodeSwapped validates a raw Swapped log and returns its marker.
func (d *ExchangeDecoder) DecodeSwapped(log model.LogRecord) (model.SwappedEvent, error) {
	if _, err := eventValues(d.swapped, log); err != nil {
		return model.SwappedEvent{}, newDecodeError(EventSwapped, log, err)
	}
	return model.SwappedEvent{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
	}, nil
}

// DecodePoolsCreated decodes every log, failing on the first mismatch.
func (d *ExchangeDecoder) DecodePoolsCreated(logs []model.LogRecord) ([]model.PoolCreatedEvent, error) {
	events := make([]model.PoolCreatedEvent, 0, len(logs))
	for _, log := range logs {
		event, err := d.DecodePoolCreated(log)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// DecodeSwaps decodes every log, failing on the first mismatch.
func (d *ExchangeDecoder) DecodeSwaps(logs []model.LogRecord) ([]model.SwappedEvent, error) {
	events := make([]model.SwappedEvent, 0, len(logs))
	for _, log := range logs {
		event, err := d.DecodeSwapped(log)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func newDecodeError(event string, log model.LogRecord, err error) *DecodeError {
	return &DecodeError{Event: event, TxHash: log.TxHash, LogIndex: log.LogIndex, Err: err}
}

// eventValues returns the event arguments in ABI order, taking indexed ones from
// topics and the rest from data.
func eventValues(event abi.Event, log model.LogRecord) ([]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	if !strings.EqualFold(log.Topics[0], event.ID.Hex()) {
		return nil, fmt.Errorf("topic0 %s does not match %s", log.Topics[0], event.ID.Hex())
	}

	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	nonIndexed, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(event.Inputs))
	var topicPos, dataPos int
	for _, arg := range event.Inputs {
		if arg.Indexed {
			value, err := topicValue(arg, indexedTopics[topicPos])
			if err != nil {
				return nil, fmt.Errorf("topic %q: %w", arg.Name, err)
			}
			values = append(values, value)
			topicPos++
			continue
		}
		if dataPos >= len(nonIndexed) {
			return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(nonIndexed))
		}
		values = append(values, nonIndexed[dataPos])
		dataPos++
	}
	return values, nil
}

// topicValue decodes address topics; other indexed types keep their topic hash.
func topicValue(arg abi.Argument, topic common.Hash) (interface{}, error) {
	if arg.Type.T != abi.AddressTy {
		return topic, nil
	}
	if !bytes.Equal(topic[:common.HashLength-common.AddressLength], make([]byte, common.HashLength-common.AddressLength)) {
		return nil, fmt.Errorf("address topic has non-zero padding: %s", topic.Hex())
	}
	return common.BytesToAddress(topic[common.HashLength-common.AddressLength:]), nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	var data []byte
	if dataHex != "" {
		var err error
		data, err = hexutil.Decode(dataHex)
		if err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}
