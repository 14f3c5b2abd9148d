package discovery

import (
	"dexterity/internal/dex"
	"dexterity/internal/model"
)

// CountSwaps decodes every Swapped log and returns how many there are. Repeated
// swaps on the same pair each count.
func CountSwaps(decoder *dex.ExchangeDecoder, logs []model.LogRecord) (int, error) {
	swaps, err := decoder.DecodeSwaps(logs)
	if err != nil {
		return 0, err
	}
	return len(swaps), nil
}
