package model

// PoolCreatedEvent is a decoded PoolCreated log of the exchange contract.
type PoolCreatedEvent struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Pool        string `json:"pool"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

// SwappedEvent marks one executed swap. Only its position is kept.
type SwappedEvent struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}
