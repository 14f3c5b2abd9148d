package model

// Pool is a trading pair registered in the exchange, with ledger names when known.
type Pool struct {
	Address    string  `json:"pool"`
	Token0     string  `json:"token0"`
	Token1     string  `json:"token1"`
	Token0Name *string `json:"token0Name"`
	Token1Name *string `json:"token1Name"`
}
