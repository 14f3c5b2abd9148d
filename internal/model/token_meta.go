package model

// TokenMeta captures ERC20 metadata alongside the ledger name.
type TokenMeta struct {
	Address      string  `json:"address"`
	ContractName *string `json:"contractName"`
	Decimals     uint8   `json:"decimals"`
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
}
