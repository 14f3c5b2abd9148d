package exchange

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dexterity/internal/chain"
	"dexterity/internal/dex"
	"dexterity/internal/ledger"
)

// ErrContractNotDeployed means the ledger has no record for the exchange contract.
var ErrContractNotDeployed = errors.New("exchange contract not found in deployment ledger")

// Handle is the bound exchange contract instance. It is read-only once built.
type Handle struct {
	Name    string
	Address common.Address
	ChainID uint64
	ABI     abi.ABI
	Decoder *dex.ExchangeDecoder
	Chain   chain.Reader
	// Ledger is the snapshot the handle was bound from. Name lookups for the same
	// request go through it.
	Ledger *ledger.Ledger
}

// Binding holds what is needed to build a Handle from a ledger.
type Binding struct {
	ContractName string
	ABI          abi.ABI
	Chain        chain.Reader
	// ChainID is the id the node reports. It is used when the ledger has no chain
	// field and must agree with the ledger when both are set.
	ChainID uint64
}

// Bind locates the contract in l by name and binds it to the ABI and chain.
func (b Binding) Bind(l *ledger.Ledger) (*Handle, error) {
	if b.ContractName == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	if b.Chain == nil {
		return nil, fmt.Errorf("chain client is nil")
	}

	record, ok := l.FindContract(b.ContractName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotDeployed, b.ContractName)
	}
	if !common.IsHexAddress(record.ContractAddress) {
		return nil, fmt.Errorf("invalid %s address in ledger: %q", b.ContractName, record.ContractAddress)
	}

	chainID := l.ChainID
	switch {
	case chainID == 0:
		chainID = b.ChainID
	case b.ChainID != 0 && b.ChainID != chainID:
		return nil, fmt.Errorf("ledger is for chain %d but node reports chain %d", chainID, b.ChainID)
	}

	decoder, err := dex.NewExchangeDecoder(b.ABI)
	if err != nil {
		return nil, fmt.Errorf("bind %s abi: %w", b.ContractName, err)
	}

	return &Handle{
		Name:    b.ContractName,
		Address: common.HexToAddress(record.ContractAddress),
		ChainID: chainID,
		ABI:     b.ABI,
		Decoder: decoder,
		Chain:   b.Chain,
		Ledger:  l,
	}, nil
}

// LoadABI reads the ABI from a compiler artifact, or returns the built-in exchange
// ABI when path is empty.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return dex.ExchangeABI()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact: %w", err)
	}
	return dex.ParseArtifact(data)
}
