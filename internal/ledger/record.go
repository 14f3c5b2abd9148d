package ledger

import "strings"

// TransactionKind is the broadcast transaction type recorded by the deploy script.
type TransactionKind string

const (
	KindCreate  TransactionKind = "CREATE"
	KindCreate2 TransactionKind = "CREATE2"
	KindCall    TransactionKind = "CALL"
)

// DeploymentRecord is one transaction of a deployment run.
type DeploymentRecord struct {
	TxHash          string          `json:"hash"`
	TransactionKind TransactionKind `json:"transactionType"`
	ContractName    string          `json:"contractName"`
	ContractAddress string          `json:"contractAddress"`
}

// HasAddress reports whether the record points at address, ignoring letter case.
func (r DeploymentRecord) HasAddress(address string) bool {
	if r.ContractAddress == "" || address == "" {
		return false
	}
	return strings.EqualFold(r.ContractAddress, address)
}
