package ledger

// Ledger is the immutable record of a deployment run.
type Ledger struct {
	ChainID uint64
	Records []DeploymentRecord
}

// New builds a Ledger from records. The slice is copied.
func New(chainID uint64, records []DeploymentRecord) *Ledger {
	copied := make([]DeploymentRecord, len(records))
	copy(copied, records)
	return &Ledger{ChainID: chainID, Records: copied}
}

// FindFirst returns the first record matching predicate.
func (l *Ledger) FindFirst(predicate func(DeploymentRecord) bool) (DeploymentRecord, bool) {
	if l == nil || predicate == nil {
		return DeploymentRecord{}, false
	}
	for _, record := range l.Records {
		if predicate(record) {
			return record, true
		}
	}
	return DeploymentRecord{}, false
}

// FindContract returns the first record whose contract name equals name.
func (l *Ledger) FindContract(name string) (DeploymentRecord, bool) {
	return l.FindFirst(func(r DeploymentRecord) bool {
		return r.ContractName == name && r.ContractAddress != ""
	})
}

// FindCreated returns the first CREATE record deployed at address.
func (l *Ledger) FindCreated(address string) (DeploymentRecord, bool) {
	return l.FindFirst(func(r DeploymentRecord) bool {
		return r.TransactionKind == KindCreate && r.HasAddress(address)
	})
}

// ContractName resolves the name deployed at address, if any.
func (l *Ledger) ContractName(address string) (string, bool) {
	record, ok := l.FindCreated(address)
	if !ok {
		return "", false
	}
	return record.ContractName, true
}
