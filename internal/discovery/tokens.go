package discovery

import (
	"strings"

	"dexterity/internal/ledger"
	"dexterity/internal/model"
)

// TokenAddressSet folds token0 and token1 of every event into lower-case addresses,
// keeping the first occurrence of each.
func TokenAddressSet(events []model.PoolCreatedEvent) []string {
	set := make([]string, 0, 2*len(events))
	seen := make(map[string]struct{}, 2*len(events))
	add := func(address string) {
		key := strings.ToLower(address)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		set = append(set, key)
	}
	for _, event := range events {
		add(event.Token0)
		add(event.Token1)
	}
	return set
}

// ResolveNames returns the deployed contract name of each address, nil where the
// ledger has no CREATE record for it. The result has the same length as addresses.
func ResolveNames(l *ledger.Ledger, addresses []string) []*string {
	names := make([]*string, len(addresses))
	for i, address := range addresses {
		names[i] = resolveName(l, address)
	}
	return names
}

func resolveName(l *ledger.Ledger, address string) *string {
	name, ok := l.ContractName(address)
	if !ok {
		return nil
	}
	return &name
}

// BuildPools joins each PoolCreated event with the ledger names of its tokens.
func BuildPools(l *ledger.Ledger, events []model.PoolCreatedEvent) []model.Pool {
	pools := make([]model.Pool, 0, len(events))
	for _, event := range events {
		token0 := strings.ToLower(event.Token0)
		token1 := strings.ToLower(event.Token1)
		pools = append(pools, model.Pool{
			Address:    strings.ToLower(event.Pool),
			Token0:     token0,
			Token1:     token1,
			Token0Name: resolveName(l, token0),
			Token1Name: resolveName(l, token1),
		})
	}
	return pools
}
