package dex

import "testing"

func TestParseArtifact(t *testing.T) {
	artifact := []byte(`{
		"abi": [
			{"type":"event","name":"PoolCreated","anonymous":false,"inputs":[
				{"indexed":false,"name":"token0","type":"address"},
				{"indexed":false,"name":"token1","type":"address"},
				{"indexed":false,"name":"pool","type":"address"}]},
			{"type":"event","name":"Swapped","anonymous":false,"inputs":[]},
			{"type":"function","name":"createPool","stateMutability":"nonpayable","inputs":[
				{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[]}
		],
		"bytecode": {"object": "0x6080"},
		"metadata": {}
	}`)

	parsed, err := ParseArtifact(artifact)
	if err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if _, ok := parsed.Events[EventPoolCreated]; !ok {
		t.Fatalf("missing PoolCreated")
	}
	if _, ok := parsed.Methods["createPool"]; !ok {
		t.Fatalf("missing createPool")
	}
}

func TestParseArtifactErrors(t *testing.T) {
	inputs := map[string]string{
		"empty":    "  ",
		"no abi":   `{"bytecode":"0x"}`,
		"bad json": `{"abi":`,
		"bad abi":  `[{"type":"event","name":1}]`,
	}
	for name, input := range inputs {
		if _, err := ParseArtifact([]byte(input)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestExchangeABI(t *testing.T) {
	parsed, err := ExchangeABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if _, err := NewExchangeDecoder(parsed); err != nil {
		t.Fatalf("built-in abi should satisfy the decoder: %v", err)
	}
}
