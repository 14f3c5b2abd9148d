package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexterity/internal/config"
	"dexterity/internal/exchange"
)

// fakeNode answers the JSON-RPC calls serve makes at startup and on /ready.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = "0x7a69"
		case "eth_blockNumber":
			resp["result"] = "0x10"
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func serveConfig(t *testing.T, rpcURL, ledgerJSON string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run-latest.json")
	require.NoError(t, os.WriteFile(path, []byte(ledgerJSON), 0o644))
	return config.Config{
		Common: config.Common{
			RPCURL:       rpcURL,
			Ledger:       path,
			ContractName: "Dexterity",
			RPCTimeout:   2 * time.Second,
			RetryBackoff: 10 * time.Millisecond,
			LogLevel:     "info",
		},
		HandleStrategy:  exchange.StrategyEager,
		Listen:          freeAddr(t),
		Source:          config.SourceRPC,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestServeWithoutExchangeNeverListens(t *testing.T) {
	node := fakeNode(t)
	cfg := serveConfig(t, node.URL, `{"transactions":[{"transactionType":"CREATE","contractName":"TokenA","contractAddress":"0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"}],"chain":31337}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := serve(ctx, cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrContractNotDeployed))

	l, err := net.Listen("tcp", cfg.Listen)
	require.NoError(t, err, "listen address was never bound")
	require.NoError(t, l.Close())
}

func TestServeStartsAndStops(t *testing.T) {
	node := fakeNode(t)
	cfg := serveConfig(t, node.URL, `{"transactions":[{"transactionType":"CREATE","contractName":"Dexterity","contractAddress":"0x5FbDB2315678afecb367f032d93F642f64180aa3"}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Listen + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

type flakyChainID struct {
	fails int
	calls int
}

func (f *flakyChainID) GetChainID(context.Context) (*big.Int, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("connection reset")
	}
	return big.NewInt(31337), nil
}

func TestNodeChainID(t *testing.T) {
	common := config.Common{MaxRetries: 2, RetryBackoff: time.Millisecond, RPCTimeout: time.Second}

	reader := &flakyChainID{fails: 1}
	id, err := nodeChainID(context.Background(), reader, common)
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), id)
	assert.Equal(t, 2, reader.calls)

	_, err = nodeChainID(context.Background(), &flakyChainID{fails: 5}, common)
	assert.ErrorContains(t, err, "get chain id")
}
