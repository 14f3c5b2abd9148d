package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dexterity/internal/metrics"
	"dexterity/internal/model"
)

type fakeDiscovery struct {
	tokens   []*string
	swaps    int
	pools    []model.Pool
	metas    []model.TokenMeta
	err      error
	readyErr error
	panicOn  string
}

func (f *fakeDiscovery) Tokens(context.Context) ([]*string, error) {
	if f.panicOn == "tokens" {
		panic("boom")
	}
	return f.tokens, f.err
}

func (f *fakeDiscovery) Swaps(context.Context) (int, error) { return f.swaps, f.err }

func (f *fakeDiscovery) Pools(context.Context) ([]model.Pool, error) { return f.pools, f.err }

func (f *fakeDiscovery) TokenMetadata(context.Context) ([]model.TokenMeta, error) {
	return f.metas, f.err
}

func (f *fakeDiscovery) Ready(context.Context) error { return f.readyErr }

func strPtr(s string) *string { return &s }

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T, d Discovery) *Server {
	t.Helper()
	return NewServer(Config{}, d, zaptest.NewLogger(t), nil, nil)
}

func TestIndex(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeDiscovery{}), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Dexterity backend", body.Name)

	paths := make([]string, 0, len(body.Routes))
	for _, route := range body.Routes {
		paths = append(paths, route.Path)
		assert.NotEmpty(t, route.Description)
	}
	assert.Subset(t, paths, []string{"/", "/tokens", "/swaps"})
	assert.NotContains(t, paths, "/metrics")
}

func TestTokens(t *testing.T) {
	d := &fakeDiscovery{tokens: []*string{strPtr("TokenA"), nil}}
	rec := do(t, newTestServer(t, d), "/tokens")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["TokenA", null]`, rec.Body.String())
}

func TestSwaps(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeDiscovery{swaps: 2}), "/swaps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Body.String())
}

func TestEmptyHistory(t *testing.T) {
	s := newTestServer(t, &fakeDiscovery{tokens: []*string{}, pools: []model.Pool{}})

	assert.Equal(t, "[]", do(t, s, "/tokens").Body.String())
	assert.Equal(t, "0", do(t, s, "/swaps").Body.String())
	assert.Equal(t, "[]", do(t, s, "/pools").Body.String())
}

func TestPoolsAndMetadata(t *testing.T) {
	d := &fakeDiscovery{
		pools: []model.Pool{{Address: "0xa1", Token0: "0x01", Token1: "0x02", Token0Name: strPtr("TokenA")}},
		metas: []model.TokenMeta{{Address: "0x01", ContractName: strPtr("TokenA"), Decimals: 18, Symbol: "TKA", Name: "Token A"}},
	}
	s := newTestServer(t, d)

	rec := do(t, s, "/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"pool":"0xa1","token0":"0x01","token1":"0x02","token0Name":"TokenA","token1Name":null}]`, rec.Body.String())

	rec = do(t, s, "/tokens/metadata")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"address":"0x01","contractName":"TokenA","decimals":18,"symbol":"TKA","name":"Token A"}]`, rec.Body.String())
}

func TestErrorBoundary(t *testing.T) {
	s := newTestServer(t, &fakeDiscovery{err: errors.New("dial tcp 127.0.0.1:8545: connection refused")})

	for _, path := range []string{"/tokens", "/swaps", "/pools", "/tokens/metadata"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, s, path)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, internalErrorBody, rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "8545")
		})
	}
}

func TestPanicRecovered(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeDiscovery{panicOn: "tokens"}), "/tokens")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, internalErrorBody, rec.Body.String())
}

func TestReady(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeDiscovery{}), "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = do(t, newTestServer(t, &fakeDiscovery{readyErr: errors.New("no head")}), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/swaps", nil)
	rec := httptest.NewRecorder()
	newTestServer(t, &fakeDiscovery{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := NewServer(Config{}, &fakeDiscovery{swaps: 1}, zaptest.NewLogger(t), m, reg)

	do(t, s, "/swaps")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/swaps", "200")))

	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dexterity_http_requests_total")

	var body indexResponse
	require.NoError(t, json.Unmarshal(do(t, s, "/").Body.Bytes(), &body))
	assert.Equal(t, "/metrics", body.Routes[len(body.Routes)-1].Path)
}

func TestServeAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{ShutdownTimeout: time.Second}, &fakeDiscovery{swaps: 3}, zaptest.NewLogger(t), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/swaps")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(string(body)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStartListenError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	s := NewServer(Config{Listen: listener.Addr().String()}, &fakeDiscovery{}, zaptest.NewLogger(t), nil, nil)
	assert.Error(t, s.Start(context.Background()))
}
