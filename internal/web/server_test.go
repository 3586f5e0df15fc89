package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/crestline-fi/vaultcore/internal/fixedpoint"
	"github.com/crestline-fi/vaultcore/internal/pool"
	"github.com/crestline-fi/vaultcore/internal/types"
	"github.com/crestline-fi/vaultcore/internal/vault"
)

func newTestServer(t *testing.T) *WebServer {
	t.Helper()
	backend := vault.NewMemoryBackend()
	v, err := vault.New(vault.Config{
		ProtocolFeeRatio: sdkmath.ZeroInt(),
		FlashLoanFee:     sdkmath.ZeroInt(),
		PoolAuthority:    "authority",
		FeeCollector:     "collector",
	}, backend, nil, nil)
	require.NoError(t, err)

	_, err = v.RegisterPool("authority", []types.Asset{"tokenA", "tokenB"}, types.VariantWeighted, pool.Params{
		Weights:  []sdkmath.Int{fixedpoint.One.QuoRaw(2), fixedpoint.One.QuoRaw(2)},
		SwapFee:  sdkmath.ZeroInt(),
		Operator: "authority",
	})
	require.NoError(t, err)

	return NewWebServer("0", v, nil)
}

func doRequest(ws *WebServer, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ws.router.ServeHTTP(rec, req)
	return rec
}

func TestListPools(t *testing.T) {
	require := require.New(t)
	ws := newTestServer(t)

	rec := doRequest(ws, http.MethodGet, "/api/pools", nil)
	require.Equal(http.StatusOK, rec.Code)

	var body struct {
		Count int                 `json:"count"`
		Pools []types.PoolSummary `json:"pools"`
	}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(1, body.Count)
	require.Equal(types.PoolID(1), body.Pools[0].ID)
	require.Equal(types.VariantWeighted, body.Pools[0].Variant)
}

func TestGetPoolNotFound(t *testing.T) {
	require := require.New(t)
	ws := newTestServer(t)

	rec := doRequest(ws, http.MethodGet, "/api/pools/99", nil)
	require.Equal(http.StatusNotFound, rec.Code)

	rec = doRequest(ws, http.MethodGet, "/api/pools/not-a-number", nil)
	require.Equal(http.StatusBadRequest, rec.Code)
}

func TestGetShareBalanceEmpty(t *testing.T) {
	require := require.New(t)
	ws := newTestServer(t)

	rec := doRequest(ws, http.MethodGet, "/api/pools/1/shares/nobody", nil)
	require.Equal(http.StatusOK, rec.Code)

	var body struct {
		Shares sdkmath.Int `json:"shares"`
	}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(body.Shares.IsZero())
}

func TestPreviewSwapValidation(t *testing.T) {
	require := require.New(t)
	ws := newTestServer(t)

	rec := doRequest(ws, http.MethodPost, "/api/preview/swap", []byte("not json"))
	require.Equal(http.StatusBadRequest, rec.Code)

	payload, err := json.Marshal(previewSwapRequest{
		PoolID:   99,
		AssetIn:  "tokenA",
		AssetOut: "tokenB",
		Amount:   "1000000000000000000",
	})
	require.NoError(err)
	rec = doRequest(ws, http.MethodPost, "/api/preview/swap", payload)
	require.Equal(http.StatusNotFound, rec.Code)
}

func TestCORSPreflightAllowed(t *testing.T) {
	require := require.New(t)
	ws := newTestServer(t)

	rec := doRequest(ws, http.MethodOptions, "/api/pools", nil)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("*", rec.Header().Get("Access-Control-Allow-Origin"))
}
