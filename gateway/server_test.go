package gateway

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"nftlend/core"
	"nftlend/crypto"
	"nftlend/native/assets"
	"nftlend/storage"
)

type testEnv struct {
	server     *httptest.Server
	node       *core.Node
	lender     crypto.Address
	borrower   crypto.Address
	collection crypto.Address
	tokenID    uint64
}

func addr(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.DefaultOptions())
	require.NoError(t, err)

	env := &testEnv{
		node:     node,
		lender:   addr(1),
		borrower: addr(2),
	}
	admin := addr(9)
	env.collection, err = node.RegisterCollection("GOOD", "Good Collection", assets.VariantStandard, admin)
	require.NoError(t, err)
	env.tokenID, err = node.MintNFT(admin, env.collection, env.borrower)
	require.NoError(t, err)
	require.NoError(t, node.ApproveVault(env.borrower, env.collection, true))
	require.NoError(t, node.MintBalance(env.lender, big.NewInt(1000)))

	server := NewServer(node, nil, nil)
	env.server = httptest.NewServer(server.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) post(t *testing.T, path string, body map[string]interface{}) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSupplyEndpointEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/lending/supply", map[string]interface{}{
		"account": env.lender.String(),
		"amount":  "400",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body opResponse
	decodeInto(t, resp, &body)
	require.Len(t, body.Events, 1)
	require.Equal(t, "Supplied", body.Events[0].Type)
	require.Equal(t, "400", body.Events[0].Attributes["amount"])
}

func TestPoolEndpointReflectsSupply(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/lending/supply", map[string]interface{}{
		"account": env.lender.String(),
		"amount":  "400",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(env.server.URL + "/v1/lending/pool")
	require.NoError(t, err)
	var pool poolResponse
	decodeInto(t, resp, &pool)
	require.Equal(t, "400", pool.TotalLiquidity)
	require.Equal(t, "0", pool.TotalPrincipalBorrowed)
}

func TestSupplyValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/v1/lending/supply", map[string]interface{}{
		"account": env.lender.String(),
		"amount":  "four hundred",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/lending/supply", map[string]interface{}{
		"account": "not-an-address",
		"amount":  "400",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Protocol rejections surface as 422 with the engine error.
	resp = env.post(t, "/v1/lending/supply", map[string]interface{}{
		"account": env.lender.String(),
		"amount":  "5000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var failure errorResponse
	decodeInto(t, resp, &failure)
	require.Contains(t, failure.Error, "insufficient")
}

func TestCollateralRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/collateral/add", map[string]interface{}{
		"account":    env.borrower.String(),
		"collection": env.collection.String(),
		"tokenId":    "0",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body opResponse
	decodeInto(t, resp, &body)
	require.Equal(t, "CollateralAdded", body.Events[0].Type)

	resp, err := http.Get(env.server.URL + "/v1/collateral/" + env.borrower.String())
	require.NoError(t, err)
	var profile profileResponse
	decodeInto(t, resp, &profile)
	require.Len(t, profile.Items, 1)
	require.False(t, profile.BeingLiquidated)

	resp = env.post(t, "/v1/collateral/redeem", map[string]interface{}{
		"account":    env.borrower.String(),
		"collection": env.collection.String(),
		"tokenId":    "0",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAccountEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/v1/accounts/" + env.lender.String())
	require.NoError(t, err)
	var account accountResponse
	decodeInto(t, resp, &account)
	require.Equal(t, "1000", account.Balance)
	require.Equal(t, "0", account.TotalDebt)
}

func TestListingNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/v1/auction/listings/" + env.collection.String() + "/0")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/v1/auction/listings")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listings []listingResponse
	decodeInto(t, resp, &listings)
	require.Empty(t, listings)
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body opResponse
	decodeInto(t, resp, &body)
	require.Empty(t, body.Events)
}

func TestOraclePushRequiresFeedIdentity(t *testing.T) {
	env := newTestEnv(t)
	// Track the item first so the push has a record to hit.
	resp := env.post(t, "/v1/collateral/add", map[string]interface{}{
		"account":    env.borrower.String(),
		"collection": env.collection.String(),
		"tokenId":    "0",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stranger := addr(7)
	resp = env.post(t, "/v1/oracle/price", map[string]interface{}{
		"caller":     stranger.String(),
		"collection": env.collection.String(),
		"tokenId":    "0",
		"price":      "1000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/oracle/price", map[string]interface{}{
		"caller":     env.node.OracleAddress().String(),
		"collection": env.collection.String(),
		"tokenId":    "0",
		"price":      "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body opResponse
	decodeInto(t, resp, &body)
	require.Equal(t, "NftPriceUpdated", body.Events[0].Type)

	resp, err := http.Get(env.server.URL + "/v1/oracle/price/" + env.collection.String() + "/0")
	require.NoError(t, err)
	var record priceRecordResponse
	decodeInto(t, resp, &record)
	require.True(t, record.Known)
	require.Equal(t, "1000", record.Price)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "test-correlation-id")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, "test-correlation-id", resp.Header.Get("X-Request-Id"))
	resp.Body.Close()
}
