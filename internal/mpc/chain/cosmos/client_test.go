package cosmos_test

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SafeMPC/chainsig/internal/mpc/chain/cosmos"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTServer(t *testing.T, posted *[]map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cosmos/auth/v1beta1/accounts/cosmos1base", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"account":{"@type":"/cosmos.auth.v1beta1.BaseAccount","address":"cosmos1base","account_number":"42","sequence":"7"}}`)
	})
	mux.HandleFunc("GET /cosmos/auth/v1beta1/accounts/cosmos1vesting", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"account":{"@type":"/cosmos.vesting.v1beta1.ContinuousVestingAccount",
			"base_vesting_account":{"base_account":{"account_number":"9","sequence":"1"}}}}`)
	})
	mux.HandleFunc("GET /cosmos/auth/v1beta1/accounts/cosmos1missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":5,"message":"account cosmos1missing not found","details":[]}`)
	})
	mux.HandleFunc("GET /cosmos/auth/v1beta1/accounts/cosmos1broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream unavailable")
	})
	mux.HandleFunc("GET /cosmos/bank/v1beta1/balances/cosmos1base/by_denom", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "uatom", r.URL.Query().Get("denom"))
		_, _ = io.WriteString(w, `{"balance":{"denom":"uatom","amount":"1234567"}}`)
	})
	mux.HandleFunc("POST /cosmos/tx/v1beta1/simulate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*posted = append(*posted, body)
		_, _ = io.WriteString(w, `{"gas_info":{"gas_wanted":"0","gas_used":"81234"},"result":{}}`)
	})
	mux.HandleFunc("POST /cosmos/tx/v1beta1/txs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*posted = append(*posted, body)
		if body["tx_bytes"] == base64.StdEncoding.EncodeToString([]byte("bad")) {
			_, _ = io.WriteString(w, `{"tx_response":{"txhash":"AB12","code":32,"codespace":"sdk","raw_log":"account sequence mismatch"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"tx_response":{"txhash":"CD34","code":0,"raw_log":""}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTClientAccounts(t *testing.T) {
	var posted []map[string]string
	client := cosmos.NewRESTClient(newRESTServer(t, &posted).URL + "/")

	account, err := client.GetAccount(t.Context(), "cosmos1base")
	require.NoError(t, err)
	assert.Equal(t, &cosmos.Account{AccountNumber: 42, Sequence: 7}, account)

	account, err = client.GetAccount(t.Context(), "cosmos1vesting")
	require.NoError(t, err)
	assert.Equal(t, &cosmos.Account{AccountNumber: 9, Sequence: 1}, account)

	_, err = client.GetAccount(t.Context(), "cosmos1missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cosmos.ErrAccountNotFound))

	_, err = client.GetAccount(t.Context(), "cosmos1broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, cosmos.ErrAccountNotFound))
	var restErr *cosmos.RESTError
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, "upstream unavailable", restErr.Message)
}

func TestRESTClientBalance(t *testing.T) {
	var posted []map[string]string
	client := cosmos.NewRESTClient(newRESTServer(t, &posted).URL)

	balance, err := client.GetBalance(t.Context(), "cosmos1base", "uatom")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1234567), balance)
}

func TestRESTClientSimulateAndBroadcast(t *testing.T) {
	var posted []map[string]string
	client := cosmos.NewRESTClient(newRESTServer(t, &posted).URL)

	gas, err := client.Simulate(t.Context(), []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, uint64(81234), gas)
	require.Len(t, posted, 1)
	assert.Equal(t, "AQI=", posted[0]["tx_bytes"])

	hash, err := client.Broadcast(t.Context(), []byte("good"))
	require.NoError(t, err)
	assert.Equal(t, "CD34", hash)
	require.Len(t, posted, 2)
	assert.Equal(t, "BROADCAST_MODE_SYNC", posted[1]["mode"])

	_, err = client.Broadcast(t.Context(), []byte("bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account sequence mismatch")
	assert.Contains(t, err.Error(), "code 32")
}
