package jsonrpc_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SafeMPC/chainsig/internal/util/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler func(req jsonrpc.Request) jsonrpc.Response) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req jsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := handler(req)
		resp.JSONRPC = "2.0"
		resp.ID = req.ID
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallDecodesResult(t *testing.T) {
	srv := newServer(t, func(req jsonrpc.Request) jsonrpc.Response {
		assert.Equal(t, "getSlot", req.Method)
		return jsonrpc.Response{Result: json.RawMessage(`42`)}
	})

	var slot uint64
	err := jsonrpc.NewClient(srv.URL).Call(t.Context(), "getSlot", []interface{}{}, &slot)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), slot)
}

func TestCallIncrementsID(t *testing.T) {
	var ids []uint64
	srv := newServer(t, func(req jsonrpc.Request) jsonrpc.Response {
		ids = append(ids, req.ID)
		return jsonrpc.Response{Result: json.RawMessage(`null`)}
	})

	client := jsonrpc.NewClient(srv.URL)
	require.NoError(t, client.Call(t.Context(), "a", nil, nil))
	require.NoError(t, client.Call(t.Context(), "b", nil, nil))
	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestCallReturnsStructuredError(t *testing.T) {
	srv := newServer(t, func(req jsonrpc.Request) jsonrpc.Response {
		return jsonrpc.Response{Error: &jsonrpc.Error{
			Code:    -32000,
			Message: "Server error",
			Name:    "HANDLER_ERROR",
			Cause:   &jsonrpc.ErrorCause{Name: "UNKNOWN_TRANSACTION"},
		}}
	})

	err := jsonrpc.NewClient(srv.URL).Call(t.Context(), "tx", nil, nil)
	require.Error(t, err)

	rpcErr, ok := jsonrpc.AsError(err)
	require.True(t, ok)
	assert.Equal(t, -32000, rpcErr.Code)
	assert.Equal(t, "UNKNOWN_TRANSACTION", rpcErr.CauseName())
	assert.Contains(t, err.Error(), "UNKNOWN_TRANSACTION")
}

func TestCallHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	err := jsonrpc.NewClient(srv.URL).Call(t.Context(), "getSlot", nil, nil)
	require.Error(t, err)
	_, ok := jsonrpc.AsError(err)
	assert.False(t, ok)
}
