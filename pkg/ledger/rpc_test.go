package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer returns an httptest server answering every JSON-RPC call
// with the canned response for its method.
func rpcServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp, ok := responses[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
}

func TestRPCClient_GetAnchor(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getLatestBlockhash": `{"jsonrpc":"2.0","id":1,"result":{"value":{"blockhash":"Hash111","lastValidBlockHeight":4242}}}`,
	})
	defer srv.Close()

	anchor, err := NewRPCClient(srv.URL).GetAnchor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hash111", anchor.Checkpoint)
	assert.Equal(t, uint64(4242), anchor.ValidityHeight)
}

func TestRPCClient_Submit(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := rpcServer(t, map[string]string{
			"sendTransaction": `{"jsonrpc":"2.0","id":1,"result":"sig111"}`,
		})
		defer srv.Close()

		sig, err := NewRPCClient(srv.URL).Submit(context.Background(), "payload")
		require.NoError(t, err)
		assert.Equal(t, "sig111", sig)
	})

	t.Run("RPC error is typed", func(t *testing.T) {
		srv := rpcServer(t, map[string]string{
			"sendTransaction": `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction already processed"}}`,
		})
		defer srv.Close()

		_, err := NewRPCClient(srv.URL).Submit(context.Background(), "payload")
		require.Error(t, err)
		assert.True(t, IsAlreadyProcessed(err))
	})
}

func TestRPCClient_GetStatuses(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getSignatureStatuses": `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"confirmed","err":null},null,{"confirmationStatus":"finalized","err":{"InstructionError":[0,"Custom"]}}]}}`,
	})
	defer srv.Close()

	statuses, err := NewRPCClient(srv.URL).GetStatuses(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, TierConfirmed, statuses[0].Tier)
	assert.Empty(t, statuses[0].Err)

	// Signature the network has not seen yet.
	assert.Empty(t, statuses[1].Tier)

	assert.Equal(t, TierFinalized, statuses[2].Tier)
	assert.NotEmpty(t, statuses[2].Err)
}

func TestRPCClient_GetBalance(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getBalance": `{"jsonrpc":"2.0","id":1,"result":{"value":5000000000}}`,
	})
	defer srv.Close()

	balance, err := NewRPCClient(srv.URL).GetBalance(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000), balance)
}

func TestRPCClient_Health(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		srv := rpcServer(t, map[string]string{
			"getHealth": `{"jsonrpc":"2.0","id":1,"result":"ok"}`,
		})
		defer srv.Close()
		assert.NoError(t, NewRPCClient(srv.URL).Health(context.Background()))
	})

	t.Run("HTTP error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		assert.Error(t, NewRPCClient(srv.URL).Health(context.Background()))
	})

	t.Run("Node unreachable", func(t *testing.T) {
		err := NewRPCClient("http://127.0.0.1:1").Health(context.Background())
		assert.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}
