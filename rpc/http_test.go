package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"paystream/core"
	"paystream/storage"
)

const (
	testSender    = "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a"
	testRecipient = "0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b"
)

func testNode(t *testing.T) *core.Node {
	t.Helper()
	node := core.NewNode(storage.NewMemDB())
	node.SetNowFunc(func() uint64 { return 100 })
	var alice [20]byte
	for i := range alice {
		alice[i] = 0x0A
	}
	err := node.ApplyGenesis([]core.GenesisAlloc{{Asset: "PAY", Address: alice, Balance: big.NewInt(10000)}})
	require.NoError(t, err)
	return node
}

func newTestServer(t *testing.T, node *core.Node) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(node).Handler())
	t.Cleanup(server.Close)
	return server
}

func rpcCall(t *testing.T, url, token, method string, params interface{}) RPCResponse {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func resultInto(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestStreamLifecycleOverRPC(t *testing.T) {
	node := testNode(t)
	server := newTestServer(t, node)

	resp := rpcCall(t, server.URL, "", "token_approve", tokenApproveParams{
		Asset: "PAY", Owner: testSender, Amount: "1000",
	})
	require.Nil(t, resp.Error)

	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender:    testSender,
		Recipient: testRecipient,
		Deposit:   "1000",
		Asset:     "PAY",
		StartTime: 100,
		StopTime:  1100,
		CancelFee: "50",
	})
	var created streamCreateResult
	resultInto(t, resp, &created)
	require.Equal(t, uint64(1), created.ID)

	resp = rpcCall(t, server.URL, "", "stream_get", streamIDParams{ID: 1})
	var record streamJSON
	resultInto(t, resp, &record)
	require.Equal(t, "1000", record.Deposit)
	require.Equal(t, "1", record.RatePerSecond)
	require.Equal(t, "PAY", record.Asset)
	require.Equal(t, "50", record.CancelFee)

	node.SetNowFunc(func() uint64 { return 500 })

	resp = rpcCall(t, server.URL, "", "stream_delta", streamIDParams{ID: 1})
	var delta deltaResult
	resultInto(t, resp, &delta)
	require.Equal(t, uint64(400), delta.Delta)

	resp = rpcCall(t, server.URL, "", "stream_balanceOf", streamBalanceParams{ID: 1, Address: testRecipient})
	var balance balanceResult
	resultInto(t, resp, &balance)
	require.Equal(t, "400", balance.Balance)

	resp = rpcCall(t, server.URL, "", "stream_withdraw", streamWithdrawParams{
		ID: 1, Amount: "150", Caller: testRecipient,
	})
	require.Nil(t, resp.Error)

	resp = rpcCall(t, server.URL, "", "token_balanceOf", tokenBalanceParams{Asset: "PAY", Address: testRecipient})
	resultInto(t, resp, &balance)
	require.Equal(t, "150", balance.Balance)

	resp = rpcCall(t, server.URL, "", "stream_cancel", streamActorParams{ID: 1, Caller: testSender})
	require.Nil(t, resp.Error)

	resp = rpcCall(t, server.URL, "", "stream_get", streamIDParams{ID: 1})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamNotFound, resp.Error.Code)
}

func TestLowercaseAssetApproveThenCreate(t *testing.T) {
	node := testNode(t)
	server := newTestServer(t, node)

	// Approving with the default spender and a lowercase symbol must grant
	// the allowance to the same custody account the engine pulls from.
	resp := rpcCall(t, server.URL, "", "token_approve", tokenApproveParams{
		Asset: "pay", Owner: testSender, Amount: "1000",
	})
	require.Nil(t, resp.Error)

	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender:    testSender,
		Recipient: testRecipient,
		Deposit:   "1000",
		Asset:     "pay",
		StartTime: 100,
		StopTime:  1100,
	})
	var created streamCreateResult
	resultInto(t, resp, &created)
	require.Equal(t, uint64(1), created.ID)
}

func TestErrorCodeMapping(t *testing.T) {
	server := newTestServer(t, testNode(t))

	// Validation failure surfaces as invalid params.
	resp := rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender:    testSender,
		Recipient: testSender, // self stream
		Deposit:   "1000",
		Asset:     "PAY",
		StartTime: 100,
		StopTime:  1100,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamInvalidParams, resp.Error.Code)

	// Missing allowance surfaces as a transfer failure.
	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender:    testSender,
		Recipient: testRecipient,
		Deposit:   "1000",
		Asset:     "PAY",
		StartTime: 100,
		StopTime:  1100,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamTransfer, resp.Error.Code)

	resp = rpcCall(t, server.URL, "", "stream_get", streamIDParams{ID: 42})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamNotFound, resp.Error.Code)

	resp = rpcCall(t, server.URL, "", "stream_withdraw", streamWithdrawParams{ID: 42, Amount: "1", Caller: testSender})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamNotFound, resp.Error.Code)
}

func TestForbiddenAndConflict(t *testing.T) {
	node := testNode(t)
	server := newTestServer(t, node)

	resp := rpcCall(t, server.URL, "", "token_approve", tokenApproveParams{Asset: "PAY", Owner: testSender, Amount: "1000"})
	require.Nil(t, resp.Error)
	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender: testSender, Recipient: testRecipient, Deposit: "1000", Asset: "PAY", StartTime: 100, StopTime: 1100,
	})
	require.Nil(t, resp.Error)
	node.SetNowFunc(func() uint64 { return 500 })

	stranger := "0x0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c"
	resp = rpcCall(t, server.URL, "", "stream_withdraw", streamWithdrawParams{ID: 1, Amount: "1", Caller: stranger})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamForbidden, resp.Error.Code)

	resp = rpcCall(t, server.URL, "", "stream_withdraw", streamWithdrawParams{ID: 1, Amount: "9999", Caller: testRecipient})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamConflict, resp.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	server := newTestServer(t, testNode(t))

	// No params object at all.
	resp := rpcCall(t, server.URL, "", "stream_get", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamInvalidParams, resp.Error.Code)

	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender: "not-an-address", Recipient: testRecipient, Deposit: "1000", Asset: "PAY", StartTime: 100, StopTime: 1100,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamInvalidParams, resp.Error.Code)

	resp = rpcCall(t, server.URL, "", "stream_create", streamCreateParams{
		Sender: testSender, Recipient: testRecipient, Deposit: "12x", Asset: "PAY", StartTime: 100, StopTime: 1100,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeStreamInvalidParams, resp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	server := newTestServer(t, testNode(t))
	resp := rpcCall(t, server.URL, "", "stream_unknown", streamIDParams{ID: 1})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestGetRejected(t *testing.T) {
	server := newTestServer(t, testNode(t))
	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	t.Setenv("PAYSTREAM_RPC_TOKEN", "secret")
	node := testNode(t)
	server := newTestServer(t, node)

	// Mutating methods demand the token.
	resp := rpcCall(t, server.URL, "", "token_approve", tokenApproveParams{Asset: "PAY", Owner: testSender, Amount: "1000"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = rpcCall(t, server.URL, "wrong", "token_approve", tokenApproveParams{Asset: "PAY", Owner: testSender, Amount: "1000"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = rpcCall(t, server.URL, "secret", "token_approve", tokenApproveParams{Asset: "PAY", Owner: testSender, Amount: "1000"})
	require.Nil(t, resp.Error)

	// Reads stay open.
	resp = rpcCall(t, server.URL, "", "token_balanceOf", tokenBalanceParams{Asset: "PAY", Address: testSender})
	var balance balanceResult
	resultInto(t, resp, &balance)
	require.Equal(t, "10000", balance.Balance)
}

func TestUnsupportedJSONRPCVersion(t *testing.T) {
	server := newTestServer(t, testNode(t))
	body := []byte(`{"jsonrpc":"1.0","id":1,"method":"stream_get","params":[{"id":1}]}`)
	resp, err := http.Post(server.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeInvalidRequest, decoded.Error.Code)
}
