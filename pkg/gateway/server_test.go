package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts a gateway on an ephemeral port.
func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

// dialAndAuthenticate completes the challenge/response handshake.
func dialAndAuthenticate(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge AuthChallenge
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, "auth.challenge", challenge.Event)
	require.NotEmpty(t, challenge.Challenge)

	require.NoError(t, conn.WriteJSON(AuthResponse{
		Method:    "auth.response",
		Signature: signChallenge(challenge.Challenge, "test-secret"),
	}))

	var result AuthResult
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&result))
	require.True(t, result.Success, "handshake failed: %s", result.Message)

	return conn
}

// readUntilResponse consumes frames until the RPC response with the given ID
// arrives, collecting any events seen on the way.
func readUntilResponse(t *testing.T, conn *websocket.Conn, id string) (RPCResponse, []EventMessage) {
	t.Helper()

	var events []EventMessage
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var probe struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &probe))

		if probe.Type == "event" {
			var evt EventMessage
			require.NoError(t, json.Unmarshal(raw, &evt))
			events = append(events, evt)
			continue
		}

		var resp RPCResponse
		require.NoError(t, json.Unmarshal(raw, &resp))
		if resp.ID == id {
			return resp, events
		}
	}

	t.Fatalf("timed out waiting for response %s", id)
	return RPCResponse{}, nil
}

func TestServerRejectsRPCBeforeAuth(t *testing.T) {
	srv := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge AuthChallenge
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&challenge))

	require.NoError(t, conn.WriteJSON(RPCRequest{ID: "1", Method: "status", JSONRPC: "2.0"}))

	var resp RPCResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, AuthenticationRequired, resp.Error.Code)
}

func TestServerRejectsBadSignature(t *testing.T) {
	srv := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge AuthChallenge
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&challenge))

	require.NoError(t, conn.WriteJSON(AuthResponse{
		Method:    "auth.response",
		Signature: signChallenge(challenge.Challenge, "wrong-secret"),
	}))

	var result AuthResult
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&result))
	assert.False(t, result.Success)
	assert.Equal(t, "auth.failure", result.Event)
}

func TestServerTurnOverWebsocket(t *testing.T) {
	srv := startTestServer(t)
	conn := dialAndAuthenticate(t, srv)

	require.NoError(t, conn.WriteJSON(RPCRequest{
		ID:      "turn-1",
		Method:  "turn.run",
		JSONRPC: "2.0",
		Params: map[string]interface{}{
			"sessionKey": "telegram:dm:42",
			"prompt":     "hi there",
		},
	}))

	resp, events := readUntilResponse(t, conn, "turn-1")
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "telegram:dm:42", result["sessionKey"])
	assert.Equal(t, "assistant", result["agentId"])

	payloads := result["payloads"].([]interface{})
	require.Len(t, payloads, 1)
	payload := payloads[0].(map[string]interface{})
	assert.Equal(t, "hello from the test model", payload["text"])
	assert.Equal(t, false, payload["isError"])

	// The caller observes the turn lifecycle on the same connection.
	names := make([]string, 0, len(events))
	for _, evt := range events {
		names = append(names, evt.Event)
	}
	assert.Contains(t, names, EventTurnStarted)
	assert.Contains(t, names, EventTurnCompleted)

	// The transcript is durable on the server side.
	store, err := srv.sessions.StoreFor(context.Background(), "telegram:dm:42")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestServerStatusOverWebsocket(t *testing.T) {
	srv := startTestServer(t)
	conn := dialAndAuthenticate(t, srv)

	require.NoError(t, conn.WriteJSON(RPCRequest{ID: "st-1", Method: "status", JSONRPC: "2.0"}))

	resp, _ := readUntilResponse(t, conn, "st-1")
	require.Nil(t, resp.Error)

	status := resp.Result.(map[string]interface{})
	assert.Equal(t, "ok", status["status"])

	clients := status["clients"].(map[string]interface{})
	assert.EqualValues(t, 1, clients["connected"])
	assert.EqualValues(t, 1, clients["authenticated"])
}

func TestServerHealthzAndMetrics(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	metricsResp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestServerHTTPRPC(t *testing.T) {
	srv := startTestServer(t)
	url := "http://" + srv.Addr() + "/rpc"

	t.Run("requires the shared secret header", func(t *testing.T) {
		body, _ := json.Marshal(RPCRequest{ID: "1", Method: "status", JSONRPC: "2.0"})
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("routes an authenticated request", func(t *testing.T) {
		body, _ := json.Marshal(RPCRequest{ID: "1", Method: "status", JSONRPC: "2.0"})
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(SecretHeader, "test-secret")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rpcResp RPCResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
		require.Nil(t, rpcResp.Error)

		status := rpcResp.Result.(map[string]interface{})
		assert.Equal(t, "ok", status["status"])
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte("{broken")))
		require.NoError(t, err)
		req.Header.Set(SecretHeader, "test-secret")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects non-POST methods", func(t *testing.T) {
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
