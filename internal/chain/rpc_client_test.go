package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcServer answers JSON-RPC requests with handle's result or error.
func rpcServer(t *testing.T, handle func(req rpcRequest) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, rpcErr := handle(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPClient_BlockNumber(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_blockNumber" {
			t.Errorf("expected eth_blockNumber, got %s", req.Method)
		}
		return "0x1b4", nil
	})

	client := NewHTTPClient(server.URL)
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 436 {
		t.Errorf("expected 436, got %d", n)
	}
}

func TestHTTPClient_CallContract(t *testing.T) {
	to := common.HexToAddress("0x2000000000000000000000000000000000000002")

	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_call" {
			t.Errorf("expected eth_call, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[1] != "latest" {
			t.Errorf("unexpected params %v", req.Params)
		}
		msg, _ := req.Params[0].(map[string]interface{})
		if msg["data"] != "0xdeadbeef" {
			t.Errorf("unexpected data %v", msg["data"])
		}
		return "0x0102", nil
	})

	client := NewHTTPClient(server.URL)
	out, err := client.CallContract(context.Background(), to, []byte{0xde, 0xad, 0xbe, 0xef}, Latest)
	if err != nil {
		t.Fatalf("CallContract: %v", err)
	}
	if hexutil.Encode(out) != "0x0102" {
		t.Errorf("expected 0x0102, got %x", out)
	}
}

func TestHTTPClient_CallContractAtBlock(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if len(req.Params) != 2 || req.Params[1] != "0x2a" {
			t.Errorf("expected call pinned to 0x2a, got %v", req.Params)
		}
		return "0x", nil
	})

	client := NewHTTPClient(server.URL)
	if _, err := client.CallContract(context.Background(), common.Address{}, nil, 42); err != nil {
		t.Fatalf("CallContract: %v", err)
	}
}

func TestHTTPClient_GetLogs(t *testing.T) {
	rec := testRecord(7)

	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		if req.Method != "eth_getLogs" {
			t.Errorf("expected eth_getLogs, got %s", req.Method)
		}
		filter, _ := req.Params[0].(map[string]interface{})
		if filter["fromBlock"] != "0x64" || filter["toBlock"] != "0xc8" {
			t.Errorf("unexpected range %v-%v", filter["fromBlock"], filter["toBlock"])
		}
		return []rpcLog{fromRecord(rec)}, nil
	})

	client := NewHTTPClient(server.URL)
	logs, err := client.GetLogs(context.Background(), LogQuery{
		Addresses: []common.Address{rec.Address},
		FromBlock: 100,
		ToBlock:   200,
	})
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].TxHash != rec.TxHash || logs[0].LogIndex != 7 || logs[0].BlockNumber != rec.BlockNumber {
		t.Errorf("unexpected log %+v", logs[0])
	}
}

func TestHTTPClient_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x1"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)

	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_MaxRetriesIsTransportError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(time.Millisecond),
	)

	_, err := client.BlockNumber(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("expected transport error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		calls.Add(1)
		return nil, &RPCError{Code: 3, Message: "execution reverted"}
	})

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.CallContract(context.Background(), common.Address{}, nil, Latest)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if IsTransient(err) {
		t.Error("RPC errors must not be transient")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.BlockNumber(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) (interface{}, *RPCError) {
		return "0x1", nil
	})

	client := NewHTTPClient(server.URL, WithRateLimit(20, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.BlockNumber(context.Background()); err != nil {
			t.Fatalf("BlockNumber: %v", err)
		}
	}
	// Burst of 1 at 20 rps: the 2nd and 3rd call each wait ~50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("rate limit not applied, elapsed %s", elapsed)
	}
}
