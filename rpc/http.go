package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"paystream/core"
	"paystream/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	clientRateLimit = rate.Limit(20)
	clientRateBurst = 40
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the stream ledger over JSON-RPC 2.0 on a single endpoint,
// plus a websocket event feed.
type Server struct {
	node      *core.Node
	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs an RPC server for the node. The bearer token guarding
// mutating methods comes from PAYSTREAM_RPC_TOKEN; when unset they are open,
// which is only acceptable for local development.
func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv("PAYSTREAM_RPC_TOKEN"))
	return &Server{
		node:      node,
		authToken: token,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler returns the HTTP handler serving the RPC endpoint and the
// websocket feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

// Start serves the RPC endpoint on addr and blocks.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	clientIP, err := s.resolveClientIP(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "invalid_request", "unresolvable client address")
		return
	}
	if !s.allowClient(clientIP) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate_limited", "too many requests")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}

	started := time.Now()
	outcome := s.dispatch(w, r, &req)
	observability.RPCMetrics().Observe(req.Method, outcome, time.Since(started).Seconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "stream_create":
		return s.handleStreamCreate(w, r, req)
	case "stream_withdraw":
		return s.handleStreamWithdraw(w, r, req)
	case "stream_cancel":
		return s.handleStreamCancel(w, r, req)
	case "stream_get":
		return s.handleStreamGet(w, req)
	case "stream_delta":
		return s.handleStreamDelta(w, req)
	case "stream_balanceOf":
		return s.handleStreamBalanceOf(w, req)
	case "token_approve":
		return s.handleTokenApprove(w, r, req)
	case "token_balanceOf":
		return s.handleTokenBalanceOf(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return outcomeError
	}
}

func (s *Server) resolveClientIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("invalid remote address %q", r.RemoteAddr)
	}
	return host, nil
}

func (s *Server) allowClient(clientIP string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[clientIP]
	if !ok {
		limiter = rate.NewLimiter(clientRateLimit, clientRateBurst)
		s.limiters[clientIP] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

type rpcAuthError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *rpcAuthError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &rpcAuthError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.authToken)) != 1 {
		return &rpcAuthError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
