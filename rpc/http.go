package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tradepost/access"
	"tradepost/fees"
	"tradepost/market"
	"tradepost/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "TRADEPOST_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
)

// Server exposes the marketplace engine over a JSON-RPC 2.0 endpoint.
// Mutating methods require the bearer token from TRADEPOST_RPC_TOKEN when one
// is configured; queries are open.
type Server struct {
	engine    *market.Engine
	authToken string
	limiter   *rateLimiter
	metrics   *observability.ModuleMetrics
}

// NewServer builds an RPC server around the engine. requestsPerMinute bounds
// per-client throughput; zero disables rate limiting.
func NewServer(engine *market.Engine, requestsPerMinute float64) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	var limiter *rateLimiter
	if requestsPerMinute > 0 {
		limiter = newRateLimiter(requestsPerMinute)
	}
	return &Server{
		engine:    engine,
		authToken: token,
		limiter:   limiter,
		metrics:   observability.Metrics(),
	}
}

// Router returns the HTTP handler tree: the JSON-RPC endpoint plus health and
// metrics surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/rpc", otelhttp.NewHandler(http.HandlerFunc(s.handle), "tradepost.rpc"))
	return r
}

// Start serves the router on addr. It blocks until the listener fails.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
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

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func isMutating(method string) bool {
	switch method {
	case "market_getListing", "market_getAllListings", "market_getListingCount",
		"market_getEscrowInfo", "market_isExpired", "market_getFee", "market_viewCollectedFee":
		return false
	default:
		return true
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	if s.limiter != nil && !s.limiter.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate_limited", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}
	if isMutating(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.ObserveError(req.Method, strconv.Itoa(authErr.Code))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	started := time.Now()
	outcome := s.dispatch(w, &req)
	s.metrics.ObserveRequest(req.Method, outcome, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, req *RPCRequest) string {
	switch req.Method {
	case "market_createListing":
		return s.handleCreateListing(w, req)
	case "market_relist":
		return s.handleRelist(w, req)
	case "market_initiateBuy":
		return s.handleInitiateBuy(w, req)
	case "market_confirmTransaction":
		return s.handleConfirmTransaction(w, req)
	case "market_requestEscrowRelease":
		return s.handleRequestEscrowRelease(w, req)
	case "market_markDispute":
		return s.handleMarkDispute(w, req)
	case "market_handleDispute":
		return s.handleHandleDispute(w, req)
	case "market_setFee":
		return s.handleSetFee(w, req)
	case "market_getFee":
		return s.handleGetFee(w, req)
	case "market_viewCollectedFee":
		return s.handleViewCollectedFee(w, req)
	case "market_withdrawFee":
		return s.handleWithdrawFee(w, req)
	case "market_getListing":
		return s.handleGetListing(w, req)
	case "market_getAllListings":
		return s.handleGetAllListings(w, req)
	case "market_getListingCount":
		return s.handleGetListingCount(w, req)
	case "market_getEscrowInfo":
		return s.handleGetEscrowInfo(w, req)
	case "market_isExpired":
		return s.handleIsExpired(w, req)
	case "market_grantRole":
		return s.handleGrantRole(w, req)
	case "market_revokeRole":
		return s.handleRevokeRole(w, req)
	case "market_pause":
		return s.handlePause(w, req)
	case "market_resume":
		return s.handleResume(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return "method_not_found"
	}
}

// writeEngineError translates engine errors into the JSON-RPC error taxonomy:
// validation and authority failures, state-machine guard rejections, and
// collaborator failures each get their own code.
func (s *Server) writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) string {
	status, code, message := classifyError(err)
	s.metrics.ObserveError(req.Method, strconv.Itoa(code))
	writeError(w, status, req.ID, code, message, err.Error())
	return message
}

func classifyError(err error) (int, int, string) {
	switch {
	case errors.Is(err, market.ErrListingNotFound):
		return http.StatusNotFound, codeMarketNotFound, "not_found"
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden, codeMarketForbidden, "forbidden"
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrInvalidTitle),
		errors.Is(err, fees.ErrFeeOverflow),
		errors.Is(err, fees.ErrRateTooHigh),
		errors.Is(err, access.ErrZeroAddress),
		errors.Is(err, access.ErrUnknownRole),
		errors.Is(err, access.ErrRoleCollision),
		errors.Is(err, access.ErrLastAdmin):
		return http.StatusBadRequest, codeMarketInvalidParams, "invalid_params"
	case errors.Is(err, market.ErrInvalidStatus),
		errors.Is(err, market.ErrSelfPurchase),
		errors.Is(err, market.ErrNotSeller),
		errors.Is(err, market.ErrNotBuyer),
		errors.Is(err, market.ErrNotParticipant),
		errors.Is(err, market.ErrListingExpired),
		errors.Is(err, market.ErrListingNotExpired),
		errors.Is(err, market.ErrAlreadyReleased),
		errors.Is(err, market.ErrNoActiveEscrow),
		errors.Is(err, market.ErrLockNotElapsed),
		errors.Is(err, market.ErrListingBusy),
		errors.Is(err, market.ErrPaused),
		errors.Is(err, fees.ErrNothingAccrued):
		return http.StatusConflict, codeMarketConflict, "conflict"
	case errors.Is(err, market.ErrTransferFailed):
		return http.StatusBadGateway, codeMarketInternal, "transfer_failed"
	default:
		return http.StatusInternalServerError, codeServerError, "internal_error"
	}
}
