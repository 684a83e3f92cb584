// Package api exposes the bill store over a small JSON HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"BillingApp/app/database"
	"BillingApp/app/remotedb"
	"BillingApp/app/services"

	"github.com/google/uuid"
)

// PINHeader carries the access PIN when one is configured
const PINHeader = "X-Access-PIN"

// Services bundles what the API serves
type Services struct {
	Bills     *services.BillService
	Numbers   *services.BillNumberService
	Customers *services.CustomerService
	Company   *services.CompanyService
	QR        *services.UPIQRService
	Access    *services.AccessService
}

// Server handles REST requests for bills, customers and company info
type Server struct {
	server  *http.Server
	addr    string
	conn    *database.Connector
	svc     Services
	events  http.Handler
	logger  *services.LoggerService
	handler http.Handler
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewServer creates the API server. events serves /ws and may be nil.
func NewServer(addr string, conn *database.Connector, svc Services, events http.Handler, logger *services.LoggerService) *Server {
	if logger == nil {
		logger = services.NewDiscardLogger()
	}
	s := &Server{
		addr:   addr,
		conn:   conn,
		svc:    svc,
		events: events,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/bills", s.handleBills)
	mux.HandleFunc("/api/bills/", s.handleBill)
	mux.HandleFunc("/api/customers/search", s.handleCustomerSearch)
	mux.HandleFunc("/api/company", s.handleCompany)
	if events != nil {
		mux.Handle("/ws", events)
	}

	s.handler = s.corsMiddleware(s.loggingMiddleware(s.pinMiddleware(mux)))
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until Stop
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	s.logger.LogInfo(fmt.Sprintf("[API] Server starting on %s", s.addr))
	s.logger.LogInfo("[API]   GET    /health")
	s.logger.LogInfo("[API]   GET    /api/bills")
	s.logger.LogInfo("[API]   POST   /api/bills")
	s.logger.LogInfo("[API]   PATCH  /api/bills")
	s.logger.LogInfo("[API]   GET    /api/bills/{id}")
	s.logger.LogInfo("[API]   PUT    /api/bills/{id}")
	s.logger.LogInfo("[API]   DELETE /api/bills/{id}")
	s.logger.LogInfo("[API]   GET    /api/bills/{id}/upi-qr")
	s.logger.LogInfo("[API]   GET    /api/bills/number/{number}")
	s.logger.LogInfo("[API]   DELETE /api/bills/number/{number}")
	s.logger.LogInfo("[API]   GET    /api/customers/search?q=")
	s.logger.LogInfo("[API]   GET    /api/company")
	s.logger.LogInfo("[API]   PUT    /api/company")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.LogInfo("[API] Server stopping...")
	return s.server.Shutdown(ctx)
}

// Middleware for CORS
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+PINHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response status for the access log. It passes
// Hijack through so websocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware for logging
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.LogInfo(fmt.Sprintf("[API] %s %s %d", r.Method, r.URL.Path, rec.status),
			fmt.Sprintf("request %s", requestID),
			fmt.Sprintf("from %s", r.RemoteAddr),
			fmt.Sprintf("in %v", time.Since(start)))
	})
}

// pinMiddleware requires the access PIN on /api and /ws when one is configured.
// Browsers cannot set headers on websocket upgrades, so /ws also accepts ?pin=.
func (s *Server) pinMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guarded := strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api" || r.URL.Path == "/ws"
		if !guarded || !s.svc.Access.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		pin := r.Header.Get(PINHeader)
		if pin == "" && r.URL.Path == "/ws" {
			pin = r.URL.Query().Get("pin")
		}
		if !s.svc.Access.VerifyPIN(pin) {
			s.logger.LogWarning("[API] rejected request with invalid access PIN", r.Method+" "+r.URL.Path, r.RemoteAddr)
			s.sendJSON(w, http.StatusUnauthorized, APIResponse{
				Success: false,
				Error:   "invalid or missing access PIN",
				Details: map[string]interface{}{"kind": "unauthorized"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper to send JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// sendError maps err onto a status code and an error payload
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, details := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.LogError(fmt.Sprintf("[API] %s %s failed", r.Method, r.URL.Path), err)
	}
	s.sendJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Details: details,
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.sendJSON(w, http.StatusMethodNotAllowed, APIResponse{
		Success: false,
		Error:   fmt.Sprintf("Method not allowed. Use %s.", allowed),
	})
}

// classify returns the HTTP status and error details for err
func classify(err error) (int, map[string]interface{}) {
	details := map[string]interface{}{"kind": services.ErrorKind(err)}

	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		batchErr      *remotedb.BatchError
		backendErr    *remotedb.BackendError
		configErr     *remotedb.ConfigError
	)
	if errors.As(err, &validationErr) && validationErr.Field != "" {
		details["field"] = validationErr.Field
	}
	if errors.As(err, &conflictErr) {
		details["code"] = conflictErr.Code
	}
	if errors.As(err, &batchErr) {
		details["statement"] = batchErr.Index
	}
	if errors.As(err, &backendErr) && len(backendErr.Errors) > 0 {
		details["backend_errors"] = backendErr.Errors
	}
	if errors.As(err, &configErr) && len(configErr.Missing) > 0 {
		details["missing"] = configErr.Missing
	}

	switch details["kind"] {
	case "validation":
		return http.StatusBadRequest, details
	case "not_found":
		return http.StatusNotFound, details
	case "conflict":
		return http.StatusConflict, details
	case "transport", "auth", "config":
		return http.StatusServiceUnavailable, details
	case "backend", "batch":
		return http.StatusBadGateway, details
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		details["kind"] = "transport"
		return http.StatusServiceUnavailable, details
	}
	return http.StatusInternalServerError, details
}

// decodeBody reads a JSON body into v, reporting malformed input as a validation error
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return &services.ValidationError{Message: "request body is required"}
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &services.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

// handleHealth reports whether the remote database answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	client, err := s.conn.Client(ctx)
	if err == nil {
		err = client.Ping(ctx)
	}
	if err != nil {
		_, details := classify(err)
		details["status"] = "degraded"
		s.sendJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   err.Error(),
			Details: details,
		})
		return
	}

	s.sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Billing API is running",
		Data: map[string]interface{}{
			"status":    "healthy",
			"database":  "reachable",
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}
