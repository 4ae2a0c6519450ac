// Package server exposes the capture flow to the PWA shell over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/ledger"
)

// Book is the read side of the ledger
type Book interface {
	ListExpenses(ctx context.Context) ([]*ledger.Expense, error)
	ListAccounts(ctx context.Context) ([]capture.Account, error)
	ReceiptFile(ctx context.Context, filename string) ([]byte, error)
}

// Server handles HTTP requests for the capture flow
type Server struct {
	controller *capture.Controller
	inbox      *capture.Inbox
	book       Book
	basicAuth  BasicAuth
	mux        *http.ServeMux
	logger     *slog.Logger
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(controller *capture.Controller, inbox *capture.Inbox, book Book, basicAuth BasicAuth, logger *slog.Logger) *Server {
	return NewServerWithMux(controller, inbox, book, basicAuth, http.NewServeMux(), logger)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(controller *capture.Controller, inbox *capture.Inbox, book Book, basicAuth BasicAuth, mux *http.ServeMux, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller: controller,
		inbox:      inbox,
		book:       book,
		basicAuth:  basicAuth,
		mux:        mux,
		logger:     logger.With("component", "http"),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Expense Capture"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Capture entry points
	s.mux.HandleFunc("POST /api/captures", s.requireAuth(s.handleCapture))
	s.mux.HandleFunc("POST /share-target", s.requireAuth(s.handleShareTarget))
	s.mux.HandleFunc("POST /api/voice", s.requireAuth(s.handleVoice))
	s.mux.HandleFunc("POST /api/launch", s.requireAuth(s.handleLaunch))
	s.mux.HandleFunc("POST /api/connectivity", s.requireAuth(s.handleConnectivity))

	// Queue (most specific paths first)
	s.mux.HandleFunc("GET /api/queue/{id}/file", s.requireAuth(s.handleQueueFile))
	s.mux.HandleFunc("POST /api/queue/{id}/analyze", s.requireAuth(s.handleAnalyze))
	s.mux.HandleFunc("DELETE /api/queue/{id}", s.requireAuth(s.handleDiscard))
	s.mux.HandleFunc("GET /api/queue", s.requireAuth(s.handleListQueue))
	s.mux.HandleFunc("POST /api/sync", s.requireAuth(s.handleSync))

	// Flow
	s.mux.HandleFunc("GET /api/flow", s.requireAuth(s.handleFlow))
	s.mux.HandleFunc("POST /api/choice", s.requireAuth(s.handleChoice))
	s.mux.HandleFunc("POST /api/drafts/confirm", s.requireAuth(s.handleConfirmDraft))
	s.mux.HandleFunc("POST /api/review/confirm", s.requireAuth(s.handleConfirmReview))
	s.mux.HandleFunc("POST /api/review/cancel", s.requireAuth(s.handleCancelReview))

	// Ledger
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("GET /api/accounts", s.requireAuth(s.handleListAccounts))
	s.mux.HandleFunc("GET /api/receipts/{name}", s.requireAuth(s.handleReceiptFile))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
