// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"prize-ledger/internal/authz"
	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/native"
	"prize-ledger/internal/observability"
	"prize-ledger/internal/storage"
)

// maxBodyBytes bounds request bodies. A full batch of base58 addresses and
// 78-digit amounts stays well below it.
const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Ledger  *ledger.Ledger
	Book    *authz.Book
	Channel *native.Channel

	// Events serves the history endpoints. Optional.
	Events storage.EventStore
	// Analytics serves the daily volume endpoint. Optional.
	Analytics storage.AnalyticsStore
	// Stream serves /events. Optional.
	Stream http.Handler

	// Limiter rate limits /api per client IP. Optional.
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// Server is the HTTP front of one ledger.
type Server struct {
	router *chi.Mux
	opts   Options
	log    *slog.Logger
}

// New creates a server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Ledger == nil || opts.Book == nil || opts.Channel == nil {
		return nil, errors.New("api: ledger, book and channel are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		log:    log.With("component", "api"),
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewHTTPServer wraps the handler with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", observability.Handler())
	if s.opts.Stream != nil {
		r.Handle("/events", s.opts.Stream)
	}

	r.Route("/api", func(r chi.Router) {
		if s.opts.Limiter != nil {
			r.Use(RateLimitMiddleware(s.opts.Limiter))
		}

		r.Post("/transfer", s.handleTransfer)
		r.Post("/transfer-from", s.handleTransferFrom)
		r.Post("/batch-transfer", s.handleBatchTransfer)
		r.Post("/approve", s.handleApprove)
		r.Post("/swap", s.handleSwap)
		r.Post("/claim", s.handleClaim)
		r.Post("/donate", s.handleDonate)
		r.Post("/receive", s.handleReceive)
		r.Post("/withdraw/reserve", s.handleWithdrawReserve)
		r.Post("/withdraw/surplus", s.handleWithdrawSurplus)

		r.Get("/stats", s.handleStats)
		r.Get("/rate", s.handleRate)
		r.Get("/capacity", s.handleCapacity)
		r.Get("/prize", s.handlePrize)
		r.Get("/tax", s.handleTax)
		r.Get("/withdrawable", s.handleWithdrawable)
		r.Get("/snapshot", s.handleSnapshot)

		r.Get("/accounts/{address}", s.handleAccount)
		r.Get("/accounts/{address}/allowances/{spender}", s.handleAllowance)
		r.Get("/accounts/{address}/events", s.handleAccountEvents)
		r.Get("/events", s.handleEvents)
		r.Get("/analytics/daily", s.handleDailyVolume)
	})
}

// requestID tags each request with a UUID, honoring an incoming X-Request-Id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeLedgerError maps err to a status by its ledger kind.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var bad *badRequestError
	if errors.As(err, &bad) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, native.ErrInsufficientFunds) {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: ledger.KindInsufficiency.String()})
		return
	}

	kind := ledger.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func statusOf(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindInsufficiency:
		return http.StatusConflict
	case ledger.KindExternal:
		return http.StatusBadGateway
	case ledger.KindPolicy:
		return http.StatusForbidden
	case ledger.KindReentrancy:
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

// badRequestError marks malformed input rejected before reaching the ledger.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &badRequestError{err: fmt.Errorf(format, args...)}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %w", err)
	}
	return nil
}

func parseAddress(field, s string) (domain.Address, error) {
	a, err := domain.ParseAddress(s)
	if err != nil {
		return a, badRequest("%s: %w", field, err)
	}
	return a, nil
}
