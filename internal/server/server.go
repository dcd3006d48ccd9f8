// Package server exposes the catalog over HTTP: the read API used by the
// storefront, the admin triggers for sync and diagnostics, and /metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"catalogsync/internal/catalog"
	"catalogsync/internal/lease"
	"catalogsync/internal/observability"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/storage"
)

type Server struct {
	sync       *catalog.SyncService
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

func New(sync *catalog.SyncService, reconciler *reconcile.Reconciler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{sync: sync, reconciler: reconciler, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/catalog", func(r chi.Router) {
		r.Get("/", s.handleCatalog)
		r.Get("/{code}", s.handleProduct)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Patch("/products/{code}/availability", s.handleAvailability)
		r.Post("/maintenance/prune", s.handlePrune)
	})

	return r
}

type catalogResponse struct {
	Total  int             `json:"total"`
	Groups []catalog.Group `json:"groups"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ProductFilter{
		Category:      q.Get("category"),
		Type:          q.Get("type"),
		AvailableOnly: queryBool(q.Get("available")),
	}
	idx, err := s.sync.Products(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	groups := idx.Groups
	if groups == nil {
		groups = []catalog.Group{}
	}
	writeJSON(w, http.StatusOK, catalogResponse{Total: idx.Len(), Groups: groups})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.sync.Product(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type syncRequest struct {
	Sheet  string `json:"sheet"`
	DryRun bool   `json:"dryRun"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{Sheet: r.URL.Query().Get("sheet"), DryRun: queryBool(r.URL.Query().Get("dryRun"))}
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}

	res, err := s.sync.Sync(r.Context(), catalog.SyncOptions{Sheet: req.Sheet, DryRun: req.DryRun})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Partial() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, r, http.StatusServiceUnavailable, "diagnostics_disabled", "no reconciler configured")
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Run(r.Context()))
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Available == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", `expected {"available": true|false}`)
		return
	}
	p, err := s.sync.SetAvailability(r.Context(), chi.URLParam(r, "code"), *req.Available)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.Prune(r.Context(), queryBool(r.URL.Query().Get("dryRun")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lease.ErrLeaseHeld):
		writeError(w, r, http.StatusConflict, "sync_in_progress", err.Error())
	case errors.Is(err, catalog.ErrSheetNotFound):
		writeError(w, r, http.StatusNotFound, "sheet_not_found", err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		observability.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":     code,
		"message":   message,
		"requestId": middleware.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Serve runs handler on addr until ctx is cancelled, then drains open
// requests.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
