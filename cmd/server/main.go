package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/engine"
	"github.com/evolutive/statusflow/internal/config"
	"github.com/evolutive/statusflow/internal/logger"
	"github.com/evolutive/statusflow/orders"
	"github.com/evolutive/statusflow/rules"

	_ "github.com/lib/pq"
)

// Server exposes the audit log and run trigger over HTTP. It works
// against the store interfaces so handlers can be tested without a
// database.
type Server struct {
	db         *sql.DB
	ruleStore  rules.Store
	auditStore audit.Store
	cleaner    *audit.Cleaner
	processor  *engine.Processor
	router     *chi.Mux
}

// NewServer wires a Server from already-constructed components. db may
// be nil; the health check then skips the database ping.
func NewServer(db *sql.DB, ruleStore rules.Store, auditStore audit.Store, cleaner *audit.Cleaner, processor *engine.Processor) *Server {
	s := &Server{
		db:         db,
		ruleStore:  ruleStore,
		auditStore: auditStore,
		cleaner:    cleaner,
		processor:  processor,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/process", s.handleProcess)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Get("/{ruleId}", s.handleGetRule)
	})

	r.Route("/api/v1/logs", func(r chi.Router) {
		r.Get("/", s.handleQueryLogs)
		r.Delete("/", s.handleDeleteAllLogs)
		r.Post("/cleanup", s.handleCleanupLogs)
		r.Get("/{logId}", s.handleGetLog)
		r.Delete("/{logId}", s.handleDeleteLog)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"warnings": logger.TotalWarnings.Load(),
		"errors":   logger.TotalErrors.Load(),
	})
}

// Run trigger handler
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	count, err := s.processor.ProcessRules(r.Context(), engine.Params{
		ObjectType: req.ObjectType,
		DryRun:     req.DryRun,
		RuleID:     req.RuleID,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "processing failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ProcessResponse{
		ProcessedCount: count,
		DryRun:         req.DryRun,
	})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.ruleStore.GetActiveRules(r.Context(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: []RuleResponse{}}
	for _, rule := range active {
		resp.Rules = append(resp.Rules, toRuleResponse(rule))
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "ruleId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id", err)
		return
	}

	rule, err := s.ruleStore.GetByID(r.Context(), id)
	if errors.Is(err, rules.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, toRuleResponse(rule))
}

// Query logs handler
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := audit.Filters{
		Level:         audit.Level(q.Get("level")),
		SubjectType:   q.Get("subject_type"),
		MessageSearch: q.Get("search"),
	}
	if filters.Level != "" && !filters.Level.Valid() {
		respondError(w, http.StatusBadRequest, "invalid level filter", nil)
		return
	}
	if v := q.Get("subject_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid subject_id filter", err)
			return
		}
		filters.SubjectID = &id
	}
	if v := q.Get("rule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid rule_id filter", err)
			return
		}
		filters.RuleID = &id
	}

	opts := audit.QueryOptions{
		OrderBy:        q.Get("order_by"),
		OrderDirection: q.Get("order_dir"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid offset", err)
			return
		}
		opts.Offset = n
	}

	events, err := s.auditStore.Query(r.Context(), filters, opts)
	if errors.Is(err, audit.ErrInvalidQuery) {
		respondError(w, http.StatusBadRequest, "invalid query", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query logs", err)
		return
	}

	total, err := s.auditStore.Count(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count logs", err)
		return
	}

	resp := LogsListResponse{Logs: []LogResponse{}, Total: total}
	for _, e := range events {
		resp.Logs = append(resp.Logs, toLogResponse(e))
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get log handler
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "logId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid log id", err)
		return
	}

	event, err := s.auditStore.GetByID(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		respondError(w, http.StatusNotFound, "log not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get log", err)
		return
	}

	respondJSON(w, http.StatusOK, toLogResponse(event))
}

// Delete log handler
func (s *Server) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "logId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid log id", err)
		return
	}

	err = s.auditStore.DeleteByID(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		respondError(w, http.StatusNotFound, "log not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete log", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete all logs handler
func (s *Server) handleDeleteAllLogs(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.auditStore.DeleteAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete logs", err)
		return
	}

	respondJSON(w, http.StatusOK, DeletedResponse{DeletedCount: deleted})
}

// Retention cleanup handler
func (s *Server) handleCleanupLogs(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	deleted, err := s.cleaner.CleanOldLogs(r.Context(), req.Days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cleanup failed", err)
		return
	}

	respondJSON(w, http.StatusOK, DeletedResponse{DeletedCount: deleted})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLevelFromString(cfg.LogLevel, logger.LevelInfo)

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	auditStore := audit.NewPostgresStore(db, cfg.AuditQueryMaxLimit)
	recorder := audit.NewRecorder(auditStore, cfg.AuditDBLogging)

	predicates, err := engine.NewPredicates()
	if err != nil {
		log.Fatalf("Failed to create predicate engine: %v", err)
	}

	orderStore := orders.NewPostgresStore(db)
	ruleStore := rules.NewPostgresStore(db)
	selector := engine.NewSelector(orderStore, predicates)
	applier := engine.NewApplier(orderStore, recorder)
	processor := engine.NewProcessor(ruleStore, selector, applier, recorder)
	cleaner := audit.NewCleaner(auditStore, cfg.RetentionDays())

	server := NewServer(db, ruleStore, auditStore, cleaner, processor)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
