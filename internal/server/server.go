// Package server provides the HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/opml"
)

// UserHeader carries the authenticated user's ID from the upstream proxy.
const UserHeader = "X-User-ID"

// Defaults applied when Options leaves a field empty.
const (
	DefaultMaxUploadBytes = 10 << 20
	MaxCategoryNameLength = 50
	shutdownTimeout       = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
}

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	queue     jobs.Queue
	scheduler *jobs.Scheduler
	importer  *opml.Importer
	opts      Options
	log       *zap.Logger
	router    chi.Router
	now       func() time.Time
}

// New creates a new server.
func New(store database.Store, queue jobs.Queue, scheduler *jobs.Scheduler, importer *opml.Importer, opts Options, log *zap.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		store:     store,
		queue:     queue,
		scheduler: scheduler,
		importer:  importer,
		opts:      opts,
		log:       log.Named("http"),
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/dashboard", s.handleDashboard)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleAddFeed)
		r.Route("/feeds/{feedID}", func(r chi.Router) {
			r.Delete("/", s.handleUnsubscribe)
			r.Get("/entries", s.handleListFeedEntries)
			r.Put("/category", s.handleSetFeedCategory)
			r.Post("/refresh", s.handleRefreshFeed)
			r.Post("/mark-read", s.handleMarkFeedRead)
		})

		r.Get("/entries", s.handleListEntries)
		r.Post("/entries/mark-all-read", s.handleMarkAllRead)
		r.Post("/entries/refresh-all", s.handleRefreshAll)
		r.Route("/entries/{entryID}", func(r chi.Router) {
			r.Post("/read", s.handleSetRead(true))
			r.Delete("/read", s.handleSetRead(false))
			r.Post("/save", s.handleSave)
			r.Delete("/save", s.handleUnsave)
		})

		r.Get("/categories", s.handleListCategories)
		r.Post("/categories", s.handleCreateCategory)
		r.Put("/categories/{categoryID}", s.handleRenameCategory)
		r.Delete("/categories/{categoryID}", s.handleDeleteCategory)

		r.Get("/preferences/{key}", s.handleGetPreference)
		r.Post("/preferences", s.handleSetPreference)

		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Middleware ---

type contextKey struct{}

var userKey = contextKey{}

// requireUser rejects requests without a valid user ID header.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "Missing or invalid "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, id)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey).(int64)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// internalError logs err and answers 500 without leaking details.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Int64("user_id", userID(r)),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
