package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/config"
	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/store"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only QA API over the cache and audit log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(st, promhttp.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	return g.Wait()
}

// buildRouter wires the QA endpoints. metrics may be nil.
func buildRouter(st store.Store, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/review", handleReview(st))
		r.Get("/audit", handleAudit(st))
		r.Get("/cache/{id}", handleCache(st))
	})

	return r
}

func handleReview(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter store.ReviewFilter
		if s := q.Get("source"); s != "" {
			src, err := model.ParseSource(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Source = src
		}
		limit, err := queryInt(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit

		recs, err := st.ListNeedsReview(r.Context(), filter)
		if err != nil {
			zap.L().Error("list needs review", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if recs == nil {
			recs = []model.CacheRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleAudit(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := audit.Filter{
			RunID:    q.Get("run"),
			EntityID: q.Get("entity"),
		}
		if s := q.Get("source"); s != "" {
			src, err := model.ParseSource(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Source = src
		}
		var err error
		if filter.Since, err = parseTimeFlag("since", q.Get("since")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if filter.Until, err = parseTimeFlag("until", q.Get("until")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}

		recs, err := st.ListAudit(r.Context(), filter)
		if err != nil {
			zap.L().Error("list audit", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list failed")
			return
		}
		if recs == nil {
			recs = []model.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleCache(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := st.GetCache(r.Context(), id)
		if err != nil {
			zap.L().Error("get cache", zap.String("entity_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
