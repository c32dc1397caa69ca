package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff-worker/internal/escalate"
	"github.com/sells-group/takeoff-worker/internal/store"
	"github.com/sells-group/takeoff-worker/internal/vectors"
)

var servePort int

// runEscalator creates follow-up jobs for finished runs.
type runEscalator interface {
	EscalateRun(ctx context.Context, runID string) (*escalate.Result, error)
}

// jobRequeuer returns jobs to the queue.
type jobRequeuer interface {
	RequeueJob(ctx context.Context, jobID string) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API: escalation, requeue, and vector snapping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initWorker(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Escalate, env.Store),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(esc runEscalator, jobs jobRequeuer) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs/{runID}/escalate", func(w http.ResponseWriter, req *http.Request) {
		runID := chi.URLParam(req, "runID")
		result, err := esc.EscalateRun(req.Context(), runID)
		if err != nil {
			switch {
			case eris.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "run not found")
			case eris.Is(err, escalate.ErrRunNotFinished):
				writeError(w, http.StatusConflict, "run has not finished")
			case eris.Is(err, escalate.ErrNoCandidates):
				writeError(w, http.StatusConflict, "no eligible follow-up documents")
			default:
				zap.L().Error("escalation failed", zap.String("run_id", runID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "escalation failed")
			}
			return
		}
		writeJSON(w, http.StatusCreated, result)
	})

	r.Post("/jobs/{jobID}/requeue", func(w http.ResponseWriter, req *http.Request) {
		jobID := chi.URLParam(req, "jobID")
		if err := jobs.RequeueJob(req.Context(), jobID); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			zap.L().Error("requeue failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "requeue failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
	})

	r.Post("/vectors/snap", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Lines []vectors.Line `json:"lines"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		writeJSON(w, http.StatusOK, vectors.Process(body.Lines))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
