package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// RunnerStatus is what /runner/status reports.
type RunnerStatus struct {
	Status    string           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	UptimeSec int64            `json:"uptime_sec"`
	Bots      map[string]int64 `json:"bots"`
}

// StatusProvider supplies the live bot counts for the status endpoint.
type StatusProvider func(ctx context.Context) (map[string]int64, error)

func newRouter(startedAt time.Time, status StatusProvider) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/runner/status", func(w http.ResponseWriter, r *http.Request) {
		bots, err := status(r.Context())
		if err != nil {
			logger.WithError(err).Error("Failed to collect runner status")
			http.Error(w, "status unavailable", http.StatusInternalServerError)
			return
		}
		resp := RunnerStatus{
			Status:    "running",
			StartedAt: startedAt,
			UptimeSec: int64(time.Since(startedAt).Seconds()),
			Bots:      bots,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WithError(err).Error("/runner/status write error")
		}
	})

	return r
}

// StartServer serves the operational endpoints until the context is
// cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port string, status StatusProvider) {
	r := newRouter(time.Now(), status)

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
