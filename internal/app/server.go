package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"carry-engine/internal/config"
	"carry-engine/internal/engine"
	"carry-engine/internal/metrics"
	"carry-engine/internal/state"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type server struct {
	http *http.Server
	log  *zap.Logger
}

func newServer(cfg config.MetricsConfig, prom *metrics.Prometheus, eng *engine.Engine, log *zap.Logger) *server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, prom.Handler())
	mux.Handle("/state", stateHandler(eng))
	return &server{
		http: &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:  log,
	}
}

func (s *server) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = s.http.Shutdown(sctx)
	}()
	s.log.Info("metrics server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("metrics server failed", zap.Error(err))
	}
}

// stateHandler serves instrument snapshots as JSON. ?instrument=BTC narrows
// the answer to one instrument and adds its dead letters.
func stateHandler(eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		name := r.URL.Query().Get("instrument")
		if name == "" {
			out := make([]engine.Snapshot, 0, len(eng.Instruments()))
			for _, inst := range eng.Instruments() {
				if snap, ok := eng.Snapshot(inst); ok {
					out = append(out, snap)
				}
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		snap, ok := eng.Snapshot(name)
		if !ok {
			http.Error(w, `{"error":"unknown instrument"}`, http.StatusNotFound)
			return
		}
		deadLetters, err := eng.DeadLetters(r.Context(), name)
		if err != nil {
			http.Error(w, `{"error":"dead letters unavailable"}`, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			engine.Snapshot
			DeadLetters []state.DeadLetter `json:"dead_letters"`
		}{snap, deadLetters})
	})
}
