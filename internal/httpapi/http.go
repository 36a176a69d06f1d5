// Package httpapi serves read-only diagnostics for the participants running
// in this process.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"ringclock/internal/clock"
	"ringclock/internal/frontier"
	"ringclock/internal/node"
	"ringclock/internal/storage"
)

// API exposes participant snapshots, health and metrics.
type API struct {
	snapshots func() []node.Snapshot
	gatherer  prometheus.Gatherer
}

// New creates the API. snapshots is called on every request; gatherer may
// be nil, in which case /metrics is not mounted.
func New(snapshots func() []node.Snapshot, gatherer prometheus.Gatherer) *API {
	return &API{snapshots: snapshots, gatherer: gatherer}
}

// Router returns the HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/status", a.handleStatus)
	r.Get("/status/{rank}", a.handleParticipant)
	r.Get("/healthz", a.handleHealth)
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

type statusResponse struct {
	Participants []node.Snapshot `json:"participants"`
	Frontier     []int           `json:"frontier"`
	Behind       map[int]int     `json:"behind,omitempty"`
	Concurrent   bool            `json:"concurrent"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	snaps := a.snapshots()

	// Compare the clocks each participant last forwarded.
	obs := make([]frontier.Observation, 0, len(snaps))
	for _, s := range snaps {
		for _, st := range s.Stages {
			if st.Stage == storage.StageEgress {
				obs = append(obs, frontier.Observation{Rank: s.Rank, Clock: clock.FromCounters(st.Clock)})
			}
		}
	}
	f := frontier.Compute(obs)

	writeJSON(w, http.StatusOK, statusResponse{
		Participants: snaps,
		Frontier:     f.Frontier,
		Behind:       f.Behind,
		Concurrent:   f.Concurrent,
	})
}

func (a *API) handleParticipant(w http.ResponseWriter, r *http.Request) {
	rank, err := strconv.Atoi(chi.URLParam(r, "rank"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "rank must be an integer")
		return
	}
	for _, s := range a.snapshots() {
		if s.Rank == rank {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "participant P"+strconv.Itoa(rank)+" is not running in this process")
}

type healthResponse struct {
	Status string         `json:"status"`
	Failed map[int]string `json:"failed,omitempty"`
}

// handleHealth reports 503 once any local participant has failed.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, s := range a.snapshots() {
		if s.State == node.StateFailed {
			if resp.Failed == nil {
				resp.Failed = make(map[int]string)
			}
			resp.Failed[s.Rank] = s.Error
		}
	}
	if len(resp.Failed) > 0 {
		resp.Status = "failed"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Serve serves the API on lis until ctx is done.
func (a *API) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Diagnostics listening on http://%s", lis.Addr())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
