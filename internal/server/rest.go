package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goevery/crawlcast/internal/broadcaster"
	"github.com/goevery/crawlcast/internal/ierr"
	"github.com/goevery/crawlcast/internal/registry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Scheduler interface {
	RunTick(ctx context.Context) broadcaster.TickReport
	Latest() (broadcaster.Message, bool)
	State() broadcaster.State
}

type TickResponse struct {
	Seq       uint64      `json:"seq,omitempty"`
	Delivered int         `json:"delivered"`
	Failed    []string    `json:"failed,omitempty"`
	Skipped   bool        `json:"skipped"`
	Error     *ierr.Error `json:"error,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	State       string `json:"state"`
}

type RESTServer struct {
	logger *zap.Logger

	scheduler Scheduler
	registry  registry.Registry
}

func NewRESTServer(
	logger *zap.Logger,
	scheduler Scheduler,
	registry registry.Registry,
) *RESTServer {
	return &RESTServer{
		logger,
		scheduler,
		registry,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/latest", s.handleLatest).Methods("GET", "OPTIONS")
	router.HandleFunc("/tick", s.handleTick).Methods("POST", "OPTIONS")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *RESTServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	message, ok := s.scheduler.Latest()
	if !ok {
		s.writeJSON(w, http.StatusNotFound,
			ierr.New(ierr.ErrorCodeNotFound, errors.New("no payload has been broadcast yet")))

		return
	}

	s.writeJSON(w, http.StatusOK, message)
}

func (s *RESTServer) handleTick(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	// The tick must finish even if the caller goes away.
	report := s.scheduler.RunTick(context.WithoutCancel(r.Context()))

	response := TickResponse{
		Seq:       report.Seq,
		Delivered: report.Delivered,
		Skipped:   report.Skipped,
	}

	for _, failure := range report.Failed {
		response.Failed = append(response.Failed, failure.ConnectionId)
	}

	status := http.StatusOK
	if report.Err != nil {
		err := ierr.New(ierr.ErrorCodeUnavailable, report.Err)
		response.Error = &err
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, response)
}

func (s *RESTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r) {
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: s.registry.Len(),
		State:       s.scheduler.State().String(),
	})
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// allowCORS sets the CORS headers and reports whether the request was a preflight
// that needs no further handling.
func allowCORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	return r.Method == http.MethodOptions
}
