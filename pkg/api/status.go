package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ewoutp/kiruna/pkg/metrics"
	"github.com/ewoutp/kiruna/pkg/supervisor"
)

// StatusServer exposes the daemon's state over HTTP: a tiny JSON document
// on / and Prometheus metrics on /metrics.
type StatusServer struct {
	sup     *supervisor.Supervisor
	version string
	mux     *http.ServeMux
}

// NewStatusServer creates the status endpoint for a supervisor.
func NewStatusServer(sup *supervisor.Supervisor, version string) *StatusServer {
	mux := http.NewServeMux()
	s := &StatusServer{
		sup:     sup,
		version: version,
		mux:     mux,
	}

	mux.HandleFunc("/", s.statusHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the server's routing handler.
func (s *StatusServer) Handler() http.Handler {
	return s.mux
}

// Start serves until the listener fails.
func (s *StatusServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// StatusResponse is the / payload.
type StatusResponse struct {
	OK      bool   `json:"ok"`
	Up      bool   `json:"up"`
	State   string `json:"state"`
	Version string `json:"version"`
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StatusResponse{
		OK:      true,
		Up:      s.sup.Up(),
		State:   string(s.sup.State()),
		Version: s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
