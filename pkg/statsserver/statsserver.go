// Package statsserver exposes a small HTTP admin surface, a health
// check plus periodic and queryable stats, on the cadence configured
// by udpmulticastloginterval.
package statsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/etherlabsio/healthcheck"
	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/mux"

	logpkg "github.com/blockstream/satellite-relay/pkg/log"
)

var log = logpkg.New("statsserver")

// Provider supplies a point-in-time snapshot of the relay's internal
// counters (partial-block registry size, interleaver window
// occupancy, txn-relay throughput, peer table size, ...).
type Provider interface {
	Snapshot() map[string]interface{}
}

// Server is the stats/health HTTP surface.
type Server struct {
	provider    Provider
	logInterval time.Duration

	httpServer *http.Server
	stop       chan struct{}
}

// New builds a Server bound to addr. A logInterval <= 0 disables the
// periodic log line; the /stats endpoint remains available regardless.
func New(addr string, provider Provider, logInterval time.Duration) *Server {
	s := &Server{provider: provider, logInterval: logInterval, stop: make(chan struct{})}
	s.httpServer = &http.Server{Addr: addr, Handler: s.routes()}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/healthcheck", healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker(
			"status", healthcheck.CheckerFunc(
				func(ctx context.Context) error {
					return nil
				},
			),
		),
	))
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Snapshot()); err != nil {
		log.WithError(err).Warn("failed to encode stats response")
	}
}

// Run serves the HTTP surface with graceful restart/shutdown support
// and logs a stats snapshot every logInterval, blocking until the
// process receives a shutdown signal gracehttp understands (or Stop is
// called and the server is closed out-of-band).
func (s *Server) Run() error {
	go s.logLoop()
	return gracehttp.Serve(s.httpServer)
}

func (s *Server) logLoop() {
	if s.logInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			log.WithField("stats", s.provider.Snapshot()).Info("periodic stats")
		}
	}
}

// Stop ends the periodic log loop. It does not close the HTTP server;
// gracehttp owns that lifecycle once Run is serving.
func (s *Server) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}
