// Package web provides an HTTP status server for the soil-pump daemon.
package web

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/sweeney/soil-pump/internal/status"
)

// Server serves the status page, its JSON form, a health probe and metrics.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker. A nil
// metrics handler leaves /metrics unregistered.
func New(addr string, tracker *status.Tracker, metrics http.Handler) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/healthz", s.handleHealth)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleHealth answers 200 once the loop has ticked and holds a broker
// session, 503 otherwise. The body names the missing piece.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	switch {
	case !snap.Ready:
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "starting\n")
	case !snap.LinkConnected:
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "wifi down\n")
	case !snap.MQTTConnected:
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "mqtt down\n")
	default:
		io.WriteString(w, "ok\n")
	}
}
