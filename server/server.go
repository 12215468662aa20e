// Package server exposes a JSON-only diagnostic and control HTTP API
// over the running accessory sessions: status, analytics, trace-file
// retrieval, and a live event stream of decoded control-session traffic.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"iap2accessory/analytics"
	"iap2accessory/session"
	"iap2accessory/tracelog"
)

// Server serves the diagnostic API for a running daemon instance.
type Server struct {
	port       int
	version    string
	sessions   *session.Manager
	analytics  *analytics.Tracker
	traceLog   *tracelog.Writer
	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server wired to the daemon's live components.
func New(port int, sessions *session.Manager, analyticsTracker *analytics.Tracker, traceLog *tracelog.Writer, version string) *Server {
	s := &Server{
		port:      port,
		version:   version,
		sessions:  sessions,
		analytics: analyticsTracker,
		traceLog:  traceLog,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{name}/status", s.handleSessionStatus).Methods("GET")
	api.HandleFunc("/sessions/{name}/stream", s.handleStream).Methods("GET")
	api.HandleFunc("/sessions/{name}/analytics", s.handleSessionAnalytics).Methods("GET")
	api.HandleFunc("/analytics", s.handleAllAnalytics).Methods("GET")
	api.HandleFunc("/sessions/{name}/trace", s.handleListTrace).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run serves the API until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("server: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("server: listening on port %d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
