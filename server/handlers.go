package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.GetSessions())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sess := s.sessions.GetSession(name)
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session: "+name)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSessionAnalytics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.analytics.Get(name))
}

func (s *Server) handleAllAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.analytics.GetAll())
}

func (s *Server) handleListTrace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.traceLog == nil {
		writeError(w, http.StatusServiceUnavailable, "tracing not enabled")
		return
	}
	names, err := s.traceLog.ListTraces(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	query := r.URL.Query().Get("file")
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"session": name, "files": names})
		return
	}

	if filepath.Base(query) != query || filepath.Ext(query) != ".jsonl" {
		writeError(w, http.StatusBadRequest, "invalid trace filename")
		return
	}
	found := false
	for _, n := range names {
		if n == query {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown trace file: "+query)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.traceLog.BasePath(), name, query))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Write(data)
}
