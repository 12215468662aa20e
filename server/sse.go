package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"iap2accessory/csm"
)

// streamEvent is one Server-Sent Event payload: a decoded control-session
// message plus the direction it was observed in.
type streamEvent struct {
	Direction string      `json:"direction"`
	MsgID     string      `json:"msgId"`
	Message   csm.Message `json:"message"`
}

// handleStream streams every CSM message decoded off a named session's
// control stream as it happens, one JSON object per event. There is no
// catchup buffer: a client that connects mid-session only sees traffic
// from the moment it subscribes, matching Subscribe's live-only contract.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.sessions.GetSession(name) == nil {
		writeError(w, http.StatusNotFound, "unknown session: "+name)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.sessions.Subscribe(name)
	defer s.sessions.Unsubscribe(name, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(streamEvent{
				Direction: "rx",
				MsgID:     fmt.Sprintf("0x%04X", msg.MsgID()),
				Message:   msg,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
