// Package analytics tracks connection lifecycle history for every named
// accessory link: connect/disconnect events, uptime, and per-message-type
// traffic counts on the control session, persisted as JSON.
package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iap2accessory/csm"
)

// ConnectEvent records one completed handshake-to-disconnect lifespan.
type ConnectEvent struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitempty"`
	Duration  float64   `json:"duration,omitempty"` // seconds
	Error     string    `json:"error,omitempty"`
}

// SessionAnalytics is the persisted record for one named accessory link.
type SessionAnalytics struct {
	Name           string         `json:"name"`
	CurrentConnect *ConnectEvent  `json:"currentConnect,omitempty"`
	History        []ConnectEvent `json:"history"`
	LastSeen       time.Time      `json:"lastSeen"`
	TotalConnects  int            `json:"totalConnects"`
	MessageCounts  map[string]int `json:"messageCounts"`
}

// maxHistory bounds the retained per-session connect history, mirroring
// the bounded boot history of the connection manager this is grounded on.
const maxHistory = 10

// Tracker accumulates SessionAnalytics for every named link and persists
// it to a single JSON file under dataPath.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*SessionAnalytics
	dataPath string
}

// NewTracker builds a Tracker, loading any analytics.json already present
// under dataPath. An empty dataPath disables persistence.
func NewTracker(dataPath string) *Tracker {
	t := &Tracker{
		sessions: make(map[string]*SessionAnalytics),
		dataPath: dataPath,
	}
	t.load()
	return t
}

func (t *Tracker) getOrCreate(name string) *SessionAnalytics {
	s, ok := t.sessions[name]
	if !ok {
		s = &SessionAnalytics{Name: name, History: make([]ConnectEvent, 0), MessageCounts: make(map[string]int)}
		t.sessions[name] = s
	}
	return s
}

// RecordConnect opens a new ConnectEvent for name, archiving any prior one.
func (t *Tracker) RecordConnect(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(name)
	s.LastSeen = time.Now()
	if s.CurrentConnect != nil {
		s.History = append(s.History, *s.CurrentConnect)
		if len(s.History) > maxHistory {
			s.History = s.History[1:]
		}
	}
	s.CurrentConnect = &ConnectEvent{StartTime: time.Now()}
	s.TotalConnects++
	t.save()
}

// RecordDisconnect closes the current ConnectEvent for name. err may be
// nil for an orderly shutdown.
func (t *Tracker) RecordDisconnect(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(name)
	s.LastSeen = time.Now()
	if s.CurrentConnect == nil {
		return
	}
	s.CurrentConnect.EndTime = time.Now()
	s.CurrentConnect.Duration = s.CurrentConnect.EndTime.Sub(s.CurrentConnect.StartTime).Seconds()
	if err != nil {
		s.CurrentConnect.Error = err.Error()
	}
	s.History = append(s.History, *s.CurrentConnect)
	if len(s.History) > maxHistory {
		s.History = s.History[1:]
	}
	s.CurrentConnect = nil
	t.save()
}

// RecordMessage tallies one decoded control-session message, keyed by its
// wire msg_id written as 0x%04X.
func (t *Tracker) RecordMessage(name string, msg csm.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(name)
	s.LastSeen = time.Now()
	key := messageKey(msg)
	s.MessageCounts[key]++
	t.save()
}

func messageKey(msg csm.Message) string {
	return fmt.Sprintf("0x%04X", msg.MsgID())
}

// Get returns a deep copy of name's analytics, or a fresh zero record if
// name has never been seen.
func (t *Tracker) Get(name string) *SessionAnalytics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[name]
	if !ok {
		return &SessionAnalytics{Name: name, History: make([]ConnectEvent, 0), MessageCounts: make(map[string]int)}
	}
	return s.clone()
}

// GetAll returns a deep copy of every tracked session's analytics.
func (t *Tracker) GetAll() map[string]*SessionAnalytics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*SessionAnalytics, len(t.sessions))
	for name, s := range t.sessions {
		out[name] = s.clone()
	}
	return out
}

func (s *SessionAnalytics) clone() *SessionAnalytics {
	c := *s
	if s.CurrentConnect != nil {
		ce := *s.CurrentConnect
		c.CurrentConnect = &ce
	}
	c.History = append([]ConnectEvent(nil), s.History...)
	c.MessageCounts = make(map[string]int, len(s.MessageCounts))
	for k, v := range s.MessageCounts {
		c.MessageCounts[k] = v
	}
	return &c
}

func (t *Tracker) filePath() string {
	return filepath.Join(t.dataPath, "analytics.json")
}

func (t *Tracker) save() {
	if t.dataPath == "" {
		return
	}
	data := struct {
		Sessions map[string]*SessionAnalytics `json:"sessions"`
	}{Sessions: t.sessions}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Errorf("analytics: marshal failed: %v", err)
		return
	}
	if err := os.MkdirAll(t.dataPath, 0755); err != nil {
		log.Errorf("analytics: creating data dir failed: %v", err)
		return
	}
	if err := os.WriteFile(t.filePath(), jsonData, 0644); err != nil {
		log.Errorf("analytics: save failed: %v", err)
	}
}

func (t *Tracker) load() {
	if t.dataPath == "" {
		return
	}
	jsonData, err := os.ReadFile(t.filePath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("analytics: read failed: %v", err)
		}
		return
	}
	var data struct {
		Sessions map[string]*SessionAnalytics `json:"sessions"`
	}
	if err := json.Unmarshal(jsonData, &data); err != nil {
		log.Errorf("analytics: unmarshal failed: %v", err)
		return
	}
	if data.Sessions != nil {
		t.sessions = data.Sessions
		log.Infof("analytics: loaded history for %d sessions", len(t.sessions))
	}
}
