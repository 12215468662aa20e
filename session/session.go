// Package session runs one named iAP2 accessory link end to end: it dials
// a transport, drives a link.Connection through its lifecycle, decodes
// control-session traffic into CSM messages, and reconnects with backoff
// when the transport or the peer goes away.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iap2accessory/csm"
	"iap2accessory/link"
)

// Dialer opens (or reopens) the transport a named accessory link runs
// over — a serial port, a USB endpoint pair, an RFCOMM socket. It is
// called once per connection attempt.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Session is one managed accessory link and its bookkeeping.
type Session struct {
	Name         string
	Connected    bool
	LastError    string
	LastActivity time.Time

	mu     sync.RWMutex
	conn   *link.Connection
	cancel context.CancelFunc
}

func (s *Session) snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{Name: s.Name, Connected: s.Connected, LastError: s.LastError, LastActivity: s.LastActivity}
}

// Snapshot returns a point-in-time copy of this session's status fields,
// safe to read concurrently with the goroutine driving the link.
func (s *Session) Snapshot() Session {
	return s.snapshot()
}

// Connection returns the live link.Connection, or nil if the session has
// never connected.
func (s *Session) Connection() *link.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Manager owns every named accessory link, restarting them on failure and
// fanning decoded control-session traffic out to subscribers.
type Manager struct {
	maxOutgoing byte
	traceLog    Tracer
	analytics   Analytics

	mu       sync.RWMutex
	sessions map[string]*Session

	subMu       sync.RWMutex
	subscribers map[string][]chan csm.Message
}

// Tracer records raw control-session traffic for later inspection.
// tracelog.Writer satisfies this.
type Tracer interface {
	Trace(sessionName string, direction string, msg csm.Message)
}

// Analytics observes connection lifecycle events for a named session.
// analytics.Tracker satisfies this.
type Analytics interface {
	RecordConnect(sessionName string)
	RecordDisconnect(sessionName string, err error)
	RecordMessage(sessionName string, msg csm.Message)
}

// NewManager builds a Manager proposing maxOutgoing as the accessory's
// send window on every session it starts.
func NewManager(maxOutgoing byte, traceLog Tracer, analytics Analytics) *Manager {
	m := &Manager{
		maxOutgoing: maxOutgoing,
		traceLog:    traceLog,
		analytics:   analytics,
		sessions:    make(map[string]*Session),
		subscribers: make(map[string][]chan csm.Message),
	}
	go m.healthCheck()
	return m
}

// StartSession begins managing a named link, replacing any existing
// session of the same name.
func (m *Manager) StartSession(name string, dial Dialer) {
	m.mu.Lock()
	if existing, ok := m.sessions[name]; ok && existing.cancel != nil {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{Name: name, cancel: cancel}
	m.sessions[name] = s
	m.mu.Unlock()

	go m.runSession(ctx, s, dial)
}

// StopSession tears down a named link and forgets it.
func (m *Manager) StopSession(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[name]; ok {
		if s.cancel != nil {
			s.cancel()
		}
		delete(m.sessions, name)
	}
}

// RestartSession stops and immediately restarts a named link with the
// given dialer.
func (m *Manager) RestartSession(name string, dial Dialer) {
	log.Infof("session: restarting %s", name)
	m.StopSession(name)
	m.StartSession(name, dial)
}

// GetSession returns the live Session for name, or nil if it is not
// known. Its Snapshot method gives a point-in-time copy of the status.
func (m *Manager) GetSession(name string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[name]
}

// GetSessions snapshots every managed session.
func (m *Manager) GetSessions() map[string]Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Session, len(m.sessions))
	for name, s := range m.sessions {
		out[name] = s.snapshot()
	}
	return out
}

// SendControl encodes msg and writes it to a named session's control
// stream, blocking until the link has window room to accept it.
func (m *Manager) SendControl(ctx context.Context, name string, msg csm.Message) error {
	s := m.GetSession(name)
	if s == nil {
		return fmt.Errorf("session: %s not found", name)
	}
	conn := s.Connection()
	if conn == nil || conn.State() != link.StateNormal {
		return fmt.Errorf("session: %s not connected", name)
	}
	control := conn.ControlSession()
	control.Write(csm.Encode(msg))
	if err := control.Drain(ctx); err != nil {
		return err
	}
	if m.traceLog != nil {
		m.traceLog.Trace(name, "tx", msg)
	}
	return nil
}

// Subscribe registers a channel that receives every CSM message decoded
// off the named session's control stream. The channel is buffered;
// slow subscribers drop messages rather than blocking the link.
func (m *Manager) Subscribe(name string) chan csm.Message {
	ch := make(chan csm.Message, 64)
	m.subMu.Lock()
	m.subscribers[name] = append(m.subscribers[name], ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(name string, ch chan csm.Message) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	subs := m.subscribers[name]
	for i, s := range subs {
		if s == ch {
			m.subscribers[name] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) broadcast(name string, msg csm.Message) {
	m.subMu.RLock()
	subs := m.subscribers[name]
	m.subMu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// healthCheck restarts any session whose control stream has produced
// nothing for longer than staleThreshold.
func (m *Manager) healthCheck() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	const staleThreshold = 90 * time.Second

	for range ticker.C {
		m.mu.RLock()
		var stale []*Session
		for name, s := range m.sessions {
			snap := s.snapshot()
			if !snap.Connected {
				continue
			}
			if idle := time.Since(snap.LastActivity); idle > staleThreshold {
				log.Warnf("session: %s idle for %v (threshold %v), restarting", name, idle.Round(time.Second), staleThreshold)
				stale = append(stale, s)
			}
		}
		m.mu.RUnlock()
		// Closing the link ends serve; runSession then redials.
		for _, s := range stale {
			if conn := s.Connection(); conn != nil {
				conn.Close()
			}
		}
	}
}

// runSession reconnects a session with exponential backoff, matching the
// retry shape of a physical accessory that keeps re-presenting itself
// after the device disappears.
func (m *Manager) runSession(ctx context.Context, s *Session, dial Dialer) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connectTime := time.Now()
		err := m.serve(ctx, s, dial)
		s.mu.Lock()
		s.Connected = false
		if err != nil {
			s.LastError = err.Error()
		}
		s.mu.Unlock()

		if m.analytics != nil {
			m.analytics.RecordDisconnect(s.Name, err)
		}
		if err != nil {
			log.Errorf("session: %s ended: %v", s.Name, err)
			if time.Since(connectTime) > 30*time.Second {
				backoff = time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}
}

// serve dials the transport, drives one link.Connection to StateNormal,
// and pumps its control stream until the link dies or ctx is canceled.
func (m *Manager) serve(ctx context.Context, s *Session, dial Dialer) error {
	transport, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.Name, err)
	}
	defer transport.Close()

	linkErr := make(chan error, 1)
	conn := link.New(transport, transport, m.maxOutgoing, func(err error) {
		select {
		case linkErr <- err:
		default:
		}
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.Start(connCtx)

	if !waitNormal(connCtx, conn) {
		return fmt.Errorf("session: %s never reached NORMAL", s.Name)
	}

	s.mu.Lock()
	s.Connected = true
	s.LastError = ""
	s.LastActivity = time.Now()
	s.mu.Unlock()
	if m.analytics != nil {
		m.analytics.RecordConnect(s.Name)
	}
	log.Infof("session: %s established", s.Name)

	readErr := make(chan error, 1)
	go m.pumpControlMessages(connCtx, s, conn, readErr)

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case err := <-linkErr:
		return err
	case err := <-readErr:
		conn.Close()
		return err
	}
}

// waitNormal polls for StateNormal; the link package exposes no
// notification channel for state transitions, only the synchronous
// State() getter used elsewhere in this codebase.
func waitNormal(ctx context.Context, conn *link.Connection) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch conn.State() {
		case link.StateNormal:
			return true
		case link.StateDead:
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (m *Manager) pumpControlMessages(ctx context.Context, s *Session, conn *link.Connection, errCh chan<- error) {
	control := conn.ControlSession()
	header := make([]byte, 6)
	for {
		if _, err := io.ReadFull(newStreamReader(ctx, control), header); err != nil {
			errCh <- err
			return
		}
		length := binary.BigEndian.Uint16(header[2:4])
		if length < uint16(len(header)) {
			errCh <- fmt.Errorf("session: %s: malformed CSM length %d", s.Name, length)
			return
		}
		rest := make([]byte, int(length)-len(header))
		if len(rest) > 0 {
			if _, err := io.ReadFull(newStreamReader(ctx, control), rest); err != nil {
				errCh <- err
				return
			}
		}

		full := append(header, rest...)
		msg, err := csm.DecodeMessage(full)
		if err != nil {
			log.Warnf("session: %s: dropping malformed CSM message: %v", s.Name, err)
			continue
		}
		if msg == nil {
			continue // unknown msg_id: forward-compatible, ignore
		}

		s.mu.Lock()
		s.LastActivity = time.Now()
		s.mu.Unlock()

		if m.traceLog != nil {
			m.traceLog.Trace(s.Name, "rx", msg)
		}
		if m.analytics != nil {
			m.analytics.RecordMessage(s.Name, msg)
		}
		m.broadcast(s.Name, msg)
	}
}

// streamReader adapts link.Stream's context-aware ReadExactly to io.Reader
// so io.ReadFull can drive fixed-size reads off it.
type streamReader struct {
	ctx    context.Context
	stream *link.Stream
}

func newStreamReader(ctx context.Context, s *link.Stream) *streamReader {
	return &streamReader{ctx: ctx, stream: s}
}

func (r *streamReader) Read(p []byte) (int, error) {
	d, err := r.stream.ReadExactly(r.ctx, len(p))
	if err != nil {
		return 0, err
	}
	copy(p, d)
	return len(d), nil
}
