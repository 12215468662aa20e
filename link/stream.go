package link

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
)

// Stream is one byte-oriented session carried inside a Connection: the
// fixed control session (id 10), or a multiplexed EA session (id 11,
// demuxed by a 2-byte stream id prefix on the wire). Only one ReadExactly
// call may be outstanding at a time; concurrent writers are not
// supported, matching the single-producer assumption of the underlying
// window.
type Stream struct {
	conn      *Connection
	sessionID byte
	streamID  *uint16

	mu        sync.Mutex
	outBuffer []byte
	inBuffer  []byte
	closed    bool
	waitCh    chan struct{}
	waitCount int
}

func newStream(conn *Connection, sessionID byte, streamID *uint16) *Stream {
	return &Stream{conn: conn, sessionID: sessionID, streamID: streamID}
}

// StreamID reports the EA stream identifier, or (0, false) for the
// control session.
func (s *Stream) StreamID() (uint16, bool) {
	if s.streamID == nil {
		return 0, false
	}
	return *s.streamID, true
}

// Write appends data to the outgoing buffer. It does not block; call
// Drain to flush it onto the wire.
func (s *Stream) Write(data []byte) {
	s.mu.Lock()
	s.outBuffer = append(s.outBuffer, data...)
	s.mu.Unlock()
}

// Drain flushes the buffered write as one or more link-layer data
// packets, blocking until the connection has window room to send each.
// It never produces a packet larger than the negotiated max_len; an EA
// stream's 2-byte stream id prefix is re-emitted on every chunk, since
// the receiver demuxes it per packet, not per logical write.
func (s *Stream) Drain(ctx context.Context) error {
	s.mu.Lock()
	if len(s.outBuffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	out := s.outBuffer
	s.outBuffer = nil
	s.mu.Unlock()

	prefixLen := 0
	if s.streamID != nil {
		prefixLen = 2
	}
	chunkCap := s.conn.maxPayloadLen() - prefixLen
	if chunkCap <= 0 {
		chunkCap = len(out)
		if chunkCap == 0 {
			chunkCap = 1
		}
	}

	for len(out) > 0 {
		n := chunkCap
		if n > len(out) {
			n = len(out)
		}
		chunk := out[:n]
		out = out[n:]

		var data []byte
		if s.streamID != nil {
			data = binary.BigEndian.AppendUint16(nil, *s.streamID)
		}
		data = append(data, chunk...)

		if err := s.conn.waitWriteAllowed(ctx); err != nil {
			return err
		}
		s.conn.sendPacket(&packet{data: data, sessionID: s.sessionID})
	}
	return nil
}

func (s *Stream) receivedData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inBuffer = append(s.inBuffer, data...)
	if s.waitCh != nil && s.waitCount <= len(s.inBuffer) {
		close(s.waitCh)
		s.waitCh = nil
	}
}

// ReadExactly blocks until n bytes are available, the stream reaches
// EOF, or ctx is done.
func (s *Stream) ReadExactly(ctx context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	if len(s.inBuffer) < n {
		if s.closed {
			s.mu.Unlock()
			return nil, io.ErrUnexpectedEOF
		}
		ch := make(chan struct{})
		s.waitCh = ch
		s.waitCount = n
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		s.mu.Lock()
		if len(s.inBuffer) < n {
			s.mu.Unlock()
			return nil, io.ErrUnexpectedEOF
		}
	}
	d := append([]byte(nil), s.inBuffer[:n]...)
	s.inBuffer = s.inBuffer[n:]
	s.mu.Unlock()
	return d, nil
}

// Close is an alias for FeedEOF, satisfying io.Closer.
func (s *Stream) Close() error {
	s.FeedEOF()
	return nil
}

// FeedEOF marks the stream closed; any outstanding or future ReadExactly
// fails with io.ErrUnexpectedEOF once the buffered bytes are exhausted.
func (s *Stream) FeedEOF() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.waitCh != nil {
		close(s.waitCh)
		s.waitCh = nil
	}
}
