package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iap2accessory/frame"
	"iap2accessory/lsp"
)

// ErrNotSupported is reported to onError when the first six bytes read
// from the peer are not the accessory protocol marker. A transport EOF
// before six bytes arrive bails out silently instead.
var ErrNotSupported = errors.New("link: accessory protocol marker not observed")

// packet is one outgoing, possibly-unacknowledged, link-layer payload.
type packet struct {
	psn        byte
	data       []byte
	sessionID  byte
	retryCount int
	timeout    time.Time
}

// Connection runs one iAP2 link: marker detection, LSP negotiation, and
// the sliding-window send/receive engine, demultiplexing data into the
// control session and EA streams.
type Connection struct {
	output io.Writer
	input  *bufio.Reader
	log    *log.Entry
	onError func(error)

	maxOutgoingDelta int

	mu          sync.Mutex
	state       State
	ourProposal lsp.Payload
	negotiated  lsp.Payload

	sentPSN          byte
	lastSentAckedPSN *byte
	unackPackets     []*packet
	queuedPackets    []*packet

	lastReceivedInSequencePSN byte
	lastAckedPSN              *byte
	receivedOutOfSequence     []*packet
	cumulativeReceived        int

	sendAckTimer *time.Timer
	recvAckTimer *time.Timer

	writeAllowed *event

	controlSession *Stream
	eaStreams      map[uint16]*Stream

	cancel context.CancelFunc
}

const (
	detectInterval    = time.Second
	negotiateInterval = 500 * time.Millisecond

	// windowSlack pads the max_outgoing/max_ack window tests below; not
	// derived from the published protocol, kept as a conservative margin.
	windowSlack = 10
)

// New builds a Connection proposing maxOutgoing as our outgoing window
// size. onError, if non-nil, is invoked exactly once when the connection
// reaches StateDead with a non-nil reason; a clean transport EOF and
// Close reach StateDead without invoking it.
func New(output io.Writer, input io.Reader, maxOutgoing byte, onError func(error)) *Connection {
	c := &Connection{
		output:       output,
		input:        bufio.NewReader(input),
		log:          log.WithField("component", "iap2link"),
		onError:      onError,
		ourProposal:  lsp.DefaultAccessoryProposal(),
		writeAllowed: newEvent(),
		sentPSN:      99,
		eaStreams:    make(map[uint16]*Stream),
	}
	c.ourProposal.MaxOutgoing = maxOutgoing
	c.negotiated = c.ourProposal
	c.controlSession = newStream(c, ControlSessionID, nil)
	return c
}

// ControlSession returns the fixed control-session stream (id 10).
func (c *Connection) ControlSession() *Stream { return c.controlSession }

// CreateEAStream registers and returns a new multiplexed EA stream.
func (c *Connection) CreateEAStream(streamID uint16) *Stream {
	s := newStream(c, EASessionID, &streamID)
	c.mu.Lock()
	c.eaStreams[streamID] = s
	c.mu.Unlock()
	return s
}

// State reports the connection's current lifecycle phase.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins marker detection and the background receive loop. It is
// idempotent; subsequent calls are no-ops.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateDetectSupport
	c.mu.Unlock()

	go c.receiveLoop(ctx)
	go c.detectLoop(ctx)
}

func (c *Connection) detectLoop(ctx context.Context) {
	c.sendDetectMarker()
	ticker := time.NewTicker(detectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateDetectSupport {
				return
			}
			c.sendDetectMarker()
		}
	}
}

func (c *Connection) sendDetectMarker() {
	if _, err := c.output.Write(marker); err != nil {
		c.bailout(err)
	}
}

func (c *Connection) startNegotiate(ctx context.Context) {
	c.mu.Lock()
	c.state = StateNegotiate
	c.mu.Unlock()
	go c.negotiateLoop(ctx)
	c.sendNegotiate()
}

func (c *Connection) negotiateLoop(ctx context.Context) {
	ticker := time.NewTicker(negotiateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateNegotiate {
				return
			}
			c.sendNegotiate()
		}
	}
}

func (c *Connection) sendNegotiate() {
	c.mu.Lock()
	payload := lsp.Encode(c.ourProposal)
	seq := c.sentPSN
	c.mu.Unlock()
	c.writePacket(payload, seq, frame.SYN, 0)
}

// writePacket assembles and writes one link frame, piggy-backing the
// current cumulative ack.
func (c *Connection) writePacket(payload []byte, seq, control, sessionID byte) {
	c.mu.Lock()
	c.cumulativeReceived = 0
	ack := c.lastReceivedInSequencePSN
	c.mu.Unlock()

	var length uint16
	if payload != nil {
		length = uint16(len(payload)) + frame.HeaderSize + 1
	} else {
		length = frame.HeaderSize
	}
	h := frame.Header{Length: length, Control: control, Seq: seq, Ack: ack, SessionID: sessionID}
	headerBytes := frame.Encode(h)

	var out []byte
	if payload != nil {
		out = frame.EncodePayload(headerBytes, payload)
	} else {
		out = headerBytes
	}
	if _, err := c.output.Write(out); err != nil {
		c.bailout(err)
	}
}

func (c *Connection) sendAck() {
	c.mu.Lock()
	seq := c.sentPSN
	c.mu.Unlock()
	c.writePacket(nil, seq, frame.ACK, 0)
}

func (c *Connection) sendEAK(nums []byte) {
	c.mu.Lock()
	seq := c.sentPSN
	c.mu.Unlock()
	c.writePacket(nums, seq, frame.EAK, 0)
}

func (c *Connection) sendData(p *packet) {
	c.writePacket(p.data, p.psn, frame.ACK, p.sessionID)
}

// sendPacket admits p into the send window if room allows, else queues
// it until the window opens.
func (c *Connection) sendPacket(p *packet) {
	c.mu.Lock()
	if c.state != StateNormal || distance(c.sentPSN, c.lastSentAckedPSN) > int(c.negotiated.MaxOutgoing) {
		c.queuedPackets = append(c.queuedPackets, p)
		c.writeAllowed.Clear()
		c.mu.Unlock()
		return
	}

	c.sentPSN = seqAdd(c.sentPSN, 1)
	p.psn = c.sentPSN
	p.retryCount = 0
	p.timeout = time.Now().Add(time.Duration(c.negotiated.RetransmissionTimeout) * time.Millisecond)
	lastIn := c.lastReceivedInSequencePSN
	c.lastAckedPSN = &lastIn
	c.unackPackets = append(c.unackPackets, p)
	c.mu.Unlock()

	c.disarmSendAckTimer()
	c.sendData(p)
	c.rearmRecvAckTimer(p.timeout)
}

func (c *Connection) handleSyn(peer lsp.Payload, psn byte) {
	c.mu.Lock()
	if c.state != StateNegotiate {
		c.mu.Unlock()
		return
	}
	c.negotiated = peer
	c.lastReceivedInSequencePSN = psn
	c.lastAckedPSN = &psn
	c.mu.Unlock()
	c.sendAck()
}

func (c *Connection) handleAck(num byte) {
	c.mu.Lock()
	wasNegotiate := c.state == StateNegotiate
	if wasNegotiate {
		c.state = StateNormal
	}
	c.lastSentAckedPSN = &num

	// Cumulative-ack pruning: a packet stays unacknowledged only while its
	// psn lies 1..max_ack+windowSlack steps ahead of the new cumulative
	// ack; a packet whose psn equals the ack, or lies outside that window,
	// is dropped. This window test (rather than unconditionally popping the
	// queue head) avoids dropping not-yet-acked packets when acks arrive
	// out of order. The packet's own psn is the distance's reference point,
	// not the new ack — reversing the two would prune not-yet-acked
	// packets on a stale or duplicate ack instead of keeping them.
	maxAck := int(c.negotiated.MaxAck)
	kept := c.unackPackets[:0]
	for _, p := range c.unackPackets {
		psn := p.psn
		d := distance(psn, &num)
		if d == 0 || d > maxAck+windowSlack {
			continue
		}
		kept = append(kept, p)
	}
	c.unackPackets = kept
	var rearmTo *time.Time
	if len(c.unackPackets) != 0 {
		t := c.unackPackets[0].timeout
		rearmTo = &t
	}

	maxOutgoing := int(c.negotiated.MaxOutgoing)
	var toSend []*packet
	for distance(c.sentPSN, c.lastSentAckedPSN) < maxOutgoing && len(c.queuedPackets) > 0 {
		p := c.queuedPackets[0]
		c.queuedPackets = c.queuedPackets[1:]
		c.sentPSN = seqAdd(c.sentPSN, 1)
		p.psn = c.sentPSN
		p.retryCount = 0
		p.timeout = time.Now().Add(time.Duration(c.negotiated.RetransmissionTimeout) * time.Millisecond)
		c.unackPackets = append(c.unackPackets, p)
		toSend = append(toSend, p)
		t := p.timeout
		rearmTo = &t
	}
	c.mu.Unlock()

	if wasNegotiate {
		c.writeAllowed.Set()
	}
	if rearmTo != nil {
		c.rearmRecvAckTimer(*rearmTo)
	} else {
		c.disarmRecvAckTimer()
	}
	for _, p := range toSend {
		c.disarmSendAckTimer()
		c.sendData(p)
		c.writeAllowed.Set()
	}
}

func (c *Connection) onExpectAckTimer() {
	c.mu.Lock()
	if len(c.unackPackets) == 0 {
		c.mu.Unlock()
		return
	}
	sorted := append([]*packet(nil), c.unackPackets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].timeout.Before(sorted[j].timeout) })
	p := sorted[0]
	p.timeout = time.Now().Add(time.Duration(c.negotiated.RetransmissionTimeout) * time.Millisecond)
	p.retryCount++
	dead := p.retryCount >= int(c.negotiated.MaxRetransmissions)
	var rearmTo *time.Time
	if len(sorted) > 1 {
		t := sorted[1].timeout
		rearmTo = &t
	}
	c.mu.Unlock()

	c.sendData(p)
	c.disarmSendAckTimer()
	if rearmTo != nil {
		c.rearmRecvAckTimer(*rearmTo)
	}
	if dead {
		c.bailout(errRetransmissionExhausted)
	}
}

func (c *Connection) handleEAK(nums []byte) {
	if c.State() != StateNormal {
		return
	}
	set := make(map[byte]bool, len(nums))
	for _, n := range nums {
		set[n] = true
	}

	c.mu.Lock()
	var toResend []*packet
	var dead *packet
	for _, p := range c.unackPackets {
		if !set[p.psn] {
			continue
		}
		p.retryCount++
		if p.retryCount >= int(c.negotiated.MaxRetransmissions) {
			dead = p
			continue
		}
		p.timeout = time.Now().Add(time.Duration(c.negotiated.RetransmissionTimeout) * time.Millisecond)
		toResend = append(toResend, p)
	}
	c.mu.Unlock()

	for _, p := range toResend {
		c.sendData(p)
		c.disarmSendAckTimer()
		c.rearmRecvAckTimer(p.timeout)
	}
	if dead != nil {
		c.bailout(errRetransmissionExhausted)
	}
}

func (c *Connection) onSendAckTimer() {
	c.mu.Lock()
	lastIn := c.lastReceivedInSequencePSN
	c.lastAckedPSN = &lastIn
	c.mu.Unlock()
	c.sendAck()
}

// handleData processes one in-window or reorder-buffered data packet,
// draining as much in-sequence data to its session stream as possible.
func (c *Connection) handleData(p *packet) {
	c.mu.Lock()
	d := distance(p.psn, &c.lastReceivedInSequencePSN)
	if d > int(c.negotiated.MaxOutgoing)+windowSlack || d == 0 {
		c.mu.Unlock()
		c.sendAck()
		return
	}

	if d > 1 {
		c.receivedOutOfSequence = append(c.receivedOutOfSequence, p)
		needsEAK := d >= int(c.negotiated.MaxOutgoing)
		var eak []byte
		if needsEAK {
			x := c.lastReceivedInSequencePSN
			for distance(p.psn, &x) > 1 {
				x = seqAdd(x, 1)
				eak = append(eak, x)
			}
		}
		c.mu.Unlock()
		if needsEAK {
			c.disarmSendAckTimer()
			c.sendEAK(eak)
		}
		return
	}

	c.receivedOutOfSequence = append(c.receivedOutOfSequence, p)
	sort.Slice(c.receivedOutOfSequence, func(i, j int) bool {
		return distance(c.receivedOutOfSequence[i].psn, &c.lastReceivedInSequencePSN) <
			distance(c.receivedOutOfSequence[j].psn, &c.lastReceivedInSequencePSN)
	})
	var delivered []*packet
	remaining := c.receivedOutOfSequence[:0]
	for _, pp := range c.receivedOutOfSequence {
		if distance(pp.psn, &c.lastReceivedInSequencePSN) > 1 {
			remaining = append(remaining, pp)
			continue
		}
		delivered = append(delivered, pp)
		c.lastReceivedInSequencePSN = pp.psn
	}
	c.receivedOutOfSequence = append([]*packet(nil), remaining...)

	forceAck := distance(c.lastReceivedInSequencePSN, c.lastAckedPSN) >= int(c.negotiated.MaxOutgoing)-c.maxOutgoingDelta
	if forceAck {
		lastIn := c.lastReceivedInSequencePSN
		c.lastAckedPSN = &lastIn
	}
	c.mu.Unlock()

	for _, pp := range delivered {
		c.deliver(pp)
	}
	if forceAck {
		c.disarmSendAckTimer()
		c.sendAck()
	} else {
		c.rearmSendAckTimer()
	}
}

func (c *Connection) deliver(p *packet) {
	switch p.sessionID {
	case ControlSessionID:
		c.controlSession.receivedData(p.data)
	case EASessionID:
		if len(p.data) < 2 {
			return
		}
		streamID := uint16(p.data[0])<<8 | uint16(p.data[1])
		c.mu.Lock()
		s := c.eaStreams[streamID]
		c.mu.Unlock()
		if s != nil {
			s.receivedData(p.data[2:])
		}
	}
}

func (c *Connection) disarmSendAckTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendAckTimer != nil {
		c.sendAckTimer.Stop()
		c.sendAckTimer = nil
	}
}

func (c *Connection) rearmSendAckTimer() {
	c.mu.Lock()
	if c.sendAckTimer != nil {
		c.sendAckTimer.Stop()
	}
	timeout := time.Duration(c.negotiated.AckTimeout) * time.Millisecond
	c.sendAckTimer = time.AfterFunc(timeout, c.onSendAckTimer)
	c.mu.Unlock()
}

func (c *Connection) disarmRecvAckTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvAckTimer != nil {
		c.recvAckTimer.Stop()
		c.recvAckTimer = nil
	}
}

func (c *Connection) rearmRecvAckTimer(at time.Time) {
	c.mu.Lock()
	if c.recvAckTimer != nil {
		c.recvAckTimer.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	c.recvAckTimer = time.AfterFunc(d, c.onExpectAckTimer)
	c.mu.Unlock()
}

// waitWriteAllowed blocks until the connection is in StateNormal with
// send-window room, for use by Stream.Drain.
func (c *Connection) waitWriteAllowed(ctx context.Context) error {
	return c.writeAllowed.Wait(ctx)
}

// maxPayloadLen reports the negotiated max_len, the largest payload a
// single data packet may carry, for use by Stream.Drain's chunking.
func (c *Connection) maxPayloadLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.negotiated.MaxLen)
}

var errRetransmissionExhausted = errors.New("link: max retransmissions exceeded")

// bailout transitions the connection to StateDead exactly once, closing
// the transport writer (when it is an io.Closer) and every session
// stream, and invoking onError if the reason is non-nil.
func (c *Connection) bailout(reason error) {
	c.mu.Lock()
	if c.state == StateDead {
		c.mu.Unlock()
		return
	}
	c.state = StateDead
	streams := make([]*Stream, 0, len(c.eaStreams)+1)
	streams = append(streams, c.controlSession)
	for _, s := range c.eaStreams {
		streams = append(streams, s)
	}
	cancel := c.cancel
	c.mu.Unlock()

	for _, s := range streams {
		s.FeedEOF()
	}
	if cancel != nil {
		cancel()
	}
	c.disarmSendAckTimer()
	c.disarmRecvAckTimer()
	if closer, ok := c.output.(io.Closer); ok {
		closer.Close()
	}
	if reason != nil {
		c.log.WithError(reason).Warn("link connection entering DEAD state")
		if c.onError != nil {
			c.onError(reason)
		}
	}
}

// Close requests an orderly shutdown: RST is not modeled as a distinct
// wire message here since the reference accessory never originates one;
// Close simply bails the connection out without an error.
func (c *Connection) Close() error {
	c.bailout(nil)
	return nil
}
