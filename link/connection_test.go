package link

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"iap2accessory/lsp"
)

func newTestConnection(maxOutgoing byte) (*Connection, *bytes.Buffer) {
	var out bytes.Buffer
	c := New(&out, &bytes.Buffer{}, maxOutgoing, nil)
	c.state = StateNormal
	c.negotiated = lsp.Payload{
		MaxOutgoing: maxOutgoing,
		MaxLen:      4096,
		// Long enough that the delayed-ack and retransmission timers
		// never fire during a test's lifetime unless exercised directly.
		RetransmissionTimeout: 60_000,
		AckTimeout:            60_000,
		MaxRetransmissions:    3,
		MaxAck:                3,
	}
	return c, &out
}

func byteRef(v byte) *byte { return &v }

// mirrors the reference test_normal scenario: an in-order receive
// followed by a send, repeated, tracking window accounting.
func TestHandleDataThenSendPacket(t *testing.T) {
	c, _ := newTestConnection(3)
	c.sentPSN = 199
	c.lastAckedPSN = byteRef(99)
	c.lastReceivedInSequencePSN = 99

	p1 := &packet{psn: 100, data: []byte("a"), sessionID: ControlSessionID}
	c.handleData(p1)
	require.Equal(t, byte(100), c.lastReceivedInSequencePSN)
	require.Equal(t, []byte("a"), c.controlSession.inBuffer)

	p2 := &packet{data: []byte("b"), sessionID: ControlSessionID}
	c.sendPacket(p2)
	require.Equal(t, byte(200), p2.psn)
	require.Len(t, c.unackPackets, 1)

	p3 := &packet{psn: 101, data: []byte("c"), sessionID: ControlSessionID}
	c.handleData(p3)
	require.Equal(t, byte(101), c.lastReceivedInSequencePSN)

	c.handleAck(200)
	require.Empty(t, c.unackPackets)
}

// mirrors the reference test_buffer scenario and spec scenario 4: with a
// window of 2 and one packet already in flight, a third send is buffered
// until the second is acknowledged.
func TestWindowBuffering(t *testing.T) {
	c, out := newTestConnection(2)
	c.sentPSN = 199
	c.lastSentAckedPSN = byteRef(198)

	p1 := &packet{data: []byte("1")}
	c.sendPacket(p1)
	require.Equal(t, byte(200), p1.psn)

	out.Reset()
	p2 := &packet{data: []byte("2")}
	c.sendPacket(p2)
	require.Equal(t, byte(201), p2.psn)
	require.Positive(t, out.Len())

	out.Reset()
	p3 := &packet{data: []byte("3")}
	c.sendPacket(p3)
	require.Equal(t, byte(0), p3.psn, "third send must be queued, not transmitted")
	require.Zero(t, out.Len())
	require.Len(t, c.queuedPackets, 1)

	c.handleAck(201)
	require.Equal(t, byte(202), p3.psn)
	require.Empty(t, c.queuedPackets)
}

// mirrors the reference test_cumulative scenario: a second in-order
// arrival forces an immediate ack instead of arming the delayed timer.
func TestCumulativeThresholdForcesAck(t *testing.T) {
	c, out := newTestConnection(2)
	c.lastAckedPSN = byteRef(99)
	c.lastReceivedInSequencePSN = 99

	c.handleData(&packet{psn: 100, data: []byte("x")})
	out.Reset()

	c.handleData(&packet{psn: 101, data: []byte("y")})
	require.Equal(t, byte(101), c.lastReceivedInSequencePSN)
	require.Positive(t, out.Len(), "forced ack should have been written")
}

// mirrors the reference test_out_of_order scenario: packets arriving out
// of sequence are buffered and drained once the gap closes.
func TestOutOfOrderDelivery(t *testing.T) {
	c, _ := newTestConnection(10)
	c.lastAckedPSN = byteRef(102)
	c.lastReceivedInSequencePSN = 102

	c.handleData(&packet{psn: 103, data: []byte("a")})
	require.Equal(t, byte(103), c.lastReceivedInSequencePSN)

	c.handleData(&packet{psn: 107, data: []byte("e")})
	c.handleData(&packet{psn: 105, data: []byte("c")})
	require.Equal(t, byte(103), c.lastReceivedInSequencePSN, "gap not yet closed")

	c.handleData(&packet{psn: 104, data: []byte("b")})
	require.Equal(t, byte(105), c.lastReceivedInSequencePSN)
	require.Equal(t, []byte("abc"), c.controlSession.inBuffer)

	remaining := make([]byte, len(c.receivedOutOfSequence))
	for i, p := range c.receivedOutOfSequence {
		remaining[i] = p.psn
	}
	require.Equal(t, []byte{107}, remaining)
}

// mirrors the reference test_out_of_order_overflow scenario: sequence
// numbers wrap through 255 -> 0 during reorder delivery.
func TestOutOfOrderWrapAround(t *testing.T) {
	c, _ := newTestConnection(3)
	c.lastAckedPSN = byteRef(253)
	c.lastReceivedInSequencePSN = 253

	c.handleData(&packet{psn: 254, data: []byte("a")})
	require.Equal(t, byte(254), c.lastReceivedInSequencePSN)

	c.handleData(&packet{psn: 0, data: []byte("c")})
	c.handleData(&packet{psn: 255, data: []byte("b")})

	require.Equal(t, byte(0), c.lastReceivedInSequencePSN)
	require.Equal(t, []byte("abc"), c.controlSession.inBuffer)
}

// mirrors the reference test_eak scenario: a gap at or beyond the
// outgoing window triggers an EAK listing the missing sequence numbers.
func TestEAKOnLargeGap(t *testing.T) {
	c, out := newTestConnection(2)
	c.lastReceivedInSequencePSN = 102
	c.lastAckedPSN = byteRef(102)

	c.handleData(&packet{psn: 103, data: []byte("a")})
	out.Reset()

	c.handleData(&packet{psn: 105, data: []byte("c")})
	require.Equal(t, byte(103), c.lastReceivedInSequencePSN)
	require.Positive(t, out.Len(), "EAK frame should have been written")
}

// mirrors the reference test_eak_overflow scenario.
func TestEAKOnLargeGapWrapAround(t *testing.T) {
	c, out := newTestConnection(2)
	c.lastReceivedInSequencePSN = 254
	c.lastAckedPSN = byteRef(254)

	c.handleData(&packet{psn: 255, data: []byte("a")})
	out.Reset()

	c.handleData(&packet{psn: 1, data: []byte("c")})
	require.Equal(t, byte(255), c.lastReceivedInSequencePSN)
	require.Positive(t, out.Len())
}

func TestBailoutIsIdempotentAndClosesStreams(t *testing.T) {
	c, _ := newTestConnection(3)
	calls := 0
	c.onError = func(error) { calls++ }

	c.bailout(errPeerReset)
	c.bailout(errPeerReset)

	require.Equal(t, StateDead, c.state)
	require.Equal(t, 1, calls)

	_, err := c.controlSession.ReadExactly(context.Background(), 1)
	require.Error(t, err)
}

func TestRetransmissionExhaustedBailsOut(t *testing.T) {
	c, _ := newTestConnection(3)
	c.negotiated.MaxRetransmissions = 2
	c.negotiated.RetransmissionTimeout = 1

	p := &packet{data: []byte("x")}
	c.sendPacket(p)

	var gotErr error
	c.onError = func(err error) { gotErr = err }

	c.onExpectAckTimer()
	require.Equal(t, 1, p.retryCount)
	require.NotEqual(t, StateDead, c.State())

	c.onExpectAckTimer()
	require.Equal(t, StateDead, c.State())
	require.ErrorIs(t, gotErr, errRetransmissionExhausted)
}

func TestSendPacketQueuesOutsideNormalState(t *testing.T) {
	c, _ := newTestConnection(3)
	c.state = StateNegotiate

	c.sendPacket(&packet{data: []byte("queued")})

	require.Len(t, c.queuedPackets, 1)
	require.Empty(t, c.unackPackets)
}
