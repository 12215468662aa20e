package link

import (
	"context"
	"errors"
	"io"

	"iap2accessory/frame"
	"iap2accessory/lsp"
)

// errPeerReset is the bailout reason when the peer sends a frame with
// the RST control bit set.
var errPeerReset = errors.New("link: device sent reset")

// bailoutFromReadErr reports read failures per the engine's EOF
// convention: a clean EOF bails out silently (no on_error callback),
// while any other transport error is reported as the bailout reason.
func (c *Connection) bailoutFromReadErr(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		c.bailout(nil)
		return
	}
	c.bailout(err)
}

func (c *Connection) receiveLoop(ctx context.Context) {
	buf := make([]byte, len(marker))
	if _, err := io.ReadFull(c.input, buf); err != nil {
		c.bailoutFromReadErr(err)
		return
	}
	for i, b := range buf {
		if b != marker[i] {
			c.bailout(ErrNotSupported)
			return
		}
	}

	c.startNegotiate(ctx)

	header := make([]byte, frame.HeaderSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(c.input, header); err != nil {
			c.bailoutFromReadErr(err)
			return
		}
		for !(header[0] == 0xFF && header[1] == 0x5A) {
			copy(header, header[1:])
			if _, err := io.ReadFull(c.input, header[len(header)-1:]); err != nil {
				c.bailoutFromReadErr(err)
				return
			}
		}

		h, err := frame.Decode(header)
		if err != nil {
			continue
		}

		var payload []byte
		if n := h.PayloadLen(); n > 0 {
			withChecksum := make([]byte, n+1)
			if _, err := io.ReadFull(c.input, withChecksum); err != nil {
				c.bailoutFromReadErr(err)
				return
			}
			if !frame.ValidatePayload(withChecksum) {
				continue
			}
			payload = withChecksum[:len(withChecksum)-1]
		}

		if h.Control&frame.RST != 0 {
			c.bailout(errPeerReset)
			return
		}

		c.mu.Lock()
		maxAck := int(c.negotiated.MaxAck)
		c.mu.Unlock()

		if h.Control&frame.SYN != 0 {
			if peer, err := lsp.Decode(payload); err == nil {
				c.handleSyn(peer, h.Seq)
			}
		}
		if h.Control&frame.ACK != 0 {
			c.mu.Lock()
			c.cumulativeReceived++
			c.mu.Unlock()
			c.handleAck(h.Ack)
		}
		if h.Control&frame.EAK != 0 && payload != nil {
			c.handleEAK(payload)
		}
		if h.Control&^frame.ACK == 0 && payload != nil {
			c.handleData(&packet{psn: h.Seq, data: payload, sessionID: h.SessionID})
		}

		c.mu.Lock()
		flush := c.cumulativeReceived >= maxAck
		if flush {
			c.cumulativeReceived = 0
			lastIn := c.lastReceivedInSequencePSN
			c.lastAckedPSN = &lastIn
		}
		c.mu.Unlock()
		if flush {
			c.sendAck()
		}
	}
}
