package lsp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genPayload(t *rapid.T) Payload {
	n := rapid.IntRange(0, 6).Draw(t, "nsessions")
	sessions := make([]SessionDescriptor, n)
	for i := range sessions {
		sessions[i] = SessionDescriptor{
			ID:      byte(rapid.IntRange(0, 255).Draw(t, "id")),
			Type:    byte(rapid.IntRange(0, 255).Draw(t, "type")),
			Version: byte(rapid.IntRange(0, 255).Draw(t, "version")),
		}
	}
	return Payload{
		Version:               SupportedVersion,
		MaxOutgoing:           byte(rapid.IntRange(0, 255).Draw(t, "maxout")),
		MaxLen:                uint16(rapid.IntRange(0, 65535).Draw(t, "maxlen")),
		RetransmissionTimeout: uint16(rapid.IntRange(0, 65535).Draw(t, "rto")),
		AckTimeout:            uint16(rapid.IntRange(0, 65535).Draw(t, "ackto")),
		MaxRetransmissions:    byte(rapid.IntRange(0, 255).Draw(t, "maxretrans")),
		MaxAck:                byte(rapid.IntRange(0, 255).Draw(t, "maxack")),
		Sessions:              sessions,
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genPayload(t)
		got, err := Decode(Encode(p))
		require.NoError(t, err)
		require.Equal(t, p, got)
	})
}

func TestPayloadRejectsBadVersion(t *testing.T) {
	p := DefaultAccessoryProposal()
	buf := Encode(p)
	buf[0] = 2
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestPayloadRejectsTrailingBytes(t *testing.T) {
	p := DefaultAccessoryProposal()
	buf := Encode(p)
	buf = append(buf, 0x01, 0x02)
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrTrailingBytes)
}
