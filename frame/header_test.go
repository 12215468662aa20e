package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHeaderRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := Header{
			Length:    uint16(rapid.IntRange(9, 65535).Draw(t, "length")),
			Control:   byte(rapid.IntRange(0, 255).Draw(t, "control")),
			Seq:       byte(rapid.IntRange(0, 255).Draw(t, "seq")),
			Ack:       byte(rapid.IntRange(0, 255).Draw(t, "ack")),
			SessionID: byte(rapid.IntRange(0, 255).Draw(t, "session")),
		}
		got, err := Decode(Encode(h))
		require.NoError(t, err)
		require.Equal(t, h, got)
	})
}

func TestHeaderBitFlipInvalidates(t *testing.T) {
	h := Header{Length: 20, Control: ACK, Seq: 5, Ack: 7, SessionID: 10}
	buf := Encode(h)
	rapid.Check(t, func(t *rapid.T) {
		bit := rapid.IntRange(0, HeaderSize*8-1).Draw(t, "bit")
		corrupt := append([]byte{}, buf...)
		corrupt[bit/8] ^= 1 << uint(bit%8)
		_, err := Decode(corrupt)
		require.Error(t, err)
	})
}

func TestChecksumSumsToZero(t *testing.T) {
	h := Header{Length: 9, Control: SYN, Seq: 1, Ack: 2, SessionID: 10}
	buf := Encode(h)
	var sum byte
	for _, b := range buf {
		sum += b
	}
	require.Zero(t, sum)
}

func TestDecodeRejectsBadStart(t *testing.T) {
	h := Header{Length: 9, Control: 0, Seq: 0, Ack: 0, SessionID: 10}
	buf := Encode(h)
	buf[0] ^= 0xFF
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrBadStart)
}

func TestDecodeTooShort(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTooShort)
}
