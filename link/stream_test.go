package link

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamReadExactlyBlocksUntilDataArrives(t *testing.T) {
	s := newStream(nil, ControlSessionID, nil)

	result := make(chan []byte, 1)
	errResult := make(chan error, 1)
	go func() {
		d, err := s.ReadExactly(context.Background(), 5)
		result <- d
		errResult <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.receivedData([]byte("hel"))
	time.Sleep(10 * time.Millisecond)
	s.receivedData([]byte("lo"))

	require.NoError(t, <-errResult)
	require.Equal(t, []byte("hello"), <-result)
}

func TestStreamReadExactlySatisfiedImmediately(t *testing.T) {
	s := newStream(nil, ControlSessionID, nil)
	s.receivedData([]byte("hello world"))

	d, err := s.ReadExactly(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), d)

	rest, err := s.ReadExactly(context.Background(), 6)
	require.NoError(t, err)
	require.Equal(t, []byte(" world"), rest)
}

func TestStreamFeedEOFFailsPendingAndFutureReads(t *testing.T) {
	s := newStream(nil, ControlSessionID, nil)

	errResult := make(chan error, 1)
	go func() {
		_, err := s.ReadExactly(context.Background(), 5)
		errResult <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.FeedEOF()

	require.ErrorIs(t, <-errResult, io.ErrUnexpectedEOF)

	_, err := s.ReadExactly(context.Background(), 1)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamFeedEOFStillServesBufferedBytes(t *testing.T) {
	s := newStream(nil, ControlSessionID, nil)
	s.receivedData([]byte("hi"))
	s.FeedEOF()

	d, err := s.ReadExactly(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), d)
}

func TestEAStreamPrefixesStreamIDOnDrain(t *testing.T) {
	c, out := newTestConnection(8)
	streamID := uint16(0x42)
	s := c.CreateEAStream(streamID)
	c.writeAllowed.Set()

	s.Write([]byte("life"))
	require.NoError(t, s.Drain(context.Background()))

	require.Positive(t, out.Len())
	require.Len(t, c.unackPackets, 1)
	require.Equal(t, []byte{0x00, 0x42, 'l', 'i', 'f', 'e'}, c.unackPackets[0].data)
}

func TestEAStreamDrainChunksToMaxLenWithPrefixOnEveryChunk(t *testing.T) {
	c, _ := newTestConnection(8)
	c.negotiated.MaxLen = 4 // 2 bytes of prefix budget, 2 bytes of payload per chunk
	streamID := uint16(0x42)
	s := c.CreateEAStream(streamID)
	c.writeAllowed.Set()

	s.Write([]byte("abcde"))
	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, c.unackPackets, 3)
	require.Equal(t, []byte{0x00, 0x42, 'a', 'b'}, c.unackPackets[0].data)
	require.Equal(t, []byte{0x00, 0x42, 'c', 'd'}, c.unackPackets[1].data)
	require.Equal(t, []byte{0x00, 0x42, 'e'}, c.unackPackets[2].data)
}

func TestControlStreamDrainChunksToMaxLen(t *testing.T) {
	c, _ := newTestConnection(8)
	c.negotiated.MaxLen = 3
	s := c.ControlSession()
	c.writeAllowed.Set()

	s.Write([]byte("abcdefg"))
	require.NoError(t, s.Drain(context.Background()))

	require.Len(t, c.unackPackets, 3)
	require.Equal(t, []byte("abc"), c.unackPackets[0].data)
	require.Equal(t, []byte("def"), c.unackPackets[1].data)
	require.Equal(t, []byte("g"), c.unackPackets[2].data)
}
