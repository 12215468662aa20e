package link

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitForState polls until c reaches want or the deadline passes, failing
// the test on timeout. The handshake below completes almost immediately
// over the in-process pipes, so a short deadline is enough.
func waitForState(t *testing.T, c *Connection, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection never reached state %s, stuck at %s", want, c.State())
}

// wirePair builds two connections whose transports are cross-connected in
// memory, one playing the accessory side and one playing the device side
// of the same link. aOut is the pipe end carrying a's outgoing bytes to
// b's receive loop; closing it simulates a's transport going away.
func wirePair(t *testing.T) (a, b *Connection, errA, errB chan error, aOut *io.PipeWriter) {
	t.Helper()
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()

	errA = make(chan error, 1)
	errB = make(chan error, 1)
	a = New(w1, r2, 4, func(err error) { errA <- err })
	b = New(w2, r1, 4, func(err error) { errB <- err })
	return a, b, errA, errB, w1
}

// mirrors the reference SmokeTest.test scenario: full marker handshake,
// LSP negotiation, a control-session exchange in both directions, and an
// EA stream write from one side to the other.
func TestSmokeHandshakeDataAndEAMultiplexing(t *testing.T) {
	a, b, _, _, _ := wirePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)
	b.Start(ctx)

	waitForState(t, a, StateNormal)
	waitForState(t, b, StateNormal)

	a.ControlSession().Write([]byte("ping from accessory"))
	require.NoError(t, a.ControlSession().Drain(ctx))
	got, err := b.ControlSession().ReadExactly(ctx, len("ping from accessory"))
	require.NoError(t, err)
	require.Equal(t, "ping from accessory", string(got))

	b.ControlSession().Write([]byte("pong from device"))
	require.NoError(t, b.ControlSession().Drain(ctx))
	got, err = a.ControlSession().ReadExactly(ctx, len("pong from device"))
	require.NoError(t, err)
	require.Equal(t, "pong from device", string(got))

	const streamID = uint16(7)
	aEA := a.CreateEAStream(streamID)
	bEA := b.CreateEAStream(streamID)

	aEA.Write([]byte("ea-payload"))
	require.NoError(t, aEA.Drain(ctx))
	got, err = bEA.ReadExactly(ctx, len("ea-payload"))
	require.NoError(t, err)
	require.Equal(t, "ea-payload", string(got))
}

// mirrors the reference SmokeTest.test EOF behavior: when one side's
// transport closes cleanly, the other bails out without reporting an
// error, and its session streams observe EOF.
func TestSmokeEOFPropagationIsSilent(t *testing.T) {
	a, b, errA, errB, aOut := wirePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Start(ctx)
	b.Start(ctx)
	waitForState(t, a, StateNormal)
	waitForState(t, b, StateNormal)

	require.NoError(t, aOut.Close())

	waitForState(t, b, StateDead)
	select {
	case err := <-errB:
		t.Fatalf("onError should not fire on a clean EOF, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	require.Empty(t, errA)

	_, err := b.ControlSession().ReadExactly(context.Background(), 1)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// mirrors the reference SmokeTest.test_bailout scenario: an arbitrary
// transport failure (not a clean EOF) is reported via onError.
func TestSmokeArbitraryTransportErrorReported(t *testing.T) {
	boom := errors.New("simulated transport failure")
	c := New(&discardWriter{}, &failingReader{err: boom}, 4, nil)
	errCh := make(chan error, 1)
	c.onError = func(err error) { errCh <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("onError was never invoked for a non-EOF transport error")
	}
	require.Equal(t, StateDead, c.State())
}

type discardWriter struct{}

func (*discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// failingReader returns err on every read, simulating a broken transport
// rather than a clean close.
type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }
