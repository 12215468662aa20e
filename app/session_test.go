package app

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iap2accessory/coprocessor"
	"iap2accessory/csm"
	"iap2accessory/csm/catalogue"
	"iap2accessory/link"
	"iap2accessory/session"
)

// pipeRWC adapts a pair of io.Pipe halves to the io.ReadWriteCloser a
// session.Dialer must return.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	p.r.Close()
	return p.w.Close()
}

func waitState(t *testing.T, c *link.Connection, want link.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection stuck at %s, want %s", c.State(), want)
}

func writeCSM(ctx context.Context, stream *link.Stream, msg csm.Message) error {
	stream.Write(csm.Encode(msg))
	return stream.Drain(ctx)
}

func readCSM(ctx context.Context, stream *link.Stream) (csm.Message, error) {
	header, err := stream.ReadExactly(ctx, 6)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[2:4])
	full := header
	if int(length) > len(header) {
		rest, err := stream.ReadExactly(ctx, int(length)-len(header))
		if err != nil {
			return nil, err
		}
		full = append(full, rest...)
	}
	return csm.DecodeMessage(full)
}

func TestSessionAuthenticatesAndIdentifies(t *testing.T) {
	accessoryR, deviceW := io.Pipe()
	deviceR, accessoryW := io.Pipe()

	manager := session.NewManager(4, nil, nil)
	dialed := make(chan struct{}, 1)
	manager.StartSession("vehicle", func(ctx context.Context) (io.ReadWriteCloser, error) {
		select {
		case dialed <- struct{}{}:
		default:
			return nil, io.EOF
		}
		return &pipeRWC{r: accessoryR, w: accessoryW}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := link.New(deviceW, deviceR, 4, nil)
	device.Start(ctx)
	waitState(t, device, link.StateNormal)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := manager.GetSession("vehicle"); s != nil && s.Snapshot().Connected {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, manager.GetSession("vehicle").Snapshot().Connected)

	identity := &catalogue.IdentificationInformation{
		Name:              "accessory",
		ModelIdentifier:   "model-1",
		Manufacturer:      "acme",
		SerialNumber:      "0001",
		FirmwareVersion:   "1.0.0",
		HardwareVersion:   "1.0",
		CurrentLanguage:   "en",
		SupportedLanguage: []string{"en"},
	}
	mock := &coprocessor.Mock{Cert: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	appSession := New(manager, "vehicle", mock, identity)

	runErr := make(chan error, 1)
	go func() { runErr <- appSession.Run(ctx) }()

	deviceStream := device.ControlSession()

	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.RequestAuthenticationCertificate{}))
	msg, err := readCSM(ctx, deviceStream)
	require.NoError(t, err)
	certMsg, ok := msg.(*catalogue.AuthenticationCertificate)
	require.True(t, ok)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, certMsg.Certificate)

	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.RequestAuthenticationChallengeResponse{Challenge: []byte("challenge")}))
	msg, err = readCSM(ctx, deviceStream)
	require.NoError(t, err)
	respMsg, ok := msg.(*catalogue.AuthenticationResponse)
	require.True(t, ok)
	require.Equal(t, []byte("challenge"), respMsg.Response)

	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.AuthenticationSucceeded{}))

	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.StartIdentification{}))
	msg, err = readCSM(ctx, deviceStream)
	require.NoError(t, err)
	idMsg, ok := msg.(*catalogue.IdentificationInformation)
	require.True(t, ok)
	require.Equal(t, "accessory", idMsg.Name)

	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.IdentificationAccepted{}))

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app.Session.Run never completed")
	}
}

func TestSessionReturnsErrorOnAuthenticationFailed(t *testing.T) {
	accessoryR, deviceW := io.Pipe()
	deviceR, accessoryW := io.Pipe()

	manager := session.NewManager(4, nil, nil)
	dialed := make(chan struct{}, 1)
	manager.StartSession("vehicle", func(ctx context.Context) (io.ReadWriteCloser, error) {
		select {
		case dialed <- struct{}{}:
		default:
			return nil, io.EOF
		}
		return &pipeRWC{r: accessoryR, w: accessoryW}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := link.New(deviceW, deviceR, 4, nil)
	device.Start(ctx)
	waitState(t, device, link.StateNormal)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := manager.GetSession("vehicle"); s != nil && s.Snapshot().Connected {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mock := &coprocessor.Mock{Cert: []byte{0x01}}
	appSession := New(manager, "vehicle", mock, &catalogue.IdentificationInformation{})

	runErr := make(chan error, 1)
	go func() { runErr <- appSession.Run(ctx) }()

	deviceStream := device.ControlSession()
	require.NoError(t, writeCSM(ctx, deviceStream, &catalogue.AuthenticationFailed{}))

	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app.Session.Run never completed")
	}
}
