// Package coprocessor talks to the MFi authentication coprocessor that
// backs an accessory's identification handshake: it reads the
// accessory's X.509 certificate and produces challenge/response pairs
// for a signature the host never has to see the private key for.
package coprocessor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Coprocessor is the two operations identification needs from the
// authentication coprocessor.
type Coprocessor interface {
	// Certificate returns the accessory's MFi certificate.
	Certificate(ctx context.Context) ([]byte, error)
	// ChallengeResponse returns the coprocessor's signed response to an
	// arbitrary challenge presented by the device during authentication.
	ChallengeResponse(ctx context.Context, challenge []byte) ([]byte, error)
}

// Register addresses on the coprocessor, matching its I2C register map.
const (
	regAuthControlStatus = 0x10
	regChallengeLen      = 0x20
	regChallengeData     = 0x21
	regResponseLen       = 0x11
	regResponseData      = 0x12
	regCertificateLen    = 0x30
	regCertificateData   = 0x31
	authControlStart     = 0x01
	authControlSuccess   = 0x10
)

var ErrTimeout = errors.New("coprocessor: operation timed out")

// I2C drives a coprocessor over a raw Linux I2C character device using
// register-addressed reads and writes, mirroring the bit-banged bus the
// reference firmware talks to (the native controller is too fast for
// the coprocessor to keep up with).
type I2C struct {
	mu   sync.Mutex
	f    *os.File
	addr int
}

// Open attaches to devicePath (e.g. "/dev/i2c-11") and selects addr as
// the target slave address.
func Open(devicePath string, addr int) (*I2C, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("coprocessor: open %s: %w", devicePath, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), unix.I2C_SLAVE, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("coprocessor: select slave address: %w", err)
	}
	return &I2C{f: f, addr: addr}, nil
}

// Close releases the underlying device file.
func (c *I2C) Close() error {
	return c.f.Close()
}

// readAt reads n bytes from register reg, retrying briefly on transient
// bus errors the way the reference bit-banged driver does.
func (c *I2C) readAt(reg byte, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for i := 0; i < 5; i++ {
		if _, err := c.f.Write([]byte{reg}); err != nil {
			lastErr = err
			time.Sleep(500 * time.Microsecond)
			continue
		}
		buf := make([]byte, n)
		if _, err := c.f.Read(buf); err != nil {
			lastErr = err
			time.Sleep(500 * time.Microsecond)
			continue
		}
		return buf, nil
	}
	return nil, fmt.Errorf("coprocessor: read register 0x%02X: %w", reg, lastErr)
}

func (c *I2C) writeAt(reg byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := append([]byte{reg}, data...)
	_, err := c.f.Write(buf)
	return err
}

// Certificate reads the accessory certificate's length prefix, then the
// certificate bytes themselves.
func (c *I2C) Certificate(ctx context.Context) ([]byte, error) {
	lenBytes, err := c.readAt(regCertificateLen, 2)
	if err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(lenBytes)
	return c.readAt(regCertificateData, int(size))
}

// ChallengeResponse writes challenge into the coprocessor, triggers
// signing, polls for completion, and reads back the signed response.
func (c *I2C) ChallengeResponse(ctx context.Context, challenge []byte) ([]byte, error) {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(challenge)))
	if err := c.writeAt(regChallengeLen, lenBuf); err != nil {
		return nil, err
	}
	if err := c.writeAt(regChallengeData, challenge); err != nil {
		return nil, err
	}
	if err := c.writeAt(regAuthControlStatus, []byte{authControlStart}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	ok := false
	for i := 0; i < 10; i++ {
		status, err := c.readAt(regAuthControlStatus, 1)
		if err == nil && len(status) == 1 && status[0] == authControlSuccess {
			ok = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !ok {
		return nil, ErrTimeout
	}

	respLenBytes, err := c.readAt(regResponseLen, 2)
	if err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(respLenBytes)
	return c.readAt(regResponseData, int(size))
}

// Mock is an in-memory Coprocessor for development and tests, returning
// a fixed certificate and a deterministic response for any challenge.
type Mock struct {
	Cert     []byte
	Response func(challenge []byte) []byte
}

func (m *Mock) Certificate(ctx context.Context) ([]byte, error) {
	return m.Cert, nil
}

func (m *Mock) ChallengeResponse(ctx context.Context, challenge []byte) ([]byte, error) {
	if m.Response != nil {
		return m.Response(challenge), nil
	}
	return challenge, nil
}
