// Package transport adapts physical byte pipes — a serial console, a
// Bluetooth RFCOMM channel presented as a character device, a USB CDC
// endpoint — into the io.ReadWriteCloser session.Dialer hands to the
// link engine. Nothing above this package knows or cares which of
// those it actually is.
package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Serial is a character device put into raw mode: no line discipline,
// no echo, no signal characters, one byte at a time. The iAP2 link
// frame has its own length and checksum; it must never be mangled by
// a tty driver trying to be helpful.
type Serial struct {
	f *os.File
}

// OpenSerial opens devicePath (e.g. "/dev/ttyUSB0" or "/dev/rfcomm0")
// and switches it to raw mode before returning it.
func OpenSerial(devicePath string) (*Serial, error) {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", devicePath, err)
	}
	if err := setRawMode(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: set raw mode on %s: %w", devicePath, err)
	}
	return &Serial{f: os.NewFile(uintptr(fd), devicePath)}, nil
}

func (s *Serial) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *Serial) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *Serial) Close() error                { return s.f.Close() }

// setRawMode clears the terminal's canonical-mode, echo, signal, and
// software-flow-control flags (the cfmakeraw equivalent) and configures
// reads to block for at least one byte with no inter-byte timeout.
func setRawMode(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
