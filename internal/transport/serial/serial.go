// Package serial implements engine.Transport over a Linux TTY device,
// opened non-blocking so Read/Write never stall the poll loop.
package serial

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Options configures how a device node is opened and framed.
type Options struct {
	BaudRate int
}

func (o *Options) baudConstant() (uint32, error) {
	switch o.BaudRate {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("serial: unsupported baud rate %d", o.BaudRate)
	}
}

// Transport is a single-device engine.Transport. Although the engine
// supports multiple ports per Transport, this implementation is built to
// back exactly one engine port, at index 0; transport.Multiplexer wires
// several of them together for a multi-port engine.
type Transport struct {
	path string
	opts Options
	fd   int
}

// New returns a Transport that will open path on Init.
func New(path string, opts Options) *Transport {
	return &Transport{path: path, opts: opts}
}

// Init opens the device node, sets raw non-canonical mode, and applies the
// configured baud rate. It ignores the port argument since each Transport
// instance backs exactly one port.
func (t *Transport) Init(port int) error {
	fd, err := unix.Open(t.path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", t.path, err)
	}
	t.fd = fd

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("serial: get termios: %w", err)
	}
	makeRaw(termios)

	baud, err := t.opts.baudConstant()
	if err != nil {
		return err
	}
	termios.Ispeed = baud
	termios.Ospeed = baud
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud & unix.CBAUD

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("serial: set termios: %w", err)
	}
	return nil
}

func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
}

// Read satisfies engine.Transport. EAGAIN/EWOULDBLOCK (no data currently
// buffered by the kernel) is reported as (0, nil), matching the
// non-blocking contract.
func (t *Transport) Read(port int, buf []byte) (int, error) {
	n, err := unix.Read(t.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Write satisfies engine.Transport.
func (t *Transport) Write(port int, buf []byte) (int, error) {
	n, err := unix.Write(t.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// NowMS satisfies engine.Transport with a monotonic millisecond clock.
func (t *Transport) NowMS(port int) uint32 {
	return uint32(time.Now().UnixMilli())
}

// Close releases the underlying file descriptor.
func (t *Transport) Close() error {
	return unix.Close(t.fd)
}
