// Package sshbridge implements engine.Transport over an SSH session's
// stdin/stdout, for AT-capable endpoints reachable only through a shell
// (e.g. a modem attached to a remote host with no exposed TCP port).
package sshbridge

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/atcortex/atengine/internal/logging"
)

// Config describes how to reach the remote host and which command to run
// once connected; RemoteCommand is typically something that attaches the
// session to a local serial device on the far end, e.g. "cat - >/dev/ttyUSB0 &
// cat /dev/ttyUSB0".
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	KeyPath       string
	RemoteCommand string
}

// Transport is a single-port engine.Transport backed by a running SSH
// session's stdin/stdout pipes.
type Transport struct {
	cfg Config
	log logging.Logger

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	readBuf chan []byte
	errs    chan error
}

// New returns a Transport that connects and starts cfg.RemoteCommand on
// Init.
func New(cfg Config, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Default()
	}
	return &Transport{
		cfg:     cfg,
		log:     logger.With(logging.Field{Key: "subsystem", Value: "sshbridge"}, logging.Field{Key: "host", Value: cfg.Host}),
		readBuf: make(chan []byte, 64),
		errs:    make(chan error, 1),
	}
}

// Init dials the SSH host, opens a session, and starts cfg.RemoteCommand,
// then begins a background reader that feeds Read.
func (t *Transport) Init(port int) error {
	auth, err := t.authMethods()
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("sshbridge: dial %s: %w", addr, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return fmt.Errorf("sshbridge: handshake: %w", err)
	}
	t.client = ssh.NewClient(clientConn, chans, reqs)

	session, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("sshbridge: new session: %w", err)
	}
	t.session = session

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("sshbridge: stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("sshbridge: stdout pipe: %w", err)
	}
	t.stdin = stdin
	t.stdout = stdout

	if err := session.Start(t.cfg.RemoteCommand); err != nil {
		return fmt.Errorf("sshbridge: start remote command: %w", err)
	}

	go t.readLoop()
	return nil
}

func (t *Transport) authMethods() ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod
	if t.cfg.Password != "" {
		auth = append(auth, ssh.Password(t.cfg.Password))
	}
	if t.cfg.KeyPath != "" {
		key, err := os.ReadFile(t.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("sshbridge: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sshbridge: parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("sshbridge: no password or key configured")
	}
	return auth, nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := t.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.readBuf <- chunk
		}
		if err != nil {
			select {
			case t.errs <- err:
			default:
			}
			return
		}
	}
}

// Read satisfies engine.Transport, draining whatever the background reader
// has buffered without blocking.
func (t *Transport) Read(port int, buf []byte) (int, error) {
	select {
	case err := <-t.errs:
		return 0, fmt.Errorf("sshbridge: session closed: %w", err)
	case chunk := <-t.readBuf:
		n := copy(buf, chunk)
		if n < len(chunk) {
			t.readBuf <- chunk[n:]
		}
		return n, nil
	default:
		return 0, nil
	}
}

// Write satisfies engine.Transport.
func (t *Transport) Write(port int, buf []byte) (int, error) {
	n, err := t.stdin.Write(buf)
	if err != nil {
		return n, fmt.Errorf("sshbridge: write: %w", err)
	}
	return n, nil
}

// NowMS satisfies engine.Transport with a monotonic millisecond clock.
func (t *Transport) NowMS(port int) uint32 {
	return uint32(time.Now().UnixMilli())
}

// Close tears down the session and underlying SSH client.
func (t *Transport) Close() error {
	if t.session != nil {
		_ = t.session.Close()
	}
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
