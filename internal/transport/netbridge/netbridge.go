// Package netbridge implements engine.Transport over a TCP connection to a
// remote AT-command bridge, automatically reconnecting with backoff when
// the connection drops. Reconnection is a transport-level concern only:
// it never retries an in-flight command, which remains the engine's job
// to time out and the caller's job to resubmit.
package netbridge

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/atcortex/atengine/internal/logging"
)

// Transport is a single-port engine.Transport backed by a TCP connection
// that reconnects on error.
type Transport struct {
	addr    string
	dialTO  time.Duration
	log     logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// New returns a Transport that dials addr on Init and on any subsequent
// read/write error.
func New(addr string, dialTimeout time.Duration, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Default()
	}
	return &Transport{
		addr:   addr,
		dialTO: dialTimeout,
		log:    logger.With(logging.Field{Key: "subsystem", Value: "netbridge"}, logging.Field{Key: "addr", Value: addr}),
	}
}

// Init establishes the initial connection, retrying with exponential
// backoff for up to 30 seconds before returning an error.
func (t *Transport) Init(port int) error {
	return t.reconnect()
}

func (t *Transport) reconnect() error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	var conn net.Conn
	err := backoff.Retry(func() error {
		c, dialErr := net.DialTimeout("tcp", t.addr, t.dialTO)
		if dialErr != nil {
			t.log.Warn("dial failed, retrying", logging.Field{Key: "error", Value: dialErr})
			return dialErr
		}
		conn = c
		return nil
	}, b)
	if err != nil {
		return fmt.Errorf("netbridge: connect %s: %w", t.addr, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *Transport) activeConn() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Read satisfies engine.Transport. On a connection error it triggers a
// reconnect and reports (0, nil) for this poll, so the engine simply sees
// no data rather than an error storm during the outage.
func (t *Transport) Read(port int, buf []byte) (int, error) {
	conn := t.activeConn()
	if conn == nil {
		return 0, nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil
		}
		t.log.Warn("read error, reconnecting", logging.Field{Key: "error", Value: err})
		go t.reconnect()
		return 0, nil
	}
	return n, nil
}

// Write satisfies engine.Transport.
func (t *Transport) Write(port int, buf []byte) (int, error) {
	conn := t.activeConn()
	if conn == nil {
		return 0, nil
	}
	n, err := conn.Write(buf)
	if err != nil {
		t.log.Warn("write error, reconnecting", logging.Field{Key: "error", Value: err})
		go t.reconnect()
		return 0, nil
	}
	return n, nil
}

// NowMS satisfies engine.Transport with a monotonic millisecond clock.
func (t *Transport) NowMS(port int) uint32 {
	return uint32(time.Now().UnixMilli())
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
