package anvil

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Transport moves raw bytes for one connection. Fetch returns whatever is
// available within the timeout; an empty result with a nil error means the
// timeout expired.
type Transport interface {
	Send(data []byte) error
	Fetch() ([]byte, error)
	Timeout() time.Duration
	SetTimeout(d time.Duration)
	IsClosed() bool
	Close() error
}

// Reopener is implemented by transports that can start over with a fresh
// underlying connection.
type Reopener interface {
	Reopen() error
}

const fetchBufferSize = 1 << 16

// StreamTransport runs over a stream net.Conn such as TCP.
type StreamTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	dial    func() (net.Conn, error)
	timeout time.Duration
	closed  bool
	buf     []byte
}

func NewStreamTransport(conn net.Conn) *StreamTransport {
	return &StreamTransport{conn: conn, timeout: defaultTimeout, buf: make([]byte, fetchBufferSize)}
}

// DialStreamTransport connects to addr and remembers how, so that the
// transport can be reopened.
func DialStreamTransport(network, addr string, timeout time.Duration) (*StreamTransport, error) {
	dial := func() (net.Conn, error) { return net.DialTimeout(network, addr, timeout) }
	conn, err := dial()
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	t := NewStreamTransport(conn)
	t.dial = dial
	t.timeout = timeout
	return t, nil
}

func (t *StreamTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	logf(logTypeIO, "stream send %d bytes", len(data))
	if _, err := conn.Write(data); err != nil {
		return errors.Wrap(err, "stream send")
	}
	return nil
}

func (t *StreamTransport) Fetch() ([]byte, error) {
	t.mu.Lock()
	conn, timeout := t.conn, t.timeout
	t.mu.Unlock()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "set read deadline")
	}
	n, err := conn.Read(t.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if err == io.EOF {
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
			return copyBytes(t.buf[:n]), nil
		}
		return nil, errors.Wrap(err, "stream fetch")
	}
	logf(logTypeIO, "stream fetched %d bytes", n)
	return copyBytes(t.buf[:n]), nil
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte{}, b...)
}

func (t *StreamTransport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

func (t *StreamTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

func (t *StreamTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.conn.Close()
}

func (t *StreamTransport) Reopen() error {
	if t.dial == nil {
		return actionError("stream transport was not dialed, cannot reopen")
	}
	conn, err := t.dial()
	if err != nil {
		return errors.Wrap(err, "reopen")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.Close()
	t.conn = conn
	t.closed = false
	return nil
}

// DatagramTransport runs over a connected packet conn such as UDP. Each
// Fetch returns one datagram.
type DatagramTransport struct {
	*StreamTransport
}

func NewDatagramTransport(conn net.Conn) *DatagramTransport {
	return &DatagramTransport{NewStreamTransport(conn)}
}

func (t *DatagramTransport) Fetch() ([]byte, error) {
	t.mu.Lock()
	conn, timeout := t.conn, t.timeout
	t.mu.Unlock()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "set read deadline")
	}
	n, err := conn.Read(t.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		return nil, errors.Wrap(err, "datagram fetch")
	}
	logf(logTypeIO, "datagram of %d bytes", n)
	return copyBytes(t.buf[:n]), nil
}
