package anvil

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const pipeQueueLength = 64

// pipeShared is the state both ends of a pipe see.
type pipeShared struct {
	once   sync.Once
	closed chan struct{}
}

// PipeTransport is one end of an in-memory connection. Timeouts are
// measured on the supplied clock, so a mock clock makes them deterministic.
type PipeTransport struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	in      chan []byte
	out     chan []byte
	shared  *pipeShared
}

// NewPipe returns two connected transports. Whatever one sends, the other
// fetches.
func NewPipe(clk clock.Clock) (*PipeTransport, *PipeTransport) {
	if clk == nil {
		clk = clock.New()
	}
	ab := make(chan []byte, pipeQueueLength)
	ba := make(chan []byte, pipeQueueLength)
	shared := &pipeShared{closed: make(chan struct{})}
	a := &PipeTransport{clock: clk, timeout: defaultTimeout, in: ba, out: ab, shared: shared}
	b := &PipeTransport{clock: clk, timeout: defaultTimeout, in: ab, out: ba, shared: shared}
	return a, b
}

func (t *PipeTransport) Send(data []byte) error {
	if t.IsClosed() {
		return actionError("send on closed pipe")
	}
	logf(logTypeIO, "pipe send %d bytes", len(data))
	select {
	case t.out <- append([]byte{}, data...):
		return nil
	case <-t.shared.closed:
		return actionError("send on closed pipe")
	}
}

// Fetch returns everything queued so far, waiting up to the timeout for
// the first chunk.
func (t *PipeTransport) Fetch() ([]byte, error) {
	var out []byte
	drain := func() {
		for {
			select {
			case b := <-t.in:
				out = append(out, b...)
			default:
				return
			}
		}
	}

	drain()
	if out != nil || t.IsClosed() {
		return out, nil
	}

	timeout := t.Timeout()
	if timeout <= 0 {
		return nil, nil
	}
	timer := t.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case b := <-t.in:
		out = append(out, b...)
		drain()
	case <-timer.C:
	case <-t.shared.closed:
		drain()
	}
	return out, nil
}

func (t *PipeTransport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

func (t *PipeTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

func (t *PipeTransport) IsClosed() bool {
	select {
	case <-t.shared.closed:
		return true
	default:
		return false
	}
}

// Close closes both ends.
func (t *PipeTransport) Close() error {
	t.shared.once.Do(func() { close(t.shared.closed) })
	return nil
}

// PlayBackTransport replays a fixed sequence of fetch results. Sends are
// accepted and dropped. Once the sequence is exhausted every Fetch is an
// empty timeout.
type PlayBackTransport struct {
	fetches [][]byte
	next    int
	timeout time.Duration
	closed  bool
}

func NewPlayBackTransport(fetches [][]byte) *PlayBackTransport {
	return &PlayBackTransport{fetches: fetches, timeout: defaultTimeout}
}

func (t *PlayBackTransport) Send(data []byte) error {
	logf(logTypeIO, "playback dropped %d sent bytes", len(data))
	return nil
}

func (t *PlayBackTransport) Fetch() ([]byte, error) {
	if t.next >= len(t.fetches) {
		return nil, nil
	}
	b := t.fetches[t.next]
	t.next++
	return append([]byte{}, b...), nil
}

// Remaining is the number of fetches not yet replayed.
func (t *PlayBackTransport) Remaining() int {
	return len(t.fetches) - t.next
}

func (t *PlayBackTransport) Timeout() time.Duration     { return t.timeout }
func (t *PlayBackTransport) SetTimeout(d time.Duration) { t.timeout = d }
func (t *PlayBackTransport) IsClosed() bool             { return t.closed }

func (t *PlayBackTransport) Close() error {
	t.closed = true
	return nil
}

func (t *PlayBackTransport) Reopen() error {
	t.next = 0
	t.closed = false
	return nil
}

// RecordingTransport passes everything through to Inner and keeps a copy.
// Its Fetched list can be fed to NewPlayBackTransport later.
type RecordingTransport struct {
	Inner   Transport
	Sent    [][]byte
	Fetched [][]byte
}

func NewRecordingTransport(inner Transport) *RecordingTransport {
	return &RecordingTransport{Inner: inner}
}

func (t *RecordingTransport) Send(data []byte) error {
	t.Sent = append(t.Sent, append([]byte{}, data...))
	return t.Inner.Send(data)
}

func (t *RecordingTransport) Fetch() ([]byte, error) {
	b, err := t.Inner.Fetch()
	if len(b) > 0 {
		t.Fetched = append(t.Fetched, append([]byte{}, b...))
	}
	return b, err
}

func (t *RecordingTransport) Timeout() time.Duration     { return t.Inner.Timeout() }
func (t *RecordingTransport) SetTimeout(d time.Duration) { t.Inner.SetTimeout(d) }
func (t *RecordingTransport) IsClosed() bool             { return t.Inner.IsClosed() }
func (t *RecordingTransport) Close() error               { return t.Inner.Close() }

func (t *RecordingTransport) Reopen() error {
	r, ok := t.Inner.(Reopener)
	if !ok {
		return actionError("%T cannot be reopened", t.Inner)
	}
	return r.Reopen()
}
