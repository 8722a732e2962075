package anvil

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/nettest"
)

func TestPipe(t *testing.T) {
	a, b := NewPipe(nil)
	defer a.Close()

	assertNotError(t, a.Send([]byte("hello ")), "send")
	assertNotError(t, a.Send([]byte("world")), "send")
	got, err := b.Fetch()
	assertNotError(t, err, "fetch")
	assertByteEquals(t, got, []byte("hello world"))

	b.SetTimeout(5 * time.Millisecond)
	got, err = b.Fetch()
	assertNotError(t, err, "timeout is not an error")
	assertEquals(t, len(got), 0)

	b.SetTimeout(0)
	got, err = b.Fetch()
	assertNotError(t, err, "zero timeout")
	assertEquals(t, len(got), 0)

	assertNotError(t, b.Close(), "close")
	assertTrue(t, a.IsClosed() && b.IsClosed(), "closing one end closes both")
	assertKind(t, a.Send([]byte("late")), ErrActionExecution)
}

func TestPipeWakesOnSend(t *testing.T) {
	a, b := NewPipe(nil)
	defer a.Close()
	b.SetTimeout(time.Second)

	done := make(chan []byte)
	go func() {
		got, _ := b.Fetch()
		done <- got
	}()
	time.Sleep(5 * time.Millisecond)
	assertNotError(t, a.Send([]byte("ping")), "send")
	assertByteEquals(t, <-done, []byte("ping"))
}

// advanceUntil moves mock forward until done yields, so a timer armed
// after the first Add still fires.
func advanceUntil[T any](mock *clock.Mock, step time.Duration, done <-chan T) T {
	for {
		select {
		case v := <-done:
			return v
		default:
			mock.Add(step)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPipeMockClockTimeout(t *testing.T) {
	mock := clock.NewMock()
	a, b := NewPipe(mock)
	defer a.Close()
	b.SetTimeout(time.Hour)

	done := make(chan []byte)
	go func() {
		got, _ := b.Fetch()
		done <- got
	}()
	got := advanceUntil(mock, time.Hour, done)
	assertEquals(t, len(got), 0)
}

func TestPlayBackTransport(t *testing.T) {
	p := NewPlayBackTransport([][]byte{{1}, {2, 3}})
	assertNotError(t, p.Send([]byte{9}), "sends are dropped")
	assertEquals(t, p.Remaining(), 2)

	got, _ := p.Fetch()
	assertByteEquals(t, got, []byte{1})
	got, _ = p.Fetch()
	assertByteEquals(t, got, []byte{2, 3})
	got, err := p.Fetch()
	assertNotError(t, err, "exhausted playback")
	assertEquals(t, len(got), 0)

	assertNotError(t, p.Reopen(), "reopen")
	assertEquals(t, p.Remaining(), 2)
}

func TestRecordingTransport(t *testing.T) {
	a, b := NewPipe(nil)
	defer a.Close()
	rec := NewRecordingTransport(b)

	assertNotError(t, rec.Send([]byte("out")), "send")
	assertNotError(t, a.Send([]byte("in")), "send")
	got, err := rec.Fetch()
	assertNotError(t, err, "fetch")
	assertByteEquals(t, got, []byte("in"))

	assertDeepEquals(t, rec.Sent, [][]byte{[]byte("out")})
	assertDeepEquals(t, rec.Fetched, [][]byte{[]byte("in")})
	assertKind(t, rec.Reopen(), ErrActionExecution)

	replay := NewPlayBackTransport(rec.Fetched)
	got, _ = replay.Fetch()
	assertByteEquals(t, got, []byte("in"))
}

func TestStreamTransport(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	assertNotError(t, err, "listen")
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := DialStreamTransport("tcp", ln.Addr().String(), time.Second)
	assertNotError(t, err, "dial")
	peer, ok := <-accepted
	assertTrue(t, ok, "accept")
	server := NewStreamTransport(peer)
	defer server.Close()

	assertNotError(t, client.Send([]byte("over tcp")), "send")
	got, err := server.Fetch()
	assertNotError(t, err, "fetch")
	assertByteEquals(t, got, []byte("over tcp"))

	server.SetTimeout(10 * time.Millisecond)
	got, err = server.Fetch()
	assertNotError(t, err, "read timeout is an empty fetch")
	assertEquals(t, len(got), 0)

	assertNotError(t, client.Close(), "close")
	server.SetTimeout(time.Second)
	got, err = server.Fetch()
	assertNotError(t, err, "eof")
	assertEquals(t, len(got), 0)
	assertTrue(t, server.IsClosed(), "eof closes the transport")
	assertKind(t, server.Reopen(), ErrActionExecution)
}

func TestDatagramTransport(t *testing.T) {
	pc, err := nettest.NewLocalPacketListener("udp")
	assertNotError(t, err, "listen")
	defer pc.Close()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	assertNotError(t, err, "dial")
	tr := NewDatagramTransport(conn)
	defer tr.Close()

	assertNotError(t, tr.Send([]byte("one")), "send")
	assertNotError(t, tr.Send([]byte("two")), "send")

	buf := make([]byte, 16)
	n, from, err := pc.ReadFrom(buf)
	assertNotError(t, err, "read")
	assertByteEquals(t, buf[:n], []byte("one"))
	n, _, err = pc.ReadFrom(buf)
	assertNotError(t, err, "read")
	assertByteEquals(t, buf[:n], []byte("two"))

	_, err = pc.WriteTo([]byte("reply"), from)
	assertNotError(t, err, "write")
	got, err := tr.Fetch()
	assertNotError(t, err, "fetch")
	assertByteEquals(t, got, []byte("reply"))
}
