package anvil

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Connection is one end of a TLS, DTLS or SSLv2 connection as seen by the
// workflow: the negotiated state, the record layer and the transport.
type Connection struct {
	Alias     string
	Config    *Config
	Context   *Context
	Records   *RecordLayer
	Transport Transport

	end ConnectionEnd

	// Handshake bytes received but not yet forming a whole message.
	hsIn []byte
	// Partially received DTLS handshake messages by message_seq.
	fragments map[uint16]*dtlsReassembly
	// Received SSLv2 bytes not yet forming a whole message.
	ssl2In []byte
}

func NewConnection(alias string, config *Config, end ConnectionEnd, t Transport) *Connection {
	c := &Connection{
		Alias:     alias,
		Config:    config,
		Transport: t,
		end:       end,
	}
	c.Reset()
	return c
}

// Reset drops all negotiated state and record protection. The transport is
// left alone.
func (c *Connection) Reset() {
	c.Context = NewContext(c.Config, c.end)
	c.Records = NewRecordLayer(c.Context)
	c.hsIn = nil
	c.ssl2In = nil
	c.fragments = map[uint16]*dtlsReassembly{}
}

func (c *Connection) Close() error {
	return c.Transport.Close()
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s(%v)", c.Alias, c.end)
}

func (c *Connection) label() string {
	return "[" + c.Alias + "]"
}

// updateTranscript adds a handshake message to the transcript, with the
// rewrites HelloRetryRequest and HelloVerifyRequest call for.
func (c *Connection) updateTranscript(m ProtocolMessage) {
	if RecordTypeOf(m) != RecordTypeHandshake {
		return
	}
	tc := c.Context
	switch msg := m.(type) {
	case *HelloRequest:
		return
	case *HelloVerifyRequest:
		// RFC 6347 section 4.2.1: neither the first ClientHello nor the
		// HelloVerifyRequest is hashed.
		tc.Transcript.Reset()
		return
	case *ServerHello:
		if msg.IsHelloRetryRequest() {
			tc.CipherSuite.Set(CipherSuite(msg.CipherSuite.Resolve()))
			h, err := tc.suiteHash()
			if err != nil {
				tc.warn("transcript after HelloRetryRequest: %v", err)
			} else {
				tc.Transcript.ReplaceWithMessageHash(h)
			}
		}
	}
	tc.Transcript.Append(rawHandshakeBytes(m))
}

func rawHandshakeBytes(m ProtocolMessage) []byte {
	if hm, ok := m.(handshakeMessage); ok {
		return hm.Header().RawBytes()
	}
	return nil
}

// SendMessages prepares, serializes and sends msgs in order. Consecutive
// messages of the same record type share records. Handler actions take
// effect after the bytes queued so far have been written, so a message that
// changes keys is itself sent under the old ones.
func (c *Connection) SendMessages(msgs ...ProtocolMessage) ([]*Record, error) {
	tc := c.Context
	var (
		sent        []*Record
		pending     []byte
		pendingType RecordType
		queued      bool
	)

	flush := func() error {
		if !queued {
			return nil
		}
		queued = false
		records, err := c.Records.BuildRecords(pendingType, pending)
		pending = nil
		if err != nil {
			return err
		}
		var wire []byte
		for _, r := range records {
			wire = append(wire, r.Serialize()...)
		}
		sent = append(sent, records...)
		return c.Transport.Send(wire)
	}

	for _, m := range msgs {
		tc.Talking = tc.ConnectionEnd
		ch := tc.Chooser()
		if err := PrepareMessage(m, ch); err != nil {
			return sent, errors.Wrapf(err, "prepare %v", m.Kind())
		}
		data := SerializeMessage(m)
		t := RecordTypeOf(m)
		logf(logTypeHandshake, "%s sending %v (%d bytes)", c.label(), m.Kind(), len(data))

		if t == recordTypeSSL2 {
			if err := flush(); err != nil {
				return sent, err
			}
			if err := c.Transport.Send(data); err != nil {
				return sent, err
			}
		}

		c.updateTranscript(m)
		// A message whose fields the context cannot absorb is still sent.
		actions, err := adjustMessage(m, tc)
		if err != nil {
			tc.warn("adjust %v: %v", m.Kind(), err)
			actions = nil
		}

		if t != recordTypeSSL2 {
			if queued && pendingType != t {
				if err := flush(); err != nil {
					return sent, err
				}
			}
			pending = append(pending, data...)
			pendingType = t
			queued = true
		}
		if t == RecordTypeHandshake && dtlsMode(ch) {
			tc.DTLSWriteHandshakeSeq++
		}

		if len(actions) == 0 && !hasAfterSend(m) {
			continue
		}
		if err := flush(); err != nil {
			return sent, err
		}
		after, err := afterSendMessage(m, tc)
		if err != nil {
			tc.warn("after sending %v: %v", m.Kind(), err)
			after = nil
		}
		for _, a := range append(actions, after...) {
			if err := c.takeAction(a); err != nil {
				return sent, err
			}
		}
	}
	return sent, flush()
}

// SendRecords writes already built records as they are, without running
// the write cipher again.
func (c *Connection) SendRecords(records ...*Record) error {
	var wire []byte
	for _, r := range records {
		wire = append(wire, r.Serialize()...)
	}
	return c.Transport.Send(wire)
}

// ReceiveResult is everything one Receive call took in.
type ReceiveResult struct {
	Messages []ProtocolMessage
	Records  []*Record
	// AuthFailures counts records dropped for a bad MAC or tag.
	AuthFailures int
	// Retransmissions counts DTLS handshake messages seen before.
	Retransmissions int
}

// Receive fetches and processes incoming traffic until done reports true
// for the messages received so far, the transport times out or closes, or
// ctx ends. Each message is adjusted, and its actions taken, before the
// next record is decrypted.
func (c *Connection) Receive(ctx context.Context, done func([]ProtocolMessage) bool) (*ReceiveResult, error) {
	res := &ReceiveResult{}
	for {
		if done != nil && done(res.Messages) {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, err := c.Transport.Fetch()
		if err != nil {
			return res, err
		}
		if len(data) == 0 {
			logf(logTypeIO, "%s nothing more to fetch", c.label())
			return res, nil
		}
		if err := c.consume(data, res); err != nil {
			return res, err
		}
	}
}

func (c *Connection) consume(data []byte, res *ReceiveResult) error {
	if len(c.ssl2In) > 0 || (!c.Records.Buffered() && len(c.hsIn) == 0 && isSSL2Header(data)) {
		return c.consumeSSL2(data, res)
	}

	records, err := c.Records.ParseRecords(data)
	for _, r := range records {
		if rerr := c.processRecord(r, res); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return errors.Wrap(err, "records")
	}
	return nil
}

func (c *Connection) consumeSSL2(data []byte, res *ReceiveResult) error {
	c.ssl2In = append(c.ssl2In, data...)
	for len(c.ssl2In) > 0 {
		m, n, err := ParseSSL2Message(c.ssl2In, c.Context.Chooser())
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		c.ssl2In = c.ssl2In[n:]
		if err := c.processMessage(m, res); err != nil {
			return err
		}
	}
	c.ssl2In = nil
	return nil
}

func (c *Connection) processRecord(r *Record, res *ReceiveResult) error {
	tc := c.Context
	err := c.Records.DecryptRecord(r)
	res.Records = append(res.Records, r)
	switch {
	case err == nil:
	case errors.Is(err, ErrAuthenticationFailure):
		res.AuthFailures++
		if tc.Config.StrictRecordAuth {
			return err
		}
		tc.warn("dropped record: %v", err)
		return nil
	default:
		tc.warn("dropped %v record: %v", r.Type, err)
		return nil
	}

	if r.Type == RecordTypeHandshake {
		return c.processHandshakeBytes(r.CleanBytes, res)
	}

	data := r.CleanBytes
	for first := true; first || len(data) > 0; first = false {
		m, n, err := ParseMessage(r.Type, data, tc.Chooser())
		if err != nil || m == nil || n == 0 {
			if err != nil {
				logf(logTypeRecord, "%s unparseable %v: %v", c.label(), r.Type, err)
			}
			u := &UnknownMessage{RecordType: r.Type}
			u.Body.Assign(append([]byte{}, data...))
			m, n = u, len(data)
		}
		data = data[n:]
		if err := c.processMessage(m, res); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) processHandshakeBytes(data []byte, res *ReceiveResult) error {
	c.hsIn = append(c.hsIn, data...)
	dtls := dtlsMode(c.Context.Chooser())
	for len(c.hsIn) > 0 {
		var whole []byte
		if dtls {
			frag, n, ok := c.nextDTLSFragment()
			if !ok {
				return nil
			}
			c.hsIn = c.hsIn[n:]
			if frag.seq < c.Context.DTLSReadHandshakeSeq {
				logf(logTypeHandshake, "%s dropping retransmitted message_seq %d", c.label(), frag.seq)
				res.Retransmissions++
				continue
			}
			if whole = c.reassemble(frag); whole == nil {
				continue
			}
		} else {
			whole = c.hsIn
		}

		m, n, err := ParseMessage(RecordTypeHandshake, whole, c.Context.Chooser())
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if !dtls {
			c.hsIn = c.hsIn[n:]
		} else {
			c.Context.DTLSReadHandshakeSeq = m.(handshakeMessage).Header().MessageSeq.Resolve() + 1
		}
		if err := c.processMessage(m, res); err != nil {
			return err
		}
	}
	c.hsIn = nil
	return nil
}

func (c *Connection) processMessage(m ProtocolMessage, res *ReceiveResult) error {
	tc := c.Context
	tc.Talking = tc.ConnectionEnd.Peer()
	logf(logTypeHandshake, "%s received %v", c.label(), m.Kind())
	c.updateTranscript(m)
	// Peer input that the context cannot absorb is recorded, not fatal.
	actions, err := adjustMessage(m, tc)
	if err != nil {
		tc.warn("adjust received %v: %v", m.Kind(), err)
		actions = nil
	}
	for _, a := range actions {
		if err := c.takeAction(a); err != nil {
			return err
		}
	}
	res.Messages = append(res.Messages, m)
	return nil
}

// dtlsFragment is one DTLS handshake fragment as it came off the wire.
type dtlsFragment struct {
	typ    uint8
	length int
	seq    uint16
	offset int
	body   []byte
	raw    []byte
}

type dtlsReassembly struct {
	typ    uint8
	body   []byte
	filled []bool
	have   int
}

func (c *Connection) nextDTLSFragment() (dtlsFragment, int, bool) {
	data := c.hsIn
	if len(data) < handshakeHeaderLenDTLS {
		return dtlsFragment{}, 0, false
	}
	u24 := func(b []byte) int { return int(b[0])<<16 | int(b[1])<<8 | int(b[2]) }
	f := dtlsFragment{
		typ:    data[0],
		length: u24(data[1:4]),
		seq:    binary.BigEndian.Uint16(data[4:6]),
		offset: u24(data[6:9]),
	}
	n := handshakeHeaderLenDTLS + u24(data[9:12])
	if len(data) < n {
		return dtlsFragment{}, 0, false
	}
	f.body = data[handshakeHeaderLenDTLS:n]
	f.raw = data[:n]
	return f, n, true
}

// reassemble adds f to its message and returns the whole message once
// every byte has arrived. An unfragmented message is returned as is.
func (c *Connection) reassemble(f dtlsFragment) []byte {
	if f.offset == 0 && len(f.body) == f.length {
		delete(c.fragments, f.seq)
		return append([]byte{}, f.raw...)
	}
	if f.offset+len(f.body) > f.length {
		c.Context.warn("DTLS fragment of message_seq %d overruns its message", f.seq)
		return nil
	}
	ra, ok := c.fragments[f.seq]
	if !ok || len(ra.body) != f.length {
		ra = &dtlsReassembly{typ: f.typ, body: make([]byte, f.length), filled: make([]bool, f.length)}
		c.fragments[f.seq] = ra
	}
	copy(ra.body[f.offset:], f.body)
	for i := f.offset; i < f.offset+len(f.body); i++ {
		if !ra.filled[i] {
			ra.filled[i] = true
			ra.have++
		}
	}
	if ra.have < len(ra.body) {
		return nil
	}
	delete(c.fragments, f.seq)

	hdr := make([]byte, handshakeHeaderLenDTLS)
	hdr[0] = ra.typ
	n := len(ra.body)
	hdr[1], hdr[2], hdr[3] = byte(n>>16), byte(n>>8), byte(n)
	binary.BigEndian.PutUint16(hdr[4:6], f.seq)
	hdr[9], hdr[10], hdr[11] = byte(n>>16), byte(n>>8), byte(n)
	logf(logTypeHandshake, "%s reassembled message_seq %d (%d bytes)", c.label(), f.seq, n)
	return append(hdr, ra.body...)
}

// takeAction executes one handler decision against the record layer.
func (c *Connection) takeAction(actionGeneric HandshakeAction) error {
	tc := c.Context
	ch := tc.Chooser()

	switch action := actionGeneric.(type) {
	case RekeyIn:
		logf(logTypeHandshake, "%s rekeying in to %v", c.label(), action.KeySet)
		if len(c.hsIn) > 0 {
			tc.warn("read rekey with %d handshake bytes still buffered", len(c.hsIn))
		}
		cipher, err := NewRecordCipher(ch, action.KeySet, tc.ConnectionEnd)
		if err != nil {
			return errors.Wrap(err, "rekey in")
		}
		c.Records.SetCipher(DirectionRead, cipher)
		tc.KeySets[action.KeySet.Type] = action.KeySet

	case RekeyOut:
		logf(logTypeHandshake, "%s rekeying out to %v", c.label(), action.KeySet)
		cipher, err := NewRecordCipher(ch, action.KeySet, tc.ConnectionEnd)
		if err != nil {
			return errors.Wrap(err, "rekey out")
		}
		c.Records.SetCipher(DirectionWrite, cipher)
		tc.KeySets[action.KeySet.Type] = action.KeySet

	case ResetIn:
		logf(logTypeHandshake, "%s clear reads from seq=%d", c.label(), action.seq)
		c.Records.ResetCipher(DirectionRead, action.seq)

	case ResetOut:
		logf(logTypeHandshake, "%s clear writes from seq=%d", c.label(), action.seq)
		c.Records.ResetCipher(DirectionWrite, action.seq)

	case StorePSK:
		logf(logTypeHandshake, "%s storing PSK with identity [%x]", c.label(), action.PSK.Identity)
		tc.PSKs = append(tc.PSKs, action.PSK)

	case SetCompression:
		logf(logTypeHandshake, "%s %v compression %v", c.label(), action.Direction, action.Method)
		c.Records.SetCompression(action.Direction, action.Method)

	default:
		return actionError("unknown handshake action %T", actionGeneric)
	}
	return nil
}
