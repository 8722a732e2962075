package anvil

// messageCodec is the per-kind entry of the message table. Handshake
// message functions see only the body; the table adds the header.
type messageCodec struct {
	kind       MessageKind
	recordType RecordType
	hsType     HandshakeType

	new       func() ProtocolMessage
	parse     func(ProtocolMessage, *Parser, Chooser)
	prepare   func(ProtocolMessage, Chooser) error
	serialize func(ProtocolMessage, *Serializer)
	adjust    func(ProtocolMessage, *Context) ([]HandshakeAction, error)
	afterSend func(ProtocolMessage, *Context) ([]HandshakeAction, error)
}

type handler[PM ProtocolMessage] struct {
	parse     func(PM, *Parser, Chooser)
	prepare   func(PM, Chooser) error
	serialize func(PM, *Serializer)
	adjust    func(PM, *Context) ([]HandshakeAction, error)
	afterSend func(PM, *Context) ([]HandshakeAction, error)
}

var (
	messageCodecs  = map[MessageKind]*messageCodec{}
	handshakeKinds = map[HandshakeType]MessageKind{}
	recordKinds    = map[RecordType]MessageKind{}
)

// register adapts typed handler functions to the table. Missing prepare,
// adjust and afterSend functions are no-ops.
func register[M any, PM interface {
	*M
	ProtocolMessage
}](kind MessageKind, rt RecordType, ht HandshakeType, h handler[PM]) {
	c := &messageCodec{
		kind:       kind,
		recordType: rt,
		hsType:     ht,
		new:        func() ProtocolMessage { return PM(new(M)) },
		parse:      func(m ProtocolMessage, p *Parser, ch Chooser) { h.parse(m.(PM), p, ch) },
		serialize:  func(m ProtocolMessage, s *Serializer) { h.serialize(m.(PM), s) },
		prepare:    func(ProtocolMessage, Chooser) error { return nil },
	}
	if h.prepare != nil {
		c.prepare = func(m ProtocolMessage, ch Chooser) error { return h.prepare(m.(PM), ch) }
	}
	if h.adjust != nil {
		c.adjust = func(m ProtocolMessage, tc *Context) ([]HandshakeAction, error) { return h.adjust(m.(PM), tc) }
	}
	if h.afterSend != nil {
		c.afterSend = func(m ProtocolMessage, tc *Context) ([]HandshakeAction, error) { return h.afterSend(m.(PM), tc) }
	}
	messageCodecs[kind] = c
	if rt == RecordTypeHandshake {
		handshakeKinds[ht] = kind
	} else {
		recordKinds[rt] = kind
	}
}

func init() {
	hs := RecordTypeHandshake
	register(KindHelloRequest, hs, HandshakeTypeHelloRequest, handler[*HelloRequest]{
		parse: func(*HelloRequest, *Parser, Chooser) {}, serialize: func(*HelloRequest, *Serializer) {},
	})
	register(KindClientHello, hs, HandshakeTypeClientHello, handler[*ClientHello]{
		parse: parseClientHello, prepare: prepareClientHello, serialize: serializeClientHello,
		adjust: adjustClientHello,
	})
	register(KindServerHello, hs, HandshakeTypeServerHello, handler[*ServerHello]{
		parse: parseServerHello, prepare: prepareServerHello, serialize: serializeServerHello,
		adjust: adjustServerHello, afterSend: afterSendServerHello,
	})
	register(KindHelloVerifyRequest, hs, HandshakeTypeHelloVerifyRequest, handler[*HelloVerifyRequest]{
		parse: parseHelloVerifyRequest, prepare: prepareHelloVerifyRequest, serialize: serializeHelloVerifyRequest,
		adjust: adjustHelloVerifyRequest,
	})
	register(KindEncryptedExtensions, hs, HandshakeTypeEncryptedExtensions, handler[*EncryptedExtensions]{
		parse: parseEncryptedExtensions, prepare: prepareEncryptedExtensions, serialize: serializeEncryptedExtensions,
		adjust: adjustEncryptedExtensions,
	})
	register(KindCertificate, hs, HandshakeTypeCertificate, handler[*CertificateMessage]{
		parse: parseCertificate, prepare: prepareCertificate, serialize: serializeCertificate,
		adjust: adjustCertificate,
	})
	register(KindCertificateRequest, hs, HandshakeTypeCertificateRequest, handler[*CertificateRequest]{
		parse: parseCertificateRequest, prepare: prepareCertificateRequest, serialize: serializeCertificateRequest,
	})
	register(KindCertificateVerify, hs, HandshakeTypeCertificateVerify, handler[*CertificateVerify]{
		parse: parseCertificateVerify, prepare: prepareCertificateVerify, serialize: serializeCertificateVerify,
		adjust: adjustCertificateVerify,
	})
	register(KindServerKeyExchange, hs, HandshakeTypeServerKeyExchange, handler[*ServerKeyExchange]{
		parse: parseServerKeyExchange, prepare: prepareServerKeyExchange, serialize: serializeServerKeyExchange,
		adjust: adjustServerKeyExchange,
	})
	register(KindServerHelloDone, hs, HandshakeTypeServerHelloDone, handler[*ServerHelloDone]{
		parse: func(*ServerHelloDone, *Parser, Chooser) {}, serialize: func(*ServerHelloDone, *Serializer) {},
	})
	register(KindClientKeyExchange, hs, HandshakeTypeClientKeyExchange, handler[*ClientKeyExchange]{
		parse: parseClientKeyExchange, prepare: prepareClientKeyExchange, serialize: serializeClientKeyExchange,
		adjust: adjustClientKeyExchange,
	})
	register(KindFinished, hs, HandshakeTypeFinished, handler[*Finished]{
		parse: parseFinished, prepare: prepareFinished, serialize: serializeFinished,
		adjust: adjustFinished, afterSend: afterSendFinished,
	})
	register(KindNewSessionTicket, hs, HandshakeTypeNewSessionTicket, handler[*NewSessionTicket]{
		parse: parseNewSessionTicket, prepare: prepareNewSessionTicket, serialize: serializeNewSessionTicket,
		adjust: adjustNewSessionTicket,
	})
	register(KindEndOfEarlyData, hs, HandshakeTypeEndOfEarlyData, handler[*EndOfEarlyData]{
		parse: func(*EndOfEarlyData, *Parser, Chooser) {}, serialize: func(*EndOfEarlyData, *Serializer) {},
		adjust: adjustEndOfEarlyData, afterSend: afterSendEndOfEarlyData,
	})
	register(KindKeyUpdate, hs, HandshakeTypeKeyUpdate, handler[*KeyUpdate]{
		parse: parseKeyUpdate, prepare: prepareKeyUpdate, serialize: serializeKeyUpdate,
		adjust: adjustKeyUpdate, afterSend: afterSendKeyUpdate,
	})
	register(KindSupplementalData, hs, HandshakeTypeSupplementalData, handler[*SupplementalData]{
		parse: parseSupplementalData, prepare: prepareSupplementalData, serialize: serializeSupplementalData,
	})

	register(KindChangeCipherSpec, RecordTypeChangeCipherSpec, 0, handler[*ChangeCipherSpec]{
		parse: parseChangeCipherSpec, prepare: prepareChangeCipherSpec, serialize: serializeChangeCipherSpec,
		adjust: adjustChangeCipherSpec, afterSend: afterSendChangeCipherSpec,
	})
	register(KindAlert, RecordTypeAlert, 0, handler[*AlertMessage]{
		parse: parseAlert, prepare: prepareAlert, serialize: serializeAlert, adjust: adjustAlert,
	})
	register(KindApplicationData, RecordTypeApplicationData, 0, handler[*ApplicationData]{
		parse: parseApplicationData, prepare: prepareApplicationData, serialize: serializeApplicationData,
		adjust: adjustApplicationData,
	})
	register(KindHeartbeat, RecordTypeHeartbeat, 0, handler[*Heartbeat]{
		parse: parseHeartbeat, prepare: prepareHeartbeat, serialize: serializeHeartbeat,
	})

	// SSLv2 messages travel outside TLS records; the record type is nominal.
	register(KindSSL2ClientHello, recordTypeSSL2, 0, handler[*SSL2ClientHello]{
		parse: parseSSL2ClientHello, prepare: prepareSSL2ClientHello, serialize: serializeSSL2ClientHello,
		adjust: adjustSSL2ClientHello,
	})
	register(KindSSL2ServerHello, recordTypeSSL2, 0, handler[*SSL2ServerHello]{
		parse: parseSSL2ServerHello, prepare: prepareSSL2ServerHello, serialize: serializeSSL2ServerHello,
		adjust: adjustSSL2ServerHello,
	})
}

// recordTypeSSL2 marks SSLv2 messages, which have no TLS record framing.
const recordTypeSSL2 RecordType = 0x80

// NewMessage returns an empty message of the given kind, ready to be
// prepared.
func NewMessage(kind MessageKind) ProtocolMessage {
	if c, ok := messageCodecs[kind]; ok {
		return c.new()
	}
	return &UnknownMessage{}
}

func codecFor(m ProtocolMessage) *messageCodec {
	if _, ok := m.(*UnknownMessage); ok {
		return nil
	}
	return messageCodecs[m.Kind()]
}

// RecordTypeOf reports the record type a message travels in.
func RecordTypeOf(m ProtocolMessage) RecordType {
	if u, ok := m.(*UnknownMessage); ok {
		return u.RecordType
	}
	return codecFor(m).recordType
}

// ParseMessage decodes one message of record type t from the front of data
// and reports how many bytes it used. A handshake message that is not yet
// complete yields (nil, 0, nil). Known handshake types whose body does not
// parse come back as an UnknownMessage with the bytes intact.
func ParseMessage(t RecordType, data []byte, ch Chooser) (ProtocolMessage, int, error) {
	if t == RecordTypeHandshake {
		return parseHandshakeMessage(data, ch)
	}

	kind, ok := recordKinds[t]
	if !ok || t == recordTypeSSL2 {
		u := &UnknownMessage{RecordType: t}
		u.Body.Assign(append([]byte{}, data...))
		return u, len(data), nil
	}
	c := messageCodecs[kind]
	p := NewParser(data)
	m := c.new()
	c.parse(m, p, ch)
	if p.Err() != nil {
		return nil, 0, p.Err()
	}
	return m, len(data) - p.Remaining(), nil
}

func parseHandshakeMessage(data []byte, ch Chooser) (ProtocolMessage, int, error) {
	dtls := dtlsMode(ch)
	hl := handshakeHeaderLen(dtls)
	if len(data) < hl {
		return nil, 0, nil
	}
	var hdr HandshakeHeader
	p := NewParser(data)
	hdr.parseHeader(p, dtls)
	n := int(hdr.Length.Resolve())
	if dtls {
		n = int(hdr.FragmentLength.Resolve())
	}
	if p.Remaining() < n {
		return nil, 0, nil
	}
	body := p.Sub(n, "handshake body")
	raw := append([]byte{}, data[:hl+n]...)

	kind, known := handshakeKinds[hdr.HandshakeType()]
	var m handshakeMessage
	if known {
		m = messageCodecs[kind].new().(handshakeMessage)
		messageCodecs[kind].parse(m, body, ch)
		if body.Err() != nil {
			logf(logTypeHandshake, "unparseable %v kept raw: %v", kind, body.Err())
			known = false
		}
	}
	if !known {
		u := &UnknownMessage{RecordType: RecordTypeHandshake}
		u.Body.Assign(raw[hl:])
		m = u
		body = NewParser(nil)
	}

	h := m.Header()
	h.Type, h.Length = hdr.Type, hdr.Length
	h.MessageSeq, h.FragmentOffset, h.FragmentLength = hdr.MessageSeq, hdr.FragmentOffset, hdr.FragmentLength
	if !body.Empty() {
		h.Trailing.Assign(body.Rest())
	}
	h.raw = raw
	return m, hl + n, nil
}

// serializeBody writes a handshake body including trailing bytes.
func serializeBody(c *messageCodec, m handshakeMessage) []byte {
	s := NewSerializer()
	c.serialize(m, s)
	putBytes(s, &m.Header().Trailing)
	return s.Bytes()
}

// prepareHandshakeHeader fills the header of a handshake message whose body
// is already prepared.
func prepareHandshakeHeader(c *messageCodec, m handshakeMessage, ch Chooser) {
	m.Header().prepareHeader(c.hsType, len(serializeBody(c, m)), ch)
}

// PrepareMessage computes every field of m that is not overridden from the
// connection state, body first and framing last.
func PrepareMessage(m ProtocolMessage, ch Chooser) error {
	if u, ok := m.(*UnknownMessage); ok {
		u.prepareUnknown(ch)
		return nil
	}
	c := codecFor(m)
	if err := c.prepare(m, ch); err != nil {
		return err
	}
	if hm, ok := m.(handshakeMessage); ok {
		prepareHandshakeHeader(c, hm, ch)
	}
	return nil
}

// SerializeMessage renders the resolved field values of m.
func SerializeMessage(m ProtocolMessage) []byte {
	if u, ok := m.(*UnknownMessage); ok {
		return u.serializeUnknown()
	}
	c := codecFor(m)
	hm, ok := m.(handshakeMessage)
	if !ok {
		s := NewSerializer()
		c.serialize(m, s)
		return s.Bytes()
	}
	s := NewSerializer()
	hm.Header().serializeHeader(s)
	s.PutBytes(serializeBody(c, hm))
	out := s.Bytes()
	hm.Header().raw = out
	return out
}

// ClearOverrides removes every override in m so the message can be reused.
func ClearOverrides(m ProtocolMessage) {
	clearOverrides(m)
}

func adjustMessage(m ProtocolMessage, tc *Context) ([]HandshakeAction, error) {
	c := codecFor(m)
	if c == nil || c.adjust == nil {
		return nil, nil
	}
	return c.adjust(m, tc)
}

func afterSendMessage(m ProtocolMessage, tc *Context) ([]HandshakeAction, error) {
	c := codecFor(m)
	if c == nil || c.afterSend == nil {
		return nil, nil
	}
	return c.afterSend(m, tc)
}

func hasAfterSend(m ProtocolMessage) bool {
	c := codecFor(m)
	return c != nil && c.afterSend != nil
}
