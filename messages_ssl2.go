package anvil

// SSLv2 messages carry their own two-byte length header, high bit set,
// instead of a TLS record.
const ssl2LengthFlag = 0x8000

var ssl2CipherSuites = []SSL2CipherSuite{
	SSL_CK_RC4_128_WITH_MD5,
	SSL_CK_RC4_128_EXPORT40_WITH_MD5,
	SSL_CK_RC2_128_CBC_WITH_MD5,
	SSL_CK_RC2_128_CBC_EXPORT40_WITH_MD5,
	SSL_CK_IDEA_128_CBC_WITH_MD5,
	SSL_CK_DES_64_CBC_WITH_MD5,
	SSL_CK_DES_192_EDE3_CBC_WITH_MD5,
}

func ssl2CipherSpecs(suites []SSL2CipherSuite) []byte {
	var out []byte
	for _, cs := range suites {
		out = append(out, cs.Bytes()...)
	}
	return out
}

// isSSL2Header reports whether data starts like an SSLv2 two-byte header
// rather than a TLS record.
func isSSL2Header(data []byte) bool {
	return len(data) >= 3 && data[0]&0x80 != 0 && !isRecordType(RecordType(data[0]))
}

func isRecordType(t RecordType) bool {
	switch t {
	case RecordTypeChangeCipherSpec, RecordTypeAlert, RecordTypeHandshake,
		RecordTypeApplicationData, RecordTypeHeartbeat:
		return true
	}
	return false
}

// ParseSSL2Message decodes one SSLv2 message from the front of data. An
// incomplete message yields (nil, 0, nil).
func ParseSSL2Message(data []byte, ch Chooser) (ProtocolMessage, int, error) {
	if len(data) < ssl2MessageLengthBytes+1 {
		return nil, 0, nil
	}
	n := ssl2MessageLengthBytes + int(uint16(data[0]&0x7f)<<8|uint16(data[1]))
	if len(data) < n {
		return nil, 0, nil
	}
	var kind MessageKind
	switch data[2] {
	case ssl2MessageTypeClientHello:
		kind = KindSSL2ClientHello
	case ssl2MessageTypeServerHello:
		kind = KindSSL2ServerHello
	default:
		u := &UnknownMessage{RecordType: recordTypeSSL2}
		u.Body.Assign(append([]byte{}, data[:n]...))
		return u, n, nil
	}
	c := messageCodecs[kind]
	m := c.new()
	p := NewParser(data[:n])
	c.parse(m, p, ch)
	if err := p.Err(); err != nil {
		return nil, 0, err
	}
	return m, n, nil
}

// SSLv2 CLIENT-HELLO.
type SSL2ClientHello struct {
	MessageLength     Uint16Field
	Type              Uint8Field
	ProtocolVersion   Uint16Field
	CipherSpecsLength Uint16Field
	SessionIDLength   Uint16Field
	ChallengeLength   Uint16Field
	CipherSpecs       BytesField
	SessionID         BytesField
	Challenge         BytesField
}

func (*SSL2ClientHello) Kind() MessageKind { return KindSSL2ClientHello }

func (m *SSL2ClientHello) CipherSuites() []SSL2CipherSuite {
	return ParseSSL2CipherSuites(m.CipherSpecs.Resolve())
}

func parseSSL2ClientHello(m *SSL2ClientHello, p *Parser, _ Chooser) {
	parseUint(p, &m.MessageLength, 2, "msg_length")
	parseUint(p, &m.Type, 1, "msg_type")
	parseUint(p, &m.ProtocolVersion, 2, "version")
	specs := parseUint(p, &m.CipherSpecsLength, 2, "cipher_specs_length")
	sid := parseUint(p, &m.SessionIDLength, 2, "session_id_length")
	challenge := parseUint(p, &m.ChallengeLength, 2, "challenge_length")
	parseBytes(p, &m.CipherSpecs, int(specs), "cipher_specs")
	parseBytes(p, &m.SessionID, int(sid), "session_id")
	parseBytes(p, &m.Challenge, int(challenge), "challenge")
}

func prepareSSL2ClientHello(m *SSL2ClientHello, ch Chooser) error {
	m.Type.Prepare(func() uint8 { return ssl2MessageTypeClientHello })
	m.ProtocolVersion.Prepare(func() uint16 { return uint16(legacyVersion(ch.HighestClientVersion())) })
	m.CipherSpecs.Prepare(func() []byte { return ssl2CipherSpecs(ssl2CipherSuites) })
	m.SessionID.Prepare(func() []byte { return []byte{} })
	challenge, err := randomBytes(ch.Rand(), ssl2ChallengeLength)
	if err != nil {
		return err
	}
	m.Challenge.Prepare(func() []byte { return challenge })
	m.CipherSpecsLength.Prepare(func() uint16 { return uint16(len(m.CipherSpecs.Resolve())) })
	m.SessionIDLength.Prepare(func() uint16 { return uint16(len(m.SessionID.Resolve())) })
	m.ChallengeLength.Prepare(func() uint16 { return uint16(len(m.Challenge.Resolve())) })
	m.MessageLength.Prepare(func() uint16 {
		return ssl2LengthFlag | uint16(len(m.body()))
	})
	return nil
}

func (m *SSL2ClientHello) body() []byte {
	s := NewSerializer()
	putUint(s, &m.Type, 1)
	putUint(s, &m.ProtocolVersion, 2)
	putUint(s, &m.CipherSpecsLength, 2)
	putUint(s, &m.SessionIDLength, 2)
	putUint(s, &m.ChallengeLength, 2)
	putBytes(s, &m.CipherSpecs)
	putBytes(s, &m.SessionID)
	putBytes(s, &m.Challenge)
	return s.Bytes()
}

func serializeSSL2ClientHello(m *SSL2ClientHello, s *Serializer) {
	putUint(s, &m.MessageLength, 2)
	s.PutBytes(m.body())
}

// SSLv2 SERVER-HELLO.
type SSL2ServerHello struct {
	MessageLength      Uint16Field
	Type               Uint8Field
	SessionIDHit       Uint8Field
	CertificateType    Uint8Field
	ProtocolVersion    Uint16Field
	CertificateLength  Uint16Field
	CipherSpecsLength  Uint16Field
	ConnectionIDLength Uint16Field
	Certificate        BytesField
	CipherSpecs        BytesField
	ConnectionID       BytesField
}

func (*SSL2ServerHello) Kind() MessageKind { return KindSSL2ServerHello }

func (m *SSL2ServerHello) CipherSuites() []SSL2CipherSuite {
	return ParseSSL2CipherSuites(m.CipherSpecs.Resolve())
}

const ssl2CertificateTypeX509 uint8 = 1

func parseSSL2ServerHello(m *SSL2ServerHello, p *Parser, _ Chooser) {
	parseUint(p, &m.MessageLength, 2, "msg_length")
	parseUint(p, &m.Type, 1, "msg_type")
	parseUint(p, &m.SessionIDHit, 1, "session_id_hit")
	parseUint(p, &m.CertificateType, 1, "certificate_type")
	parseUint(p, &m.ProtocolVersion, 2, "version")
	cert := parseUint(p, &m.CertificateLength, 2, "certificate_length")
	specs := parseUint(p, &m.CipherSpecsLength, 2, "cipher_specs_length")
	connID := parseUint(p, &m.ConnectionIDLength, 2, "connection_id_length")
	parseBytes(p, &m.Certificate, int(cert), "certificate")
	parseBytes(p, &m.CipherSpecs, int(specs), "cipher_specs")
	parseBytes(p, &m.ConnectionID, int(connID), "connection_id")
}

func prepareSSL2ServerHello(m *SSL2ServerHello, ch Chooser) error {
	m.Type.Prepare(func() uint8 { return ssl2MessageTypeServerHello })
	m.SessionIDHit.Prepare(func() uint8 { return 0 })
	m.CertificateType.Prepare(func() uint8 { return ssl2CertificateTypeX509 })
	m.ProtocolVersion.Prepare(func() uint16 { return uint16(VersionSSL20) })
	m.Certificate.Prepare(func() []byte {
		if cert := ch.Certificate(); cert != nil && len(cert.Chain) > 0 {
			return cert.Chain[0].Raw
		}
		return []byte{}
	})
	m.CipherSpecs.Prepare(func() []byte { return ssl2CipherSpecs(ssl2CipherSuites) })
	connID, err := randomBytes(ch.Rand(), ssl2ChallengeLength)
	if err != nil {
		return err
	}
	m.ConnectionID.Prepare(func() []byte { return connID })
	m.CertificateLength.Prepare(func() uint16 { return uint16(len(m.Certificate.Resolve())) })
	m.CipherSpecsLength.Prepare(func() uint16 { return uint16(len(m.CipherSpecs.Resolve())) })
	m.ConnectionIDLength.Prepare(func() uint16 { return uint16(len(m.ConnectionID.Resolve())) })
	m.MessageLength.Prepare(func() uint16 {
		return ssl2LengthFlag | uint16(len(m.body()))
	})
	return nil
}

func (m *SSL2ServerHello) body() []byte {
	s := NewSerializer()
	putUint(s, &m.Type, 1)
	putUint(s, &m.SessionIDHit, 1)
	putUint(s, &m.CertificateType, 1)
	putUint(s, &m.ProtocolVersion, 2)
	putUint(s, &m.CertificateLength, 2)
	putUint(s, &m.CipherSpecsLength, 2)
	putUint(s, &m.ConnectionIDLength, 2)
	putBytes(s, &m.Certificate)
	putBytes(s, &m.CipherSpecs)
	putBytes(s, &m.ConnectionID)
	return s.Bytes()
}

func serializeSSL2ServerHello(m *SSL2ServerHello, s *Serializer) {
	putUint(s, &m.MessageLength, 2)
	s.PutBytes(m.body())
}
