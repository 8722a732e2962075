package anvil

import (
	"bytes"
	"io"
)

var helloRetryRequestRandom = mustHex(helloRetryRequestRandomHex)

// struct {} HelloRequest;
type HelloRequest struct {
	HandshakeHeader
}

func (*HelloRequest) Kind() MessageKind { return KindHelloRequest }

type ServerHelloDone struct {
	HandshakeHeader
}

func (*ServerHelloDone) Kind() MessageKind { return KindServerHelloDone }

// struct {
//     ProtocolVersion legacy_version = 0x0303;    /* TLS v1.2 */
//     Random random;
//     opaque legacy_session_id<0..32>;
//     opaque cookie<0..2^8-1>;                    /* DTLS only */
//     CipherSuite cipher_suites<2..2^16-2>;
//     opaque legacy_compression_methods<1..2^8-1>;
//     Extension extensions<0..2^16-1>;
// } ClientHello;
type ClientHello struct {
	HandshakeHeader
	ProtocolVersion    Uint16Field
	Random             BytesField
	SessionIDLength    Uint8Field
	SessionID          BytesField
	CookieLength       Uint8Field
	Cookie             BytesField
	CipherSuitesLength Uint16Field
	CipherSuites       BytesField
	CompressionsLength Uint8Field
	Compressions       BytesField
	ExtensionBlock
}

func (*ClientHello) Kind() MessageKind { return KindClientHello }

func (m *ClientHello) Suites() []CipherSuite {
	return bytesToUint16s[CipherSuite](m.CipherSuites.Resolve())
}

func (m *ClientHello) CompressionMethods() []CompressionMethod {
	return bytesToUint8s[CompressionMethod](m.Compressions.Resolve())
}

func parseClientHello(m *ClientHello, p *Parser, ch Chooser) {
	v := parseUint(p, &m.ProtocolVersion, 2, "client_version")
	parseBytes(p, &m.Random, randomLength, "random")
	parseVector(p, &m.SessionIDLength, &m.SessionID, 1, "session_id")
	if ProtocolVersion(v).IsDTLS() || dtlsMode(ch) {
		parseVector(p, &m.CookieLength, &m.Cookie, 1, "cookie")
	}
	parseVector(p, &m.CipherSuitesLength, &m.CipherSuites, 2, "cipher_suites")
	parseVector(p, &m.CompressionsLength, &m.Compressions, 1, "compression_methods")
	m.parseBlock(p, extCtx{msg: HandshakeTypeClientHello}, false)
}

// legacyVersion is the version written in the hello itself. TLS 1.3 hides
// behind supported_versions.
func legacyVersion(v ProtocolVersion) ProtocolVersion {
	switch v {
	case VersionTLS13:
		return VersionTLS12
	case VersionDTLS13:
		return VersionDTLS12
	}
	return v
}

func prepareClientHello(m *ClientHello, ch Chooser) error {
	m.ProtocolVersion.Prepare(func() uint16 { return uint16(legacyVersion(ch.HighestClientVersion())) })
	m.Random.Prepare(ch.ClientRandom)
	prepareVector(&m.SessionIDLength, &m.SessionID, ch.ClientSessionID)
	if dtlsMode(ch) {
		prepareVector(&m.CookieLength, &m.Cookie, ch.DTLSCookie)
	}
	prepareVector(&m.CipherSuitesLength, &m.CipherSuites, func() []byte {
		return uint16sToBytes(ch.Config().CipherSuites)
	})
	prepareVector(&m.CompressionsLength, &m.Compressions, func() []byte {
		return uint8sToBytes(ch.Config().CompressionMethods)
	})
	if err := m.prepareBlock(ch, extCtx{msg: HandshakeTypeClientHello}, false); err != nil {
		return err
	}
	return m.prepareBinders(ch)
}

// prepareBinders computes PSK binders over the ClientHello truncated right
// before the binders list, then refreshes the lengths around them.
func (m *ClientHello) prepareBinders(ch Chooser) error {
	psk, ok := findExtension[*PreSharedKeyExtension](&m.ExtensionBlock)
	if !ok || !psk.IdentitiesLength.IsSet() {
		return nil
	}

	c := messageCodecs[KindClientHello]
	prepareHandshakeHeader(c, m, ch)
	full := SerializeMessage(m)

	tail := len(psk.Trailing.Resolve()) + len(m.Trailing.Resolve())
	seen := false
	for _, e := range m.Extensions {
		if seen {
			tail += len(serializeExtension(e))
		}
		if e == Extension(psk) {
			seen = true
		}
	}
	cut := len(full) - tail - psk.bindersSize()
	if cut < 0 {
		return malformed("ClientHello shorter than its binders")
	}
	if err := psk.computeBinders(ch.Context(), full[:cut]); err != nil {
		return err
	}
	psk.Length.Prepare(func() uint16 { return uint16(len(serializeExtensionBody(psk))) })
	m.reserializeBlock()
	return nil
}

func serializeClientHello(m *ClientHello, s *Serializer) {
	putUint(s, &m.ProtocolVersion, 2)
	putBytes(s, &m.Random)
	putVector(s, &m.SessionIDLength, &m.SessionID, 1)
	if m.CookieLength.IsSet() {
		putVector(s, &m.CookieLength, &m.Cookie, 1)
	}
	putVector(s, &m.CipherSuitesLength, &m.CipherSuites, 2)
	putVector(s, &m.CompressionsLength, &m.Compressions, 1)
	m.serializeBlock(s)
}

// struct {
//     ProtocolVersion legacy_version = 0x0303;    /* TLS v1.2 */
//     Random random;
//     opaque legacy_session_id_echo<0..32>;
//     CipherSuite cipher_suite;
//     uint8 legacy_compression_method = 0;
//     Extension extensions<6..2^16-1>;
// } ServerHello;
type ServerHello struct {
	HandshakeHeader
	ProtocolVersion Uint16Field
	Random          BytesField
	SessionIDLength Uint8Field
	SessionID       BytesField
	CipherSuite     Uint16Field
	Compression     Uint8Field
	ExtensionBlock

	// RetryRequest makes prepare build a HelloRetryRequest.
	RetryRequest bool
}

func (*ServerHello) Kind() MessageKind { return KindServerHello }

// IsHelloRetryRequest reports whether the random is the HRR sentinel.
func (m *ServerHello) IsHelloRetryRequest() bool {
	return bytes.Equal(m.Random.Resolve(), helloRetryRequestRandom)
}

func (m *ServerHello) extContext() extCtx {
	return extCtx{msg: HandshakeTypeServerHello, hrr: m.IsHelloRetryRequest()}
}

func parseServerHello(m *ServerHello, p *Parser, _ Chooser) {
	parseUint(p, &m.ProtocolVersion, 2, "server_version")
	parseBytes(p, &m.Random, randomLength, "random")
	parseVector(p, &m.SessionIDLength, &m.SessionID, 1, "session_id")
	parseUint(p, &m.CipherSuite, 2, "cipher_suite")
	parseUint(p, &m.Compression, 1, "compression_method")
	m.RetryRequest = m.IsHelloRetryRequest()
	m.parseBlock(p, m.extContext(), false)
}

func prepareServerHello(m *ServerHello, ch Chooser) error {
	v := ch.ProtocolVersion()
	m.ProtocolVersion.Prepare(func() uint16 { return uint16(legacyVersion(v)) })
	m.Random.Prepare(func() []byte {
		if m.RetryRequest {
			return append([]byte{}, helloRetryRequestRandom...)
		}
		return ch.ServerRandom()
	})
	prepareVector(&m.SessionIDLength, &m.SessionID, func() []byte {
		if v.IsTLS13() {
			return ch.ClientSessionID()
		}
		return ch.SessionID()
	})
	m.CipherSuite.Prepare(func() uint16 { return uint16(ch.CipherSuite()) })
	m.Compression.Prepare(func() uint8 { return uint8(ch.Compression()) })
	x := extCtx{msg: HandshakeTypeServerHello, hrr: m.RetryRequest}
	return m.prepareBlock(ch, x, false)
}

func serializeServerHello(m *ServerHello, s *Serializer) {
	putUint(s, &m.ProtocolVersion, 2)
	putBytes(s, &m.Random)
	putVector(s, &m.SessionIDLength, &m.SessionID, 1)
	putUint(s, &m.CipherSuite, 2)
	putUint(s, &m.Compression, 1)
	m.serializeBlock(s)
}

// struct {
//     ProtocolVersion server_version;
//     opaque cookie<0..2^8-1>;
// } HelloVerifyRequest;
type HelloVerifyRequest struct {
	HandshakeHeader
	ProtocolVersion Uint16Field
	CookieLength    Uint8Field
	Cookie          BytesField
}

func (*HelloVerifyRequest) Kind() MessageKind { return KindHelloVerifyRequest }

func parseHelloVerifyRequest(m *HelloVerifyRequest, p *Parser, _ Chooser) {
	parseUint(p, &m.ProtocolVersion, 2, "server_version")
	parseVector(p, &m.CookieLength, &m.Cookie, 1, "cookie")
}

func prepareHelloVerifyRequest(m *HelloVerifyRequest, ch Chooser) error {
	m.ProtocolVersion.Prepare(func() uint16 { return uint16(VersionDTLS10) })
	var err error
	prepareVector(&m.CookieLength, &m.Cookie, func() []byte {
		if c := ch.DTLSCookie(); len(c) > 0 {
			return c
		}
		c := make([]byte, 16)
		_, err = io.ReadFull(ch.Rand(), c)
		return c
	})
	if err != nil {
		return cryptoError("cookie: %v", err)
	}
	return nil
}

func serializeHelloVerifyRequest(m *HelloVerifyRequest, s *Serializer) {
	putUint(s, &m.ProtocolVersion, 2)
	putVector(s, &m.CookieLength, &m.Cookie, 1)
}

// struct {
//     Extension extensions<0..2^16-1>;
// } EncryptedExtensions;
type EncryptedExtensions struct {
	HandshakeHeader
	ExtensionBlock
}

func (*EncryptedExtensions) Kind() MessageKind { return KindEncryptedExtensions }

var eeCtx = extCtx{msg: HandshakeTypeEncryptedExtensions}

func parseEncryptedExtensions(m *EncryptedExtensions, p *Parser, _ Chooser) {
	m.parseBlock(p, eeCtx, true)
}

func prepareEncryptedExtensions(m *EncryptedExtensions, ch Chooser) error {
	return m.prepareBlock(ch, eeCtx, true)
}

func serializeEncryptedExtensions(m *EncryptedExtensions, s *Serializer) {
	m.serializeBlock(s)
}
