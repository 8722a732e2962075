package anvil

import (
	"fmt"
	"testing"
)

func testChooser(t *testing.T, cfg *Config, end ConnectionEnd) Chooser {
	t.Helper()
	assertNotError(t, cfg.Init(), "config init")
	return NewContext(cfg, end).Chooser()
}

func TestOverridable(t *testing.T) {
	var f Uint16Field
	assertTrue(t, !f.IsSet(), "zero field is unset")
	assertEquals(t, f.String(), "<unset>")

	f.Prepare(func() uint16 { return 7 })
	assertEquals(t, f.Resolve(), uint16(7))

	f.Override(9)
	calls := 0
	f.Prepare(func() uint16 { calls++; return 8 })
	assertEquals(t, calls, 0)
	assertEquals(t, f.Resolve(), uint16(9))
	v, ok := f.Assigned()
	assertTrue(t, ok, "assigned value is kept under an override")
	assertEquals(t, v, uint16(7))

	f.ClearOverride()
	assertEquals(t, f.Resolve(), uint16(7))
	f.Prepare(func() uint16 { return 8 })
	assertEquals(t, f.Resolve(), uint16(8))

	forced := Forced([]byte{1})
	assertTrue(t, forced.Overridden() && forced.IsSet(), "forced field")
}

func TestParserShortInput(t *testing.T) {
	p := NewParser([]byte{0x00, 0x05, 0xaa})
	n := p.Uint16("length")
	assertEquals(t, n, uint16(5))
	body := p.Bytes(int(n), "body")
	assertNil(t, body, "short read yields nil")
	assertError(t, p.Err(), "short read is an error")
	assertKind(t, p.Err(), ErrMalformedInput)

	// Errors are sticky.
	p.Uint8("more")
	assertKind(t, p.Err(), ErrMalformedInput)
}

func TestClientHelloRoundTrip(t *testing.T) {
	client := testChooser(t, tls13Config(), ConnectionEndClient)
	ch := &ClientHello{}
	for _, et := range []ExtensionType{ExtensionTypeSupportedVersions, ExtensionTypeSupportedGroups,
		ExtensionTypeSignatureAlgorithms, ExtensionTypeKeyShare, ExtensionTypeServerName} {
		ch.AddExtension(NewExtension(et))
	}
	assertNotError(t, PrepareMessage(ch, client), "prepare ClientHello")
	wire := SerializeMessage(ch)
	assertEquals(t, wire[0], uint8(HandshakeTypeClientHello))

	server := testChooser(t, tls13Config(), ConnectionEndServer)
	m, n, err := ParseMessage(RecordTypeHandshake, wire, server)
	assertNotError(t, err, "parse ClientHello")
	assertEquals(t, n, len(wire))
	parsed, ok := m.(*ClientHello)
	assertTrue(t, ok, "parsed a ClientHello")
	assertEquals(t, len(parsed.Extensions), 5)
	assertDeepEquals(t, parsed.Suites(), []CipherSuite{TLS_AES_128_GCM_SHA256})
	assertNotNil(t, parsed.Extension(ExtensionTypeKeyShare), "key_share survives")
	assertByteEquals(t, SerializeMessage(parsed), wire)
}

func TestOverriddenLengthIsWrittenVerbatim(t *testing.T) {
	client := testChooser(t, tls13Config(), ConnectionEndClient)
	ch := &ClientHello{}
	ch.CipherSuitesLength.Override(0xffff)
	ch.Random.Override(make([]byte, 5))
	assertNotError(t, PrepareMessage(ch, client), "prepare")
	wire := SerializeMessage(ch)

	// type(1) length(3) version(2) random(5) session_id_length(1) ...
	assertByteEquals(t, wire[6:11], make([]byte, 5))
	off := 11 + 1 + len(ch.SessionID.Resolve())
	assertByteEquals(t, wire[off:off+2], []byte{0xff, 0xff})

	// The header length still covers the body actually written.
	assertEquals(t, int(ch.Length.Resolve()), len(wire)-handshakeHeaderLenTLS)
}

func TestTrailingBytesArePreserved(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndClient)
	wire := []byte{uint8(HandshakeTypeServerHelloDone), 0x00, 0x00, 0x02, 0xab, 0xcd}
	m, n, err := ParseMessage(RecordTypeHandshake, wire, ch)
	assertNotError(t, err, "parse")
	assertEquals(t, n, len(wire))
	shd, ok := m.(*ServerHelloDone)
	assertTrue(t, ok, "parsed a ServerHelloDone")
	assertByteEquals(t, shd.Trailing.Resolve(), []byte{0xab, 0xcd})
	assertByteEquals(t, SerializeMessage(shd), wire)
}

func TestIncompleteHandshakeMessage(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndClient)
	m, n, err := ParseMessage(RecordTypeHandshake, []byte{uint8(HandshakeTypeFinished), 0x00, 0x00, 0x0c, 0x01}, ch)
	assertNotError(t, err, "incomplete message is not an error")
	assertNil(t, m, "no message yet")
	assertEquals(t, n, 0)
}

func TestUnknownHandshakeType(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndClient)
	wire := []byte{0xee, 0x00, 0x00, 0x03, 0x01, 0x02, 0x03}
	m, n, err := ParseMessage(RecordTypeHandshake, wire, ch)
	assertNotError(t, err, "parse")
	assertEquals(t, n, len(wire))
	u, ok := m.(*UnknownMessage)
	assertTrue(t, ok, "unknown type is kept raw")
	assertByteEquals(t, u.Body.Resolve(), []byte{0x01, 0x02, 0x03})
	assertByteEquals(t, SerializeMessage(u), wire)
}

func TestUnparseableBodyFallsBack(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndClient)
	// A ServerHello body of two bytes.
	wire := []byte{uint8(HandshakeTypeServerHello), 0x00, 0x00, 0x02, 0x03, 0x03}
	m, _, err := ParseMessage(RecordTypeHandshake, wire, ch)
	assertNotError(t, err, "parse")
	_, ok := m.(*UnknownMessage)
	assertTrue(t, ok, "broken ServerHello is kept raw")
	assertByteEquals(t, SerializeMessage(m), wire)
}

func TestDTLSHandshakeHeader(t *testing.T) {
	cfg := &Config{UseDTLS: true}
	client := testChooser(t, cfg, ConnectionEndClient)
	client.Context().DTLSWriteHandshakeSeq = 3

	fin := &Finished{}
	fin.VerifyData.Override([]byte{1, 2, 3, 4})
	assertNotError(t, PrepareMessage(fin, client), "prepare Finished")
	wire := SerializeMessage(fin)
	assertEquals(t, len(wire), handshakeHeaderLenDTLS+4)
	assertByteEquals(t, wire[:handshakeHeaderLenDTLS], []byte{
		uint8(HandshakeTypeFinished), 0, 0, 4, // type, length
		0, 3, // message_seq
		0, 0, 0, // fragment_offset
		0, 0, 4, // fragment_length
	})

	m, _, err := ParseMessage(RecordTypeHandshake, wire, testChooser(t, &Config{UseDTLS: true}, ConnectionEndServer))
	assertNotError(t, err, "parse DTLS Finished")
	parsed := m.(*Finished)
	assertEquals(t, parsed.MessageSeq.Resolve(), uint16(3))
	assertByteEquals(t, parsed.VerifyData.Resolve(), []byte{1, 2, 3, 4})
}

func TestAlertCodec(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndClient)
	m, n, err := ParseMessage(RecordTypeAlert, []byte{2, 40}, ch)
	assertNotError(t, err, "parse alert")
	assertEquals(t, n, 2)
	a := m.(*AlertMessage)
	assertEquals(t, a.Level.Resolve(), uint8(2))
	assertEquals(t, a.Description.Resolve(), uint8(40))
	assertByteEquals(t, SerializeMessage(a), []byte{2, 40})
}

func suiteConfig(suite CipherSuite) *Config {
	c := tls12Config()
	c.CipherSuites = []CipherSuite{suite}
	return c
}

// Wire images checked byte for byte against the RFC layouts. Parsing and
// re-serializing must give back the same bytes.
func TestMessageFixtures(t *testing.T) {
	cases := []struct {
		name   string
		cfg    *Config
		end    ConnectionEnd
		record RecordType
		wire   string
		kind   MessageKind
	}{
		{"ServerKeyExchange DHE", suiteConfig(TLS_DHE_RSA_WITH_AES_128_CBC_SHA), ConnectionEndClient, RecordTypeHandshake, "0c000012000200fb0001020002123404030003aabbcc", KindServerKeyExchange},
		{"ServerKeyExchange ECDHE", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "0c00000d03001702010204030003aabbcc", KindServerKeyExchange},
		{"ServerKeyExchange PSK", suiteConfig(TLS_PSK_WITH_AES_128_CBC_SHA), ConnectionEndClient, RecordTypeHandshake, "0c000006000468696e74", KindServerKeyExchange},
		{"ServerKeyExchange ECDHE_PSK", suiteConfig(TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA), ConnectionEndClient, RecordTypeHandshake, "0c00000c0002686903001d0401020304", KindServerKeyExchange},
		{"ServerKeyExchange SRP", suiteConfig(TLS_SRP_SHA_WITH_AES_128_CBC_SHA), ConnectionEndClient, RecordTypeHandshake, "0c00000e000200f700010202010200020304", KindServerKeyExchange},
		{"ClientKeyExchange RSA", suiteConfig(TLS_RSA_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "10000006000401020304", KindClientKeyExchange},
		{"ClientKeyExchange ECDHE", tls12Config(), ConnectionEndServer, RecordTypeHandshake, "10000003020102", KindClientKeyExchange},
		{"ClientKeyExchange DHE", suiteConfig(TLS_DHE_RSA_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "100000050003010203", KindClientKeyExchange},
		{"ClientKeyExchange PSK", suiteConfig(TLS_PSK_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "100000050003616263", KindClientKeyExchange},
		{"ClientKeyExchange RSA_PSK", suiteConfig(TLS_RSA_PSK_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "10000008000269640002aabb", KindClientKeyExchange},
		{"ClientKeyExchange DHE_PSK", suiteConfig(TLS_DHE_PSK_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "1000000700016100020102", KindClientKeyExchange},
		{"ClientKeyExchange ECDHE_PSK", suiteConfig(TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "100000080002696403010203", KindClientKeyExchange},
		{"ClientKeyExchange SRP", suiteConfig(TLS_SRP_SHA_WITH_AES_128_CBC_SHA), ConnectionEndServer, RecordTypeHandshake, "1000000400020102", KindClientKeyExchange},
		{"ServerHello TLS 1.2", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "0200002d0303111111111111111111111111111111111111111111111111111111111111111100c02b000005ff01000100", KindServerHello},
		{"NewSessionTicket TLS 1.2", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "0400000900001c200003010203", KindNewSessionTicket},
		{"NewSessionTicket TLS 1.3", tls13Config(), ConnectionEndClient, RecordTypeHandshake, "0400001900001c2001020304020a0b00020c0d0008002a000400004000", KindNewSessionTicket},
		{"Certificate TLS 1.2", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "0b00000e00000b0000040102030400000105", KindCertificate},
		{"Certificate TLS 1.3", tls13Config(), ConnectionEndClient, RecordTypeHandshake, "0b00000d00000009000004010203040000", KindCertificate},
		{"CertificateRequest TLS 1.2", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "0d00001002014000040403080400050003616263", KindCertificateRequest},
		{"CertificateRequest TLS 1.3", tls13Config(), ConnectionEndClient, RecordTypeHandshake, "0d00000b000008000d000400020403", KindCertificateRequest},
		{"CertificateVerify", tls12Config(), ConnectionEndServer, RecordTypeHandshake, "0f00000704030003aabbcc", KindCertificateVerify},
		{"EncryptedExtensions", tls13Config(), ConnectionEndClient, RecordTypeHandshake, "0800000b0009001000050003026832", KindEncryptedExtensions},
		{"KeyUpdate", tls13Config(), ConnectionEndClient, RecordTypeHandshake, "1800000101", KindKeyUpdate},
		{"EndOfEarlyData", tls13Config(), ConnectionEndServer, RecordTypeHandshake, "05000000", KindEndOfEarlyData},
		{"HelloRequest", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "00000000", KindHelloRequest},
		{"SupplementalData", tls12Config(), ConnectionEndClient, RecordTypeHandshake, "1700000900000640020002abcd", KindSupplementalData},
		{"HelloVerifyRequest", dtlsConfig(), ConnectionEndClient, RecordTypeHandshake, "030000050000000000000005feff02abcd", KindHelloVerifyRequest},
		{"Heartbeat", tls12Config(), ConnectionEndServer, RecordTypeHeartbeat, "01000361626300000000", KindHeartbeat},
		{"ChangeCipherSpec", tls12Config(), ConnectionEndServer, RecordTypeChangeCipherSpec, "01", KindChangeCipherSpec},
		{"ApplicationData", tls12Config(), ConnectionEndServer, RecordTypeApplicationData, "68656c6c6f", KindApplicationData},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ch := testChooser(t, c.cfg, c.end)
			wire := unhex(c.wire)
			m, n, err := ParseMessage(c.record, wire, ch)
			assertNotError(t, err, "parse")
			assertNotNil(t, m, "message parsed")
			assertEquals(t, m.Kind(), c.kind)
			assertEquals(t, n, len(wire))
			if hm, ok := m.(handshakeMessage); ok {
				assertTrue(t, !hm.Header().Trailing.IsSet(), "body fully consumed")
			}
			assertByteEquals(t, SerializeMessage(m), wire)
		})
	}
}

func TestSSL2MessageFixtures(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndServer)
	for _, c := range []struct {
		wire string
		kind MessageKind
	}{
		{"801c010002000300000010010080000102030405060708090a0b0c0d0e0f", KindSSL2ClientHello},
		{"80120400010002000200030002aabb010080ccdd", KindSSL2ServerHello},
	} {
		wire := unhex(c.wire)
		m, n, err := ParseSSL2Message(wire, ch)
		assertNotError(t, err, "parse SSLv2")
		assertEquals(t, m.Kind(), c.kind)
		assertEquals(t, n, len(wire))
		assertByteEquals(t, SerializeMessage(m), wire)
	}

	m, _, err := ParseSSL2Message(unhex("801c010002000300000010010080000102030405060708090a0b0c0d0e0f"), ch)
	assertNotError(t, err, "parse SSLv2")
	hello := m.(*SSL2ClientHello)
	assertEquals(t, len(hello.Challenge.Resolve()), 16)
	assertByteEquals(t, hello.CipherSpecs.Resolve(), SSL_CK_RC4_128_WITH_MD5.Bytes())
}

// Whatever the engine prepares on its own must parse back as the same
// message.
func TestPreparedMessagesParse(t *testing.T) {
	cases := []struct {
		cfg  *Config
		end  ConnectionEnd
		kind MessageKind
	}{
		{tls12Config(), ConnectionEndServer, KindHelloRequest},
		{tls12Config(), ConnectionEndServer, KindServerHelloDone},
		{tls12Config(), ConnectionEndServer, KindCertificate},
		{tls13Config(), ConnectionEndServer, KindCertificate},
		{tls12Config(), ConnectionEndServer, KindCertificateRequest},
		{tls13Config(), ConnectionEndServer, KindCertificateRequest},
		{tls12Config(), ConnectionEndServer, KindNewSessionTicket},
		{tls13Config(), ConnectionEndServer, KindNewSessionTicket},
		{tls13Config(), ConnectionEndServer, KindKeyUpdate},
		{tls13Config(), ConnectionEndServer, KindEncryptedExtensions},
		{tls13Config(), ConnectionEndClient, KindEndOfEarlyData},
		{tls12Config(), ConnectionEndServer, KindServerKeyExchange},
		{suiteConfig(TLS_RSA_WITH_AES_128_CBC_SHA), ConnectionEndClient, KindClientKeyExchange},
		{suiteConfig(TLS_PSK_WITH_AES_128_CBC_SHA), ConnectionEndClient, KindClientKeyExchange},
		{dtlsConfig(), ConnectionEndServer, KindHelloVerifyRequest},
		{tls12Config(), ConnectionEndClient, KindChangeCipherSpec},
		{tls12Config(), ConnectionEndClient, KindAlert},
		{tls12Config(), ConnectionEndClient, KindApplicationData},
		{tls12Config(), ConnectionEndClient, KindHeartbeat},
		{tls12Config(), ConnectionEndClient, KindSSL2ClientHello},
		{tls12Config(), ConnectionEndServer, KindSSL2ServerHello},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			ch := testChooser(t, c.cfg, c.end)
			m := NewMessage(c.kind)
			assertNotError(t, PrepareMessage(m, ch), "prepare")
			wire := SerializeMessage(m)

			var back ProtocolMessage
			var n int
			var err error
			if c.kind == KindSSL2ClientHello || c.kind == KindSSL2ServerHello {
				back, n, err = ParseSSL2Message(wire, ch)
			} else {
				back, n, err = ParseMessage(RecordTypeOf(m), wire, ch)
			}
			assertNotError(t, err, "parse")
			assertNotNil(t, back, "message parsed")
			assertEquals(t, back.Kind(), c.kind)
			assertEquals(t, n, len(wire))
			assertByteEquals(t, SerializeMessage(back), wire)
		})
	}
}

func TestSupplementalDataIsNotPrepared(t *testing.T) {
	ch := testChooser(t, tls12Config(), ConnectionEndServer)
	err := PrepareMessage(NewMessage(KindSupplementalData), ch)
	assertKind(t, err, ErrUnsupportedFeature)
}

var (
	clientHelloExtCtx = extCtx{msg: HandshakeTypeClientHello}
	serverHelloExtCtx = extCtx{msg: HandshakeTypeServerHello}
)

func TestExtensionFixtures(t *testing.T) {
	cases := []struct {
		name string
		x    extCtx
		wire string
		typ  string
	}{
		{"server_name", clientHelloExtCtx, "0000000e000c0000096c6f63616c686f7374", "*anvil.ServerNameExtension"},
		{"max_fragment_length", clientHelloExtCtx, "0001000102", "*anvil.MaxFragmentLengthExtension"},
		{"trusted_ca_keys", clientHelloExtCtx, "0003001d001b000122222222222222222222222222222222222222220200023000", "*anvil.TrustedCAKeysExtension"},
		{"trusted_ca_keys server", serverHelloExtCtx, "00030000", "*anvil.TrustedCAKeysExtension"},
		{"user_mapping", clientHelloExtCtx, "000600020140", "*anvil.UserMappingExtension"},
		{"client_authz", clientHelloExtCtx, "00070003020001", "*anvil.ClientAuthzExtension"},
		{"server_authz", serverHelloExtCtx, "000800020100", "*anvil.ServerAuthzExtension"},
		{"supported_groups", clientHelloExtCtx, "000a00060004001d0017", "*anvil.SupportedGroupsExtension"},
		{"ec_point_formats", clientHelloExtCtx, "000b00020100", "*anvil.ECPointFormatsExtension"},
		{"signature_algorithms", clientHelloExtCtx, "000d0006000404030804", "*anvil.SignatureAlgorithmsExtension"},
		{"heartbeat", clientHelloExtCtx, "000f000101", "*anvil.HeartbeatExtension"},
		{"alpn", clientHelloExtCtx, "0010000e000c02683208687474702f312e31", "*anvil.ALPNExtension"},
		{"client_certificate_type", clientHelloExtCtx, "00130003020002", "*anvil.ClientCertificateTypeExtension"},
		{"server_certificate_type", serverHelloExtCtx, "0014000102", "*anvil.ServerCertificateTypeExtension"},
		{"padding", clientHelloExtCtx, "001500050000000000", "*anvil.PaddingExtension"},
		{"encrypt_then_mac", clientHelloExtCtx, "00160000", "*anvil.EncryptThenMACExtension"},
		{"extended_master_secret", clientHelloExtCtx, "00170000", "*anvil.ExtendedMasterSecretExtension"},
		{"cached_info", clientHelloExtCtx, "0019000800060102abcd0200", "*anvil.CachedInfoExtension"},
		{"cached_info server", serverHelloExtCtx, "0019000400020102", "*anvil.CachedInfoExtension"},
		{"record_size_limit", clientHelloExtCtx, "001c00024001", "*anvil.RecordSizeLimitExtension"},
		{"pwd_protect", clientHelloExtCtx, "001d000403a1a2a3", "*anvil.PWDProtectExtension"},
		{"pwd_clear", clientHelloExtCtx, "001e00050466726564", "*anvil.PWDClearExtension"},
		{"password_salt", serverHelloExtCtx, "001f00030001aa", "*anvil.PasswordSaltExtension"},
		{"session_ticket", clientHelloExtCtx, "00230002abcd", "*anvil.SessionTicketExtension"},
		{"pre_shared_key", clientHelloExtCtx, "002900100009000361626300000001000302abcd", "*anvil.PreSharedKeyExtension"},
		{"pre_shared_key server", serverHelloExtCtx, "002900020000", "*anvil.PreSharedKeyExtension"},
		{"early_data ticket", newSessionTicketCtx, "002a000400004000", "*anvil.EarlyDataExtension"},
		{"supported_versions", clientHelloExtCtx, "002b00050403040303", "*anvil.SupportedVersionsExtension"},
		{"supported_versions server", serverHelloExtCtx, "002b00020304", "*anvil.SupportedVersionsExtension"},
		{"cookie", clientHelloExtCtx, "002c00040002abcd", "*anvil.CookieExtension"},
		{"psk_key_exchange_modes", clientHelloExtCtx, "002d00020101", "*anvil.PSKKeyExchangeModesExtension"},
		{"key_share", clientHelloExtCtx, "0033000a0008001d000401020304", "*anvil.KeyShareExtension"},
		{"key_share server", serverHelloExtCtx, "00330008001d000401020304", "*anvil.KeyShareExtension"},
		{"encrypted_server_name", clientHelloExtCtx, "ffce000f1301001d0002abcd0001ee00020102", "*anvil.EncryptedServerNameExtension"},
		{"encrypted_server_name nonce", eeCtx, "ffce0010000102030405060708090a0b0c0d0e0f", "*anvil.EncryptedServerNameExtension"},
		{"renegotiation_info", serverHelloExtCtx, "ff010003020102", "*anvil.RenegotiationInfoExtension"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wire := unhex(c.wire)
			exts, err := parseExtensions(wire, c.x)
			assertNotError(t, err, "parse")
			assertEquals(t, len(exts), 1)
			e := exts[0]
			assertEquals(t, fmt.Sprintf("%T", e), c.typ)
			assertTrue(t, !e.ExtHeader().Trailing.IsSet(), "body fully consumed")
			assertByteEquals(t, serializeExtension(e), wire)
		})
	}
}

func TestTrustedCAKeysRejectsUnknownIdentifier(t *testing.T) {
	exts, err := parseExtensions(unhex("00030003000109"), clientHelloExtCtx)
	assertNotError(t, err, "an unparseable body is kept raw")
	_, raw := exts[0].(*UnknownExtension)
	assertTrue(t, raw, "unknown identifier type falls back to raw")
}

func TestCodecOnlyExtensionsPrepare(t *testing.T) {
	cfg := tls13Config()
	cfg.PWDUsername = "fred"
	cfg.AuthzFormats = HexBytes{1, 2}
	ch := testChooser(t, cfg, ConnectionEndClient)

	pwd := &PWDClearExtension{}
	assertNotError(t, prepareExtension(pwd, ch, clientHelloExtCtx), "prepare pwd_clear")
	assertByteEquals(t, serializeExtension(pwd), unhex("001e00050466726564"))

	authz := &ClientAuthzExtension{}
	assertNotError(t, prepareExtension(authz, ch, clientHelloExtCtx), "prepare client_authz")
	assertByteEquals(t, serializeExtension(authz), unhex("00070003020102"))

	mapping := &UserMappingExtension{}
	assertNotError(t, prepareExtension(mapping, ch, clientHelloExtCtx), "prepare user_mapping")
	assertByteEquals(t, serializeExtension(mapping), unhex("000600020140"))

	cas := &TrustedCAKeysExtension{Authorities: []TrustedAuthority{
		NewTrustedAuthority(trustedAuthorityPreAgreed, nil),
		NewTrustedAuthority(trustedAuthorityX509Name, []byte{0x30, 0x00}),
	}}
	assertNotError(t, prepareExtension(cas, ch, clientHelloExtCtx), "prepare trusted_ca_keys")
	assertByteEquals(t, serializeExtension(cas), unhex("000300080006000200023000"))

	esni := &EncryptedServerNameExtension{}
	assertNotError(t, prepareExtension(esni, ch, eeCtx), "prepare server ESNI")
	assertEquals(t, len(serializeExtension(esni)), 4+esniNonceLength)
	exts, err := parseExtensions(serializeExtension(esni), eeCtx)
	assertNotError(t, err, "parse server ESNI")
	assertByteEquals(t, exts[0].(*EncryptedServerNameExtension).Nonce.Resolve(), esni.Nonce.Resolve())
}
