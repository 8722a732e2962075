package anvil

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

type layerPair struct {
	client, server     *Context
	clientRL, serverRL *RecordLayer
}

// newLayerPair installs ks for client writes and server reads.
func newLayerPair(t *testing.T, cfg *Config, v ProtocolVersion, ks KeySet) *layerPair {
	t.Helper()
	assertNotError(t, cfg.Init(), "config init")
	p := &layerPair{
		client: NewContext(cfg, ConnectionEndClient),
		server: NewContext(cfg, ConnectionEndServer),
	}
	p.client.ProtocolVersion.Set(v)
	p.server.ProtocolVersion.Set(v)
	p.clientRL = NewRecordLayer(p.client)
	p.serverRL = NewRecordLayer(p.server)

	cc, err := NewRecordCipher(p.client.Chooser(), ks, ConnectionEndClient)
	assertNotError(t, err, "client cipher")
	sc, err := NewRecordCipher(p.server.Chooser(), ks, ConnectionEndServer)
	assertNotError(t, err, "server cipher")
	p.clientRL.SetCipher(DirectionWrite, cc)
	p.serverRL.SetCipher(DirectionRead, sc)
	return p
}

func (p *layerPair) send(t *testing.T, typ RecordType, data []byte) []byte {
	t.Helper()
	records, err := p.clientRL.BuildRecords(typ, data)
	assertNotError(t, err, "build records")
	var wire []byte
	for _, r := range records {
		wire = append(wire, r.Serialize()...)
	}
	return wire
}

func (p *layerPair) receive(t *testing.T, wire []byte) ([]*Record, []error) {
	t.Helper()
	records, err := p.serverRL.ParseRecords(wire)
	assertNotError(t, err, "parse records")
	errs := make([]error, len(records))
	for i, r := range records {
		errs[i] = p.serverRL.DecryptRecord(r)
	}
	return records, errs
}

func testKeySet(keyLen, ivLen, macLen int) KeySet {
	fill := func(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }
	return KeySet{
		Type:            KeySetApplication,
		ClientWriteKey:  fill(keyLen, 0x01),
		ServerWriteKey:  fill(keyLen, 0x02),
		ClientWriteIV:   fill(ivLen, 0x03),
		ServerWriteIV:   fill(ivLen, 0x04),
		ClientMACSecret: fill(macLen, 0x05),
		ServerMACSecret: fill(macLen, 0x06),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	cases := map[string]struct {
		suite   CipherSuite
		version ProtocolVersion
		ks      KeySet
	}{
		"TLS 1.2 GCM":     {TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, VersionTLS12, testKeySet(16, 4, 0)},
		"TLS 1.2 CBC":     {TLS_RSA_WITH_AES_128_CBC_SHA, VersionTLS12, testKeySet(16, 0, 20)},
		"TLS 1.0 CBC":     {TLS_RSA_WITH_AES_128_CBC_SHA, VersionTLS10, testKeySet(16, 16, 20)},
		"TLS 1.3 GCM":     {TLS_AES_128_GCM_SHA256, VersionTLS13, testKeySet(16, 12, 0)},
		"TLS 1.3 CCM_8":   {TLS_AES_128_CCM_8_SHA256, VersionTLS13, testKeySet(16, 12, 0)},
		"TLS 1.3 ChaCha":  {TLS_CHACHA20_POLY1305_SHA256, VersionTLS13, testKeySet(32, 12, 0)},
		"DTLS 1.2 GCM":    {TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, VersionDTLS12, testKeySet(16, 4, 0)},
		"TLS 1.2 CBC SHA2": {TLS_RSA_WITH_AES_128_CBC_SHA256, VersionTLS12, testKeySet(16, 0, 32)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{DefaultCipherSuite: c.suite, UseDTLS: c.version.IsDTLS()}
			p := newLayerPair(t, cfg, c.version, c.ks)
			data := []byte("attack at dawn")

			wire := p.send(t, RecordTypeApplicationData, data)
			assertTrue(t, !bytes.Contains(wire, data), "plaintext is not on the wire")
			records, errs := p.receive(t, wire)
			assertEquals(t, len(records), 1)
			assertNotError(t, errs[0], "decrypt")
			assertEquals(t, records[0].Type, RecordTypeApplicationData)
			assertByteEquals(t, records[0].CleanBytes, data)
			assertEquals(t, p.serverRL.SequenceNumber(DirectionRead), uint64(1))
		})
	}
}

// Records of "attack at dawn" at sequence number 5 under testKeySet keys.
func TestAEADRecordVectors(t *testing.T) {
	cases := map[string]struct {
		suite   CipherSuite
		version ProtocolVersion
		ivLen   int
		wire    string
	}{
		"TLS 1.2 AES-128-GCM": {
			TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, VersionTLS12, 4,
			"1703030026000000000000000505663b4a8486a9f8968d7786a75da4c40cb48d456c557c0b0bc08aa32d12",
		},
		"TLS 1.3 AES-128-CCM": {
			TLS_AES_128_CCM_SHA256, VersionTLS13, 12,
			"170303001fa73a3e1f5cc81bec626620664ad183b5cb25c9c04adaf3c691dec5babbc6a1",
		},
		"TLS 1.3 AES-128-CCM_8": {
			TLS_AES_128_CCM_8_SHA256, VersionTLS13, 12,
			"1703030017a73a3e1f5cc81bec626620664ad183ffc01e9ba2b5ac85",
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			p := newLayerPair(t, &Config{DefaultCipherSuite: c.suite}, c.version, testKeySet(16, c.ivLen, 0))
			p.clientRL.SetSequenceNumber(DirectionWrite, 5)
			p.serverRL.SetSequenceNumber(DirectionRead, 5)

			wire := p.send(t, RecordTypeApplicationData, []byte("attack at dawn"))
			assertByteEquals(t, wire, unhex(c.wire))

			records, errs := p.receive(t, unhex(c.wire))
			assertNotError(t, errs[0], "decrypt fixed record")
			assertByteEquals(t, records[0].CleanBytes, []byte("attack at dawn"))
			assertEquals(t, p.serverRL.SequenceNumber(DirectionRead), uint64(6))
		})
	}
}

func TestTLS13InnerContentType(t *testing.T) {
	cfg := &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256, RecordPaddingLength: 7}
	p := newLayerPair(t, cfg, VersionTLS13, testKeySet(16, 12, 0))

	wire := p.send(t, RecordTypeHandshake, []byte{0x14, 0x00, 0x00, 0x00})
	assertEquals(t, wire[0], uint8(RecordTypeApplicationData))
	assertByteEquals(t, wire[1:3], []byte{0x03, 0x03})

	records, errs := p.receive(t, wire)
	assertNotError(t, errs[0], "decrypt")
	assertEquals(t, records[0].Type, RecordTypeHandshake)
	assertByteEquals(t, records[0].Computations.Padding.Resolve(), make([]byte, 7))
}

func TestTagFailureAdvancesSequence(t *testing.T) {
	for _, suite := range []CipherSuite{TLS_AES_128_GCM_SHA256, TLS_RSA_WITH_AES_128_CBC_SHA} {
		t.Run(suite.String(), func(t *testing.T) {
			params, _ := CipherSuiteParamsFor(suite)
			version, ks := VersionTLS12, testKeySet(16, 0, 20)
			if params.TLS13 {
				version, ks = VersionTLS13, testKeySet(16, 12, 0)
			}
			p := newLayerPair(t, &Config{DefaultCipherSuite: suite}, version, ks)

			bad := p.send(t, RecordTypeApplicationData, []byte("first"))
			bad[len(bad)-1] ^= 0x01
			good := p.send(t, RecordTypeApplicationData, []byte("second"))

			records, errs := p.receive(t, append(bad, good...))
			assertEquals(t, len(records), 2)
			assertTrue(t, errors.Is(errs[0], ErrAuthenticationFailure), "flipped byte fails authentication")
			assertTrue(t, errors.Is(errs[0], ErrCryptoOperation), "authentication failure is a crypto failure")
			assertNotError(t, errs[1], "next record still decrypts")
			assertByteEquals(t, records[1].CleanBytes, []byte("second"))
			assertEquals(t, p.serverRL.SequenceNumber(DirectionRead), uint64(2))
		})
	}
}

func TestOverriddenTagIsSent(t *testing.T) {
	p := newLayerPair(t, &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256}, VersionTLS13, testKeySet(16, 12, 0))
	records, err := p.clientRL.BuildRecords(RecordTypeApplicationData, []byte("x"))
	assertNotError(t, err, "build")

	r := NewRecord(RecordTypeApplicationData, []byte("y"), false)
	r.Computations.AuthTag.Override(make([]byte, 16))
	assertNotError(t, p.clientRL.ProtectRecord(r), "protect")
	wire := r.Serialize()
	assertByteEquals(t, wire[len(wire)-16:], make([]byte, 16))

	_, errs := p.receive(t, append(records[0].Serialize(), wire...))
	assertNotError(t, errs[0], "first record")
	assertTrue(t, errors.Is(errs[1], ErrAuthenticationFailure), "zero tag is rejected")
}

func TestSplitRecordsBuffered(t *testing.T) {
	p := newLayerPair(t, &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256}, VersionTLS13, testKeySet(16, 12, 0))
	wire := p.send(t, RecordTypeApplicationData, []byte("split me"))

	records, err := p.serverRL.ParseRecords(wire[:7])
	assertNotError(t, err, "partial record")
	assertEquals(t, len(records), 0)
	assertTrue(t, p.serverRL.Buffered(), "partial record is buffered")

	records, err = p.serverRL.ParseRecords(wire[7:])
	assertNotError(t, err, "rest of record")
	assertEquals(t, len(records), 1)
	assertTrue(t, !p.serverRL.Buffered(), "buffer drained")
	assertNotError(t, p.serverRL.DecryptRecord(records[0]), "decrypt")
	assertByteEquals(t, records[0].CleanBytes, []byte("split me"))
}

func TestMaxRecordSizeFragments(t *testing.T) {
	p := newLayerPair(t, &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256, MaxRecordSize: 10}, VersionTLS13, testKeySet(16, 12, 0))
	data := bytes.Repeat([]byte{0x61}, 25)
	records, err := p.clientRL.BuildRecords(RecordTypeApplicationData, data)
	assertNotError(t, err, "build")
	assertEquals(t, len(records), 3)

	var wire []byte
	for _, r := range records {
		wire = append(wire, r.Serialize()...)
	}
	got, errs := p.receive(t, wire)
	var joined []byte
	for i, r := range got {
		assertNotError(t, errs[i], "decrypt")
		joined = append(joined, r.CleanBytes...)
	}
	assertByteEquals(t, joined, data)
}

func TestDeflateCompression(t *testing.T) {
	p := newLayerPair(t, &Config{DefaultCipherSuite: TLS_RSA_WITH_AES_128_CBC_SHA}, VersionTLS12, testKeySet(16, 0, 20))
	p.clientRL.SetCompression(DirectionWrite, CompressionDeflate)
	p.serverRL.SetCompression(DirectionRead, CompressionDeflate)

	data := bytes.Repeat([]byte("compressible "), 50)
	wire := p.send(t, RecordTypeApplicationData, data)
	assertTrue(t, len(wire) < len(data), "record is compressed")
	records, errs := p.receive(t, wire)
	assertNotError(t, errs[0], "decrypt")
	assertByteEquals(t, records[0].CleanBytes, data)
}

func TestDTLSEpochMismatch(t *testing.T) {
	cfg := &Config{DefaultCipherSuite: TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, UseDTLS: true}
	p := newLayerPair(t, cfg, VersionDTLS12, testKeySet(16, 4, 0))

	r := NewRecord(RecordTypeApplicationData, []byte("late"), true)
	r.Epoch.Override(5)
	assertNotError(t, p.clientRL.ProtectRecord(r), "protect")
	records, errs := p.receive(t, r.Serialize())
	assertEquals(t, len(records), 1)
	assertKind(t, errs[0], ErrMalformedInput)
}

func TestResetCipherKeepsSequence(t *testing.T) {
	p := newLayerPair(t, &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256}, VersionTLS13, testKeySet(16, 12, 0))
	p.send(t, RecordTypeApplicationData, []byte("one"))
	p.send(t, RecordTypeApplicationData, []byte("two"))
	epoch := p.clientRL.Epoch(DirectionWrite)

	p.clientRL.ResetCipher(DirectionWrite, p.clientRL.SequenceNumber(DirectionWrite))
	assertEquals(t, p.clientRL.SequenceNumber(DirectionWrite), uint64(2))
	assertEquals(t, p.clientRL.Epoch(DirectionWrite), epoch)

	wire := p.send(t, RecordTypeApplicationData, []byte("clear"))
	assertTrue(t, bytes.Contains(wire, []byte("clear")), "records go out in the clear")
}

func TestEarlyKeysAreClientOnly(t *testing.T) {
	cfg := &Config{DefaultCipherSuite: TLS_AES_128_GCM_SHA256}
	assertNotError(t, cfg.Init(), "config init")
	tc := NewContext(cfg, ConnectionEndServer)
	tc.ProtocolVersion.Set(VersionTLS13)
	tc.ClientEarlyTrafficSecret = bytes.Repeat([]byte{0x07}, 32)

	ks, err := GenerateKeySet(tc.Chooser(), KeySetEarly)
	assertNotError(t, err, "early keys")
	assertEquals(t, len(ks.ClientWriteKey), 16)
	assertEquals(t, len(ks.ClientWriteIV), aeadIVLength)
	assertEquals(t, len(ks.ServerWriteKey), 0)
	assertEquals(t, len(ks.ServerWriteIV), 0)

	p := newLayerPair(t, cfg, VersionTLS13, ks)
	records, errs := p.receive(t, p.send(t, RecordTypeApplicationData, []byte("0-rtt")))
	assertNotError(t, errs[0], "server reads early data")
	assertByteEquals(t, records[0].CleanBytes, []byte("0-rtt"))

	sc, err := NewRecordCipher(p.server.Chooser(), ks, ConnectionEndServer)
	assertNotError(t, err, "server cipher")
	assertKind(t, sc.Encrypt(NewRecord(RecordTypeApplicationData, []byte("reply"), false)), ErrCryptoOperation)
}
