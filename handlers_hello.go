package anvil

// Context adjustment for the hello messages.

func adjustClientHello(m *ClientHello, tc *Context) ([]HandshakeAction, error) {
	tc.ClientRandom = m.Random.Resolve()
	tc.ClientSessionID = m.SessionID.Resolve()
	if m.Cookie.IsSet() {
		tc.DTLSCookie = m.Cookie.Resolve()
	}
	tc.ClientOfferedSuites = m.Suites()
	tc.ClientOfferedCompressions = m.CompressionMethods()
	tc.HighestClientVersion.Set(ProtocolVersion(m.ProtocolVersion.Resolve()))

	x := extCtx{msg: HandshakeTypeClientHello}
	m.adjustBlock(tc, x)
	if len(tc.ClientOfferedVersions) > 0 {
		tc.HighestClientVersion.Set(highestVersion(tc.ClientOfferedVersions))
	}

	if tc.ConnectionEnd == ConnectionEndServer && !tc.sending() {
		negotiateServerParameters(tc)
	}

	if m.Extension(ExtensionTypeEarlyData) != nil {
		if err := deriveEarlyData(m, tc); err != nil {
			tc.warn("early data secrets: %v", err)
		}
	}
	return nil, nil
}

func highestVersion(vs []ProtocolVersion) ProtocolVersion {
	var best ProtocolVersion
	for _, v := range vs {
		if IsGrease(uint16(v)) {
			continue
		}
		if best == 0 || v.AtLeast(best) {
			best = v
		}
	}
	return best
}

// negotiateServerParameters chooses version, suite and compression the way
// a server would from the ClientHello just received.
func negotiateServerParameters(tc *Context) {
	cfg := tc.Config
	version := legacyVersion(cfg.HighestProtocolVersion)
	if client, ok := tc.HighestClientVersion.Get(); ok && !client.AtLeast(version) {
		version = client
	}
	for _, v := range tc.ClientOfferedVersions {
		if v.IsTLS13() && cfg.HighestProtocolVersion.AtLeast(v) && v.IsDTLS() == cfg.HighestProtocolVersion.IsDTLS() {
			version = v
		}
	}
	tc.ProtocolVersion.Set(version)

	for _, want := range cfg.CipherSuites {
		params, ok := CipherSuiteParamsFor(want)
		if !ok || params.TLS13 != version.IsTLS13() {
			continue
		}
		if containsValue(tc.ClientOfferedSuites, want) {
			tc.CipherSuite.Set(want)
			break
		}
	}
	if _, ok := tc.CipherSuite.Get(); !ok {
		tc.warn("no common cipher suite, keeping %v", tc.Chooser().CipherSuite())
	}

	for _, want := range cfg.CompressionMethods {
		if containsValue(tc.ClientOfferedCompressions, want) {
			tc.Compression.Set(want)
			break
		}
	}
	for _, want := range cfg.SignatureSchemes {
		if containsValue(tc.ClientOfferedSignatures, want) {
			tc.SelectedSignature.Set(want)
			break
		}
	}
	logf(logTypeHandshake, "[%v] negotiated %v %v", tc.ConnectionEnd, version, tc.Chooser().CipherSuite())
}

func containsValue[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// deriveEarlyData runs the early part of the key schedule for a ClientHello
// offering 0-RTT with the first PSK.
func deriveEarlyData(m *ClientHello, tc *Context) error {
	psk, ok := findExtension[*PreSharedKeyExtension](&m.ExtensionBlock)
	if !ok {
		return nil
	}
	key := tc.PSK
	if tc.ConnectionEnd == ConnectionEndClient {
		if len(psk.offered) == 0 {
			return nil
		}
		key = psk.offered[0].Key
	}
	if err := tc.computeEarlySecret(key); err != nil {
		return err
	}
	return tc.deriveEarlyTrafficSecret()
}

func adjustServerHello(m *ServerHello, tc *Context) ([]HandshakeAction, error) {
	tc.CipherSuite.Set(CipherSuite(m.CipherSuite.Resolve()))
	if m.IsHelloRetryRequest() {
		m.adjustBlock(tc, m.extContext())
		tc.ClientKeyShares = nil
		tc.KeySharePrivateKeys = map[NamedGroup][]byte{}
		return nil, nil
	}

	tc.ServerRandom = m.Random.Resolve()
	tc.ServerSessionID = m.SessionID.Resolve()
	tc.Compression.Set(CompressionMethod(m.Compression.Resolve()))
	tc.ProtocolVersion.Set(ProtocolVersion(m.ProtocolVersion.Resolve()))
	m.adjustBlock(tc, m.extContext())

	ch := tc.Chooser()
	if !ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}

	if _, ok := tc.SelectedPSKIndex.Get(); !ok {
		// An early secret from a 0-RTT offer is void without a PSK.
		tc.EarlySecret = nil
	}
	if err := tc.deriveHandshakeSecrets(tls13SharedSecret(tc)); err != nil {
		return nil, err
	}
	if tc.sending() {
		return nil, nil
	}
	ks, err := GenerateKeySet(ch, KeySetHandshake)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyIn{KeySet: ks}, RekeyOut{KeySet: ks}}, nil
}

// tls13SharedSecret combines our private key with the peer's share. A
// missing share (psk_ke) or a bad peer key yields nil and, for the latter,
// a warning.
func tls13SharedSecret(tc *Context) []byte {
	if tc.ServerKeyShare == nil {
		return nil
	}
	group := tc.ServerKeyShare.Group
	priv := tc.KeySharePrivateKeys[group]
	peer := tc.ServerKeyShare.KeyExchange
	if tc.ConnectionEnd == ConnectionEndServer {
		peer = nil
		for _, ks := range tc.ClientKeyShares {
			if ks.Group == group {
				peer = ks.KeyExchange
			}
		}
	}
	if priv == nil || peer == nil {
		tc.warn("no key share for %v, using zero shared secret", group)
		return nil
	}
	ss, err := ecdhSharedSecret(group, priv, peer)
	if err != nil {
		tc.warn("key share: %v", err)
		return nil
	}
	return ss
}

func afterSendServerHello(m *ServerHello, tc *Context) ([]HandshakeAction, error) {
	ch := tc.Chooser()
	if m.IsHelloRetryRequest() || !ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}
	ks, err := GenerateKeySet(ch, KeySetHandshake)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyIn{KeySet: ks}, RekeyOut{KeySet: ks}}, nil
}

func adjustHelloVerifyRequest(m *HelloVerifyRequest, tc *Context) ([]HandshakeAction, error) {
	tc.DTLSCookie = m.Cookie.Resolve()
	return nil, nil
}

func adjustEncryptedExtensions(m *EncryptedExtensions, tc *Context) ([]HandshakeAction, error) {
	m.adjustBlock(tc, eeCtx)
	return nil, nil
}
