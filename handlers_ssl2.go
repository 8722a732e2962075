package anvil

import (
	"crypto/x509"
)

// ssl2Random places an SSLv2 challenge or connection id right-aligned in a
// 32-byte random, the way a v2-compatible ClientHello maps into TLS.
func ssl2Random(b []byte) []byte {
	r := make([]byte, randomLength)
	if len(b) > randomLength {
		b = b[len(b)-randomLength:]
	}
	copy(r[randomLength-len(b):], b)
	return r
}

func adjustSSL2ClientHello(m *SSL2ClientHello, tc *Context) ([]HandshakeAction, error) {
	tc.ClientRandom = ssl2Random(m.Challenge.Resolve())
	tc.ClientSessionID = m.SessionID.Resolve()
	tc.HighestClientVersion.Set(ProtocolVersion(m.ProtocolVersion.Resolve()))
	return nil, nil
}

func adjustSSL2ServerHello(m *SSL2ServerHello, tc *Context) ([]HandshakeAction, error) {
	tc.ServerRandom = ssl2Random(m.ConnectionID.Resolve())
	tc.ProtocolVersion.Set(ProtocolVersion(m.ProtocolVersion.Resolve()))
	if tc.sending() {
		return nil, nil
	}
	der := m.Certificate.Resolve()
	if len(der) == 0 {
		tc.warn("SSLv2 ServerHello without a certificate")
		return nil, nil
	}
	if m.CertificateType.Resolve() != ssl2CertificateTypeX509 {
		tc.warn("%v", unsupported("SSLv2 certificate type %d", m.CertificateType.Resolve()))
		return nil, nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tc.warn("SSLv2 certificate: %v", err)
		return nil, nil
	}
	tc.PeerCertificates = []*x509.Certificate{cert}
	tc.PeerPublicKey = cert.PublicKey
	return nil, nil
}
