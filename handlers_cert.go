package anvil

import (
	"crypto/x509"
)

func adjustCertificate(m *CertificateMessage, tc *Context) ([]HandshakeAction, error) {
	if tc.sending() {
		return nil, nil
	}
	for i := range m.Entries {
		m.Entries[i].adjustBlock(tc, certificateCtx)
	}
	certs := m.Certificates()
	if len(certs) == 0 {
		tc.warn("peer sent an empty certificate list")
		return nil, nil
	}

	certType, _ := tc.PeerCertificateType.Get()
	switch certType {
	case CertificateTypeOpenPGP:
		tc.warn("%v", unsupported("OpenPGP certificates"))
	case CertificateTypeRawPublicKey:
		pub, err := x509.ParsePKIXPublicKey(certs[0])
		if err != nil {
			tc.warn("raw public key: %v", err)
			return nil, nil
		}
		tc.PeerPublicKey = pub
	default:
		chain := make([]*x509.Certificate, 0, len(certs))
		for i, der := range certs {
			c, err := x509.ParseCertificate(der)
			if err != nil {
				tc.warn("certificate %d: %v", i, err)
				return nil, nil
			}
			chain = append(chain, c)
		}
		tc.PeerCertificates = chain
		tc.PeerPublicKey = chain[0].PublicKey
		logf(logTypeHandshake, "[%v] peer certificate %q", tc.ConnectionEnd, chain[0].Subject.CommonName)
	}
	return nil, nil
}

// adjustCertificateVerify checks a received signature against the transcript
// that preceded the message. A bad signature is only a warning.
func adjustCertificateVerify(m *CertificateVerify, tc *Context) ([]HandshakeAction, error) {
	if tc.sending() {
		return nil, nil
	}
	if tc.PeerPublicKey == nil {
		tc.warn("CertificateVerify without a peer public key")
		return nil, nil
	}
	scheme := SignatureScheme(0)
	if m.SignatureScheme.IsSet() {
		scheme = SignatureScheme(m.SignatureScheme.Resolve())
	}

	full := tc.Transcript
	tc.Transcript = full.Prefix(full.Len() - len(m.RawBytes()))
	input := certificateVerifyInput(tc, tc.Talking, scheme)
	tc.Transcript = full

	if err := verify(tc.PeerPublicKey, scheme, input, m.Signature.Resolve()); err != nil {
		tc.warn("CertificateVerify: %v", err)
	}
	return nil, nil
}
