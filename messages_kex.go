package anvil

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"math/big"
)

// PSKHintParams is the psk_identity_hint of the PSK key exchanges.
type PSKHintParams struct {
	HintLength Uint16Field
	Hint       BytesField
}

// struct {
//     opaque dh_p<1..2^16-1>;
//     opaque dh_g<1..2^16-1>;
//     opaque dh_Ys<1..2^16-1>;
// } ServerDHParams;
type DHParams struct {
	PLength         Uint16Field
	P               BytesField
	GLength         Uint16Field
	G               BytesField
	PublicKeyLength Uint16Field
	PublicKey       BytesField
}

// struct {
//     ECCurveType curve_type;
//     NamedCurve namedcurve;
//     opaque point<1..2^8-1>;
// } ServerECDHParams;
type ECParams struct {
	CurveType       Uint8Field
	NamedGroup      Uint16Field
	PublicKeyLength Uint8Field
	PublicKey       BytesField
}

// struct {
//     opaque srp_N<1..2^16-1>;
//     opaque srp_g<1..2^16-1>;
//     opaque srp_s<1..2^8-1>;
//     opaque srp_B<1..2^16-1>;
// } ServerSRPParams;
type SRPParams struct {
	NLength    Uint16Field
	N          BytesField
	GLength    Uint16Field
	G          BytesField
	SaltLength Uint8Field
	Salt       BytesField
	BLength    Uint16Field
	B          BytesField
}

// SignedParams is the digitally-signed tail of a ServerKeyExchange.
type SignedParams struct {
	SignatureScheme Uint16Field
	SignatureLength Uint16Field
	Signature       BytesField
}

// ServerKeyExchange carries whichever parameter groups the negotiated key
// exchange calls for, in wire order.
type ServerKeyExchange struct {
	HandshakeHeader
	PSK PSKHintParams
	DH  DHParams
	EC  ECParams
	SRP SRPParams
	SignedParams

	dhPrivate  *big.Int
	ecPrivate  []byte
	srpPrivate *big.Int
}

func (*ServerKeyExchange) Kind() MessageKind { return KindServerKeyExchange }

// keyExchange is the key exchange of the negotiated suite, KexNull when the
// suite is unknown.
func keyExchange(ch Chooser) KeyExchangeAlgorithm {
	params, err := ch.CipherSuiteParams()
	if err != nil {
		return KexNull
	}
	return params.KeyExchange
}

func parseServerKeyExchange(m *ServerKeyExchange, p *Parser, ch Chooser) {
	kex := keyExchange(ch)
	if kex.isPSK() {
		parseVector(p, &m.PSK.HintLength, &m.PSK.Hint, 2, "psk_identity_hint")
	}
	switch {
	case kex.isDH():
		parseVector(p, &m.DH.PLength, &m.DH.P, 2, "dh_p")
		parseVector(p, &m.DH.GLength, &m.DH.G, 2, "dh_g")
		parseVector(p, &m.DH.PublicKeyLength, &m.DH.PublicKey, 2, "dh_Ys")
	case kex.isECDH():
		parseUint(p, &m.EC.CurveType, 1, "curve_type")
		parseUint(p, &m.EC.NamedGroup, 2, "namedcurve")
		parseVector(p, &m.EC.PublicKeyLength, &m.EC.PublicKey, 1, "point")
	case kex.isSRP():
		parseVector(p, &m.SRP.NLength, &m.SRP.N, 2, "srp_N")
		parseVector(p, &m.SRP.GLength, &m.SRP.G, 2, "srp_g")
		parseVector(p, &m.SRP.SaltLength, &m.SRP.Salt, 1, "srp_s")
		parseVector(p, &m.SRP.BLength, &m.SRP.B, 2, "srp_B")
	}
	if kex.signed() {
		if ch.ProtocolVersion().AtLeast(VersionTLS12) {
			parseUint(p, &m.SignatureScheme, 2, "algorithm")
		}
		parseVector(p, &m.SignatureLength, &m.Signature, 2, "signature")
	}
}

func prepareServerKeyExchange(m *ServerKeyExchange, ch Chooser) error {
	tc := ch.Context()
	cfg := ch.Config()
	kex := keyExchange(ch)
	if kex.isPSK() {
		prepareVector(&m.PSK.HintLength, &m.PSK.Hint, ch.PSKIdentityHint)
	}

	var err error
	switch {
	case kex.isDH():
		p, g := ch.DHParameters()
		var pub *big.Int
		if m.dhPrivate, pub, err = dhKeyPair(tc, p, g); err != nil {
			return err
		}
		prepareVector(&m.DH.PLength, &m.DH.P, p.Bytes)
		prepareVector(&m.DH.GLength, &m.DH.G, g.Bytes)
		prepareVector(&m.DH.PublicKeyLength, &m.DH.PublicKey, pub.Bytes)
	case kex.isECDH():
		group := ch.SelectedGroup()
		m.EC.CurveType.Prepare(func() uint8 { return ecCurveTypeNamedCurve })
		m.EC.NamedGroup.Prepare(func() uint16 { return uint16(group) })
		var pub []byte
		if pub, m.ecPrivate, err = generateKeyShare(ch, NamedGroup(m.EC.NamedGroup.Resolve())); err != nil {
			return err
		}
		prepareVector(&m.EC.PublicKeyLength, &m.EC.PublicKey, func() []byte { return pub })
	case kex.isSRP():
		n, g := ch.SRPParameters()
		salt := ch.SRPSalt()
		if m.srpPrivate, err = srpPrivate(ch, n); err != nil {
			return err
		}
		x := srpX(salt, cfg.SRPIdentity, cfg.SRPPassword)
		b := srpServerPublic(tc, n, g, x, m.srpPrivate)
		prepareVector(&m.SRP.NLength, &m.SRP.N, n.Bytes)
		prepareVector(&m.SRP.GLength, &m.SRP.G, g.Bytes)
		prepareVector(&m.SRP.SaltLength, &m.SRP.Salt, func() []byte { return salt })
		prepareVector(&m.SRP.BLength, &m.SRP.B, b.Bytes)
	}

	if !kex.signed() {
		return nil
	}
	scheme := signatureScheme(ch)
	if scheme != 0 {
		m.SignatureScheme.Prepare(func() uint16 { return uint16(scheme) })
		scheme = SignatureScheme(m.SignatureScheme.Resolve())
	}
	prepareVector(&m.SignatureLength, &m.Signature, func() []byte {
		cert := ch.Certificate()
		if cert == nil {
			err = cryptoError("no certificate key for ServerKeyExchange")
			return []byte{}
		}
		var sig []byte
		sig, err = sign(ch.Rand(), cert.PrivateKey, scheme, m.signedData(ch.ClientRandom(), ch.ServerRandom()))
		return sig
	})
	return err
}

// params serializes everything before the signature.
func (m *ServerKeyExchange) params() []byte {
	s := NewSerializer()
	if m.PSK.HintLength.IsSet() {
		putVector(s, &m.PSK.HintLength, &m.PSK.Hint, 2)
	}
	if m.DH.PLength.IsSet() {
		putVector(s, &m.DH.PLength, &m.DH.P, 2)
		putVector(s, &m.DH.GLength, &m.DH.G, 2)
		putVector(s, &m.DH.PublicKeyLength, &m.DH.PublicKey, 2)
	}
	if m.EC.CurveType.IsSet() {
		putUint(s, &m.EC.CurveType, 1)
		putUint(s, &m.EC.NamedGroup, 2)
		putVector(s, &m.EC.PublicKeyLength, &m.EC.PublicKey, 1)
	}
	if m.SRP.NLength.IsSet() {
		putVector(s, &m.SRP.NLength, &m.SRP.N, 2)
		putVector(s, &m.SRP.GLength, &m.SRP.G, 2)
		putVector(s, &m.SRP.SaltLength, &m.SRP.Salt, 1)
		putVector(s, &m.SRP.BLength, &m.SRP.B, 2)
	}
	return s.Bytes()
}

// signedData is client_random || server_random || params. The PSK hint is
// never signed.
func (m *ServerKeyExchange) signedData(clientRandom, serverRandom []byte) []byte {
	params := m.params()
	if m.PSK.HintLength.IsSet() {
		params = params[2+len(m.PSK.Hint.Resolve()):]
	}
	return concat(clientRandom, serverRandom, params)
}

func serializeServerKeyExchange(m *ServerKeyExchange, s *Serializer) {
	s.PutBytes(m.params())
	if m.SignatureScheme.IsSet() {
		putUint(s, &m.SignatureScheme, 2)
	}
	if m.SignatureLength.IsSet() {
		putVector(s, &m.SignatureLength, &m.Signature, 2)
	}
}

// ClientKeyExchange holds the client's contribution for every pre-TLS 1.3
// key exchange. Only the fields of the negotiated exchange are set.
type ClientKeyExchange struct {
	HandshakeHeader
	PSKIdentityLength        Uint16Field
	PSKIdentity              BytesField
	EncryptedPremasterLength Uint16Field
	EncryptedPremaster       BytesField
	ECPublicKeyLength        Uint8Field
	ECPublicKey              BytesField
	DHPublicKeyLength        Uint16Field
	DHPublicKey              BytesField
	SRPPublicKeyLength       Uint16Field
	SRPPublicKey             BytesField

	premaster []byte
}

func (*ClientKeyExchange) Kind() MessageKind { return KindClientKeyExchange }

func rsaKeyExchange(k KeyExchangeAlgorithm) bool {
	return k == KexRSA || k == KexRSAPSK
}

func parseClientKeyExchange(m *ClientKeyExchange, p *Parser, ch Chooser) {
	kex := keyExchange(ch)
	if kex.isPSK() {
		parseVector(p, &m.PSKIdentityLength, &m.PSKIdentity, 2, "psk_identity")
	}
	switch {
	case rsaKeyExchange(kex):
		if ch.ProtocolVersion() == VersionSSL30 {
			m.EncryptedPremaster.Assign(p.Rest())
		} else {
			parseVector(p, &m.EncryptedPremasterLength, &m.EncryptedPremaster, 2, "encrypted PreMasterSecret")
		}
	case kex.isECDH():
		parseVector(p, &m.ECPublicKeyLength, &m.ECPublicKey, 1, "ecdh_Yc")
	case kex.isDH():
		parseVector(p, &m.DHPublicKeyLength, &m.DHPublicKey, 2, "dh_Yc")
	case kex.isSRP():
		parseVector(p, &m.SRPPublicKeyLength, &m.SRPPublicKey, 2, "srp_A")
	}
}

func prepareClientKeyExchange(m *ClientKeyExchange, ch Chooser) error {
	tc := ch.Context()
	cfg := ch.Config()
	kex := keyExchange(ch)
	if kex.isPSK() {
		prepareVector(&m.PSKIdentityLength, &m.PSKIdentity, ch.PSKIdentity)
	}

	var other []byte
	switch {
	case rsaKeyExchange(kex):
		pms, err := rsaPremaster(ch)
		if err != nil {
			return err
		}
		other = pms
		pub, ok := tc.PeerPublicKey.(*rsa.PublicKey)
		encrypt := func() []byte {
			if !ok {
				tc.warn("no RSA server key, sending the pre-master secret unencrypted")
				return pms
			}
			ct, err2 := rsaEncrypt(ch.Rand(), pub, pms)
			if err2 != nil {
				err = err2
			}
			return ct
		}
		if ch.ProtocolVersion() == VersionSSL30 {
			m.EncryptedPremaster.Prepare(encrypt)
		} else {
			prepareVector(&m.EncryptedPremasterLength, &m.EncryptedPremaster, encrypt)
		}
		if err != nil {
			return err
		}
	case kex.isECDH():
		group, peer := clientECPeer(tc)
		pub, priv, err := generateKeyShare(ch, group)
		if err != nil {
			return err
		}
		prepareVector(&m.ECPublicKeyLength, &m.ECPublicKey, func() []byte { return pub })
		if other, err = ecdhSharedSecret(group, priv, peer); err != nil {
			tc.warn("ECDH: %v", err)
			other = []byte{}
		}
	case kex.isDH():
		p, g := ch.DHParameters()
		priv, pub, err := dhKeyPair(tc, p, g)
		if err != nil {
			return err
		}
		prepareVector(&m.DHPublicKeyLength, &m.DHPublicKey, pub.Bytes)
		other = dhSharedSecret(tc, priv, bigOrZero(tc.ServerDHPublic), p)
	case kex.isSRP():
		n, g := ch.SRPParameters()
		a, err := srpPrivate(ch, n)
		if err != nil {
			return err
		}
		pub := new(big.Int)
		if n.Sign() > 0 {
			pub.Exp(g, a, n)
		}
		prepareVector(&m.SRPPublicKeyLength, &m.SRPPublicKey, pub.Bytes)
		x := srpX(ch.SRPSalt(), cfg.SRPIdentity, cfg.SRPPassword)
		other = srpClientPremaster(tc, n, g, x, a, bigOrZero(tc.SRPServerPublic))
	}

	m.premaster = other
	if kex.isPSK() {
		if kex == KexPSK {
			other = nil
		}
		m.premaster = pskPremaster(other, ch.PSK())
	}
	return nil
}

// clientECPeer is the server's EC point: the ServerKeyExchange one, or the
// certificate key for static ECDH.
func clientECPeer(tc *Context) (NamedGroup, []byte) {
	ch := tc.Chooser()
	if tc.ServerECPublic == nil {
		if k, ok := tc.PeerPublicKey.(*ecdsa.PublicKey); ok {
			if group, pub, err := ecdsaPublicBytes(k); err == nil {
				return group, pub
			}
		}
	}
	return ch.SelectedGroup(), tc.ServerECPublic
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func serializeClientKeyExchange(m *ClientKeyExchange, s *Serializer) {
	if m.PSKIdentityLength.IsSet() {
		putVector(s, &m.PSKIdentityLength, &m.PSKIdentity, 2)
	}
	switch {
	case m.EncryptedPremasterLength.IsSet():
		putVector(s, &m.EncryptedPremasterLength, &m.EncryptedPremaster, 2)
	case m.EncryptedPremaster.IsSet():
		putBytes(s, &m.EncryptedPremaster)
	}
	if m.ECPublicKeyLength.IsSet() {
		putVector(s, &m.ECPublicKeyLength, &m.ECPublicKey, 1)
	}
	if m.DHPublicKeyLength.IsSet() {
		putVector(s, &m.DHPublicKeyLength, &m.DHPublicKey, 2)
	}
	if m.SRPPublicKeyLength.IsSet() {
		putVector(s, &m.SRPPublicKeyLength, &m.SRPPublicKey, 2)
	}
}
