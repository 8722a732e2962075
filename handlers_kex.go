package anvil

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"math/big"
)

func adjustServerKeyExchange(m *ServerKeyExchange, tc *Context) ([]HandshakeAction, error) {
	if m.PSK.HintLength.IsSet() {
		tc.PSKIdentityHint = m.PSK.Hint.Resolve()
	}
	if m.DH.PLength.IsSet() {
		tc.ServerDHModulus = new(big.Int).SetBytes(m.DH.P.Resolve())
		tc.ServerDHGenerator = new(big.Int).SetBytes(m.DH.G.Resolve())
		tc.ServerDHPublic = new(big.Int).SetBytes(m.DH.PublicKey.Resolve())
	}
	if m.EC.CurveType.IsSet() {
		group := NamedGroup(m.EC.NamedGroup.Resolve())
		tc.SelectedGroup.Set(group)
		tc.ServerECPublic = m.EC.PublicKey.Resolve()
		if m.ecPrivate != nil {
			tc.KeySharePrivateKeys[group] = m.ecPrivate
		}
	}
	if m.SRP.NLength.IsSet() {
		tc.SRPModulus = new(big.Int).SetBytes(m.SRP.N.Resolve())
		tc.SRPGenerator = new(big.Int).SetBytes(m.SRP.G.Resolve())
		tc.SRPSalt = m.SRP.Salt.Resolve()
		tc.SRPServerPublic = new(big.Int).SetBytes(m.SRP.B.Resolve())
	}

	if tc.sending() {
		tc.dhPrivate = m.dhPrivate
		tc.srpPrivate = m.srpPrivate
		return nil, nil
	}

	if !m.SignatureLength.IsSet() {
		return nil, nil
	}
	if tc.PeerPublicKey == nil {
		tc.warn("signed ServerKeyExchange without a peer public key")
		return nil, nil
	}
	scheme := SignatureScheme(0)
	if m.SignatureScheme.IsSet() {
		scheme = SignatureScheme(m.SignatureScheme.Resolve())
	}
	data := m.signedData(tc.ClientRandom, tc.ServerRandom)
	if err := verify(tc.PeerPublicKey, scheme, data, m.Signature.Resolve()); err != nil {
		tc.warn("ServerKeyExchange: %v", err)
	}
	return nil, nil
}

func adjustClientKeyExchange(m *ClientKeyExchange, tc *Context) ([]HandshakeAction, error) {
	ch := tc.Chooser()
	kex := keyExchange(ch)
	if m.PSKIdentityLength.IsSet() {
		tc.PSKIdentity = m.PSKIdentity.Resolve()
	}
	if m.ECPublicKeyLength.IsSet() {
		tc.ClientECPublic = m.ECPublicKey.Resolve()
	}
	if m.DHPublicKeyLength.IsSet() {
		tc.ClientDHPublic = new(big.Int).SetBytes(m.DHPublicKey.Resolve())
	}
	if m.SRPPublicKeyLength.IsSet() {
		tc.SRPClientPublic = new(big.Int).SetBytes(m.SRPPublicKey.Resolve())
	}

	if tc.sending() {
		tc.PreMasterSecret = m.premaster
	} else {
		tc.PreMasterSecret = serverPremaster(m, tc, kex)
	}
	return nil, computeMasterSecret(tc)
}

// serverPremaster recovers the pre-master secret from a received
// ClientKeyExchange.
func serverPremaster(m *ClientKeyExchange, tc *Context, kex KeyExchangeAlgorithm) []byte {
	ch := tc.Chooser()
	cfg := ch.Config()
	var other []byte
	switch {
	case rsaKeyExchange(kex):
		cert := ch.Certificate()
		var priv *rsa.PrivateKey
		if cert != nil {
			priv, _ = cert.PrivateKey.(*rsa.PrivateKey)
		}
		if priv == nil {
			tc.warn("no RSA private key to decrypt the pre-master secret")
			other = make([]byte, masterSecretLength)
		} else {
			other = rsaDecryptPremaster(tc, priv, m.EncryptedPremaster.Resolve())
		}
	case kex.isECDH():
		group := ch.SelectedGroup()
		priv := tc.KeySharePrivateKeys[group]
		if kex == KexECDHECDSA {
			priv = staticECPrivate(tc)
		}
		ss, err := ecdhSharedSecret(group, priv, tc.ClientECPublic)
		if err != nil {
			tc.warn("ECDH: %v", err)
			ss = []byte{}
		}
		other = ss
	case kex.isDH():
		p, _ := ch.DHParameters()
		other = dhSharedSecret(tc, bigOrZero(tc.dhPrivate), bigOrZero(tc.ClientDHPublic), p)
	case kex.isSRP():
		n, g := ch.SRPParameters()
		x := srpX(ch.SRPSalt(), cfg.SRPIdentity, cfg.SRPPassword)
		other = srpServerPremaster(tc, n, g, x, bigOrZero(tc.srpPrivate), bigOrZero(tc.SRPClientPublic), bigOrZero(tc.SRPServerPublic))
	}
	if kex.isPSK() {
		if kex == KexPSK {
			other = nil
		}
		return pskPremaster(other, ch.PSK())
	}
	return other
}

func staticECPrivate(tc *Context) []byte {
	cert := tc.Chooser().Certificate()
	if cert == nil {
		return nil
	}
	k, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil
	}
	priv, err := k.ECDH()
	if err != nil {
		tc.warn("static ECDH key: %v", err)
		return nil
	}
	return priv.Bytes()
}

// computeMasterSecret derives the master secret from the pre-master secret,
// over the session hash when extended_master_secret was negotiated. It runs
// once the ClientKeyExchange is in the transcript.
func computeMasterSecret(tc *Context) error {
	ch := tc.Chooser()
	params, err := ch.CipherSuiteParams()
	if err != nil {
		return err
	}
	version := ch.ProtocolVersion()
	pms := ch.PreMasterSecret()
	var ms []byte
	if ch.ExtendedMasterSecret() {
		sessionHash := tc.Transcript.legacyHash(version, params.Hash)
		ms, err = extendedMasterFromPreMasterSecret(version, params.Hash, pms, sessionHash)
	} else {
		ms, err = masterFromPreMasterSecret(version, params.Hash, pms, ch.ClientRandom(), ch.ServerRandom())
	}
	if err != nil {
		return err
	}
	tc.MasterSecret = ms
	logf(logTypeCrypto, "[%v] master secret %x", tc.ConnectionEnd, ms)
	return nil
}
