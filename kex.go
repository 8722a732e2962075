package anvil

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"io"
	"math/big"

	"github.com/pion/dtls/v2/pkg/crypto/elliptic"
	"github.com/pion/dtls/v2/pkg/crypto/prf"
	"golang.org/x/crypto/curve25519"
)

// Key exchange arithmetic for TLS 1.3 key shares and the TLS <= 1.2
// ClientKeyExchange variants. Peer-controlled bad input degrades to a zero
// result plus a warning on the context, so a test can push on.

func ecdhCurve(g NamedGroup) (ecdh.Curve, bool) {
	switch g {
	case P256:
		return ecdh.P256(), true
	case P384:
		return ecdh.P384(), true
	case P521:
		return ecdh.P521(), true
	}
	return nil, false
}

// generateKeyShare returns a public/private pair for group. A configured
// static private key is used when present; otherwise a fresh ephemeral
// pair is generated.
func generateKeyShare(ch Chooser, group NamedGroup) (pub, priv []byte, err error) {
	static := ch.Config().KeySharePrivateKey
	switch {
	case group == X25519 && len(static) == curve25519.ScalarSize:
		pub, err = curve25519.X25519(static, curve25519.Basepoint)
		if err != nil {
			return nil, nil, cryptoError("x25519: %v", err)
		}
		return pub, append([]byte{}, static...), nil

	case len(static) > 0 && (group == P256 || group == P384 || group == P521):
		curve, _ := ecdhCurve(group)
		key, err := curve.NewPrivateKey(static)
		if err != nil {
			return nil, nil, cryptoError("static %v key: %v", group, err)
		}
		return key.PublicKey().Bytes(), append([]byte{}, static...), nil

	case group == X25519 || group == P256 || group == P384:
		kp, err := elliptic.GenerateKeypair(elliptic.Curve(group))
		if err != nil {
			return nil, nil, cryptoError("generate %v key pair: %v", group, err)
		}
		return kp.PublicKey, kp.PrivateKey, nil

	case group == P521:
		key, err := ecdh.P521().GenerateKey(ch.Rand())
		if err != nil {
			return nil, nil, cryptoError("generate P-521 key pair: %v", err)
		}
		return key.PublicKey().Bytes(), key.Bytes(), nil
	}
	return nil, nil, unsupported("key share group %v", group)
}

// ecdhSharedSecret computes the (EC)DH shared secret for a named group.
func ecdhSharedSecret(group NamedGroup, priv, peerPub []byte) ([]byte, error) {
	switch group {
	case X25519, P256, P384:
		ss, err := prf.PreMasterSecret(peerPub, priv, elliptic.Curve(group))
		if err != nil {
			return nil, cryptoError("%v shared secret: %v", group, err)
		}
		return ss, nil
	case P521:
		key, err := ecdh.P521().NewPrivateKey(priv)
		if err != nil {
			return nil, cryptoError("P-521 private key: %v", err)
		}
		pub, err := ecdh.P521().NewPublicKey(peerPub)
		if err != nil {
			return nil, cryptoError("P-521 peer key: %v", err)
		}
		ss, err := key.ECDH(pub)
		if err != nil {
			return nil, cryptoError("P-521 shared secret: %v", err)
		}
		return ss, nil
	}
	return nil, unsupported("key exchange group %v", group)
}

// ecdsaPublicBytes encodes a certificate's EC key for static ECDH.
func ecdsaPublicBytes(pub *ecdsa.PublicKey) (NamedGroup, []byte, error) {
	k, err := pub.ECDH()
	if err != nil {
		return 0, nil, cryptoError("certificate key: %v", err)
	}
	switch k.Curve() {
	case ecdh.P256():
		return P256, k.Bytes(), nil
	case ecdh.P384():
		return P384, k.Bytes(), nil
	case ecdh.P521():
		return P521, k.Bytes(), nil
	}
	return 0, nil, unsupported("certificate curve")
}

// randomScalar returns a value in [2, max-2].
func randomScalar(r io.Reader, max *big.Int) (*big.Int, error) {
	bound := new(big.Int).Sub(max, big.NewInt(3))
	if bound.Sign() <= 0 {
		return big.NewInt(2), nil
	}
	buf := make([]byte, len(max.Bytes()))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, cryptoError("random scalar: %v", err)
	}
	x := new(big.Int).SetBytes(buf)
	x.Mod(x, bound)
	return x.Add(x, big.NewInt(2)), nil
}

// dhKeyPair picks the DH private value (configured or random) and its
// public value g^x mod p. A non-positive modulus yields zeros.
func dhKeyPair(tc *Context, p, g *big.Int) (priv, pub *big.Int, err error) {
	if p.Sign() <= 0 {
		tc.warn("DH modulus is not positive, using zero key")
		return new(big.Int), new(big.Int), nil
	}
	ch := tc.Chooser()
	if static := ch.Config().DHPrivateKey; len(static) > 0 {
		priv = new(big.Int).SetBytes(static)
	} else if priv, err = randomScalar(ch.Rand(), p); err != nil {
		return nil, nil, err
	}
	return priv, new(big.Int).Exp(g, priv, p), nil
}

// dhSharedSecret is peer^priv mod p with leading zero bytes stripped, as
// RFC 5246 section 8.1.2 requires.
func dhSharedSecret(tc *Context, priv, peer, p *big.Int) []byte {
	if p.Sign() <= 0 {
		tc.warn("DH modulus is not positive, using zero shared secret")
		return []byte{0}
	}
	return new(big.Int).Exp(peer, priv, p).Bytes()
}

// rsaPremaster is client_version || 46 random bytes, unless a pre-master
// secret is forced or configured.
func rsaPremaster(ch Chooser) ([]byte, error) {
	if _, ok := ch.Context().forced[ParamPreMasterSecret]; ok || ch.Context().PreMasterSecret != nil {
		return ch.PreMasterSecret(), nil
	}
	pms := make([]byte, masterSecretLength)
	v := legacyVersion(ch.HighestClientVersion())
	if _, err := io.ReadFull(ch.Rand(), pms[2:]); err != nil {
		return nil, cryptoError("pre-master secret: %v", err)
	}
	pms[0], pms[1] = byte(v>>8), byte(v)
	return pms, nil
}

// pkcs1Pad builds an EME-PKCS1-v1_5 block of k bytes around msg.
func pkcs1Pad(r io.Reader, k int, msg []byte) ([]byte, error) {
	if len(msg) > k-11 {
		return nil, cryptoError("message of %d bytes too long for %d byte modulus", len(msg), k)
	}
	em := make([]byte, k)
	em[1] = 2
	ps := em[2 : k-len(msg)-1]
	if _, err := io.ReadFull(r, ps); err != nil {
		return nil, cryptoError("PKCS#1 padding: %v", err)
	}
	for i := range ps {
		for ps[i] == 0 {
			var b [1]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, cryptoError("PKCS#1 padding: %v", err)
			}
			ps[i] = b[0]
		}
	}
	copy(em[k-len(msg):], msg)
	return em, nil
}

// rsaEncrypt is raw RSA over a PKCS#1 v1.5 block, done by hand so that the
// padding stays under test control.
func rsaEncrypt(r io.Reader, pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	k := (pub.N.BitLen() + 7) / 8
	em, err := pkcs1Pad(r, k, msg)
	if err != nil {
		return nil, err
	}
	m := new(big.Int).SetBytes(em)
	c := new(big.Int).Exp(m, big.NewInt(int64(pub.E)), pub.N)
	out := make([]byte, k)
	return c.FillBytes(out), nil
}

// rsaDecryptPremaster never fails: a bad block is replaced by random bytes
// and a warning, as servers do against Bleichenbacher oracles.
func rsaDecryptPremaster(tc *Context, priv *rsa.PrivateKey, ct []byte) []byte {
	ch := tc.Chooser()
	key := make([]byte, masterSecretLength)
	if _, err := io.ReadFull(ch.Rand(), key); err != nil {
		tc.warn("pre-master secret randomness: %v", err)
	}
	if err := rsa.DecryptPKCS1v15SessionKey(ch.Rand(), priv, ct, key); err != nil {
		tc.warn("RSA pre-master decryption failed: %v", err)
	}
	return key
}

// pskPremaster is the RFC 4279 layout: other_secret and psk, each with a
// two-byte length. Plain PSK uses zeros as other_secret.
func pskPremaster(other, psk []byte) []byte {
	if other == nil {
		other = make([]byte, len(psk))
	}
	s := NewSerializer()
	s.PutUintN(uint64(len(other)), 2)
	s.PutBytes(other)
	s.PutUintN(uint64(len(psk)), 2)
	s.PutBytes(psk)
	return s.Bytes()
}

// SRP per RFC 5054 section 2.6, all hashes SHA-1.

func srpPad(x, n *big.Int) []byte {
	out := make([]byte, len(n.Bytes()))
	b := x.Bytes()
	if len(b) > len(out) {
		return b
	}
	copy(out[len(out)-len(b):], b)
	return out
}

func sha1Int(parts ...[]byte) *big.Int {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// srpX is SHA1(salt | SHA1(identity | ":" | password)).
func srpX(salt, identity, password []byte) *big.Int {
	inner := sha1.Sum(concat(identity, []byte(":"), password))
	return sha1Int(salt, inner[:])
}

func srpK(n, g *big.Int) *big.Int {
	return sha1Int(n.Bytes(), srpPad(g, n))
}

func srpU(n, a, b *big.Int) *big.Int {
	return sha1Int(srpPad(a, n), srpPad(b, n))
}

// srpServerPublic is B = k*v + g^b mod N with v = g^x mod N.
func srpServerPublic(tc *Context, n, g, x, b *big.Int) *big.Int {
	if n.Sign() <= 0 {
		tc.warn("SRP modulus is not positive, using zero public value")
		return new(big.Int)
	}
	v := new(big.Int).Exp(g, x, n)
	kv := new(big.Int).Mul(srpK(n, g), v)
	gb := new(big.Int).Exp(g, b, n)
	return kv.Add(kv, gb).Mod(kv, n)
}

// srpClientPremaster is (B - k*g^x) ^ (a + u*x) mod N.
func srpClientPremaster(tc *Context, n, g, x, a, bPub *big.Int) []byte {
	if n.Sign() <= 0 {
		tc.warn("SRP modulus is not positive, using zero pre-master secret")
		return []byte{0}
	}
	aPub := new(big.Int).Exp(g, a, n)
	u := srpU(n, aPub, bPub)
	kgx := new(big.Int).Mul(srpK(n, g), new(big.Int).Exp(g, x, n))
	base := new(big.Int).Sub(bPub, kgx)
	base.Mod(base, n)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	return new(big.Int).Exp(base, exp, n).Bytes()
}

// srpServerPremaster is (A * v^u) ^ b mod N.
func srpServerPremaster(tc *Context, n, g, x, b, aPub, bPub *big.Int) []byte {
	if n.Sign() <= 0 {
		tc.warn("SRP modulus is not positive, using zero pre-master secret")
		return []byte{0}
	}
	v := new(big.Int).Exp(g, x, n)
	u := srpU(n, aPub, bPub)
	base := new(big.Int).Mul(aPub, new(big.Int).Exp(v, u, n))
	base.Mod(base, n)
	return new(big.Int).Exp(base, b, n).Bytes()
}

// srpPrivate returns the configured SRP private value or a random one.
func srpPrivate(ch Chooser, n *big.Int) (*big.Int, error) {
	if k := ch.Config().SRPPrivateKey; len(k) > 0 {
		return new(big.Int).SetBytes(k), nil
	}
	if n.Sign() <= 0 {
		return big.NewInt(2), nil
	}
	return randomScalar(ch.Rand(), n)
}
