package anvil

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	"io"
)

const (
	contextCertificateVerifyServer = "TLS 1.3, server CertificateVerify"
	contextCertificateVerifyClient = "TLS 1.3, client CertificateVerify"
)

// tls13SignatureInput is 64 spaces, the context string, a zero byte and the
// transcript hash (RFC 8446 section 4.4.3).
func tls13SignatureInput(end ConnectionEnd, transcriptHash []byte) []byte {
	ctx := contextCertificateVerifyClient
	if end == ConnectionEndServer {
		ctx = contextCertificateVerifyServer
	}
	return concat(bytes.Repeat([]byte{0x20}, 64), []byte(ctx), []byte{0}, transcriptHash)
}

func schemeHash(s SignatureScheme) (crypto.Hash, error) {
	switch s {
	case RSA_PKCS1_SHA1, ECDSA_SHA1:
		return crypto.SHA1, nil
	case RSA_PKCS1_SHA256, ECDSA_P256_SHA256, RSA_PSS_SHA256:
		return crypto.SHA256, nil
	case RSA_PKCS1_SHA384, ECDSA_P384_SHA384, RSA_PSS_SHA384:
		return crypto.SHA384, nil
	case RSA_PKCS1_SHA512, ECDSA_P521_SHA512, RSA_PSS_SHA512:
		return crypto.SHA512, nil
	case Ed25519:
		return 0, nil
	}
	return 0, unsupported("signature scheme %v", s)
}

func isPSS(s SignatureScheme) bool {
	return s == RSA_PSS_SHA256 || s == RSA_PSS_SHA384 || s == RSA_PSS_SHA512
}

func digest(h crypto.Hash, data []byte) []byte {
	if h == 0 {
		return data
	}
	d := h.New()
	d.Write(data)
	return d.Sum(nil)
}

// legacyDigest is the pre-TLS 1.2 signature hash: MD5||SHA1 for RSA and
// SHA1 alone for ECDSA.
func legacyDigest(pub crypto.PublicKey, data []byte) (crypto.Hash, []byte) {
	if _, ok := pub.(*ecdsa.PublicKey); ok {
		h := sha1.Sum(data)
		return crypto.SHA1, h[:]
	}
	m := md5.Sum(data)
	s := sha1.Sum(data)
	return crypto.MD5SHA1, concat(m[:], s[:])
}

// sign signs data under scheme. A scheme of zero selects the legacy
// pre-TLS 1.2 construction.
func sign(r io.Reader, key crypto.Signer, scheme SignatureScheme, data []byte) ([]byte, error) {
	if key == nil {
		return nil, cryptoError("no private key to sign with")
	}
	var h crypto.Hash
	var d []byte
	if scheme == 0 {
		h, d = legacyDigest(key.Public(), data)
	} else {
		var err error
		if h, err = schemeHash(scheme); err != nil {
			return nil, err
		}
		d = digest(h, data)
	}

	var opts crypto.SignerOpts = h
	switch {
	case scheme == Ed25519:
		opts = crypto.Hash(0)
	case isPSS(scheme):
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
	}
	sig, err := key.Sign(r, d, opts)
	if err != nil {
		return nil, cryptoError("sign with %v: %v", scheme, err)
	}
	return sig, nil
}

// verify checks sig over data with the peer's public key.
func verify(pub crypto.PublicKey, scheme SignatureScheme, data, sig []byte) error {
	var h crypto.Hash
	var d []byte
	if scheme == 0 {
		h, d = legacyDigest(pub, data)
	} else {
		var err error
		if h, err = schemeHash(scheme); err != nil {
			return err
		}
		d = digest(h, data)
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if isPSS(scheme) {
			if err := rsa.VerifyPSS(k, h, d, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
				return cryptoError("RSA-PSS signature: %v", err)
			}
			return nil
		}
		if err := rsa.VerifyPKCS1v15(k, h, d, sig); err != nil {
			return cryptoError("RSA signature: %v", err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, d, sig) {
			return cryptoError("ECDSA signature invalid")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, data, sig) {
			return cryptoError("Ed25519 signature invalid")
		}
	default:
		return unsupported("public key type %T", pub)
	}
	return nil
}

// signatureScheme is the scheme a message signed under version v carries,
// or zero before TLS 1.2.
func signatureScheme(ch Chooser) SignatureScheme {
	if !ch.ProtocolVersion().AtLeast(VersionTLS12) {
		return 0
	}
	return ch.SignatureScheme()
}
