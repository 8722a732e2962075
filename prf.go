package anvil

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"hash"
)

const (
	labelMasterSecret         = "master secret"
	labelExtendedMasterSecret = "extended master secret"
	labelKeyExpansion         = "key expansion"
	labelClientFinished       = "client finished"
	labelServerFinished       = "server finished"
)

var (
	ssl3ClientFinishedMagic = []byte{0x43, 0x4c, 0x4e, 0x54}
	ssl3ServerFinishedMagic = []byte{0x53, 0x52, 0x56, 0x52}
)

type prfFunc func(result, secret, label, seed []byte)

// Split a premaster secret in two as specified in RFC 4346, section 5.
func splitPreMasterSecret(secret []byte) (s1, s2 []byte) {
	s1 = secret[0 : (len(secret)+1)/2]
	s2 = secret[len(secret)/2:]
	return
}

// pHash implements the P_hash function, as defined in RFC 4346, section 5.
func pHash(result, secret, seed []byte, hash func() hash.Hash) {
	h := hmac.New(hash, secret)
	h.Write(seed)
	a := h.Sum(nil)

	for j := 0; j < len(result); {
		h.Reset()
		h.Write(a)
		h.Write(seed)
		j += copy(result[j:], h.Sum(nil))

		h.Reset()
		h.Write(a)
		a = h.Sum(nil)
	}
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// prf10 is the TLS 1.0/1.1 PRF: P_MD5 over one half of the secret XORed with
// P_SHA1 over the other.
func prf10(result, secret, label, seed []byte) {
	labelAndSeed := concat(label, seed)
	s1, s2 := splitPreMasterSecret(secret)
	pHash(result, s1, labelAndSeed, md5.New)
	result2 := make([]byte, len(result))
	pHash(result2, s2, labelAndSeed, sha1.New)
	for i, b := range result2 {
		result[i] ^= b
	}
}

func prf12(hashFunc func() hash.Hash) prfFunc {
	return func(result, secret, label, seed []byte) {
		pHash(result, secret, concat(label, seed), hashFunc)
	}
}

// prf30 is the SSLv3 key derivation. The label is ignored; SSLv3 only ever
// derives the master secret and key block this way.
func prf30(result, secret, label, seed []byte) {
	hashSHA1 := sha1.New()
	hashMD5 := md5.New()

	var b [26]byte
	for done, i := 0, 0; done < len(result); i++ {
		for j := 0; j <= i; j++ {
			b[j] = 'A' + byte(i)
		}

		hashSHA1.Reset()
		hashSHA1.Write(b[:i+1])
		hashSHA1.Write(secret)
		hashSHA1.Write(seed)
		digest := hashSHA1.Sum(nil)

		hashMD5.Reset()
		hashMD5.Write(secret)
		hashMD5.Write(digest)
		done += copy(result[done:], hashMD5.Sum(nil))
	}
}

func prfForVersion(version ProtocolVersion, h crypto.Hash) (prfFunc, error) {
	switch version.tlsEquivalent() {
	case VersionSSL30:
		return prf30, nil
	case VersionTLS10, VersionTLS11:
		return prf10, nil
	case VersionTLS12:
		if err := checkHash(h); err != nil {
			return nil, err
		}
		return prf12(h.New), nil
	}
	return nil, cryptoError("no PRF for version %v", version)
}

// DeriveKeyBlock runs the version's PRF over secret, label and seed. Master
// secret, key block and Finished computations all go through here.
func DeriveKeyBlock(version ProtocolVersion, h crypto.Hash, secret []byte, label string, seed []byte, length int) ([]byte, error) {
	prf, err := prfForVersion(version, h)
	if err != nil {
		return nil, err
	}
	if version.tlsEquivalent() == VersionSSL30 && label != labelMasterSecret && label != labelKeyExpansion {
		return nil, cryptoError("SSLv3 has no PRF label %q", label)
	}
	out := make([]byte, length)
	prf(out, secret, []byte(label), seed)
	logf(logTypeCrypto, "PRF %v label=[%s] seed=%x => %x", version, label, seed, out)
	return out, nil
}

// masterFromPreMasterSecret follows RFC 5246 section 8.1.
func masterFromPreMasterSecret(version ProtocolVersion, h crypto.Hash, preMasterSecret, clientRandom, serverRandom []byte) ([]byte, error) {
	return DeriveKeyBlock(version, h, preMasterSecret, labelMasterSecret,
		concat(clientRandom, serverRandom), masterSecretLength)
}

// extendedMasterFromPreMasterSecret follows RFC 7627; the seed is the session
// hash.
func extendedMasterFromPreMasterSecret(version ProtocolVersion, h crypto.Hash, preMasterSecret, sessionHash []byte) ([]byte, error) {
	return DeriveKeyBlock(version, h, preMasterSecret, labelExtendedMasterSecret,
		sessionHash, masterSecretLength)
}

var (
	ssl30Pad1 = [48]byte{
		0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36,
		0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36,
		0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36,
		0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36, 0x36,
	}
	ssl30Pad2 = [48]byte{
		0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c,
		0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c,
		0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c,
		0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c, 0x5c,
	}
)

// finishedSum30 computes SSLv3 verify_data over the raw handshake messages.
func finishedSum30(messages, masterSecret, magic []byte) []byte {
	md5h := md5.New()
	md5h.Write(messages)
	md5h.Write(magic)
	md5h.Write(masterSecret)
	md5h.Write(ssl30Pad1[:])
	md5Digest := md5h.Sum(nil)

	md5h.Reset()
	md5h.Write(masterSecret)
	md5h.Write(ssl30Pad2[:])
	md5h.Write(md5Digest)
	md5Digest = md5h.Sum(nil)

	sha1h := sha1.New()
	sha1h.Write(messages)
	sha1h.Write(magic)
	sha1h.Write(masterSecret)
	sha1h.Write(ssl30Pad1[:40])
	sha1Digest := sha1h.Sum(nil)

	sha1h.Reset()
	sha1h.Write(masterSecret)
	sha1h.Write(ssl30Pad2[:40])
	sha1h.Write(sha1Digest)
	sha1Digest = sha1h.Sum(nil)

	return concat(md5Digest, sha1Digest)
}

// legacyFinished computes verify_data for SSLv3 through TLS 1.2. The
// transcript is passed raw so each version can hash it its own way.
func legacyFinished(version ProtocolVersion, h crypto.Hash, masterSecret []byte, end ConnectionEnd, transcript *Transcript) ([]byte, error) {
	if version.tlsEquivalent() == VersionSSL30 {
		magic := ssl3ClientFinishedMagic
		if end == ConnectionEndServer {
			magic = ssl3ServerFinishedMagic
		}
		return finishedSum30(transcript.Bytes(), masterSecret, magic), nil
	}

	label := labelClientFinished
	if end == ConnectionEndServer {
		label = labelServerFinished
	}
	return DeriveKeyBlock(version, h, masterSecret, label, transcript.legacyHash(version, h), verifyDataLength)
}
