package anvil

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/chacha20poly1305"
)

type aeadCipher struct {
	cipherBase
	write, read cipher.AEAD
	// padding is the number of zero bytes appended to TLS 1.3 inner
	// plaintexts.
	padding int
}

func newAEADCipher(b cipherBase, padding int) (*aeadCipher, error) {
	c := &aeadCipher{cipherBase: b, padding: padding}
	var err error
	if c.write, err = c.newAEAD(b.states[DirectionWrite]); err != nil {
		return nil, err
	}
	if c.read, err = c.newAEAD(b.states[DirectionRead]); err != nil {
		return nil, err
	}
	return c, nil
}

// explicitNonce reports whether records carry the 8-byte explicit nonce of
// the TLS 1.2 GCM and CCM suites. TLS 1.3 and ChaCha20 suites derive the
// whole nonce from the IV and sequence number.
func (c *aeadCipher) explicitNonce() bool {
	return !c.version.IsTLS13() && c.params.Cipher != CipherChaCha20Poly1305
}

func (c *aeadCipher) nonceSize(iv []byte) int {
	if c.explicitNonce() {
		return len(iv) + aeadExplicitNonceLength
	}
	return max(len(iv), aeadIVLength)
}

// newAEAD returns nil for a direction without a key, such as the server
// half of the early data keys.
func (c *aeadCipher) newAEAD(st cipherState) (cipher.AEAD, error) {
	if len(st.key) == 0 {
		return nil, nil
	}
	if c.params.Cipher == CipherChaCha20Poly1305 {
		a, err := chacha20poly1305.New(st.key)
		if err != nil {
			return nil, cryptoError("chacha20poly1305 key: %v", err)
		}
		return a, nil
	}

	block, err := aes.NewCipher(st.key)
	if err != nil {
		return nil, cryptoError("aes key: %v", err)
	}
	n := c.nonceSize(st.iv)
	switch c.params.Cipher {
	case CipherAES_128_GCM, CipherAES_256_GCM:
		a, err := cipher.NewGCMWithNonceSize(block, n)
		if err != nil {
			return nil, cryptoError("gcm: %v", err)
		}
		return a, nil
	case CipherAES_128_CCM, CipherAES_128_CCM_8:
		a, err := ccm.NewCCM(block, cipherAlgorithms[c.params.Cipher].tagLen, n)
		if err != nil {
			return nil, cryptoError("ccm: %v", err)
		}
		return a, nil
	}
	return nil, cryptoError("%d is not an AEAD cipher", c.params.Cipher)
}

// nonce is either salt || explicit, or the IV with the sequence number
// XORed into its last eight bytes.
func (c *aeadCipher) nonce(iv, seq, explicit []byte) []byte {
	if c.explicitNonce() {
		return concat(iv, explicit)
	}
	n := make([]byte, c.nonceSize(iv))
	copy(n, iv)
	off := len(n) - len(seq)
	for i, b := range seq {
		n[off+i] ^= b
	}
	return n
}

func (c *aeadCipher) Encrypt(r *Record) error {
	defer c.advance(DirectionWrite)
	if c.write == nil {
		return cryptoError("%v keys have no write key for this end", c.keySet.Type)
	}
	seq := c.sequence(r, DirectionWrite)
	st := c.states[DirectionWrite]
	tls13 := c.version.IsTLS13()

	plain := r.CleanBytes
	if tls13 {
		r.Computations.Padding.Prepare(func() []byte { return make([]byte, c.padding) })
		plain = concat(r.CleanBytes, []byte{byte(r.Type)}, r.Computations.Padding.Resolve())
		r.ContentType.Assign(uint8(RecordTypeApplicationData))
	}

	var explicit []byte
	if c.explicitNonce() {
		r.Computations.ExplicitNonce.Prepare(func() []byte { return seq })
		explicit = r.Computations.ExplicitNonce.Resolve()
	}
	r.Computations.Nonce.Prepare(func() []byte { return c.nonce(st.iv, seq, explicit) })
	nonce := r.Computations.Nonce.Resolve()
	if len(nonce) != c.write.NonceSize() {
		return cryptoError("nonce is %d bytes, want %d", len(nonce), c.write.NonceSize())
	}

	if tls13 {
		// The header, and so the length, is authenticated.
		r.Length.Prepare(func() uint16 { return uint16(len(plain) + c.write.Overhead()) })
		r.Computations.AAD.Prepare(func() []byte { return r.header(r.Length.Resolve()) })
	} else {
		r.Computations.AAD.Prepare(func() []byte {
			return concat(seq, macHeader(r), lengthBytes(len(plain)))
		})
	}

	sealed := c.write.Seal(nil, nonce, plain, r.Computations.AAD.Resolve())
	tagLen := c.write.Overhead()
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]
	r.Computations.AuthTag.Prepare(func() []byte { return tag })

	frag := concat(explicit, ct, r.Computations.AuthTag.Resolve())
	r.Fragment.Prepare(func() []byte { return frag })
	if !tls13 {
		r.Length.Prepare(func() uint16 { return uint16(len(r.Fragment.Resolve())) })
	}
	return nil
}

func (c *aeadCipher) Decrypt(r *Record) error {
	defer c.advance(DirectionRead)
	if c.read == nil {
		return cryptoError("%v keys have no read key for this end", c.keySet.Type)
	}
	seq := c.sequence(r, DirectionRead)
	st := c.states[DirectionRead]
	tls13 := c.version.IsTLS13()

	frag := r.Fragment.Resolve()
	var explicit []byte
	if c.explicitNonce() {
		if len(frag) < aeadExplicitNonceLength {
			return malformed("AEAD record of %d bytes has no explicit nonce", len(frag))
		}
		explicit, frag = frag[:aeadExplicitNonceLength], frag[aeadExplicitNonceLength:]
		r.Computations.ExplicitNonce.Assign(explicit)
	}

	tagLen := c.read.Overhead()
	if len(frag) < tagLen {
		r.Computations.AuthTagValid.Set(false)
		return ErrAuthenticationFailure
	}
	r.Computations.AuthTag.Assign(frag[len(frag)-tagLen:])

	nonce := c.nonce(st.iv, seq, explicit)
	r.Computations.Nonce.Assign(nonce)
	if len(nonce) != c.read.NonceSize() {
		return cryptoError("nonce is %d bytes, want %d", len(nonce), c.read.NonceSize())
	}

	var aad []byte
	if tls13 {
		aad = r.header(r.Length.Resolve())
	} else {
		aad = concat(seq, macHeader(r), lengthBytes(len(frag)-tagLen))
	}
	r.Computations.AAD.Assign(aad)

	plain, err := c.read.Open(nil, nonce, frag, aad)
	r.Computations.AuthTagValid.Set(err == nil)
	if err != nil {
		return ErrAuthenticationFailure
	}

	if tls13 {
		i := len(plain) - 1
		for i >= 0 && plain[i] == 0 {
			i--
		}
		if i < 0 {
			return malformed("protected record carries no content type")
		}
		r.Computations.Padding.Assign(plain[i+1:])
		r.Type = RecordType(plain[i])
		plain = plain[:i]
	}
	r.CleanBytes = plain
	return nil
}
