package anvil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/hmac"
	"io"
)

// blockCipher is CBC with MAC-then-encrypt, or encrypt-then-MAC (RFC 7366)
// when negotiated.
type blockCipher struct {
	cipherBase
	etm               bool
	write, read       cipher.Block
	writeMAC, readMAC macFunction
}

func newCBCBlock(alg CipherAlgorithm, key []byte) (cipher.Block, error) {
	var b cipher.Block
	var err error
	switch alg {
	case CipherDES_CBC:
		b, err = des.NewCipher(key)
	case CipherDES_EDE_CBC:
		b, err = des.NewTripleDESCipher(key)
	case CipherAES_128_CBC, CipherAES_256_CBC:
		b, err = aes.NewCipher(key)
	default:
		return nil, cryptoError("%d is not a CBC cipher", alg)
	}
	if err != nil {
		return nil, cryptoError("block cipher key: %v", err)
	}
	return b, nil
}

func newBlockCipher(b cipherBase, etm bool) (*blockCipher, error) {
	c := &blockCipher{cipherBase: b, etm: etm}
	var err error
	if c.write, err = newCBCBlock(b.params.Cipher, b.states[DirectionWrite].key); err != nil {
		return nil, err
	}
	if c.read, err = newCBCBlock(b.params.Cipher, b.states[DirectionRead].key); err != nil {
		return nil, err
	}
	if c.writeMAC, err = newMAC(b.params.Mac, b.version, b.states[DirectionWrite].macKey); err != nil {
		return nil, err
	}
	if c.readMAC, err = newMAC(b.params.Mac, b.version, b.states[DirectionRead].macKey); err != nil {
		return nil, err
	}
	return c, nil
}

// TLS 1.1 and later (and every DTLS) send a fresh IV in each record.
// Earlier versions chain the last ciphertext block into the next record.
func (c *blockCipher) explicitIV() bool {
	return c.version.AtLeast(VersionTLS11)
}

// cbcPadding returns the padding and padding-length bytes for n bytes of
// payload. Every byte holds the padding length.
func cbcPadding(n, blockSize int) []byte {
	padLen := blockSize - n%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen - 1)
	}
	return pad
}

// removePadding returns an unpadded slice, in constant time, which is a
// prefix of the input. It also returns a byte which is equal to 255 if the
// padding was valid and 0 otherwise. See RFC 2246, section 6.2.3.2
func removePadding(payload []byte) ([]byte, byte) {
	if len(payload) < 1 {
		return payload, 0
	}

	paddingLen := payload[len(payload)-1]
	t := uint(len(payload)-1) - uint(paddingLen)
	// if len(payload) >= (paddingLen - 1) then the MSB of t is zero
	good := byte(int32(^t) >> 31)

	toCheck := 255 // the maximum possible padding length
	// The length of the padded data is public, so we can use an if here
	if toCheck+1 > len(payload) {
		toCheck = len(payload) - 1
	}

	for i := 0; i < toCheck; i++ {
		t := uint(paddingLen) - uint(i)
		// if i <= paddingLen then the MSB of t is zero
		mask := byte(int32(^t) >> 31)
		b := payload[len(payload)-1-i]
		good &^= mask&paddingLen ^ mask&b
	}

	good &= good << 4
	good &= good << 2
	good &= good << 1
	good = uint8(int8(good) >> 7)

	toRemove := good&paddingLen + 1
	return payload[:len(payload)-int(toRemove)], good
}

// SSLv3 padding bytes are arbitrary, so only the length is checked.
func removePaddingSSL30(payload []byte) ([]byte, byte) {
	if len(payload) < 1 {
		return payload, 0
	}

	paddingLen := int(payload[len(payload)-1]) + 1
	if paddingLen > len(payload) {
		return payload, 0
	}

	return payload[:len(payload)-paddingLen], 255
}

func (c *blockCipher) Encrypt(r *Record) error {
	defer c.advance(DirectionWrite)
	seq := c.sequence(r, DirectionWrite)
	st := &c.states[DirectionWrite]
	bs := c.write.BlockSize()

	iv := st.iv
	var explicit []byte
	if c.explicitIV() {
		var err error
		r.Computations.ExplicitNonce.Prepare(func() []byte {
			v := make([]byte, bs)
			if _, err = io.ReadFull(c.rand, v); err != nil {
				return nil
			}
			return v
		})
		if err != nil {
			return cryptoError("explicit IV: %v", err)
		}
		explicit = r.Computations.ExplicitNonce.Resolve()
		iv = explicit
	}
	if len(iv) != bs {
		return cryptoError("CBC IV is %d bytes, want %d", len(iv), bs)
	}

	plain := r.CleanBytes
	payload := plain
	if !c.etm && c.writeMAC != nil {
		r.Computations.MAC.Prepare(func() []byte {
			return c.writeMAC.MAC(seq, macHeader(r), lengthBytes(len(plain)), plain)
		})
		payload = concat(plain, r.Computations.MAC.Resolve())
	}
	r.Computations.Padding.Prepare(func() []byte { return cbcPadding(len(payload), bs) })
	payload = concat(payload, r.Computations.Padding.Resolve())
	if len(payload) == 0 || len(payload)%bs != 0 {
		return cryptoError("padded payload of %d bytes is not a multiple of the %d byte block", len(payload), bs)
	}

	ct := make([]byte, len(payload))
	cipher.NewCBCEncrypter(c.write, iv).CryptBlocks(ct, payload)
	if !c.explicitIV() {
		st.iv = append([]byte{}, ct[len(ct)-bs:]...)
	}

	frag := concat(explicit, ct)
	if c.etm && c.writeMAC != nil {
		r.Computations.MAC.Prepare(func() []byte {
			return c.writeMAC.MAC(seq, macHeader(r), lengthBytes(len(frag)), frag)
		})
		frag = concat(frag, r.Computations.MAC.Resolve())
	}
	r.Fragment.Prepare(func() []byte { return frag })
	r.Length.Prepare(func() uint16 { return uint16(len(r.Fragment.Resolve())) })
	return nil
}

func (c *blockCipher) Decrypt(r *Record) error {
	defer c.advance(DirectionRead)
	seq := c.sequence(r, DirectionRead)
	st := &c.states[DirectionRead]
	bs := c.read.BlockSize()

	macSize := 0
	if c.readMAC != nil {
		macSize = c.readMAC.Size()
	}

	frag := r.Fragment.Resolve()
	if c.etm && macSize > 0 {
		if len(frag) < macSize {
			r.Computations.MACValid.Set(false)
			return ErrAuthenticationFailure
		}
		body, mac := frag[:len(frag)-macSize], frag[len(frag)-macSize:]
		r.Computations.MAC.Assign(mac)
		ok := hmac.Equal(mac, c.readMAC.MAC(seq, macHeader(r), lengthBytes(len(body)), body))
		r.Computations.MACValid.Set(ok)
		if !ok {
			return ErrAuthenticationFailure
		}
		frag = body
	}

	iv := st.iv
	if c.explicitIV() {
		if len(frag) < bs {
			return malformed("CBC record of %d bytes has no explicit IV", len(frag))
		}
		iv = frag[:bs]
		r.Computations.ExplicitNonce.Assign(iv)
		frag = frag[bs:]
	}
	if len(frag) == 0 || len(frag)%bs != 0 {
		return malformed("CBC ciphertext of %d bytes is not a multiple of the %d byte block", len(frag), bs)
	}
	if len(iv) != bs {
		return cryptoError("CBC IV is %d bytes, want %d", len(iv), bs)
	}

	padded := make([]byte, len(frag))
	cipher.NewCBCDecrypter(c.read, iv).CryptBlocks(padded, frag)
	if !c.explicitIV() {
		st.iv = append([]byte{}, frag[len(frag)-bs:]...)
	}

	var plain []byte
	var good byte
	if c.version == VersionSSL30 {
		plain, good = removePaddingSSL30(padded)
	} else {
		plain, good = removePadding(padded)
	}
	r.Computations.Padding.Assign(padded[len(plain):])
	r.Computations.PaddingValid.Set(good == 255)

	if !c.etm && macSize > 0 {
		if len(plain) < macSize {
			r.Computations.MACValid.Set(false)
			return ErrAuthenticationFailure
		}
		content, mac := plain[:len(plain)-macSize], plain[len(plain)-macSize:]
		r.Computations.MAC.Assign(mac)
		ok := hmac.Equal(mac, c.readMAC.MAC(seq, macHeader(r), lengthBytes(len(content)), content))
		r.Computations.MACValid.Set(ok)
		if !ok || good != 255 {
			return ErrAuthenticationFailure
		}
		r.CleanBytes = content
		return nil
	}

	if good != 255 {
		return ErrAuthenticationFailure
	}
	r.CleanBytes = plain
	return nil
}
