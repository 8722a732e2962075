package anvil

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rc4"
)

// streamCipher covers RC4 and the NULL bulk cipher with a MAC. The
// keystream state runs across records, so it is always advanced even when
// the fragment is overridden.
type streamCipher struct {
	cipherBase
	write, read       cipher.Stream
	writeMAC, readMAC macFunction
}

func newStreamCipher(b cipherBase) (*streamCipher, error) {
	c := &streamCipher{cipherBase: b}
	var err error
	if c.writeMAC, err = newMAC(b.params.Mac, b.version, b.states[DirectionWrite].macKey); err != nil {
		return nil, err
	}
	if c.readMAC, err = newMAC(b.params.Mac, b.version, b.states[DirectionRead].macKey); err != nil {
		return nil, err
	}
	if b.params.Cipher != CipherRC4_128 {
		return c, nil
	}

	w, err := rc4.NewCipher(b.states[DirectionWrite].key)
	if err != nil {
		return nil, cryptoError("rc4 write key: %v", err)
	}
	r, err := rc4.NewCipher(b.states[DirectionRead].key)
	if err != nil {
		return nil, cryptoError("rc4 read key: %v", err)
	}
	c.write, c.read = w, r
	return c, nil
}

func (c *streamCipher) Encrypt(r *Record) error {
	defer c.advance(DirectionWrite)
	seq := c.sequence(r, DirectionWrite)

	data := r.CleanBytes
	if c.writeMAC != nil {
		r.Computations.MAC.Prepare(func() []byte {
			return c.writeMAC.MAC(seq, macHeader(r), lengthBytes(len(data)), data)
		})
		data = concat(data, r.Computations.MAC.Resolve())
	}
	out := append([]byte{}, data...)
	if c.write != nil {
		c.write.XORKeyStream(out, out)
	}
	r.Fragment.Prepare(func() []byte { return out })
	r.Length.Prepare(func() uint16 { return uint16(len(r.Fragment.Resolve())) })
	return nil
}

func (c *streamCipher) Decrypt(r *Record) error {
	defer c.advance(DirectionRead)
	seq := c.sequence(r, DirectionRead)

	data := append([]byte{}, r.Fragment.Resolve()...)
	if c.read != nil {
		c.read.XORKeyStream(data, data)
	}
	if c.readMAC == nil {
		r.CleanBytes = data
		return nil
	}

	n := c.readMAC.Size()
	if len(data) < n {
		r.Computations.MACValid.Set(false)
		return ErrAuthenticationFailure
	}
	content, mac := data[:len(data)-n], data[len(data)-n:]
	r.Computations.MAC.Assign(mac)
	ok := hmac.Equal(mac, c.readMAC.MAC(seq, macHeader(r), lengthBytes(len(content)), content))
	r.Computations.MACValid.Set(ok)
	if !ok {
		return ErrAuthenticationFailure
	}
	r.CleanBytes = content
	return nil
}
