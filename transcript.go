package anvil

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
)

// Transcript keeps the raw handshake messages of a connection. Digests are
// computed when asked for, so a suite or version change mid-handshake
// still hashes the right bytes.
type Transcript struct {
	buf []byte
}

func (t *Transcript) Append(msgs ...[]byte) {
	for _, m := range msgs {
		t.buf = append(t.buf, m...)
	}
}

func (t *Transcript) Bytes() []byte {
	return append([]byte{}, t.buf...)
}

func (t *Transcript) Len() int {
	return len(t.buf)
}

func (t *Transcript) Reset() {
	t.buf = nil
}

func (t *Transcript) Set(data []byte) {
	t.buf = append([]byte{}, data...)
}

// Hash returns h(messages || extra). extra lets a caller hash a message that
// is not in the transcript yet, as PSK binders require.
func (t *Transcript) Hash(h crypto.Hash, extra ...[]byte) []byte {
	d := h.New()
	d.Write(t.buf)
	for _, e := range extra {
		d.Write(e)
	}
	return d.Sum(nil)
}

// legacyHash is the digest the TLS <= 1.2 Finished and extended master
// secret use: MD5 || SHA1 before TLS 1.2, the PRF hash from TLS 1.2 on.
func (t *Transcript) legacyHash(version ProtocolVersion, h crypto.Hash) []byte {
	if version.AtLeast(VersionTLS12) {
		return t.Hash(h)
	}
	m := md5.Sum(t.buf)
	s := sha1.Sum(t.buf)
	return concat(m[:], s[:])
}

// ReplaceWithMessageHash swaps the transcript for the synthetic message_hash
// message of RFC 8446 section 4.4.1. It is used on HelloRetryRequest.
func (t *Transcript) ReplaceWithMessageHash(h crypto.Hash) {
	digest := t.Hash(h)
	msg := []byte{byte(HandshakeTypeMessageHash), 0, 0, byte(len(digest))}
	t.buf = append(msg, digest...)
}

// Prefix returns a copy holding only the first n bytes. Handlers use it to
// check a received Finished against the transcript that preceded it.
func (t *Transcript) Prefix(n int) *Transcript {
	if n < 0 {
		n = 0
	}
	if n > len(t.buf) {
		n = len(t.buf)
	}
	return &Transcript{buf: append([]byte{}, t.buf[:n]...)}
}
