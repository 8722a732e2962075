package anvil

import (
	"crypto"
	"crypto/sha256"
	"io"
	"testing"

	"golang.org/x/crypto/hkdf"
)

// RFC 5869, test case 1.
func TestHkdfRFC5869(t *testing.T) {
	ikm := unhex("0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt := unhex("000102030405060708090a0b0c")
	info := unhex("f0f1f2f3f4f5f6f7f8f9")

	prk, err := HkdfExtract(crypto.SHA256, salt, ikm)
	assertNotError(t, err, "extract")
	assertByteEquals(t, prk, unhex("077709362c2e32df0ddc3f0dc47bba6390b6c73bb50f9c3122ec844ad7c2b3e5"))

	okm, err := HkdfExpand(crypto.SHA256, prk, info, 42)
	assertNotError(t, err, "expand")
	assertByteEquals(t, okm, unhex("3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865"))

	_, err = HkdfExpand(crypto.SHA256, prk, info, 255*32+1)
	assertKind(t, err, ErrCryptoOperation)
	_, err = HkdfExtract(crypto.Hash(0), salt, ikm)
	assertKind(t, err, ErrCryptoOperation)
}

// RFC 8448 section 3: the early secret without a PSK and the salt derived
// from it.
func TestTLS13EarlySecret(t *testing.T) {
	early, err := HkdfExtract(crypto.SHA256, nil, make([]byte, 32))
	assertNotError(t, err, "extract")
	assertByteEquals(t, early, unhex("33ad0a1c607ec03b09e6cd9893680ce210adf300aa1f2660e1b22e10f170f92a"))

	empty := sha256.Sum256(nil)
	derived, err := DeriveSecret(crypto.SHA256, early, labelDerived, empty[:])
	assertNotError(t, err, "derive")
	assertByteEquals(t, derived, unhex("6f2615a108c702c5678f54fc9dbab69716c076189c48250cebeac3576c3611ba"))
}

func TestHkdfExpandLabelEncoding(t *testing.T) {
	secret := unhex("33ad0a1c607ec03b09e6cd9893680ce210adf300aa1f2660e1b22e10f170f92a")
	context := []byte{0xaa, 0xbb}

	got, err := HkdfExpandLabel(crypto.SHA256, secret, "key", context, 16)
	assertNotError(t, err, "expand label")

	info := []byte{0x00, 0x10, byte(len("tls13 key"))}
	info = append(info, "tls13 key"...)
	info = append(info, byte(len(context)))
	info = append(info, context...)
	want := make([]byte, 16)
	_, err = io.ReadFull(hkdf.Expand(sha256.New, secret, info), want)
	assertNotError(t, err, "reference expand")
	assertByteEquals(t, got, want)

	longer, err := HkdfExpandLabel(crypto.SHA256, secret, "key", context, 32)
	assertNotError(t, err, "expand label")
	assertNotByteEquals(t, longer[:16], got)
}

func TestTLS12PRF(t *testing.T) {
	secret := unhex("9bbe436ba940f017b17652849a71db35")
	seed := unhex("a0ba9f936cda311827a6f796ffd5198c")
	out, err := DeriveKeyBlock(VersionTLS12, crypto.SHA256, secret, "test label", seed, 100)
	assertNotError(t, err, "prf")
	assertByteEquals(t, out, unhex(""+
		"e3f229ba727be17b8d122620557cd453c2aab21d07c3d495329b52d4e61edb5a"+
		"6b301791e90d35c9c9a46b4e14baf9af0fa022f7077def17abfd3797c0564bab"+
		"4fbc91666e9def9b97fce34f796789baa48082d122ee42c5a72e5a5110fff701"+
		"87347b66"))

	short, err := DeriveKeyBlock(VersionTLS12, crypto.SHA256, secret, "test label", seed, 20)
	assertNotError(t, err, "prf")
	assertByteEquals(t, short, out[:20])
}

func TestLegacyPRFDiffersFromTLS12(t *testing.T) {
	secret := make([]byte, 48)
	seed := make([]byte, 64)
	a, err := DeriveKeyBlock(VersionTLS10, crypto.SHA256, secret, labelKeyExpansion, seed, 40)
	assertNotError(t, err, "tls 1.0 prf")
	b, err := DeriveKeyBlock(VersionTLS12, crypto.SHA256, secret, labelKeyExpansion, seed, 40)
	assertNotError(t, err, "tls 1.2 prf")
	assertEquals(t, len(a), 40)
	assertNotByteEquals(t, a, b)
}

func TestTranscriptMessageHash(t *testing.T) {
	tr := &Transcript{}
	tr.Append([]byte("client hello"))
	first := sha256.Sum256([]byte("client hello"))

	tr.ReplaceWithMessageHash(crypto.SHA256)
	want := append([]byte{uint8(HandshakeTypeMessageHash), 0, 0, 32}, first[:]...)
	assertByteEquals(t, tr.Bytes(), want)

	tr.Append([]byte("more"))
	p := tr.Prefix(4)
	assertEquals(t, p.Len(), 4)
	assertEquals(t, tr.Len(), len(want)+4)
}
