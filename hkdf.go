package anvil

import (
	"crypto"
	"crypto/hmac"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

const (
	labelExternalBinder                 = "ext binder"
	labelResumptionBinder               = "res binder"
	labelEarlyTrafficSecret             = "c e traffic"
	labelEarlyExporterSecret            = "e exp master"
	labelClientHandshakeTrafficSecret   = "c hs traffic"
	labelServerHandshakeTrafficSecret   = "s hs traffic"
	labelClientApplicationTrafficSecret = "c ap traffic"
	labelServerApplicationTrafficSecret = "s ap traffic"
	labelExporterSecret                 = "exp master"
	labelResumptionSecret               = "res master"
	labelDerived                        = "derived"
	labelFinished                       = "finished"
	labelResumption                     = "resumption"
	labelTrafficUpdate                  = "traffic upd"
	labelExporter                       = "exporter"
	labelKey                            = "key"
	labelIV                             = "iv"
	tls13LabelPrefix                    = "tls13 "
)

func checkHash(hash crypto.Hash) error {
	if hash == 0 || !hash.Available() {
		return cryptoError("hash %v not available", hash)
	}
	if hash.Size() == 0 {
		return cryptoError("zero-length MAC for hash %v", hash)
	}
	return nil
}

// HkdfExtract computes HMAC(salt, ikm). An empty salt is a string of
// hash-length zeros.
func HkdfExtract(hash crypto.Hash, salt, ikm []byte) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		salt = make([]byte, hash.Size())
	}
	if ikm == nil {
		ikm = []byte{}
	}
	prk := hkdf.Extract(hash.New, ikm, salt)
	logf(logTypeCrypto, "HKDF Extract:")
	logf(logTypeCrypto, "Salt [%d]: %x", len(salt), salt)
	logf(logTypeCrypto, "Input [%d]: %x", len(ikm), ikm)
	logf(logTypeCrypto, "Output [%d]: %x", len(prk), prk)
	return prk, nil
}

// HkdfExpand returns exactly outLen bytes of T(1) || T(2) || ...
func HkdfExpand(hash crypto.Hash, prk, info []byte, outLen int) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	if outLen < 0 || outLen > 255*hash.Size() {
		return nil, cryptoError("HKDF output length %d out of range", outLen)
	}
	out := make([]byte, outLen)
	if _, err := io.ReadFull(hkdf.Expand(hash.New, prk, info), out); err != nil {
		return nil, cryptoError("HKDF expand: %v", err)
	}
	return out, nil
}

// hkdfLabel encodes the HkdfLabel structure of RFC 8446 section 7.1.
func hkdfLabel(label string, context []byte, outLen int) []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(outLen))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(tls13LabelPrefix + label))
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	return b.BytesOrPanic()
}

func HkdfExpandLabel(hash crypto.Hash, secret []byte, label string, context []byte, outLen int) ([]byte, error) {
	info := hkdfLabel(label, context, outLen)
	out, err := HkdfExpand(hash, secret, info, outLen)
	if err != nil {
		return nil, err
	}
	logf(logTypeCrypto, "HKDF Expand: label=[%s] => [%s]", tls13LabelPrefix+label, label)
	logf(logTypeCrypto, "Hash: %x", context)
	logf(logTypeCrypto, "Output [%d]: %x", outLen, out)
	return out, nil
}

// DeriveSecret expands secret with the transcript hash as context.
func DeriveSecret(hash crypto.Hash, secret []byte, label string, transcriptHash []byte) ([]byte, error) {
	if err := checkHash(hash); err != nil {
		return nil, err
	}
	return HkdfExpandLabel(hash, secret, label, transcriptHash, hash.Size())
}

// emptyHash is Hash("") used where a secret is derived over no messages.
func emptyHash(hash crypto.Hash) []byte {
	h := hash.New()
	return h.Sum(nil)
}

func computeFinishedData(hash crypto.Hash, baseKey, transcriptHash []byte) ([]byte, error) {
	finishedKey, err := HkdfExpandLabel(hash, baseKey, labelFinished, []byte{}, hash.Size())
	if err != nil {
		return nil, err
	}
	mac := hmac.New(hash.New, finishedKey)
	mac.Write(transcriptHash)
	return mac.Sum(nil), nil
}
