package anvil

import (
	"crypto/hmac"
	"hash"
)

type macFunction interface {
	Size() int
	MAC(seq, header, length, data []byte) []byte
}

// tls10MAC implements the TLS 1.0 MAC function. RFC 2246, section 6.2.3.
type tls10MAC struct {
	h hash.Hash
}

func (s tls10MAC) Size() int {
	return s.h.Size()
}

func (s tls10MAC) MAC(seq, header, length, data []byte) []byte {
	s.h.Reset()
	s.h.Write(seq)
	s.h.Write(header)
	s.h.Write(length)
	s.h.Write(data)
	return s.h.Sum(nil)
}

// ssl30MAC is the SSLv3 MAC: an HMAC precursor with fixed pads and no
// version in the header.
type ssl30MAC struct {
	h   hash.Hash
	key []byte
}

func (s ssl30MAC) Size() int {
	return s.h.Size()
}

func (s ssl30MAC) MAC(seq, header, length, data []byte) []byte {
	padLength := 48
	if s.h.Size() == 20 {
		padLength = 40
	}

	s.h.Reset()
	s.h.Write(s.key)
	s.h.Write(ssl30Pad1[:padLength])
	s.h.Write(seq)
	s.h.Write(header[:1])
	s.h.Write(length)
	s.h.Write(data)
	inner := s.h.Sum(nil)

	s.h.Reset()
	s.h.Write(s.key)
	s.h.Write(ssl30Pad2[:padLength])
	s.h.Write(inner)
	return s.h.Sum(nil)
}

// newMAC returns nil for AEAD and null MACs.
func newMAC(alg MacAlgorithm, version ProtocolVersion, key []byte) (macFunction, error) {
	h := alg.hash()
	if h == 0 {
		return nil, nil
	}
	if err := checkHash(h); err != nil {
		return nil, err
	}
	if version == VersionSSL30 {
		return ssl30MAC{h: h.New(), key: key}, nil
	}
	return tls10MAC{hmac.New(h.New, key)}, nil
}
