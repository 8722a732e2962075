package anvil

import (
	"fmt"
)

// KeySetType names the purpose of a key set. In TLS 1.3 the purpose picks
// the traffic secret; before TLS 1.3 every non-null type comes from the key
// block.
type KeySetType uint8

const (
	KeySetNone KeySetType = iota
	KeySetEarly
	KeySetHandshake
	KeySetApplication
	KeySetUpdate
)

func (t KeySetType) String() string {
	switch t {
	case KeySetNone:
		return "none"
	case KeySetEarly:
		return "early"
	case KeySetHandshake:
		return "handshake"
	case KeySetApplication:
		return "application"
	case KeySetUpdate:
		return "update"
	}
	return fmt.Sprintf("keyset(%d)", uint8(t))
}

// KeySet is the key material of one epoch. It is never modified after it
// is built; a rekey installs a new one.
type KeySet struct {
	Type            KeySetType
	ClientWriteKey  []byte
	ServerWriteKey  []byte
	ClientWriteIV   []byte
	ServerWriteIV   []byte
	ClientMACSecret []byte
	ServerMACSecret []byte
}

func (k KeySet) WriteKey(end ConnectionEnd) []byte {
	if end == ConnectionEndServer {
		return k.ServerWriteKey
	}
	return k.ClientWriteKey
}

func (k KeySet) WriteIV(end ConnectionEnd) []byte {
	if end == ConnectionEndServer {
		return k.ServerWriteIV
	}
	return k.ClientWriteIV
}

func (k KeySet) MACSecret(end ConnectionEnd) []byte {
	if end == ConnectionEndServer {
		return k.ServerMACSecret
	}
	return k.ClientMACSecret
}

func (k KeySet) String() string {
	return fmt.Sprintf("KeySet{%v ckey=%x skey=%x civ=%x siv=%x cmac=%x smac=%x}", k.Type,
		k.ClientWriteKey, k.ServerWriteKey, k.ClientWriteIV, k.ServerWriteIV,
		k.ClientMACSecret, k.ServerMACSecret)
}

// legacyIVLen is the IV length taken from the key block.
func legacyIVLen(params CipherSuiteParams, version ProtocolVersion) int {
	alg := cipherAlgorithms[params.Cipher]
	switch alg.typ {
	case CipherTypeAEAD:
		return alg.fixedIVLen
	case CipherTypeBlock:
		if version.AtLeast(VersionTLS11) {
			return 0
		}
		return alg.blockSize
	}
	return 0
}

// makeLegacyKeySet splits the key block per RFC 5246 section 6.3.
func makeLegacyKeySet(params CipherSuiteParams, version ProtocolVersion, masterSecret, clientRandom, serverRandom []byte, t KeySetType) (KeySet, error) {
	macLen := params.Mac.Size()
	keyLen := params.Cipher.KeySize()
	ivLen := legacyIVLen(params, version)

	n := 2*macLen + 2*keyLen + 2*ivLen
	block, err := DeriveKeyBlock(version, prfHash(params, version), masterSecret, labelKeyExpansion,
		concat(serverRandom, clientRandom), n)
	if err != nil {
		return KeySet{}, err
	}

	take := func(l int) []byte {
		out := block[:l]
		block = block[l:]
		return out
	}
	ks := KeySet{Type: t}
	ks.ClientMACSecret = take(macLen)
	ks.ServerMACSecret = take(macLen)
	ks.ClientWriteKey = take(keyLen)
	ks.ServerWriteKey = take(keyLen)
	ks.ClientWriteIV = take(ivLen)
	ks.ServerWriteIV = take(ivLen)
	return ks, nil
}

func makeTrafficKeys(params CipherSuiteParams, secret []byte) (key, iv []byte, err error) {
	key, err = HkdfExpandLabel(params.Hash, secret, labelKey, []byte{}, params.Cipher.KeySize())
	if err != nil {
		return nil, nil, err
	}
	iv, err = HkdfExpandLabel(params.Hash, secret, labelIV, []byte{}, aeadIVLength)
	if err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

// makeTLS13KeySet derives both halves from their traffic secrets. A nil
// secret leaves that half empty.
func makeTLS13KeySet(params CipherSuiteParams, clientSecret, serverSecret []byte, t KeySetType) (KeySet, error) {
	ks := KeySet{Type: t}
	var err error
	if clientSecret != nil {
		if ks.ClientWriteKey, ks.ClientWriteIV, err = makeTrafficKeys(params, clientSecret); err != nil {
			return KeySet{}, err
		}
	}
	if serverSecret != nil {
		if ks.ServerWriteKey, ks.ServerWriteIV, err = makeTrafficKeys(params, serverSecret); err != nil {
			return KeySet{}, err
		}
	}
	return ks, nil
}

// GenerateKeySet builds the key set of the given type from the negotiated
// state.
func GenerateKeySet(ch Chooser, t KeySetType) (KeySet, error) {
	if t == KeySetNone {
		return KeySet{Type: KeySetNone}, nil
	}

	params, err := ch.CipherSuiteParams()
	if err != nil {
		return KeySet{}, err
	}
	version := ch.ProtocolVersion()

	if !version.IsTLS13() {
		return makeLegacyKeySet(params, version, ch.MasterSecret(), ch.ClientRandom(), ch.ServerRandom(), t)
	}

	tc := ch.tc
	var clientSecret, serverSecret []byte
	switch t {
	case KeySetEarly:
		// Only the client writes early data.
		clientSecret = tc.ClientEarlyTrafficSecret
	case KeySetHandshake:
		clientSecret = tc.ClientHandshakeTrafficSecret
		serverSecret = tc.ServerHandshakeTrafficSecret
	case KeySetApplication, KeySetUpdate:
		clientSecret = tc.ClientApplicationTrafficSecret
		serverSecret = tc.ServerApplicationTrafficSecret
	}
	if clientSecret == nil && serverSecret == nil {
		return KeySet{}, cryptoError("no %v traffic secrets derived", t)
	}
	ks, err := makeTLS13KeySet(params, clientSecret, serverSecret, t)
	if err != nil {
		return KeySet{}, err
	}
	logf(logTypeCrypto, "generated %v", ks)
	return ks, nil
}
