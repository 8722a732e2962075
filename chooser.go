package anvil

import (
	"io"
	"math/big"
	"time"

	"github.com/benbjohnson/clock"
)

// Param names a value the Chooser can resolve and a Context can force.
type Param string

const (
	ParamProtocolVersion      Param = "protocol_version"
	ParamHighestClientVersion Param = "highest_client_version"
	ParamCipherSuite          Param = "cipher_suite"
	ParamCompression          Param = "compression"
	ParamClientRandom         Param = "client_random"
	ParamServerRandom         Param = "server_random"
	ParamSessionID            Param = "session_id"
	ParamDTLSCookie           Param = "dtls_cookie"
	ParamGroup                Param = "group"
	ParamSignatureScheme      Param = "signature_scheme"
	ParamPreMasterSecret      Param = "pre_master_secret"
	ParamMasterSecret         Param = "master_secret"
	ParamPSK                  Param = "psk"
	ParamPSKIdentity          Param = "psk_identity"
	ParamPSKIdentityHint      Param = "psk_identity_hint"
	ParamMaxRecordSize        Param = "max_record_size"
	ParamTalking              Param = "talking"
	ParamEncryptThenMAC       Param = "encrypt_then_mac"
	ParamExtendedMasterSecret Param = "extended_master_secret"
	ParamServerName           Param = "server_name"
	ParamTimeout              Param = "timeout"
)

// Chooser answers "what value should be used now" for each parameter. It
// consults, in order, a value forced on the connection, the value learned
// during the handshake and the config default. It never mutates either.
type Chooser struct {
	tc  *Context
	cfg *Config
}

type resolver[T any] func() (T, bool)

// choose returns the first value a resolver produces.
func choose[T any](resolvers ...resolver[T]) T {
	for _, r := range resolvers {
		if v, ok := r(); ok {
			return v
		}
	}
	var zero T
	return zero
}

func forced[T any](tc *Context, p Param) resolver[T] {
	return func() (T, bool) {
		v, ok := tc.forced[p].(T)
		return v, ok
	}
}

func learned[T any](l Learned[T]) resolver[T] {
	return l.Get
}

func liveBytes(b []byte) resolver[[]byte] {
	return func() ([]byte, bool) {
		return b, b != nil
	}
}

func nonZero[T comparable](v T) resolver[T] {
	return func() (T, bool) {
		var zero T
		return v, v != zero
	}
}

func fixed[T any](v T) resolver[T] {
	return func() (T, bool) {
		return v, true
	}
}

func (ch Chooser) Context() *Context { return ch.tc }
func (ch Chooser) Config() *Config   { return ch.cfg }

func (ch Chooser) ConnectionEnd() ConnectionEnd {
	return ch.tc.ConnectionEnd
}

func (ch Chooser) Talking() ConnectionEnd {
	return choose(
		forced[ConnectionEnd](ch.tc, ParamTalking),
		fixed(ch.tc.Talking),
	)
}

func (ch Chooser) ProtocolVersion() ProtocolVersion {
	return choose(
		forced[ProtocolVersion](ch.tc, ParamProtocolVersion),
		learned(ch.tc.ProtocolVersion),
		fixed(ch.cfg.DefaultProtocolVersion),
	)
}

func (ch Chooser) HighestClientVersion() ProtocolVersion {
	return choose(
		forced[ProtocolVersion](ch.tc, ParamHighestClientVersion),
		learned(ch.tc.HighestClientVersion),
		fixed(ch.cfg.HighestProtocolVersion),
	)
}

// RecordVersion is the legacy version written in record headers.
func (ch Chooser) RecordVersion() ProtocolVersion {
	v := ch.ProtocolVersion()
	switch {
	case v == VersionTLS13:
		return VersionTLS12
	case v == VersionDTLS13:
		return VersionDTLS12
	case v == VersionSSL20:
		return VersionSSL30
	}
	return v
}

func (ch Chooser) CipherSuite() CipherSuite {
	return choose(
		forced[CipherSuite](ch.tc, ParamCipherSuite),
		learned(ch.tc.CipherSuite),
		fixed(ch.cfg.DefaultCipherSuite),
	)
}

func (ch Chooser) CipherSuiteParams() (CipherSuiteParams, error) {
	cs := ch.CipherSuite()
	params, ok := CipherSuiteParamsFor(cs)
	if !ok {
		return CipherSuiteParams{}, cryptoError("unsupported cipher suite %v", cs)
	}
	return params, nil
}

func (ch Chooser) Compression() CompressionMethod {
	return choose(
		forced[CompressionMethod](ch.tc, ParamCompression),
		learned(ch.tc.Compression),
		fixed(ch.cfg.DefaultCompression),
	)
}

func (ch Chooser) ClientRandom() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamClientRandom),
		liveBytes(ch.tc.ClientRandom),
		liveBytes(ch.cfg.DefaultClientRandom),
		fixed(make([]byte, randomLength)),
	)
}

func (ch Chooser) ServerRandom() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamServerRandom),
		liveBytes(ch.tc.ServerRandom),
		liveBytes(ch.cfg.DefaultServerRandom),
		fixed(make([]byte, randomLength)),
	)
}

// SessionID is the session id this end should put in its hello.
func (ch Chooser) SessionID() []byte {
	own := ch.tc.ClientSessionID
	if ch.tc.ConnectionEnd == ConnectionEndServer {
		own = ch.tc.ServerSessionID
	}
	return choose(
		forced[[]byte](ch.tc, ParamSessionID),
		liveBytes(own),
		liveBytes(ch.cfg.DefaultSessionID),
		fixed([]byte{}),
	)
}

func (ch Chooser) ClientSessionID() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamSessionID),
		liveBytes(ch.tc.ClientSessionID),
		liveBytes(ch.cfg.DefaultSessionID),
		fixed([]byte{}),
	)
}

func (ch Chooser) DTLSCookie() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamDTLSCookie),
		liveBytes(ch.tc.DTLSCookie),
		liveBytes(ch.cfg.DefaultDTLSCookie),
		fixed([]byte{}),
	)
}

func (ch Chooser) SelectedGroup() NamedGroup {
	return choose(
		forced[NamedGroup](ch.tc, ParamGroup),
		learned(ch.tc.SelectedGroup),
		fixed(ch.cfg.DefaultGroup),
	)
}

func (ch Chooser) SignatureScheme() SignatureScheme {
	return choose(
		forced[SignatureScheme](ch.tc, ParamSignatureScheme),
		learned(ch.tc.SelectedSignature),
		fixed(ch.cfg.DefaultSignatureScheme),
	)
}

func (ch Chooser) PreMasterSecret() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamPreMasterSecret),
		liveBytes(ch.tc.PreMasterSecret),
		liveBytes(ch.cfg.DefaultPreMasterSecret),
	)
}

func (ch Chooser) MasterSecret() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamMasterSecret),
		liveBytes(ch.tc.MasterSecret),
		liveBytes(ch.cfg.DefaultMasterSecret),
	)
}

func (ch Chooser) PSK() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamPSK),
		liveBytes(ch.tc.PSK),
		liveBytes(ch.cfg.PSK),
		fixed([]byte{}),
	)
}

func (ch Chooser) PSKIdentity() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamPSKIdentity),
		liveBytes(ch.tc.PSKIdentity),
		liveBytes(ch.cfg.PSKIdentity),
		fixed([]byte{}),
	)
}

func (ch Chooser) PSKIdentityHint() []byte {
	return choose(
		forced[[]byte](ch.tc, ParamPSKIdentityHint),
		liveBytes(ch.tc.PSKIdentityHint),
		liveBytes(ch.cfg.PSKIdentityHint),
		fixed([]byte{}),
	)
}

func (ch Chooser) EncryptThenMAC() bool {
	return choose(
		forced[bool](ch.tc, ParamEncryptThenMAC),
		fixed(ch.tc.EncryptThenMAC),
	)
}

func (ch Chooser) ExtendedMasterSecret() bool {
	return choose(
		forced[bool](ch.tc, ParamExtendedMasterSecret),
		fixed(ch.tc.ExtendedMasterSecret),
	)
}

func (ch Chooser) ServerName() string {
	return choose(
		forced[string](ch.tc, ParamServerName),
		nonZero(ch.tc.ServerName),
		fixed(ch.cfg.ServerName),
	)
}

// MaxRecordSize is the largest plaintext fragment to send. A peer
// record_size_limit wins over max_fragment_length, which wins over the
// config.
func (ch Chooser) MaxRecordSize() int {
	limit := func() (int, bool) {
		l, ok := ch.tc.PeerRecordSizeLimit.Get()
		if !ok {
			return 0, false
		}
		n := int(l)
		if ch.ProtocolVersion().IsTLS13() {
			// The limit includes the content type byte.
			n--
		}
		return n, n > 0
	}
	mfl := func() (int, bool) {
		code, ok := ch.tc.MaxFragmentLength.Get()
		if !ok || code < 1 || code > 4 {
			return 0, false
		}
		return 1 << (8 + code), true
	}
	return choose[int](
		forced[int](ch.tc, ParamMaxRecordSize),
		limit,
		mfl,
		nonZero(ch.cfg.MaxRecordSize),
		fixed(maxPlaintextRecordLength),
	)
}

func (ch Chooser) Rand() io.Reader {
	return ch.cfg.Rand
}

func (ch Chooser) Clock() clock.Clock {
	return ch.cfg.Clock
}

// DHParameters returns p and g, preferring what the server announced.
func (ch Chooser) DHParameters() (p, g *big.Int) {
	p = choose[*big.Int](
		func() (*big.Int, bool) { return ch.tc.ServerDHModulus, ch.tc.ServerDHModulus != nil },
		fixed(new(big.Int).SetBytes(ch.cfg.DHModulus)),
	)
	g = choose[*big.Int](
		func() (*big.Int, bool) { return ch.tc.ServerDHGenerator, ch.tc.ServerDHGenerator != nil },
		fixed(new(big.Int).SetBytes(ch.cfg.DHGenerator)),
	)
	return p, g
}

func (ch Chooser) SRPParameters() (n, g *big.Int) {
	n = choose[*big.Int](
		func() (*big.Int, bool) { return ch.tc.SRPModulus, ch.tc.SRPModulus != nil },
		fixed(new(big.Int).SetBytes(ch.cfg.SRPModulus)),
	)
	g = choose[*big.Int](
		func() (*big.Int, bool) { return ch.tc.SRPGenerator, ch.tc.SRPGenerator != nil },
		fixed(new(big.Int).SetBytes(ch.cfg.SRPGenerator)),
	)
	return n, g
}

func (ch Chooser) SRPSalt() []byte {
	return choose(
		liveBytes(ch.tc.SRPSalt),
		liveBytes(ch.cfg.SRPSalt),
		fixed([]byte{}),
	)
}

func (ch Chooser) Certificate() *Certificate {
	return ch.cfg.certificate()
}

func (ch Chooser) Timeout() time.Duration {
	return choose(
		forced[time.Duration](ch.tc, ParamTimeout),
		nonZero(ch.cfg.Timeout),
		fixed(defaultTimeout),
	)
}
