package anvil

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
)

// Learned is a value observed on the wire. Unlike a zero value it can
// distinguish "not seen" from "seen as zero".
type Learned[T any] struct {
	v  T
	ok bool
}

func (l *Learned[T]) Set(v T) {
	l.v = v
	l.ok = true
}

func (l *Learned[T]) Clear() {
	var zero T
	l.v = zero
	l.ok = false
}

func (l Learned[T]) Get() (T, bool) {
	return l.v, l.ok
}

// KeyShareEntry is one (group, key_exchange) pair.
type KeyShareEntry struct {
	Group       NamedGroup
	KeyExchange []byte
}

// PreSharedKey is a PSK available to the client or a ticket issued by the
// server.
type PreSharedKey struct {
	CipherSuite  CipherSuite
	IsResumption bool
	Identity     []byte
	Key          []byte
	NextProto    string
	ReceivedAt   int64 // unix milliseconds
	Lifetime     uint32
	TicketAgeAdd uint32
}

type pendingTicket struct {
	nonce    []byte
	ticket   []byte
	lifetime uint32
	ageAdd   uint32
}

// Context is the negotiated state of one connection end. It is owned by the
// goroutine that drives the connection and is never shared.
type Context struct {
	Config        *Config
	ConnectionEnd ConnectionEnd
	// Talking is the end whose message is being processed right now.
	Talking ConnectionEnd

	ProtocolVersion           Learned[ProtocolVersion]
	HighestClientVersion      Learned[ProtocolVersion]
	CipherSuite               Learned[CipherSuite]
	Compression               Learned[CompressionMethod]
	ClientOfferedSuites       []CipherSuite
	ClientOfferedCompressions []CompressionMethod
	ClientOfferedVersions     []ProtocolVersion
	ClientOfferedGroups       []NamedGroup
	ClientOfferedSignatures   []SignatureScheme

	ClientRandom    []byte
	ServerRandom    []byte
	ClientSessionID []byte
	ServerSessionID []byte
	DTLSCookie      []byte
	// HRRCookie is the TLS 1.3 cookie extension from a HelloRetryRequest.
	HRRCookie []byte

	// DTLS handshake message_seq counters.
	DTLSWriteHandshakeSeq uint16
	DTLSReadHandshakeSeq  uint16

	SelectedGroup     Learned[NamedGroup]
	SelectedSignature Learned[SignatureScheme]
	ClientKeyShares   []KeyShareEntry
	ServerKeyShare    *KeyShareEntry
	// Private key material this end used for its key share / ephemeral.
	KeySharePrivateKeys map[NamedGroup][]byte

	PeerCertificates    []*x509.Certificate
	PeerPublicKey       crypto.PublicKey
	PeerCertificateType Learned[CertificateType]

	// (EC)DHE and SRP parameters of the pre-TLS 1.3 key exchange.
	ServerDHModulus   *big.Int
	ServerDHGenerator *big.Int
	ServerDHPublic    *big.Int
	ClientDHPublic    *big.Int
	ServerECPublic    []byte
	ClientECPublic    []byte
	SRPModulus        *big.Int
	SRPGenerator      *big.Int
	SRPSalt           []byte
	SRPServerPublic   *big.Int
	SRPClientPublic   *big.Int
	PSKIdentity       []byte
	PSKIdentityHint   []byte
	// Our own DH and SRP secret exponents.
	dhPrivate  *big.Int
	srpPrivate *big.Int

	PreMasterSecret []byte
	MasterSecret    []byte

	// TLS 1.3 secrets.
	PSK                            []byte
	EarlySecret                    []byte
	HandshakeSecret                []byte
	MainSecret                     []byte
	ClientEarlyTrafficSecret       []byte
	EarlyExporterSecret            []byte
	ClientHandshakeTrafficSecret   []byte
	ServerHandshakeTrafficSecret   []byte
	ClientApplicationTrafficSecret []byte
	ServerApplicationTrafficSecret []byte
	ExporterMasterSecret           []byte
	ResumptionMasterSecret         []byte

	// PSKs holds every PSK learned on this connection, most recent last.
	PSKs             []PreSharedKey
	SelectedPSKIndex Learned[uint16]
	pendingTickets   []pendingTicket

	// Negotiated extension state.
	EncryptThenMAC       bool
	ExtendedMasterSecret bool
	SecureRenegotiation  bool
	PeerRecordSizeLimit  Learned[uint16]
	MaxFragmentLength    Learned[uint8]
	NegotiatedALPN       string
	ServerName           string
	PeerHeartbeatMode    Learned[HeartbeatMode]
	PasswordSalt         []byte
	SessionTicket        []byte
	EarlyDataAccepted    bool

	ClientVerifyData []byte
	ServerVerifyData []byte

	ReceivedFatalAlert bool
	LastAlert          Learned[Alert]
	ApplicationData    [][]byte

	// KeySets generated on this connection, by type.
	KeySets map[KeySetType]KeySet

	Transcript *Transcript

	forced   map[Param]any
	warnings []string
}

// NewContext returns fresh state for one end of a connection.
func NewContext(config *Config, end ConnectionEnd) *Context {
	return &Context{
		Config:              config,
		ConnectionEnd:       end,
		Talking:             ConnectionEndClient,
		KeySharePrivateKeys: map[NamedGroup][]byte{},
		KeySets:             map[KeySetType]KeySet{},
		Transcript:          &Transcript{},
		forced:              map[Param]any{},
	}
}

// Chooser returns a read-only resolver over this context and its config.
func (tc *Context) Chooser() Chooser {
	return Chooser{tc: tc, cfg: tc.Config}
}

// Force pins a parameter for this connection. Forced values beat anything
// learned or configured.
func (tc *Context) Force(p Param, v any) {
	tc.forced[p] = v
}

func (tc *Context) Unforce(p Param) {
	delete(tc.forced, p)
}

// sending reports whether the message being processed is ours.
func (tc *Context) sending() bool {
	return tc.Talking == tc.ConnectionEnd
}

// warn records a tolerated adjustment problem. The workflow moves warnings
// into the trace entry of the running action.
func (tc *Context) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	warnf(logTypeHandshake, "[%v] %s", tc.ConnectionEnd, msg)
	tc.warnings = append(tc.warnings, msg)
}

func (tc *Context) takeWarnings() []string {
	w := tc.warnings
	tc.warnings = nil
	return w
}

func (tc *Context) trafficSecret(end ConnectionEnd) []byte {
	if end == ConnectionEndServer {
		return tc.ServerApplicationTrafficSecret
	}
	return tc.ClientApplicationTrafficSecret
}

func (tc *Context) setTrafficSecret(end ConnectionEnd, secret []byte) {
	if end == ConnectionEndServer {
		tc.ServerApplicationTrafficSecret = secret
	} else {
		tc.ClientApplicationTrafficSecret = secret
	}
}

func (tc *Context) String() string {
	v, _ := tc.ProtocolVersion.Get()
	cs, _ := tc.CipherSuite.Get()
	return fmt.Sprintf("Context{%v %v suite=%v}", tc.ConnectionEnd, v, cs)
}
