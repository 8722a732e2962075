package anvil

import (
	"fmt"
)

// uint16 ProtocolVersion;
type ProtocolVersion uint16

const (
	VersionSSL20  ProtocolVersion = 0x0002
	VersionSSL30  ProtocolVersion = 0x0300
	VersionTLS10  ProtocolVersion = 0x0301
	VersionTLS11  ProtocolVersion = 0x0302
	VersionTLS12  ProtocolVersion = 0x0303
	VersionTLS13  ProtocolVersion = 0x0304
	VersionDTLS10 ProtocolVersion = 0xfeff
	VersionDTLS12 ProtocolVersion = 0xfefd
	VersionDTLS13 ProtocolVersion = 0xfefc
)

func (v ProtocolVersion) IsDTLS() bool {
	return v == VersionDTLS10 || v == VersionDTLS12 || v == VersionDTLS13
}

func (v ProtocolVersion) IsSSL() bool {
	return v == VersionSSL20 || v == VersionSSL30
}

func (v ProtocolVersion) IsTLS13() bool {
	return v == VersionTLS13 || v == VersionDTLS13
}

// AtLeast compares versions on the TLS scale. DTLS versions are mapped to the
// TLS version they are based on.
func (v ProtocolVersion) AtLeast(other ProtocolVersion) bool {
	return v.tlsEquivalent() >= other.tlsEquivalent()
}

func (v ProtocolVersion) tlsEquivalent() ProtocolVersion {
	switch v {
	case VersionDTLS10:
		return VersionTLS11
	case VersionDTLS12:
		return VersionTLS12
	case VersionDTLS13:
		return VersionTLS13
	}
	return v
}

func (v ProtocolVersion) String() string {
	switch v {
	case VersionSSL20:
		return "SSLv2"
	case VersionSSL30:
		return "SSLv3"
	case VersionTLS10:
		return "TLS1.0"
	case VersionTLS11:
		return "TLS1.1"
	case VersionTLS12:
		return "TLS1.2"
	case VersionTLS13:
		return "TLS1.3"
	case VersionDTLS10:
		return "DTLS1.0"
	case VersionDTLS12:
		return "DTLS1.2"
	case VersionDTLS13:
		return "DTLS1.3"
	}
	return fmt.Sprintf("0x%04x", uint16(v))
}

// enum {...} ContentType;
type RecordType uint8

const (
	RecordTypeChangeCipherSpec RecordType = 20
	RecordTypeAlert            RecordType = 21
	RecordTypeHandshake        RecordType = 22
	RecordTypeApplicationData  RecordType = 23
	RecordTypeHeartbeat        RecordType = 24
	RecordTypeAck              RecordType = 26
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeChangeCipherSpec:
		return "change_cipher_spec"
	case RecordTypeAlert:
		return "alert"
	case RecordTypeHandshake:
		return "handshake"
	case RecordTypeApplicationData:
		return "application_data"
	case RecordTypeHeartbeat:
		return "heartbeat"
	case RecordTypeAck:
		return "ack"
	}
	return fmt.Sprintf("record(%d)", uint8(rt))
}

// enum {...} HandshakeType;
type HandshakeType uint8

const (
	HandshakeTypeHelloRequest        HandshakeType = 0
	HandshakeTypeClientHello         HandshakeType = 1
	HandshakeTypeServerHello         HandshakeType = 2
	HandshakeTypeHelloVerifyRequest  HandshakeType = 3
	HandshakeTypeNewSessionTicket    HandshakeType = 4
	HandshakeTypeEndOfEarlyData      HandshakeType = 5
	HandshakeTypeEncryptedExtensions HandshakeType = 8
	HandshakeTypeCertificate         HandshakeType = 11
	HandshakeTypeServerKeyExchange   HandshakeType = 12
	HandshakeTypeCertificateRequest  HandshakeType = 13
	HandshakeTypeServerHelloDone     HandshakeType = 14
	HandshakeTypeCertificateVerify   HandshakeType = 15
	HandshakeTypeClientKeyExchange   HandshakeType = 16
	HandshakeTypeFinished            HandshakeType = 20
	HandshakeTypeCertificateStatus   HandshakeType = 22
	HandshakeTypeSupplementalData    HandshakeType = 23
	HandshakeTypeKeyUpdate           HandshakeType = 24
	HandshakeTypeMessageHash         HandshakeType = 254
)

// enum {...} ExtensionType;
type ExtensionType uint16

const (
	ExtensionTypeServerName            ExtensionType = 0
	ExtensionTypeMaxFragmentLength     ExtensionType = 1
	ExtensionTypeTrustedCAKeys         ExtensionType = 3
	ExtensionTypeUserMapping           ExtensionType = 6
	ExtensionTypeClientAuthz           ExtensionType = 7
	ExtensionTypeServerAuthz           ExtensionType = 8
	ExtensionTypeSupportedGroups       ExtensionType = 10
	ExtensionTypeECPointFormats        ExtensionType = 11
	ExtensionTypeSignatureAlgorithms   ExtensionType = 13
	ExtensionTypeHeartbeat             ExtensionType = 15
	ExtensionTypeALPN                  ExtensionType = 16
	ExtensionTypeClientCertificateType ExtensionType = 19
	ExtensionTypeServerCertificateType ExtensionType = 20
	ExtensionTypePadding               ExtensionType = 21
	ExtensionTypeEncryptThenMAC        ExtensionType = 22
	ExtensionTypeExtendedMasterSecret  ExtensionType = 23
	ExtensionTypeCachedInfo            ExtensionType = 25
	ExtensionTypePWDProtect            ExtensionType = 29
	ExtensionTypePWDClear              ExtensionType = 30
	ExtensionTypeSessionTicket         ExtensionType = 35
	ExtensionTypeRecordSizeLimit       ExtensionType = 28
	ExtensionTypePasswordSalt          ExtensionType = 31
	ExtensionTypePreSharedKey          ExtensionType = 41
	ExtensionTypeEarlyData             ExtensionType = 42
	ExtensionTypeSupportedVersions     ExtensionType = 43
	ExtensionTypeCookie                ExtensionType = 44
	ExtensionTypePSKKeyExchangeModes   ExtensionType = 45
	ExtensionTypeKeyShare              ExtensionType = 51
	ExtensionTypeEncryptedServerName   ExtensionType = 0xffce
	ExtensionTypeRenegotiationInfo     ExtensionType = 0xff01
)

// GREASE values per RFC 8701. The same set covers cipher suites, groups,
// extensions, versions and signature schemes.
var greaseValues = []uint16{
	0x0a0a, 0x1a1a, 0x2a2a, 0x3a3a, 0x4a4a, 0x5a5a, 0x6a6a, 0x7a7a,
	0x8a8a, 0x9a9a, 0xaaaa, 0xbaba, 0xcaca, 0xdada, 0xeaea, 0xfafa,
}

func IsGrease(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}

// enum {...} NamedGroup
type NamedGroup uint16

const (
	// Elliptic Curve Groups.
	P256   NamedGroup = 23
	P384   NamedGroup = 24
	P521   NamedGroup = 25
	X25519 NamedGroup = 29
	X448   NamedGroup = 30
	// Finite Field Groups.
	FFDHE2048 NamedGroup = 256
	FFDHE3072 NamedGroup = 257
	FFDHE4096 NamedGroup = 258
)

func (g NamedGroup) isFiniteField() bool {
	return g >= FFDHE2048 && g <= 0x01ff
}

// enum {...} SignatureScheme
type SignatureScheme uint16

const (
	// RSASSA-PKCS1-v1_5 algorithms
	RSA_PKCS1_SHA1   SignatureScheme = 0x0201
	RSA_PKCS1_SHA256 SignatureScheme = 0x0401
	RSA_PKCS1_SHA384 SignatureScheme = 0x0501
	RSA_PKCS1_SHA512 SignatureScheme = 0x0601
	// ECDSA algorithms
	ECDSA_SHA1        SignatureScheme = 0x0203
	ECDSA_P256_SHA256 SignatureScheme = 0x0403
	ECDSA_P384_SHA384 SignatureScheme = 0x0503
	ECDSA_P521_SHA512 SignatureScheme = 0x0603
	// RSASSA-PSS algorithms
	RSA_PSS_SHA256 SignatureScheme = 0x0804
	RSA_PSS_SHA384 SignatureScheme = 0x0805
	RSA_PSS_SHA512 SignatureScheme = 0x0806
	// EdDSA algorithms
	Ed25519 SignatureScheme = 0x0807
)

// enum {...} CertificateType
type CertificateType uint8

const (
	CertificateTypeX509         CertificateType = 0
	CertificateTypeOpenPGP      CertificateType = 1
	CertificateTypeRawPublicKey CertificateType = 2
)

// enum {...} CompressionMethod
type CompressionMethod uint8

const (
	CompressionNull    CompressionMethod = 0
	CompressionDeflate CompressionMethod = 1
)

// enum {...} HeartbeatMessageType
type HeartbeatMessageType uint8

const (
	HeartbeatRequest  HeartbeatMessageType = 1
	HeartbeatResponse HeartbeatMessageType = 2
)

// enum {...} HeartbeatMode
type HeartbeatMode uint8

const (
	HeartbeatModePeerAllowedToSend    HeartbeatMode = 1
	HeartbeatModePeerNotAllowedToSend HeartbeatMode = 2
)

// enum {...} KeyUpdateRequest
type KeyUpdateRequest uint8

const (
	KeyUpdateNotRequested KeyUpdateRequest = 0
	KeyUpdateRequested    KeyUpdateRequest = 1
)

// enum {...} PskKeyExchangeMode;
type PSKKeyExchangeMode uint8

const (
	PSKModeKE    PSKKeyExchangeMode = 0
	PSKModeDHEKE PSKKeyExchangeMode = 1
)

// enum {...} NameType;
const (
	serverNameTypeHostName uint8 = 0
)

// enum {...} ECCurveType
const (
	ecCurveTypeNamedCurve uint8 = 3
)

// ConnectionEnd names one side of a connection.
type ConnectionEnd uint8

const (
	ConnectionEndClient ConnectionEnd = iota + 1
	ConnectionEndServer
)

func (e ConnectionEnd) Peer() ConnectionEnd {
	if e == ConnectionEndClient {
		return ConnectionEndServer
	}
	return ConnectionEndClient
}

func (e ConnectionEnd) String() string {
	switch e {
	case ConnectionEndClient:
		return "client"
	case ConnectionEndServer:
		return "server"
	}
	return "unknown"
}

// Direction of a record layer half.
type Direction uint8

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// Fixed sizes used across the codec.
const (
	randomLength               = 32
	tlsRecordHeaderLen         = 5
	dtlsRecordHeaderLen        = 13
	handshakeHeaderLenTLS      = 4
	handshakeHeaderLenDTLS     = 12
	maxPlaintextRecordLength   = 1 << 14
	verifyDataLength           = 12
	sslv3VerifyDataLength      = 36
	masterSecretLength         = 48
	aeadIVLength               = 12
	aeadExplicitNonceLength    = 8
	heartbeatMinPaddingLength  = 16
	helloRetryRequestRandomHex = "cf21ad74e59a6111be1d8c021e65b891c2a211167abb8c5e079e09e2c8a8339c"
)

// SSLv2 message types and sizes.
const (
	ssl2MessageTypeClientHello uint8 = 1
	ssl2MessageTypeServerHello uint8 = 4

	ssl2MessageLengthBytes     = 2
	ssl2LongMessageLengthBytes = 3
	ssl2CipherSpecLength       = 3
	ssl2ChallengeLength        = 16
)

// SSL2CipherSuite is a 3-byte SSLv2 CIPHER-KIND.
type SSL2CipherSuite uint32

const (
	SSL_CK_RC4_128_WITH_MD5              SSL2CipherSuite = 0x010080
	SSL_CK_RC4_128_EXPORT40_WITH_MD5     SSL2CipherSuite = 0x020080
	SSL_CK_RC2_128_CBC_WITH_MD5          SSL2CipherSuite = 0x030080
	SSL_CK_RC2_128_CBC_EXPORT40_WITH_MD5 SSL2CipherSuite = 0x040080
	SSL_CK_IDEA_128_CBC_WITH_MD5         SSL2CipherSuite = 0x050080
	SSL_CK_DES_64_CBC_WITH_MD5           SSL2CipherSuite = 0x060040
	SSL_CK_DES_192_EDE3_CBC_WITH_MD5     SSL2CipherSuite = 0x0700c0
)

func (cs SSL2CipherSuite) Bytes() []byte {
	return []byte{byte(cs >> 16), byte(cs >> 8), byte(cs)}
}

// ParseSSL2CipherSuites splits a CIPHER-SPECS-DATA field into 3-byte kinds.
// Trailing bytes that do not form a full kind are ignored.
func ParseSSL2CipherSuites(data []byte) []SSL2CipherSuite {
	out := make([]SSL2CipherSuite, 0, len(data)/ssl2CipherSpecLength)
	for i := 0; i+ssl2CipherSpecLength <= len(data); i += ssl2CipherSpecLength {
		out = append(out, SSL2CipherSuite(uint32(data[i])<<16|uint32(data[i+1])<<8|uint32(data[i+2])))
	}
	return out
}
