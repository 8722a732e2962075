package anvil

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Certificate struct {
	Chain      []*x509.Certificate
	PrivateKey crypto.Signer
}

// HexBytes is a byte string written as hex in config files.
type HexBytes []byte

func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	s = strings.ReplaceAll(strings.TrimPrefix(s, "0x"), " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "line %d: bad hex", node.Line)
	}
	*h = b
	return nil
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

// PEMCertificate is the on-disk form of a Certificate.
type PEMCertificate struct {
	Chain string `yaml:"chain"`
	Key   string `yaml:"key"`
}

// Config holds the static defaults of a test run. Everything here is read
// through a Chooser, after anything forced or learned on the connection.
// The same object can be shared by many connections.
type Config struct {
	HighestProtocolVersion ProtocolVersion      `yaml:"highest_protocol_version"`
	DefaultProtocolVersion ProtocolVersion      `yaml:"default_protocol_version"`
	CipherSuites           []CipherSuite        `yaml:"cipher_suites"`
	DefaultCipherSuite     CipherSuite          `yaml:"default_cipher_suite"`
	CompressionMethods     []CompressionMethod  `yaml:"compression_methods"`
	DefaultCompression     CompressionMethod    `yaml:"default_compression"`
	Groups                 []NamedGroup         `yaml:"groups"`
	DefaultGroup           NamedGroup           `yaml:"default_group"`
	SignatureSchemes       []SignatureScheme    `yaml:"signature_schemes"`
	DefaultSignatureScheme SignatureScheme      `yaml:"default_signature_scheme"`
	PSKModes               []PSKKeyExchangeMode `yaml:"psk_modes"`
	ServerName             string               `yaml:"server_name"`
	NextProtos             []string             `yaml:"next_protos"`

	// Extensions added to messages built by the workflow factories.
	ClientHelloExtensions         []ExtensionType `yaml:"client_hello_extensions"`
	ServerHelloExtensions         []ExtensionType `yaml:"server_hello_extensions"`
	EncryptedExtensionsExtensions []ExtensionType `yaml:"encrypted_extensions"`

	DefaultClientRandom    HexBytes `yaml:"default_client_random"`
	DefaultServerRandom    HexBytes `yaml:"default_server_random"`
	DefaultSessionID       HexBytes `yaml:"default_session_id"`
	DefaultPreMasterSecret HexBytes `yaml:"default_pre_master_secret"`
	DefaultMasterSecret    HexBytes `yaml:"default_master_secret"`
	DefaultDTLSCookie      HexBytes `yaml:"default_dtls_cookie"`

	// Static key-share / ephemeral private keys. When empty a fresh key is
	// generated for each exchange.
	KeySharePrivateKey HexBytes `yaml:"key_share_private_key"`

	DHModulus    HexBytes `yaml:"dh_modulus"`
	DHGenerator  HexBytes `yaml:"dh_generator"`
	DHPrivateKey HexBytes `yaml:"dh_private_key"`

	PSK             HexBytes `yaml:"psk"`
	PSKIdentity     HexBytes `yaml:"psk_identity"`
	PSKIdentityHint HexBytes `yaml:"psk_identity_hint"`

	SRPModulus    HexBytes `yaml:"srp_modulus"`
	SRPGenerator  HexBytes `yaml:"srp_generator"`
	SRPSalt       HexBytes `yaml:"srp_salt"`
	SRPIdentity   HexBytes `yaml:"srp_identity"`
	SRPPassword   HexBytes `yaml:"srp_password"`
	SRPPrivateKey HexBytes `yaml:"srp_private_key"`

	Certificates    []*Certificate   `yaml:"-"`
	PEMCertificates []PEMCertificate `yaml:"certificates"`

	MaxRecordSize       int    `yaml:"max_record_size"`
	RecordPaddingLength int    `yaml:"record_padding_length"`
	RecordSizeLimit     uint16 `yaml:"record_size_limit"`
	MaxFragmentLength   uint8  `yaml:"max_fragment_length"`
	// StrictRecordAuth turns a record MAC/tag failure into an action
	// failure instead of a recorded, skipped record.
	StrictRecordAuth bool          `yaml:"strict_record_auth"`
	Timeout          time.Duration `yaml:"timeout"`
	UseDTLS          bool          `yaml:"use_dtls"`

	TicketLifetime uint32 `yaml:"ticket_lifetime"`
	TicketLen      int    `yaml:"ticket_len"`
	TicketAgeAdd   uint32 `yaml:"ticket_age_add"`
	// Layout of TLS 1.2 session tickets (RFC 5077 recommended structure).
	SessionTicketKeyNameLength int `yaml:"session_ticket_key_name_length"`
	SessionTicketIVLength      int `yaml:"session_ticket_iv_length"`
	SessionTicketMACLength     int `yaml:"session_ticket_mac_length"`

	HeartbeatPayloadLength int           `yaml:"heartbeat_payload_length"`
	HeartbeatPaddingLength int           `yaml:"heartbeat_padding_length"`
	HeartbeatMode          HeartbeatMode `yaml:"heartbeat_mode"`
	PasswordSalt           HexBytes      `yaml:"password_salt"`
	PWDUsername            string        `yaml:"pwd_username"`
	// AuthzFormats and UserMappingTypes are the one-byte codes offered in
	// client_authz/server_authz and user_mapping.
	AuthzFormats     HexBytes `yaml:"authz_formats"`
	UserMappingTypes HexBytes `yaml:"user_mapping_types"`
	// PaddingExtensionLength is the number of zero bytes in the padding
	// extension.
	PaddingExtensionLength int `yaml:"padding_extension_length"`

	Rand  io.Reader   `yaml:"-"`
	Clock clock.Clock `yaml:"-"`

	// The same config object can be shared among different connections, so it
	// needs its own mutex
	mutex sync.RWMutex
}

var (
	defaultSupportedCipherSuites = []CipherSuite{
		TLS_AES_128_GCM_SHA256,
		TLS_AES_256_GCM_SHA384,
		TLS_CHACHA20_POLY1305_SHA256,
		TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		TLS_RSA_WITH_AES_128_CBC_SHA,
	}

	defaultSupportedGroups = []NamedGroup{
		X25519,
		P256,
		P384,
	}

	defaultSignatureSchemes = []SignatureScheme{
		RSA_PSS_SHA256,
		RSA_PSS_SHA384,
		RSA_PKCS1_SHA256,
		ECDSA_P256_SHA256,
		ECDSA_P384_SHA384,
		Ed25519,
	}

	defaultPSKModes = []PSKKeyExchangeMode{
		PSKModeDHEKE,
	}

	defaultTicketLen = 16

	defaultTimeout = time.Second

	// RFC 3526 2048-bit MODP group.
	defaultDHModulus = mustHex("" +
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF")
	defaultDHGenerator = []byte{0x02}

	// RFC 5054 1024-bit SRP group.
	defaultSRPModulus = mustHex("" +
		"EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C256576" +
		"D674DF7496EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089DAD1" +
		"5DC7D7B46154D6B6CE8EF4AD69B15D4982559B297BCF1885C529F566660E57EC" +
		"68EDBC3C05726CC02FD4CBF4976EAA9AFD5138FE8376435B9FC61D2FC0EB06E3")
	defaultSRPGenerator = []byte{0x02}
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Clone returns a shallow clone of c. It is safe to clone a Config that is
// being used concurrently.
func (c *Config) Clone() *Config {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return &Config{
		HighestProtocolVersion: c.HighestProtocolVersion,
		DefaultProtocolVersion: c.DefaultProtocolVersion,
		CipherSuites:           c.CipherSuites,
		DefaultCipherSuite:     c.DefaultCipherSuite,
		CompressionMethods:     c.CompressionMethods,
		DefaultCompression:     c.DefaultCompression,
		Groups:                 c.Groups,
		DefaultGroup:           c.DefaultGroup,
		SignatureSchemes:       c.SignatureSchemes,
		DefaultSignatureScheme: c.DefaultSignatureScheme,
		PSKModes:               c.PSKModes,
		ServerName:             c.ServerName,
		NextProtos:             c.NextProtos,

		ClientHelloExtensions:         c.ClientHelloExtensions,
		ServerHelloExtensions:         c.ServerHelloExtensions,
		EncryptedExtensionsExtensions: c.EncryptedExtensionsExtensions,

		DefaultClientRandom:    c.DefaultClientRandom,
		DefaultServerRandom:    c.DefaultServerRandom,
		DefaultSessionID:       c.DefaultSessionID,
		DefaultPreMasterSecret: c.DefaultPreMasterSecret,
		DefaultMasterSecret:    c.DefaultMasterSecret,
		DefaultDTLSCookie:      c.DefaultDTLSCookie,
		KeySharePrivateKey:     c.KeySharePrivateKey,

		DHModulus:       c.DHModulus,
		DHGenerator:     c.DHGenerator,
		DHPrivateKey:    c.DHPrivateKey,
		PSK:             c.PSK,
		PSKIdentity:     c.PSKIdentity,
		PSKIdentityHint: c.PSKIdentityHint,
		SRPModulus:      c.SRPModulus,
		SRPGenerator:    c.SRPGenerator,
		SRPSalt:         c.SRPSalt,
		SRPIdentity:     c.SRPIdentity,
		SRPPassword:     c.SRPPassword,
		SRPPrivateKey:   c.SRPPrivateKey,

		Certificates:    c.Certificates,
		PEMCertificates: c.PEMCertificates,

		MaxRecordSize:       c.MaxRecordSize,
		RecordPaddingLength: c.RecordPaddingLength,
		RecordSizeLimit:     c.RecordSizeLimit,
		MaxFragmentLength:   c.MaxFragmentLength,
		StrictRecordAuth:    c.StrictRecordAuth,
		Timeout:             c.Timeout,
		UseDTLS:             c.UseDTLS,

		TicketLifetime:             c.TicketLifetime,
		TicketLen:                  c.TicketLen,
		TicketAgeAdd:               c.TicketAgeAdd,
		SessionTicketKeyNameLength: c.SessionTicketKeyNameLength,
		SessionTicketIVLength:      c.SessionTicketIVLength,
		SessionTicketMACLength:     c.SessionTicketMACLength,

		HeartbeatPayloadLength: c.HeartbeatPayloadLength,
		HeartbeatPaddingLength: c.HeartbeatPaddingLength,
		HeartbeatMode:          c.HeartbeatMode,
		PasswordSalt:           c.PasswordSalt,
		PWDUsername:            c.PWDUsername,
		AuthzFormats:           c.AuthzFormats,
		UserMappingTypes:       c.UserMappingTypes,
		PaddingExtensionLength: c.PaddingExtensionLength,

		Rand:  c.Rand,
		Clock: c.Clock,
	}
}

// Init fills in defaults for everything left unset. It is idempotent.
func (c *Config) Init() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Set defaults
	if c.HighestProtocolVersion == 0 {
		c.HighestProtocolVersion = VersionTLS13
		if c.UseDTLS {
			c.HighestProtocolVersion = VersionDTLS12
		}
	}
	if c.DefaultProtocolVersion == 0 {
		c.DefaultProtocolVersion = c.HighestProtocolVersion
	}
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = defaultSupportedCipherSuites
	}
	if c.DefaultCipherSuite == 0 {
		c.DefaultCipherSuite = c.CipherSuites[0]
	}
	if len(c.CompressionMethods) == 0 {
		c.CompressionMethods = []CompressionMethod{CompressionNull}
	}
	if len(c.Groups) == 0 {
		c.Groups = defaultSupportedGroups
	}
	if c.DefaultGroup == 0 {
		c.DefaultGroup = c.Groups[0]
	}
	if len(c.SignatureSchemes) == 0 {
		c.SignatureSchemes = defaultSignatureSchemes
	}
	if c.DefaultSignatureScheme == 0 {
		c.DefaultSignatureScheme = c.SignatureSchemes[0]
	}
	if len(c.PSKModes) == 0 {
		c.PSKModes = defaultPSKModes
	}
	if len(c.DefaultPreMasterSecret) == 0 {
		c.DefaultPreMasterSecret = make([]byte, masterSecretLength)
	}
	if len(c.DefaultMasterSecret) == 0 {
		c.DefaultMasterSecret = make([]byte, masterSecretLength)
	}
	if len(c.DHModulus) == 0 {
		c.DHModulus = defaultDHModulus
	}
	if len(c.DHGenerator) == 0 {
		c.DHGenerator = defaultDHGenerator
	}
	if len(c.SRPModulus) == 0 {
		c.SRPModulus = defaultSRPModulus
	}
	if len(c.SRPGenerator) == 0 {
		c.SRPGenerator = defaultSRPGenerator
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = maxPlaintextRecordLength
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.TicketLen == 0 {
		c.TicketLen = defaultTicketLen
	}
	if c.TicketLifetime == 0 {
		c.TicketLifetime = 7200
	}
	if c.SessionTicketKeyNameLength == 0 {
		c.SessionTicketKeyNameLength = 16
	}
	if c.SessionTicketIVLength == 0 {
		c.SessionTicketIVLength = 16
	}
	if c.SessionTicketMACLength == 0 {
		c.SessionTicketMACLength = 32
	}
	if c.HeartbeatPayloadLength == 0 {
		c.HeartbeatPayloadLength = 16
	}
	if c.HeartbeatPaddingLength < heartbeatMinPaddingLength {
		c.HeartbeatPaddingLength = heartbeatMinPaddingLength
	}
	if c.HeartbeatMode == 0 {
		c.HeartbeatMode = HeartbeatModePeerAllowedToSend
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if len(c.Certificates) == 0 && len(c.PEMCertificates) > 0 {
		for i, pc := range c.PEMCertificates {
			cert, err := parsePEMCertificate(pc)
			if err != nil {
				return errors.Wrapf(err, "certificate %d", i)
			}
			c.Certificates = append(c.Certificates, cert)
		}
	}
	return nil
}

func (c *Config) certificate() *Certificate {
	if len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[0]
}

func parsePEMCertificate(pc PEMCertificate) (*Certificate, error) {
	cert := &Certificate{}
	rest := []byte(pc.Chain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		x, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "parse certificate")
		}
		cert.Chain = append(cert.Chain, x)
	}
	if len(cert.Chain) == 0 {
		return nil, errors.New("no certificate in chain")
	}

	if pc.Key == "" {
		return cert, nil
	}
	block, _ := pem.Decode([]byte(pc.Key))
	if block == nil {
		return nil, errors.New("no PEM key block")
	}
	var key interface{}
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.Errorf("key type %T cannot sign", key)
	}
	cert.PrivateKey = signer
	return cert, nil
}

// ParseConfig reads a YAML config and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(data)
}
