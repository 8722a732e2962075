package anvil

import (
	"encoding/hex"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// ExportKeyingMaterial implements RFC 8446 section 7.5 for TLS 1.3 and
// RFC 5705 before it. A nil context is distinct from an empty one only
// before TLS 1.3.
func (tc *Context) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	ch := tc.Chooser()
	params, err := ch.CipherSuiteParams()
	if err != nil {
		return nil, err
	}

	if ch.ProtocolVersion().IsTLS13() {
		if tc.ExporterMasterSecret == nil {
			return nil, cryptoError("exporter master secret not derived")
		}
		h := params.Hash
		secret, err := DeriveSecret(h, tc.ExporterMasterSecret, label, emptyHash(h))
		if err != nil {
			return nil, err
		}
		d := h.New()
		d.Write(context)
		return HkdfExpandLabel(h, secret, labelExporter, d.Sum(nil), length)
	}

	if tc.MasterSecret == nil {
		return nil, cryptoError("master secret not derived")
	}
	seed := concat(ch.ClientRandom(), ch.ServerRandom())
	if context != nil {
		if len(context) > 0xffff {
			return nil, cryptoError("exporter context too long")
		}
		seed = concat(seed, []byte{byte(len(context) >> 8), byte(len(context))}, context)
	}
	return DeriveKeyBlock(ch.ProtocolVersion(), params.Hash, tc.MasterSecret, label, seed, length)
}

// SecretsSnapshot is the key material of a connection at one point in
// time, for post-mortem inspection of a run.
type SecretsSnapshot struct {
	End             string `cbor:"1,keyasint" json:"end"`
	Version         uint16 `cbor:"2,keyasint" json:"version"`
	CipherSuite     uint16 `cbor:"3,keyasint" json:"cipher_suite"`
	ClientRandom    []byte `cbor:"4,keyasint,omitempty" json:"client_random,omitempty"`
	ServerRandom    []byte `cbor:"5,keyasint,omitempty" json:"server_random,omitempty"`
	PreMasterSecret []byte `cbor:"6,keyasint,omitempty" json:"pre_master_secret,omitempty"`
	MasterSecret    []byte `cbor:"7,keyasint,omitempty" json:"master_secret,omitempty"`

	EarlySecret                    []byte `cbor:"8,keyasint,omitempty" json:"early_secret,omitempty"`
	HandshakeSecret                []byte `cbor:"9,keyasint,omitempty" json:"handshake_secret,omitempty"`
	MainSecret                     []byte `cbor:"10,keyasint,omitempty" json:"main_secret,omitempty"`
	ClientHandshakeTrafficSecret   []byte `cbor:"11,keyasint,omitempty" json:"client_handshake_traffic_secret,omitempty"`
	ServerHandshakeTrafficSecret   []byte `cbor:"12,keyasint,omitempty" json:"server_handshake_traffic_secret,omitempty"`
	ClientApplicationTrafficSecret []byte `cbor:"13,keyasint,omitempty" json:"client_application_traffic_secret,omitempty"`
	ServerApplicationTrafficSecret []byte `cbor:"14,keyasint,omitempty" json:"server_application_traffic_secret,omitempty"`
	ExporterMasterSecret           []byte `cbor:"15,keyasint,omitempty" json:"exporter_master_secret,omitempty"`
	ResumptionMasterSecret         []byte `cbor:"16,keyasint,omitempty" json:"resumption_master_secret,omitempty"`

	Warnings []string `cbor:"17,keyasint,omitempty" json:"warnings,omitempty"`
}

func (tc *Context) Snapshot() SecretsSnapshot {
	v, _ := tc.ProtocolVersion.Get()
	cs, _ := tc.CipherSuite.Get()
	return SecretsSnapshot{
		End:                            tc.ConnectionEnd.String(),
		Version:                        uint16(v),
		CipherSuite:                    uint16(cs),
		ClientRandom:                   tc.ClientRandom,
		ServerRandom:                   tc.ServerRandom,
		PreMasterSecret:                tc.PreMasterSecret,
		MasterSecret:                   tc.MasterSecret,
		EarlySecret:                    tc.EarlySecret,
		HandshakeSecret:                tc.HandshakeSecret,
		MainSecret:                     tc.MainSecret,
		ClientHandshakeTrafficSecret:   tc.ClientHandshakeTrafficSecret,
		ServerHandshakeTrafficSecret:   tc.ServerHandshakeTrafficSecret,
		ClientApplicationTrafficSecret: tc.ClientApplicationTrafficSecret,
		ServerApplicationTrafficSecret: tc.ServerApplicationTrafficSecret,
		ExporterMasterSecret:           tc.ExporterMasterSecret,
		ResumptionMasterSecret:         tc.ResumptionMasterSecret,
		Warnings:                       append([]string{}, tc.warnings...),
	}
}

func EncodeSnapshot(s SecretsSnapshot) ([]byte, error) {
	return cbor.Marshal(s)
}

func DecodeSnapshot(data []byte) (SecretsSnapshot, error) {
	var s SecretsSnapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return s, errors.Wrap(err, "decode secrets snapshot")
	}
	return s, nil
}

// logSnapshot writes s as JSON under the crypto log tag.
func logSnapshot(s SecretsSnapshot, prefix string) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logf(logTypeCrypto, "%s snapshot: %v", prefix, err)
		return
	}
	logf(logTypeCrypto, "%s secrets: %s", prefix, out)
}

// keyLogLine is the NSS key log form of a secret, for Wireshark.
func keyLogLine(label string, clientRandom, secret []byte) string {
	return label + " " + hex.EncodeToString(clientRandom) + " " + hex.EncodeToString(secret)
}

// KeyLog returns NSS key log lines for every secret derived so far.
func (tc *Context) KeyLog() []string {
	var lines []string
	add := func(label string, secret []byte) {
		if secret != nil {
			lines = append(lines, keyLogLine(label, tc.ClientRandom, secret))
		}
	}
	add("CLIENT_RANDOM", tc.MasterSecret)
	add("CLIENT_EARLY_TRAFFIC_SECRET", tc.ClientEarlyTrafficSecret)
	add("CLIENT_HANDSHAKE_TRAFFIC_SECRET", tc.ClientHandshakeTrafficSecret)
	add("SERVER_HANDSHAKE_TRAFFIC_SECRET", tc.ServerHandshakeTrafficSecret)
	add("CLIENT_TRAFFIC_SECRET_0", tc.ClientApplicationTrafficSecret)
	add("SERVER_TRAFFIC_SECRET_0", tc.ServerApplicationTrafficSecret)
	add("EXPORTER_SECRET", tc.ExporterMasterSecret)
	return lines
}
