package anvil

import (
	"fmt"
)

// Extension is one TLS extension. Implementations embed ExtensionHeader.
type Extension interface {
	ExtensionType() ExtensionType
	ExtHeader() *ExtensionHeader
}

// ExtensionHeader is the type and length in front of every extension.
type ExtensionHeader struct {
	Type   Uint16Field
	Length Uint16Field
	// Trailing holds extension data the body parser did not consume.
	Trailing BytesField
}

func (h *ExtensionHeader) ExtHeader() *ExtensionHeader {
	return h
}

// extCtx tells an extension codec which message it sits in. Several
// extensions have a different layout in client and server messages.
type extCtx struct {
	msg HandshakeType
	hrr bool
}

func (x extCtx) client() bool {
	return x.msg == HandshakeTypeClientHello
}

type extCodec struct {
	new       func() Extension
	parse     func(Extension, *Parser, extCtx)
	prepare   func(Extension, Chooser, extCtx) error
	serialize func(Extension, *Serializer)
	adjust    func(Extension, *Context, extCtx) error
}

type extHandler[PE Extension] struct {
	parse     func(PE, *Parser, extCtx)
	prepare   func(PE, Chooser, extCtx) error
	serialize func(PE, *Serializer)
	adjust    func(PE, *Context, extCtx) error
}

var extRegistry = map[ExtensionType]*extCodec{}

// registerExtension adapts typed handler functions to the registry.
// Missing prepare and adjust functions are no-ops.
func registerExtension[E any, PE interface {
	*E
	Extension
}](t ExtensionType, h extHandler[PE]) {
	c := &extCodec{
		new: func() Extension {
			e := PE(new(E))
			e.ExtHeader().Type.Assign(uint16(t))
			return e
		},
		parse:     func(e Extension, p *Parser, x extCtx) { h.parse(e.(PE), p, x) },
		serialize: func(e Extension, s *Serializer) { h.serialize(e.(PE), s) },
		prepare:   func(Extension, Chooser, extCtx) error { return nil },
		adjust:    func(Extension, *Context, extCtx) error { return nil },
	}
	if h.prepare != nil {
		c.prepare = func(e Extension, ch Chooser, x extCtx) error { return h.prepare(e.(PE), ch, x) }
	}
	if h.adjust != nil {
		c.adjust = func(e Extension, tc *Context, x extCtx) error { return h.adjust(e.(PE), tc, x) }
	}
	extRegistry[t] = c
}

// NewExtension returns an empty extension of type t, ready to be prepared.
// Unregistered types yield an UnknownExtension.
func NewExtension(t ExtensionType) Extension {
	if IsGrease(uint16(t)) {
		return NewGreaseExtension(uint16(t), nil)
	}
	if c, ok := extRegistry[t]; ok {
		return c.new()
	}
	return NewUnknownExtension(t, nil)
}

func extCodecFor(e Extension) *extCodec {
	switch e.(type) {
	case *UnknownExtension, *GreaseExtension:
		return rawExtCodec
	}
	if c, ok := extRegistry[e.ExtensionType()]; ok {
		return c
	}
	return rawExtCodec
}

func parseExtension(p *Parser, x extCtx) Extension {
	var hdr ExtensionHeader
	parseUint(p, &hdr.Type, 2, "extension type")
	n := parseUint(p, &hdr.Length, 2, "extension length")
	body := p.Bytes(int(n), "extension data")
	if p.Err() != nil {
		return nil
	}

	t := ExtensionType(hdr.Type.Resolve())
	e := NewExtension(t)
	c := extCodecFor(e)
	bp := NewParser(body)
	c.parse(e, bp, x)
	if bp.Err() != nil {
		// Keep what we could not understand verbatim.
		logf(logTypeHandshake, "unparseable %v extension kept raw: %v", t, bp.Err())
		e = NewUnknownExtension(t, nil)
		rawExtCodec.parse(e, NewParser(body), x)
		bp = NewParser(nil)
	}
	h := e.ExtHeader()
	h.Type = hdr.Type
	h.Length = hdr.Length
	if !bp.Empty() {
		h.Trailing.Assign(bp.Rest())
	}
	return e
}

func parseExtensions(data []byte, x extCtx) ([]Extension, error) {
	p := NewParser(data)
	var exts []Extension
	for !p.Empty() {
		e := parseExtension(p, x)
		if p.Err() != nil {
			return exts, p.Err()
		}
		exts = append(exts, e)
	}
	return exts, nil
}

func serializeExtensionBody(e Extension) []byte {
	s := NewSerializer()
	extCodecFor(e).serialize(e, s)
	putBytes(s, &e.ExtHeader().Trailing)
	return s.Bytes()
}

// prepareExtension fills the body, then the header from the body.
func prepareExtension(e Extension, ch Chooser, x extCtx) error {
	if err := extCodecFor(e).prepare(e, ch, x); err != nil {
		return err
	}
	h := e.ExtHeader()
	h.Type.Prepare(func() uint16 { return uint16(e.ExtensionType()) })
	h.Length.Prepare(func() uint16 { return uint16(len(serializeExtensionBody(e))) })
	return nil
}

func serializeExtension(e Extension) []byte {
	s := NewSerializer()
	h := e.ExtHeader()
	putUint(s, &h.Type, 2)
	putUint(s, &h.Length, 2)
	s.PutBytes(serializeExtensionBody(e))
	return s.Bytes()
}

func adjustExtension(e Extension, tc *Context, x extCtx) error {
	return extCodecFor(e).adjust(e, tc, x)
}

// UnknownExtension keeps the raw data of an extension without a codec.
type UnknownExtension struct {
	ExtensionHeader
	Data BytesField
}

func NewUnknownExtension(t ExtensionType, data []byte) *UnknownExtension {
	e := &UnknownExtension{}
	e.Type.Assign(uint16(t))
	if data != nil {
		e.Data.Assign(data)
	}
	return e
}

func (e *UnknownExtension) ExtensionType() ExtensionType {
	return ExtensionType(e.Type.Resolve())
}

// GreaseExtension is an RFC 8701 reserved extension with arbitrary data.
type GreaseExtension struct {
	ExtensionHeader
	Data BytesField
}

func NewGreaseExtension(v uint16, data []byte) *GreaseExtension {
	e := &GreaseExtension{}
	e.Type.Assign(v)
	e.Data.Assign(data)
	return e
}

func (e *GreaseExtension) ExtensionType() ExtensionType {
	return ExtensionType(e.Type.Resolve())
}

var rawExtCodec = &extCodec{
	parse: func(e Extension, p *Parser, _ extCtx) {
		rawData(e).Assign(p.Rest())
	},
	serialize: func(e Extension, s *Serializer) {
		putBytes(s, rawData(e))
	},
	prepare: func(e Extension, _ Chooser, _ extCtx) error {
		if d := rawData(e); !d.IsSet() {
			d.Assign([]byte{})
		}
		return nil
	},
	adjust: func(Extension, *Context, extCtx) error { return nil },
}

func rawData(e Extension) *BytesField {
	switch v := e.(type) {
	case *UnknownExtension:
		return &v.Data
	case *GreaseExtension:
		return &v.Data
	}
	panic(fmt.Sprintf("no raw data in %T", e))
}

var extensionNames = map[ExtensionType]string{
	ExtensionTypeServerName:            "server_name",
	ExtensionTypeMaxFragmentLength:     "max_fragment_length",
	ExtensionTypeTrustedCAKeys:         "trusted_ca_keys",
	ExtensionTypeUserMapping:           "user_mapping",
	ExtensionTypeClientAuthz:           "client_authz",
	ExtensionTypeServerAuthz:           "server_authz",
	ExtensionTypeSupportedGroups:       "supported_groups",
	ExtensionTypeECPointFormats:        "ec_point_formats",
	ExtensionTypeSignatureAlgorithms:   "signature_algorithms",
	ExtensionTypeHeartbeat:             "heartbeat",
	ExtensionTypeALPN:                  "alpn",
	ExtensionTypeClientCertificateType: "client_certificate_type",
	ExtensionTypeServerCertificateType: "server_certificate_type",
	ExtensionTypePadding:               "padding",
	ExtensionTypeEncryptThenMAC:        "encrypt_then_mac",
	ExtensionTypeExtendedMasterSecret:  "extended_master_secret",
	ExtensionTypeCachedInfo:            "cached_info",
	ExtensionTypePWDProtect:            "pwd_protect",
	ExtensionTypePWDClear:              "pwd_clear",
	ExtensionTypeSessionTicket:         "session_ticket",
	ExtensionTypeRecordSizeLimit:       "record_size_limit",
	ExtensionTypePasswordSalt:          "password_salt",
	ExtensionTypePreSharedKey:          "pre_shared_key",
	ExtensionTypeEarlyData:             "early_data",
	ExtensionTypeSupportedVersions:     "supported_versions",
	ExtensionTypeCookie:                "cookie",
	ExtensionTypePSKKeyExchangeModes:   "psk_key_exchange_modes",
	ExtensionTypeKeyShare:              "key_share",
	ExtensionTypeEncryptedServerName:   "encrypted_server_name",
	ExtensionTypeRenegotiationInfo:     "renegotiation_info",
}

func (t ExtensionType) String() string {
	if s, ok := extensionNames[t]; ok {
		return s
	}
	if IsGrease(uint16(t)) {
		return fmt.Sprintf("grease(0x%04x)", uint16(t))
	}
	return fmt.Sprintf("extension(%d)", uint16(t))
}
