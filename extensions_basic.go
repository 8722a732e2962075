package anvil

// Extensions shared by TLS <= 1.2 and TLS 1.3 hellos.

func init() {
	registerExtension(ExtensionTypeServerName, extHandler[*ServerNameExtension]{
		parse: parseServerName, prepare: prepareServerName, serialize: serializeServerName, adjust: adjustServerName,
	})
	registerExtension(ExtensionTypeMaxFragmentLength, extHandler[*MaxFragmentLengthExtension]{
		parse: func(e *MaxFragmentLengthExtension, p *Parser, _ extCtx) { parseUint(p, &e.Code, 1, "max_fragment_length") },
		prepare: func(e *MaxFragmentLengthExtension, ch Chooser, x extCtx) error {
			e.Code.Prepare(func() uint8 {
				if code, ok := ch.Context().MaxFragmentLength.Get(); ok && !x.client() {
					return code
				}
				if ch.Config().MaxFragmentLength != 0 {
					return ch.Config().MaxFragmentLength
				}
				return 1
			})
			return nil
		},
		serialize: func(e *MaxFragmentLengthExtension, s *Serializer) { putUint(s, &e.Code, 1) },
		adjust: func(e *MaxFragmentLengthExtension, tc *Context, x extCtx) error {
			code := e.Code.Resolve()
			if code < 1 || code > 4 {
				return adjustmentError("max_fragment_length code %d", code)
			}
			if !x.client() {
				tc.MaxFragmentLength.Set(code)
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeSupportedGroups, extHandler[*SupportedGroupsExtension]{
		parse: func(e *SupportedGroupsExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.GroupsLength, &e.Groups, 2, "supported_groups")
		},
		prepare: func(e *SupportedGroupsExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.GroupsLength, &e.Groups, func() []byte { return uint16sToBytes(ch.Config().Groups) })
			return nil
		},
		serialize: func(e *SupportedGroupsExtension, s *Serializer) { putVector(s, &e.GroupsLength, &e.Groups, 2) },
		adjust: func(e *SupportedGroupsExtension, tc *Context, x extCtx) error {
			if x.client() {
				tc.ClientOfferedGroups = e.NamedGroups()
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeECPointFormats, extHandler[*ECPointFormatsExtension]{
		parse: func(e *ECPointFormatsExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.FormatsLength, &e.Formats, 1, "ec_point_formats")
		},
		prepare: func(e *ECPointFormatsExtension, _ Chooser, _ extCtx) error {
			// uncompressed only
			prepareVector(&e.FormatsLength, &e.Formats, func() []byte { return []byte{0} })
			return nil
		},
		serialize: func(e *ECPointFormatsExtension, s *Serializer) { putVector(s, &e.FormatsLength, &e.Formats, 1) },
	})
	registerExtension(ExtensionTypeSignatureAlgorithms, extHandler[*SignatureAlgorithmsExtension]{
		parse: func(e *SignatureAlgorithmsExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.SchemesLength, &e.Schemes, 2, "signature_algorithms")
		},
		prepare: func(e *SignatureAlgorithmsExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.SchemesLength, &e.Schemes, func() []byte { return uint16sToBytes(ch.Config().SignatureSchemes) })
			return nil
		},
		serialize: func(e *SignatureAlgorithmsExtension, s *Serializer) { putVector(s, &e.SchemesLength, &e.Schemes, 2) },
		adjust: func(e *SignatureAlgorithmsExtension, tc *Context, x extCtx) error {
			if x.client() {
				tc.ClientOfferedSignatures = e.SignatureSchemes()
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeHeartbeat, extHandler[*HeartbeatExtension]{
		parse: func(e *HeartbeatExtension, p *Parser, _ extCtx) { parseUint(p, &e.Mode, 1, "heartbeat mode") },
		prepare: func(e *HeartbeatExtension, ch Chooser, _ extCtx) error {
			e.Mode.Prepare(func() uint8 { return uint8(ch.Config().HeartbeatMode) })
			return nil
		},
		serialize: func(e *HeartbeatExtension, s *Serializer) { putUint(s, &e.Mode, 1) },
		adjust: func(e *HeartbeatExtension, tc *Context, _ extCtx) error {
			if !tc.sending() {
				tc.PeerHeartbeatMode.Set(HeartbeatMode(e.Mode.Resolve()))
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeALPN, extHandler[*ALPNExtension]{
		parse: parseALPN, prepare: prepareALPN, serialize: serializeALPN, adjust: adjustALPN,
	})
	registerExtension(ExtensionTypeClientCertificateType, extHandler[*ClientCertificateTypeExtension]{
		parse:     func(e *ClientCertificateTypeExtension, p *Parser, x extCtx) { e.parseTypes(p, x) },
		prepare:   func(e *ClientCertificateTypeExtension, ch Chooser, x extCtx) error { e.prepareTypes(ch, x); return nil },
		serialize: func(e *ClientCertificateTypeExtension, s *Serializer) { e.serializeTypes(s) },
		adjust: func(e *ClientCertificateTypeExtension, tc *Context, x extCtx) error {
			// The client's certificate type matters to the server only.
			if !x.client() && tc.ConnectionEnd == ConnectionEndServer {
				tc.PeerCertificateType.Set(CertificateType(e.Selected.Resolve()))
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeServerCertificateType, extHandler[*ServerCertificateTypeExtension]{
		parse:     func(e *ServerCertificateTypeExtension, p *Parser, x extCtx) { e.parseTypes(p, x) },
		prepare:   func(e *ServerCertificateTypeExtension, ch Chooser, x extCtx) error { e.prepareTypes(ch, x); return nil },
		serialize: func(e *ServerCertificateTypeExtension, s *Serializer) { e.serializeTypes(s) },
		adjust: func(e *ServerCertificateTypeExtension, tc *Context, x extCtx) error {
			if !x.client() && tc.ConnectionEnd == ConnectionEndClient {
				tc.PeerCertificateType.Set(CertificateType(e.Selected.Resolve()))
			}
			return nil
		},
	})
	registerExtension(ExtensionTypePadding, extHandler[*PaddingExtension]{
		parse: func(e *PaddingExtension, p *Parser, _ extCtx) { e.Padding.Assign(p.Rest()) },
		prepare: func(e *PaddingExtension, ch Chooser, _ extCtx) error {
			e.Padding.Prepare(func() []byte { return make([]byte, ch.Config().PaddingExtensionLength) })
			return nil
		},
		serialize: func(e *PaddingExtension, s *Serializer) { putBytes(s, &e.Padding) },
	})
	registerExtension(ExtensionTypeEncryptThenMAC, extHandler[*EncryptThenMACExtension]{
		parse:     func(*EncryptThenMACExtension, *Parser, extCtx) {},
		serialize: func(*EncryptThenMACExtension, *Serializer) {},
		adjust: func(_ *EncryptThenMACExtension, tc *Context, x extCtx) error {
			if x.msg == HandshakeTypeServerHello {
				tc.EncryptThenMAC = true
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeExtendedMasterSecret, extHandler[*ExtendedMasterSecretExtension]{
		parse:     func(*ExtendedMasterSecretExtension, *Parser, extCtx) {},
		serialize: func(*ExtendedMasterSecretExtension, *Serializer) {},
		adjust: func(_ *ExtendedMasterSecretExtension, tc *Context, x extCtx) error {
			if x.msg == HandshakeTypeServerHello {
				tc.ExtendedMasterSecret = true
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeSessionTicket, extHandler[*SessionTicketExtension]{
		parse: func(e *SessionTicketExtension, p *Parser, _ extCtx) { e.Ticket.Assign(p.Rest()) },
		prepare: func(e *SessionTicketExtension, ch Chooser, x extCtx) error {
			e.Ticket.Prepare(func() []byte {
				if x.client() && ch.Context().SessionTicket != nil {
					return ch.Context().SessionTicket
				}
				return []byte{}
			})
			return nil
		},
		serialize: func(e *SessionTicketExtension, s *Serializer) { putBytes(s, &e.Ticket) },
	})
	registerExtension(ExtensionTypeRecordSizeLimit, extHandler[*RecordSizeLimitExtension]{
		parse: func(e *RecordSizeLimitExtension, p *Parser, _ extCtx) { parseUint(p, &e.Limit, 2, "record_size_limit") },
		prepare: func(e *RecordSizeLimitExtension, ch Chooser, _ extCtx) error {
			e.Limit.Prepare(func() uint16 {
				if l := ch.Config().RecordSizeLimit; l != 0 {
					return l
				}
				return maxPlaintextRecordLength + 1
			})
			return nil
		},
		serialize: func(e *RecordSizeLimitExtension, s *Serializer) { putUint(s, &e.Limit, 2) },
		adjust: func(e *RecordSizeLimitExtension, tc *Context, _ extCtx) error {
			if l := e.Limit.Resolve(); l < 64 {
				return adjustmentError("record_size_limit %d below 64", l)
			}
			if !tc.sending() {
				tc.PeerRecordSizeLimit.Set(e.Limit.Resolve())
			}
			return nil
		},
	})
	registerExtension(ExtensionTypePasswordSalt, extHandler[*PasswordSaltExtension]{
		parse: func(e *PasswordSaltExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.SaltLength, &e.Salt, 2, "password_salt")
		},
		prepare: func(e *PasswordSaltExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.SaltLength, &e.Salt, func() []byte { return append([]byte{}, ch.Config().PasswordSalt...) })
			return nil
		},
		serialize: func(e *PasswordSaltExtension, s *Serializer) { putVector(s, &e.SaltLength, &e.Salt, 2) },
		adjust: func(e *PasswordSaltExtension, tc *Context, _ extCtx) error {
			tc.PasswordSalt = e.Salt.Resolve()
			return nil
		},
	})
	registerExtension(ExtensionTypeRenegotiationInfo, extHandler[*RenegotiationInfoExtension]{
		parse: func(e *RenegotiationInfoExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.InfoLength, &e.Info, 1, "renegotiation_info")
		},
		prepare: func(e *RenegotiationInfoExtension, ch Chooser, x extCtx) error {
			prepareVector(&e.InfoLength, &e.Info, func() []byte {
				tc := ch.Context()
				if x.client() {
					return append([]byte{}, tc.ClientVerifyData...)
				}
				return concat(tc.ClientVerifyData, tc.ServerVerifyData)
			})
			return nil
		},
		serialize: func(e *RenegotiationInfoExtension, s *Serializer) { putVector(s, &e.InfoLength, &e.Info, 1) },
		adjust: func(_ *RenegotiationInfoExtension, tc *Context, _ extCtx) error {
			tc.SecureRenegotiation = true
			return nil
		},
	})
}

type ServerNameEntry struct {
	NameType   Uint8Field
	NameLength Uint16Field
	Name       BytesField
}

// ServerNameExtension is empty when a server acknowledges SNI.
type ServerNameExtension struct {
	ExtensionHeader
	ListLength Uint16Field
	Entries    []ServerNameEntry
}

func (*ServerNameExtension) ExtensionType() ExtensionType { return ExtensionTypeServerName }

// HostName returns the first host_name entry.
func (e *ServerNameExtension) HostName() (string, bool) {
	for _, n := range e.Entries {
		if n.NameType.Resolve() == serverNameTypeHostName {
			return string(n.Name.Resolve()), true
		}
	}
	return "", false
}

func parseServerName(e *ServerNameExtension, p *Parser, _ extCtx) {
	if p.Empty() {
		return
	}
	n := parseUint(p, &e.ListLength, 2, "server_name list length")
	lp := p.Sub(int(n), "server_name list")
	for !lp.Empty() && lp.Err() == nil {
		var entry ServerNameEntry
		parseUint(lp, &entry.NameType, 1, "server_name type")
		parseVector(lp, &entry.NameLength, &entry.Name, 2, "server_name")
		e.Entries = append(e.Entries, entry)
	}
	p.Merge(lp)
}

func prepareServerName(e *ServerNameExtension, ch Chooser, x extCtx) error {
	if !x.client() {
		return nil
	}
	if len(e.Entries) == 0 {
		e.Entries = []ServerNameEntry{{}}
	}
	for i := range e.Entries {
		entry := &e.Entries[i]
		entry.NameType.Prepare(func() uint8 { return serverNameTypeHostName })
		prepareVector(&entry.NameLength, &entry.Name, func() []byte { return []byte(ch.ServerName()) })
	}
	e.ListLength.Prepare(func() uint16 { return uint16(len(serverNameList(e))) })
	return nil
}

func serverNameList(e *ServerNameExtension) []byte {
	s := NewSerializer()
	for i := range e.Entries {
		entry := &e.Entries[i]
		putUint(s, &entry.NameType, 1)
		putVector(s, &entry.NameLength, &entry.Name, 2)
	}
	return s.Bytes()
}

func serializeServerName(e *ServerNameExtension, s *Serializer) {
	if !e.ListLength.IsSet() {
		return
	}
	putUint(s, &e.ListLength, 2)
	s.PutBytes(serverNameList(e))
}

func adjustServerName(e *ServerNameExtension, tc *Context, x extCtx) error {
	if !x.client() {
		return nil
	}
	name, ok := e.HostName()
	if !ok {
		return adjustmentError("server_name without host_name entry")
	}
	tc.ServerName = name
	return nil
}

type MaxFragmentLengthExtension struct {
	ExtensionHeader
	Code Uint8Field
}

func (*MaxFragmentLengthExtension) ExtensionType() ExtensionType {
	return ExtensionTypeMaxFragmentLength
}

type SupportedGroupsExtension struct {
	ExtensionHeader
	GroupsLength Uint16Field
	Groups       BytesField
}

func (*SupportedGroupsExtension) ExtensionType() ExtensionType { return ExtensionTypeSupportedGroups }

func (e *SupportedGroupsExtension) NamedGroups() []NamedGroup {
	return bytesToUint16s[NamedGroup](e.Groups.Resolve())
}

type ECPointFormatsExtension struct {
	ExtensionHeader
	FormatsLength Uint8Field
	Formats       BytesField
}

func (*ECPointFormatsExtension) ExtensionType() ExtensionType { return ExtensionTypeECPointFormats }

type SignatureAlgorithmsExtension struct {
	ExtensionHeader
	SchemesLength Uint16Field
	Schemes       BytesField
}

func (*SignatureAlgorithmsExtension) ExtensionType() ExtensionType {
	return ExtensionTypeSignatureAlgorithms
}

func (e *SignatureAlgorithmsExtension) SignatureSchemes() []SignatureScheme {
	return bytesToUint16s[SignatureScheme](e.Schemes.Resolve())
}

type HeartbeatExtension struct {
	ExtensionHeader
	Mode Uint8Field
}

func (*HeartbeatExtension) ExtensionType() ExtensionType { return ExtensionTypeHeartbeat }

type ALPNProtocol struct {
	Length Uint8Field
	Name   BytesField
}

type ALPNExtension struct {
	ExtensionHeader
	ListLength Uint16Field
	Protocols  []ALPNProtocol
}

func (*ALPNExtension) ExtensionType() ExtensionType { return ExtensionTypeALPN }

func (e *ALPNExtension) Names() []string {
	out := make([]string, 0, len(e.Protocols))
	for _, p := range e.Protocols {
		out = append(out, string(p.Name.Resolve()))
	}
	return out
}

func parseALPN(e *ALPNExtension, p *Parser, _ extCtx) {
	n := parseUint(p, &e.ListLength, 2, "alpn list length")
	lp := p.Sub(int(n), "alpn list")
	for !lp.Empty() && lp.Err() == nil {
		var proto ALPNProtocol
		parseVector(lp, &proto.Length, &proto.Name, 1, "alpn protocol")
		e.Protocols = append(e.Protocols, proto)
	}
	p.Merge(lp)
}

func prepareALPN(e *ALPNExtension, ch Chooser, x extCtx) error {
	if len(e.Protocols) == 0 {
		names := ch.Config().NextProtos
		if !x.client() {
			names = nil
			if n := ch.Context().NegotiatedALPN; n != "" {
				names = []string{n}
			}
		}
		for _, n := range names {
			var proto ALPNProtocol
			proto.Name.Assign([]byte(n))
			e.Protocols = append(e.Protocols, proto)
		}
	}
	for i := range e.Protocols {
		proto := &e.Protocols[i]
		proto.Length.Prepare(func() uint8 { return uint8(len(proto.Name.Resolve())) })
	}
	e.ListLength.Prepare(func() uint16 { return uint16(len(alpnList(e))) })
	return nil
}

func alpnList(e *ALPNExtension) []byte {
	s := NewSerializer()
	for i := range e.Protocols {
		putVector(s, &e.Protocols[i].Length, &e.Protocols[i].Name, 1)
	}
	return s.Bytes()
}

func serializeALPN(e *ALPNExtension, s *Serializer) {
	putUint(s, &e.ListLength, 2)
	s.PutBytes(alpnList(e))
}

// adjustALPN selects on a server receiving the offer: the first configured
// protocol the client also offered.
func adjustALPN(e *ALPNExtension, tc *Context, x extCtx) error {
	names := e.Names()
	if !x.client() {
		if len(names) != 1 {
			return adjustmentError("server selected %d ALPN protocols", len(names))
		}
		tc.NegotiatedALPN = names[0]
		return nil
	}
	if tc.ConnectionEnd != ConnectionEndServer {
		return nil
	}
	for _, want := range tc.Config.NextProtos {
		for _, n := range names {
			if n == want {
				tc.NegotiatedALPN = n
				return nil
			}
		}
	}
	return nil
}

// certificateTypes is the body of the client/server_certificate_type
// extensions: a list in the ClientHello, a single selection elsewhere.
type certificateTypes struct {
	TypesLength Uint8Field
	Types       BytesField
	Selected    Uint8Field
}

func (c *certificateTypes) parseTypes(p *Parser, x extCtx) {
	if x.client() {
		parseVector(p, &c.TypesLength, &c.Types, 1, "certificate types")
		return
	}
	parseUint(p, &c.Selected, 1, "certificate type")
}

func (c *certificateTypes) prepareTypes(ch Chooser, x extCtx) {
	if x.client() {
		prepareVector(&c.TypesLength, &c.Types, func() []byte {
			return []byte{uint8(CertificateTypeX509), uint8(CertificateTypeRawPublicKey)}
		})
		return
	}
	c.Selected.Prepare(func() uint8 {
		if t, ok := ch.Context().PeerCertificateType.Get(); ok {
			return uint8(t)
		}
		return uint8(CertificateTypeX509)
	})
}

func (c *certificateTypes) serializeTypes(s *Serializer) {
	if c.TypesLength.IsSet() {
		putVector(s, &c.TypesLength, &c.Types, 1)
		return
	}
	putUint(s, &c.Selected, 1)
}

type ClientCertificateTypeExtension struct {
	ExtensionHeader
	certificateTypes
}

func (*ClientCertificateTypeExtension) ExtensionType() ExtensionType {
	return ExtensionTypeClientCertificateType
}

type ServerCertificateTypeExtension struct {
	ExtensionHeader
	certificateTypes
}

func (*ServerCertificateTypeExtension) ExtensionType() ExtensionType {
	return ExtensionTypeServerCertificateType
}

type PaddingExtension struct {
	ExtensionHeader
	Padding BytesField
}

func (*PaddingExtension) ExtensionType() ExtensionType { return ExtensionTypePadding }

type EncryptThenMACExtension struct {
	ExtensionHeader
}

func (*EncryptThenMACExtension) ExtensionType() ExtensionType { return ExtensionTypeEncryptThenMAC }

type ExtendedMasterSecretExtension struct {
	ExtensionHeader
}

func (*ExtendedMasterSecretExtension) ExtensionType() ExtensionType {
	return ExtensionTypeExtendedMasterSecret
}

type SessionTicketExtension struct {
	ExtensionHeader
	Ticket BytesField
}

func (*SessionTicketExtension) ExtensionType() ExtensionType { return ExtensionTypeSessionTicket }

type RecordSizeLimitExtension struct {
	ExtensionHeader
	Limit Uint16Field
}

func (*RecordSizeLimitExtension) ExtensionType() ExtensionType { return ExtensionTypeRecordSizeLimit }

type PasswordSaltExtension struct {
	ExtensionHeader
	SaltLength Uint16Field
	Salt       BytesField
}

func (*PasswordSaltExtension) ExtensionType() ExtensionType { return ExtensionTypePasswordSalt }

type RenegotiationInfoExtension struct {
	ExtensionHeader
	InfoLength Uint8Field
	Info       BytesField
}

func (*RenegotiationInfoExtension) ExtensionType() ExtensionType {
	return ExtensionTypeRenegotiationInfo
}
