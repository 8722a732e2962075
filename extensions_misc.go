package anvil

// Extensions the engine can craft and inspect but never acts on.

const (
	trustedAuthorityPreAgreed    uint8 = 0
	trustedAuthorityKeySHA1Hash  uint8 = 1
	trustedAuthorityX509Name     uint8 = 2
	trustedAuthorityCertSHA1Hash uint8 = 3

	sha1HashLength  = 20
	esniNonceLength = 16

	authzFormatX509AttrCert  uint8 = 0
	userMappingUPNDomainHint uint8 = 64
)

func init() {
	registerExtension(ExtensionTypeTrustedCAKeys, extHandler[*TrustedCAKeysExtension]{
		parse: parseTrustedCAKeys, prepare: prepareTrustedCAKeys, serialize: serializeTrustedCAKeys,
	})
	registerExtension(ExtensionTypeUserMapping, extHandler[*UserMappingExtension]{
		parse: func(e *UserMappingExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.TypesLength, &e.Types, 1, "user_mapping_types")
		},
		prepare: func(e *UserMappingExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.TypesLength, &e.Types, func() []byte {
				if t := ch.Config().UserMappingTypes; len(t) > 0 {
					return append([]byte{}, t...)
				}
				return []byte{userMappingUPNDomainHint}
			})
			return nil
		},
		serialize: func(e *UserMappingExtension, s *Serializer) { putVector(s, &e.TypesLength, &e.Types, 1) },
	})
	registerExtension(ExtensionTypeClientAuthz, extHandler[*ClientAuthzExtension]{
		parse:     func(e *ClientAuthzExtension, p *Parser, _ extCtx) { e.parseFormats(p) },
		prepare:   func(e *ClientAuthzExtension, ch Chooser, _ extCtx) error { e.prepareFormats(ch); return nil },
		serialize: func(e *ClientAuthzExtension, s *Serializer) { e.serializeFormats(s) },
	})
	registerExtension(ExtensionTypeServerAuthz, extHandler[*ServerAuthzExtension]{
		parse:     func(e *ServerAuthzExtension, p *Parser, _ extCtx) { e.parseFormats(p) },
		prepare:   func(e *ServerAuthzExtension, ch Chooser, _ extCtx) error { e.prepareFormats(ch); return nil },
		serialize: func(e *ServerAuthzExtension, s *Serializer) { e.serializeFormats(s) },
	})
	registerExtension(ExtensionTypeCachedInfo, extHandler[*CachedInfoExtension]{
		parse: parseCachedInfo, prepare: prepareCachedInfo, serialize: serializeCachedInfo,
	})
	registerExtension(ExtensionTypePWDProtect, extHandler[*PWDProtectExtension]{
		parse: func(e *PWDProtectExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.UsernameLength, &e.Username, 1, "pwd_protect username")
		},
		// The username is sent encrypted, so there is nothing to derive
		// it from. An unassigned one goes out empty.
		prepare: func(e *PWDProtectExtension, _ Chooser, _ extCtx) error {
			prepareVector(&e.UsernameLength, &e.Username, func() []byte { return []byte{} })
			return nil
		},
		serialize: func(e *PWDProtectExtension, s *Serializer) { putVector(s, &e.UsernameLength, &e.Username, 1) },
	})
	registerExtension(ExtensionTypePWDClear, extHandler[*PWDClearExtension]{
		parse: func(e *PWDClearExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.UsernameLength, &e.Username, 1, "pwd_clear username")
		},
		prepare: func(e *PWDClearExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.UsernameLength, &e.Username, func() []byte { return []byte(ch.Config().PWDUsername) })
			return nil
		},
		serialize: func(e *PWDClearExtension, s *Serializer) { putVector(s, &e.UsernameLength, &e.Username, 1) },
	})
	registerExtension(ExtensionTypeEncryptedServerName, extHandler[*EncryptedServerNameExtension]{
		parse: parseEncryptedServerName, prepare: prepareEncryptedServerName, serialize: serializeEncryptedServerName,
	})
}

// TrustedAuthority is one entry of trusted_ca_keys (RFC 6066 section 6).
// Which of SHA1Hash and DistinguishedName is present depends on
// IdentifierType.
type TrustedAuthority struct {
	IdentifierType          Uint8Field
	SHA1Hash                BytesField
	DistinguishedNameLength Uint16Field
	DistinguishedName       BytesField
}

// NewTrustedAuthority builds an entry of the given identifier type. data
// is the SHA-1 hash or the DER distinguished name; pre_agreed takes none.
func NewTrustedAuthority(identifierType uint8, data []byte) TrustedAuthority {
	var a TrustedAuthority
	a.IdentifierType.Assign(identifierType)
	switch identifierType {
	case trustedAuthorityKeySHA1Hash, trustedAuthorityCertSHA1Hash:
		a.SHA1Hash.Assign(data)
	case trustedAuthorityX509Name:
		a.DistinguishedName.Assign(data)
	}
	return a
}

// The server's trusted_ca_keys is empty.
type TrustedCAKeysExtension struct {
	ExtensionHeader
	AuthoritiesLength Uint16Field
	Authorities       []TrustedAuthority
}

func (*TrustedCAKeysExtension) ExtensionType() ExtensionType { return ExtensionTypeTrustedCAKeys }

func parseTrustedCAKeys(e *TrustedCAKeysExtension, p *Parser, x extCtx) {
	if !x.client() {
		return
	}
	n := parseUint(p, &e.AuthoritiesLength, 2, "trusted_authorities_list length")
	list := p.Sub(int(n), "trusted_authorities_list")
	for !list.Empty() && list.Err() == nil {
		var a TrustedAuthority
		switch parseUint(list, &a.IdentifierType, 1, "identifier_type") {
		case trustedAuthorityPreAgreed:
		case trustedAuthorityKeySHA1Hash, trustedAuthorityCertSHA1Hash:
			parseBytes(list, &a.SHA1Hash, sha1HashLength, "sha1_hash")
		case trustedAuthorityX509Name:
			parseVector(list, &a.DistinguishedNameLength, &a.DistinguishedName, 2, "distinguished_name")
		default:
			list.setErr(malformed("trusted authority identifier type %d", a.IdentifierType.Resolve()))
		}
		e.Authorities = append(e.Authorities, a)
	}
	p.Merge(list)
}

func prepareTrustedCAKeys(e *TrustedCAKeysExtension, _ Chooser, x extCtx) error {
	if !x.client() {
		return nil
	}
	for i := range e.Authorities {
		a := &e.Authorities[i]
		if a.IdentifierType.Resolve() == trustedAuthorityX509Name {
			prepareVector(&a.DistinguishedNameLength, &a.DistinguishedName, a.DistinguishedName.Resolve)
		}
	}
	e.AuthoritiesLength.Prepare(func() uint16 { return uint16(len(e.authorityList())) })
	return nil
}

func (e *TrustedCAKeysExtension) authorityList() []byte {
	s := NewSerializer()
	for i := range e.Authorities {
		a := &e.Authorities[i]
		putUint(s, &a.IdentifierType, 1)
		if a.SHA1Hash.IsSet() {
			putBytes(s, &a.SHA1Hash)
		}
		if a.DistinguishedNameLength.IsSet() {
			putVector(s, &a.DistinguishedNameLength, &a.DistinguishedName, 2)
		}
	}
	return s.Bytes()
}

func serializeTrustedCAKeys(e *TrustedCAKeysExtension, s *Serializer) {
	if e.AuthoritiesLength.IsSet() {
		putUint(s, &e.AuthoritiesLength, 2)
		s.PutBytes(e.authorityList())
	}
}

type UserMappingExtension struct {
	ExtensionHeader
	TypesLength Uint8Field
	Types       BytesField
}

func (*UserMappingExtension) ExtensionType() ExtensionType { return ExtensionTypeUserMapping }

// authzFormats is the AuthzDataFormat list of RFC 5878.
type authzFormats struct {
	FormatsLength Uint8Field
	Formats       BytesField
}

func (a *authzFormats) parseFormats(p *Parser) {
	parseVector(p, &a.FormatsLength, &a.Formats, 1, "authz_format_list")
}

func (a *authzFormats) prepareFormats(ch Chooser) {
	prepareVector(&a.FormatsLength, &a.Formats, func() []byte {
		if f := ch.Config().AuthzFormats; len(f) > 0 {
			return append([]byte{}, f...)
		}
		return []byte{authzFormatX509AttrCert}
	})
}

func (a *authzFormats) serializeFormats(s *Serializer) {
	putVector(s, &a.FormatsLength, &a.Formats, 1)
}

type ClientAuthzExtension struct {
	ExtensionHeader
	authzFormats
}

func (*ClientAuthzExtension) ExtensionType() ExtensionType { return ExtensionTypeClientAuthz }

type ServerAuthzExtension struct {
	ExtensionHeader
	authzFormats
}

func (*ServerAuthzExtension) ExtensionType() ExtensionType { return ExtensionTypeServerAuthz }

// CachedObject is one RFC 7924 cached_info entry. The server echoes the
// types only.
type CachedObject struct {
	Type       Uint8Field
	HashLength Uint8Field
	Hash       BytesField
}

type CachedInfoExtension struct {
	ExtensionHeader
	ObjectsLength Uint16Field
	Objects       []CachedObject
}

func (*CachedInfoExtension) ExtensionType() ExtensionType { return ExtensionTypeCachedInfo }

func parseCachedInfo(e *CachedInfoExtension, p *Parser, x extCtx) {
	n := parseUint(p, &e.ObjectsLength, 2, "cached_info length")
	list := p.Sub(int(n), "cached_info")
	for !list.Empty() && list.Err() == nil {
		var o CachedObject
		parseUint(list, &o.Type, 1, "cached_information_type")
		if x.client() {
			parseVector(list, &o.HashLength, &o.Hash, 1, "hash_value")
		}
		e.Objects = append(e.Objects, o)
	}
	p.Merge(list)
}

func prepareCachedInfo(e *CachedInfoExtension, _ Chooser, x extCtx) error {
	if x.client() {
		for i := range e.Objects {
			o := &e.Objects[i]
			prepareVector(&o.HashLength, &o.Hash, func() []byte { return []byte{} })
		}
	}
	e.ObjectsLength.Prepare(func() uint16 { return uint16(len(e.objectList())) })
	return nil
}

func (e *CachedInfoExtension) objectList() []byte {
	s := NewSerializer()
	for i := range e.Objects {
		o := &e.Objects[i]
		putUint(s, &o.Type, 1)
		if o.HashLength.IsSet() {
			putVector(s, &o.HashLength, &o.Hash, 1)
		}
	}
	return s.Bytes()
}

func serializeCachedInfo(e *CachedInfoExtension, s *Serializer) {
	putUint(s, &e.ObjectsLength, 2)
	s.PutBytes(e.objectList())
}

type PWDProtectExtension struct {
	ExtensionHeader
	UsernameLength Uint8Field
	Username       BytesField
}

func (*PWDProtectExtension) ExtensionType() ExtensionType { return ExtensionTypePWDProtect }

type PWDClearExtension struct {
	ExtensionHeader
	UsernameLength Uint8Field
	Username       BytesField
}

func (*PWDClearExtension) ExtensionType() ExtensionType { return ExtensionTypePWDClear }

// EncryptedServerNameExtension is the draft ESNI extension. The client
// form carries the suite, a key share, the ESNIKeys digest and the
// encrypted name; in EncryptedExtensions the server echoes a 16-byte nonce.
// Nothing is encrypted here: the parts are crafted or copied verbatim.
type EncryptedServerNameExtension struct {
	ExtensionHeader
	CipherSuite        Uint16Field
	Group              Uint16Field
	KeyExchangeLength  Uint16Field
	KeyExchange        BytesField
	RecordDigestLength Uint16Field
	RecordDigest       BytesField
	EncryptedSNILength Uint16Field
	EncryptedSNI       BytesField
	Nonce              BytesField
}

func (*EncryptedServerNameExtension) ExtensionType() ExtensionType {
	return ExtensionTypeEncryptedServerName
}

func parseEncryptedServerName(e *EncryptedServerNameExtension, p *Parser, x extCtx) {
	if !x.client() {
		parseBytes(p, &e.Nonce, esniNonceLength, "nonce")
		return
	}
	parseUint(p, &e.CipherSuite, 2, "suite")
	parseUint(p, &e.Group, 2, "key_share group")
	parseVector(p, &e.KeyExchangeLength, &e.KeyExchange, 2, "key_exchange")
	parseVector(p, &e.RecordDigestLength, &e.RecordDigest, 2, "record_digest")
	parseVector(p, &e.EncryptedSNILength, &e.EncryptedSNI, 2, "encrypted_sni")
}

func prepareEncryptedServerName(e *EncryptedServerNameExtension, ch Chooser, x extCtx) error {
	if !x.client() {
		nonce, err := randomBytes(ch.Rand(), esniNonceLength)
		if err != nil {
			return err
		}
		e.Nonce.Prepare(func() []byte { return nonce })
		return nil
	}
	empty := func() []byte { return []byte{} }
	e.CipherSuite.Prepare(func() uint16 { return uint16(ch.CipherSuite()) })
	e.Group.Prepare(func() uint16 { return uint16(ch.SelectedGroup()) })
	prepareVector(&e.KeyExchangeLength, &e.KeyExchange, empty)
	prepareVector(&e.RecordDigestLength, &e.RecordDigest, empty)
	prepareVector(&e.EncryptedSNILength, &e.EncryptedSNI, empty)
	return nil
}

func serializeEncryptedServerName(e *EncryptedServerNameExtension, s *Serializer) {
	if e.Nonce.IsSet() {
		putBytes(s, &e.Nonce)
		return
	}
	putUint(s, &e.CipherSuite, 2)
	putUint(s, &e.Group, 2)
	putVector(s, &e.KeyExchangeLength, &e.KeyExchange, 2)
	putVector(s, &e.RecordDigestLength, &e.RecordDigest, 2)
	putVector(s, &e.EncryptedSNILength, &e.EncryptedSNI, 2)
}
