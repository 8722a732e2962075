package anvil

import (
	"crypto"
	"io"
)

func init() {
	registerExtension(ExtensionTypeSupportedVersions, extHandler[*SupportedVersionsExtension]{
		parse: func(e *SupportedVersionsExtension, p *Parser, x extCtx) {
			if x.client() {
				parseVector(p, &e.VersionsLength, &e.Versions, 1, "supported_versions")
				return
			}
			parseUint(p, &e.SelectedVersion, 2, "selected version")
		},
		prepare: prepareSupportedVersions,
		serialize: func(e *SupportedVersionsExtension, s *Serializer) {
			if e.VersionsLength.IsSet() {
				putVector(s, &e.VersionsLength, &e.Versions, 1)
				return
			}
			putUint(s, &e.SelectedVersion, 2)
		},
		adjust: func(e *SupportedVersionsExtension, tc *Context, x extCtx) error {
			if x.client() {
				tc.ClientOfferedVersions = e.ProtocolVersions()
				return nil
			}
			tc.ProtocolVersion.Set(ProtocolVersion(e.SelectedVersion.Resolve()))
			return nil
		},
	})
	registerExtension(ExtensionTypeCookie, extHandler[*CookieExtension]{
		parse: func(e *CookieExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.CookieLength, &e.Cookie, 2, "cookie")
		},
		prepare: func(e *CookieExtension, ch Chooser, x extCtx) error {
			var err error
			prepareVector(&e.CookieLength, &e.Cookie, func() []byte {
				if c := ch.Context().HRRCookie; c != nil || !x.hrr {
					return append([]byte{}, c...)
				}
				c := make([]byte, 32)
				_, err = io.ReadFull(ch.Rand(), c)
				return c
			})
			if err != nil {
				return cryptoError("cookie: %v", err)
			}
			return nil
		},
		serialize: func(e *CookieExtension, s *Serializer) { putVector(s, &e.CookieLength, &e.Cookie, 2) },
		adjust: func(e *CookieExtension, tc *Context, _ extCtx) error {
			tc.HRRCookie = e.Cookie.Resolve()
			return nil
		},
	})
	registerExtension(ExtensionTypePSKKeyExchangeModes, extHandler[*PSKKeyExchangeModesExtension]{
		parse: func(e *PSKKeyExchangeModesExtension, p *Parser, _ extCtx) {
			parseVector(p, &e.ModesLength, &e.Modes, 1, "psk_key_exchange_modes")
		},
		prepare: func(e *PSKKeyExchangeModesExtension, ch Chooser, _ extCtx) error {
			prepareVector(&e.ModesLength, &e.Modes, func() []byte { return uint8sToBytes(ch.Config().PSKModes) })
			return nil
		},
		serialize: func(e *PSKKeyExchangeModesExtension, s *Serializer) { putVector(s, &e.ModesLength, &e.Modes, 1) },
	})
	registerExtension(ExtensionTypeEarlyData, extHandler[*EarlyDataExtension]{
		parse: func(e *EarlyDataExtension, p *Parser, x extCtx) {
			if x.msg == HandshakeTypeNewSessionTicket {
				parseUint(p, &e.MaxEarlyDataSize, 4, "max_early_data_size")
			}
		},
		prepare: func(e *EarlyDataExtension, _ Chooser, x extCtx) error {
			if x.msg == HandshakeTypeNewSessionTicket {
				e.MaxEarlyDataSize.Prepare(func() uint32 { return maxPlaintextRecordLength })
			}
			return nil
		},
		serialize: func(e *EarlyDataExtension, s *Serializer) {
			if e.MaxEarlyDataSize.IsSet() {
				putUint(s, &e.MaxEarlyDataSize, 4)
			}
		},
		adjust: func(_ *EarlyDataExtension, tc *Context, x extCtx) error {
			if x.msg == HandshakeTypeEncryptedExtensions {
				tc.EarlyDataAccepted = true
			}
			return nil
		},
	})
	registerExtension(ExtensionTypeKeyShare, extHandler[*KeyShareExtension]{
		parse: parseKeyShare, prepare: prepareKeyShare, serialize: serializeKeyShare, adjust: adjustKeyShare,
	})
	registerExtension(ExtensionTypePreSharedKey, extHandler[*PreSharedKeyExtension]{
		parse: parsePreSharedKey, prepare: preparePreSharedKey, serialize: serializePreSharedKey, adjust: adjustPreSharedKey,
	})
}

// SupportedVersionsExtension carries a list in the ClientHello and the
// selected version in ServerHello and HelloRetryRequest.
type SupportedVersionsExtension struct {
	ExtensionHeader
	VersionsLength  Uint8Field
	Versions        BytesField
	SelectedVersion Uint16Field
}

func (*SupportedVersionsExtension) ExtensionType() ExtensionType {
	return ExtensionTypeSupportedVersions
}

func (e *SupportedVersionsExtension) ProtocolVersions() []ProtocolVersion {
	return bytesToUint16s[ProtocolVersion](e.Versions.Resolve())
}

var (
	tlsVersionsDescending  = []ProtocolVersion{VersionTLS13, VersionTLS12, VersionTLS11, VersionTLS10}
	dtlsVersionsDescending = []ProtocolVersion{VersionDTLS13, VersionDTLS12, VersionDTLS10}
)

func prepareSupportedVersions(e *SupportedVersionsExtension, ch Chooser, x extCtx) error {
	if !x.client() {
		e.SelectedVersion.Prepare(func() uint16 { return uint16(ch.ProtocolVersion()) })
		return nil
	}
	prepareVector(&e.VersionsLength, &e.Versions, func() []byte {
		highest := ch.HighestClientVersion()
		all := tlsVersionsDescending
		if highest.IsDTLS() {
			all = dtlsVersionsDescending
		}
		var vs []ProtocolVersion
		for _, v := range all {
			if highest.AtLeast(v) {
				vs = append(vs, v)
			}
		}
		return uint16sToBytes(vs)
	})
	return nil
}

type CookieExtension struct {
	ExtensionHeader
	CookieLength Uint16Field
	Cookie       BytesField
}

func (*CookieExtension) ExtensionType() ExtensionType { return ExtensionTypeCookie }

type PSKKeyExchangeModesExtension struct {
	ExtensionHeader
	ModesLength Uint8Field
	Modes       BytesField
}

func (*PSKKeyExchangeModesExtension) ExtensionType() ExtensionType {
	return ExtensionTypePSKKeyExchangeModes
}

// EarlyDataExtension is empty except in NewSessionTicket.
type EarlyDataExtension struct {
	ExtensionHeader
	MaxEarlyDataSize Uint32Field
}

func (*EarlyDataExtension) ExtensionType() ExtensionType { return ExtensionTypeEarlyData }

// KeyShareField is one key_share entry. The private half of a share this
// end generated never goes on the wire.
type KeyShareField struct {
	Group             Uint16Field
	KeyExchangeLength Uint16Field
	KeyExchange       BytesField

	privateKey []byte
}

func (k *KeyShareField) entry() KeyShareEntry {
	return KeyShareEntry{Group: NamedGroup(k.Group.Resolve()), KeyExchange: k.KeyExchange.Resolve()}
}

// KeyShareExtension holds a list in the ClientHello, one entry in the
// ServerHello and only the selected group in a HelloRetryRequest.
type KeyShareExtension struct {
	ExtensionHeader
	EntriesLength Uint16Field
	Entries       []KeyShareField
	SelectedGroup Uint16Field
}

func (*KeyShareExtension) ExtensionType() ExtensionType { return ExtensionTypeKeyShare }

func parseKeyShareEntry(p *Parser) KeyShareField {
	var k KeyShareField
	parseUint(p, &k.Group, 2, "key_share group")
	parseVector(p, &k.KeyExchangeLength, &k.KeyExchange, 2, "key_exchange")
	return k
}

func parseKeyShare(e *KeyShareExtension, p *Parser, x extCtx) {
	switch {
	case x.client():
		n := parseUint(p, &e.EntriesLength, 2, "client_shares length")
		lp := p.Sub(int(n), "client_shares")
		for !lp.Empty() && lp.Err() == nil {
			e.Entries = append(e.Entries, parseKeyShareEntry(lp))
		}
		p.Merge(lp)
	case x.hrr:
		parseUint(p, &e.SelectedGroup, 2, "selected_group")
	default:
		e.Entries = []KeyShareField{parseKeyShareEntry(p)}
	}
}

func prepareKeyShareEntry(k *KeyShareField, ch Chooser, group NamedGroup) error {
	var err error
	k.Group.Prepare(func() uint16 { return uint16(group) })
	prepareVector(&k.KeyExchangeLength, &k.KeyExchange, func() []byte {
		var pub []byte
		pub, k.privateKey, err = generateKeyShare(ch, NamedGroup(k.Group.Resolve()))
		return pub
	})
	return err
}

func prepareKeyShare(e *KeyShareExtension, ch Chooser, x extCtx) error {
	switch {
	case x.hrr:
		e.SelectedGroup.Prepare(func() uint16 { return uint16(ch.SelectedGroup()) })
		return nil
	case x.client():
		if len(e.Entries) == 0 {
			e.Entries = []KeyShareField{{}}
		}
		for i := range e.Entries {
			if err := prepareKeyShareEntry(&e.Entries[i], ch, ch.SelectedGroup()); err != nil {
				return err
			}
		}
		e.EntriesLength.Prepare(func() uint16 { return uint16(len(keyShareList(e))) })
		return nil
	}
	if len(e.Entries) == 0 {
		e.Entries = []KeyShareField{{}}
	}
	return prepareKeyShareEntry(&e.Entries[0], ch, ch.SelectedGroup())
}

func keyShareList(e *KeyShareExtension) []byte {
	s := NewSerializer()
	for i := range e.Entries {
		putUint(s, &e.Entries[i].Group, 2)
		putVector(s, &e.Entries[i].KeyExchangeLength, &e.Entries[i].KeyExchange, 2)
	}
	return s.Bytes()
}

func serializeKeyShare(e *KeyShareExtension, s *Serializer) {
	switch {
	case e.EntriesLength.IsSet():
		putUint(s, &e.EntriesLength, 2)
		s.PutBytes(keyShareList(e))
	case e.SelectedGroup.IsSet():
		putUint(s, &e.SelectedGroup, 2)
	default:
		s.PutBytes(keyShareList(e))
	}
}

func adjustKeyShare(e *KeyShareExtension, tc *Context, x extCtx) error {
	keep := func(k *KeyShareField) {
		if tc.sending() && k.privateKey != nil {
			tc.KeySharePrivateKeys[NamedGroup(k.Group.Resolve())] = k.privateKey
		}
	}
	switch {
	case x.hrr:
		tc.SelectedGroup.Set(NamedGroup(e.SelectedGroup.Resolve()))
	case x.client():
		tc.ClientKeyShares = tc.ClientKeyShares[:0]
		for i := range e.Entries {
			tc.ClientKeyShares = append(tc.ClientKeyShares, e.Entries[i].entry())
			keep(&e.Entries[i])
		}
		if tc.ConnectionEnd == ConnectionEndServer {
			selectKeyShareGroup(tc)
		}
	default:
		if len(e.Entries) != 1 {
			return adjustmentError("server key_share with %d entries", len(e.Entries))
		}
		entry := e.Entries[0].entry()
		tc.ServerKeyShare = &entry
		tc.SelectedGroup.Set(entry.Group)
		keep(&e.Entries[0])
	}
	return nil
}

// selectKeyShareGroup picks the first configured group the client sent a
// share for, falling back to one it merely supports (which needs a
// HelloRetryRequest).
func selectKeyShareGroup(tc *Context) {
	for _, g := range tc.Config.Groups {
		for _, ks := range tc.ClientKeyShares {
			if ks.Group == g {
				tc.SelectedGroup.Set(g)
				return
			}
		}
	}
	for _, g := range tc.Config.Groups {
		for _, offered := range tc.ClientOfferedGroups {
			if offered == g {
				tc.SelectedGroup.Set(g)
				return
			}
		}
	}
}

type PSKIdentityField struct {
	IdentityLength      Uint16Field
	Identity            BytesField
	ObfuscatedTicketAge Uint32Field
}

type PSKBinderField struct {
	BinderLength Uint8Field
	Binder       BytesField
}

// PreSharedKeyExtension holds offered identities and binders in the
// ClientHello and the selected index in the ServerHello. It must be the last
// extension of a ClientHello.
type PreSharedKeyExtension struct {
	ExtensionHeader
	IdentitiesLength Uint16Field
	Identities       []PSKIdentityField
	BindersLength    Uint16Field
	Binders          []PSKBinderField
	SelectedIdentity Uint16Field

	// PSKs the identities stand for, in order.
	offered []PreSharedKey
}

func (*PreSharedKeyExtension) ExtensionType() ExtensionType { return ExtensionTypePreSharedKey }

func parsePreSharedKey(e *PreSharedKeyExtension, p *Parser, x extCtx) {
	if !x.client() {
		parseUint(p, &e.SelectedIdentity, 2, "selected_identity")
		return
	}
	n := parseUint(p, &e.IdentitiesLength, 2, "identities length")
	ip := p.Sub(int(n), "identities")
	for !ip.Empty() && ip.Err() == nil {
		var id PSKIdentityField
		parseVector(ip, &id.IdentityLength, &id.Identity, 2, "identity")
		parseUint(ip, &id.ObfuscatedTicketAge, 4, "obfuscated_ticket_age")
		e.Identities = append(e.Identities, id)
	}
	p.Merge(ip)
	n = parseUint(p, &e.BindersLength, 2, "binders length")
	bp := p.Sub(int(n), "binders")
	for !bp.Empty() && bp.Err() == nil {
		var b PSKBinderField
		parseVector(bp, &b.BinderLength, &b.Binder, 1, "binder")
		e.Binders = append(e.Binders, b)
	}
	p.Merge(bp)
}

// offeredPSKs lists the PSKs a client offers: resumption tickets, newest
// first, then the configured external PSK.
func offeredPSKs(tc *Context) []PreSharedKey {
	var out []PreSharedKey
	for i := len(tc.PSKs) - 1; i >= 0; i-- {
		out = append(out, tc.PSKs[i])
	}
	if len(tc.Config.PSK) > 0 && len(tc.Config.PSKIdentity) > 0 {
		out = append(out, PreSharedKey{
			CipherSuite: tc.Chooser().CipherSuite(),
			Identity:    tc.Config.PSKIdentity,
			Key:         tc.Config.PSK,
		})
	}
	return out
}

func pskHash(psk PreSharedKey) crypto.Hash {
	if params, ok := CipherSuiteParamsFor(psk.CipherSuite); ok {
		return params.Hash
	}
	return crypto.SHA256
}

// obfuscatedAge is the ticket age in milliseconds plus age_add, modulo 2^32.
func obfuscatedAge(ch Chooser, psk PreSharedKey) uint32 {
	if !psk.IsResumption {
		return 0
	}
	age := ch.Clock().Now().UnixMilli() - psk.ReceivedAt
	return uint32(age) + psk.TicketAgeAdd
}

// preparePreSharedKey fills identities and zero binders of the right
// length. The ClientHello preparator replaces the binders once the rest of
// the message is final.
func preparePreSharedKey(e *PreSharedKeyExtension, ch Chooser, x extCtx) error {
	tc := ch.Context()
	if !x.client() {
		e.SelectedIdentity.Prepare(func() uint16 {
			i, _ := tc.SelectedPSKIndex.Get()
			return i
		})
		return nil
	}

	if len(e.Identities) == 0 {
		e.offered = offeredPSKs(tc)
		for _, psk := range e.offered {
			var id PSKIdentityField
			id.Identity.Assign(psk.Identity)
			id.ObfuscatedTicketAge.Assign(obfuscatedAge(ch, psk))
			e.Identities = append(e.Identities, id)
		}
	}
	if len(e.offered) == 0 {
		for _, id := range e.Identities {
			e.offered = append(e.offered, PreSharedKey{
				CipherSuite: ch.CipherSuite(),
				Identity:    id.Identity.Resolve(),
				Key:         ch.PSK(),
			})
		}
	}
	for i := range e.Identities {
		id := &e.Identities[i]
		id.IdentityLength.Prepare(func() uint16 { return uint16(len(id.Identity.Resolve())) })
		id.ObfuscatedTicketAge.Prepare(func() uint32 { return 0 })
	}
	e.IdentitiesLength.Prepare(func() uint16 { return uint16(len(pskIdentityList(e))) })

	for len(e.Binders) < len(e.offered) {
		e.Binders = append(e.Binders, PSKBinderField{})
	}
	for i := range e.Binders {
		b := &e.Binders[i]
		size := crypto.SHA256.Size()
		if i < len(e.offered) {
			size = pskHash(e.offered[i]).Size()
		}
		b.Binder.Prepare(func() []byte { return make([]byte, size) })
		b.BinderLength.Prepare(func() uint8 { return uint8(len(b.Binder.Resolve())) })
	}
	e.BindersLength.Prepare(func() uint16 { return uint16(len(pskBinderList(e))) })
	return nil
}

// computeBinders overwrites every binder that is not overridden. truncated
// is the ClientHello up to, not including, the binders list.
func (e *PreSharedKeyExtension) computeBinders(tc *Context, truncated []byte) error {
	for i := range e.Binders {
		if i >= len(e.offered) || e.Binders[i].Binder.Overridden() {
			continue
		}
		psk := e.offered[i]
		h := pskHash(psk)
		binder, err := computeBinder(h, psk.Key, psk.IsResumption, tc.Transcript.Hash(h, truncated))
		if err != nil {
			return err
		}
		e.Binders[i].Binder.Assign(binder)
		e.Binders[i].BinderLength.Prepare(func() uint8 { return uint8(len(binder)) })
	}
	e.BindersLength.Prepare(func() uint16 { return uint16(len(pskBinderList(e))) })
	return nil
}

// bindersSize is the serialized size of binders_len and the binder list.
func (e *PreSharedKeyExtension) bindersSize() int {
	return 2 + len(pskBinderList(e))
}

func pskIdentityList(e *PreSharedKeyExtension) []byte {
	s := NewSerializer()
	for i := range e.Identities {
		putVector(s, &e.Identities[i].IdentityLength, &e.Identities[i].Identity, 2)
		putUint(s, &e.Identities[i].ObfuscatedTicketAge, 4)
	}
	return s.Bytes()
}

func pskBinderList(e *PreSharedKeyExtension) []byte {
	s := NewSerializer()
	for i := range e.Binders {
		putVector(s, &e.Binders[i].BinderLength, &e.Binders[i].Binder, 1)
	}
	return s.Bytes()
}

func serializePreSharedKey(e *PreSharedKeyExtension, s *Serializer) {
	if !e.IdentitiesLength.IsSet() {
		putUint(s, &e.SelectedIdentity, 2)
		return
	}
	putUint(s, &e.IdentitiesLength, 2)
	s.PutBytes(pskIdentityList(e))
	putUint(s, &e.BindersLength, 2)
	s.PutBytes(pskBinderList(e))
}

// adjustPreSharedKey makes the server pick the first identity it knows and
// the client adopt whatever the server selected. Binders are not verified.
func adjustPreSharedKey(e *PreSharedKeyExtension, tc *Context, x extCtx) error {
	if !x.client() {
		idx := e.SelectedIdentity.Resolve()
		if tc.ConnectionEnd == ConnectionEndClient {
			offered := offeredPSKs(tc)
			if int(idx) >= len(offered) {
				return adjustmentError("server selected PSK %d of %d", idx, len(offered))
			}
			tc.PSK = offered[idx].Key
		}
		tc.SelectedPSKIndex.Set(idx)
		return nil
	}
	if tc.ConnectionEnd != ConnectionEndServer {
		return nil
	}
	known := append([]PreSharedKey{}, tc.PSKs...)
	if len(tc.Config.PSK) > 0 {
		known = append(known, PreSharedKey{Identity: tc.Config.PSKIdentity, Key: tc.Config.PSK})
	}
	for i, id := range e.Identities {
		for _, psk := range known {
			if string(psk.Identity) == string(id.Identity.Resolve()) {
				tc.SelectedPSKIndex.Set(uint16(i))
				tc.PSK = psk.Key
				return nil
			}
		}
	}
	return nil
}
