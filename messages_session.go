package anvil

import (
	"encoding/binary"
	"io"
)

// struct {
//     opaque verify_data[Hash.length];
// } Finished;
type Finished struct {
	HandshakeHeader
	VerifyData BytesField
}

func (*Finished) Kind() MessageKind { return KindFinished }

func parseFinished(m *Finished, p *Parser, _ Chooser) {
	m.VerifyData.Assign(p.Rest())
}

// finishedData computes verify_data for a Finished sent by end over the
// given transcript.
func finishedData(tc *Context, end ConnectionEnd, t *Transcript) ([]byte, error) {
	ch := tc.Chooser()
	if ch.ProtocolVersion().IsTLS13() {
		full := tc.Transcript
		tc.Transcript = t
		defer func() { tc.Transcript = full }()
		return tc.tls13Finished(end)
	}
	params, err := ch.CipherSuiteParams()
	if err != nil {
		return nil, err
	}
	return legacyFinished(ch.ProtocolVersion(), params.Hash, ch.MasterSecret(), end, t)
}

func prepareFinished(m *Finished, ch Chooser) error {
	var err error
	m.VerifyData.Prepare(func() []byte {
		var vd []byte
		if vd, err = finishedData(ch.Context(), ch.Talking(), ch.Context().Transcript); err != nil {
			return []byte{}
		}
		return vd
	})
	return err
}

func serializeFinished(m *Finished, s *Serializer) {
	putBytes(s, &m.VerifyData)
}

// TLS 1.3:
// struct {
//     uint32 ticket_lifetime;
//     uint32 ticket_age_add;
//     opaque ticket_nonce<0..255>;
//     opaque ticket<1..2^16-1>;
//     Extension extensions<0..2^16-2>;
// } NewSessionTicket;
//
// RFC 5077:
// struct {
//     uint32 ticket_lifetime_hint;
//     opaque ticket<0..2^16-1>;
// } NewSessionTicket;
type NewSessionTicket struct {
	HandshakeHeader
	Lifetime     Uint32Field
	AgeAdd       Uint32Field
	NonceLength  Uint8Field
	Nonce        BytesField
	TicketLength Uint16Field
	Ticket       BytesField
	ExtensionBlock
}

func (*NewSessionTicket) Kind() MessageKind { return KindNewSessionTicket }

var newSessionTicketCtx = extCtx{msg: HandshakeTypeNewSessionTicket}

func parseNewSessionTicket(m *NewSessionTicket, p *Parser, ch Chooser) {
	parseUint(p, &m.Lifetime, 4, "ticket_lifetime")
	tls13 := ch.ProtocolVersion().IsTLS13()
	if tls13 {
		parseUint(p, &m.AgeAdd, 4, "ticket_age_add")
		parseVector(p, &m.NonceLength, &m.Nonce, 1, "ticket_nonce")
	}
	parseVector(p, &m.TicketLength, &m.Ticket, 2, "ticket")
	if tls13 {
		m.parseBlock(p, newSessionTicketCtx, true)
	}
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, cryptoError("random: %v", err)
	}
	return b, nil
}

func prepareNewSessionTicket(m *NewSessionTicket, ch Chooser) error {
	cfg := ch.Config()
	m.Lifetime.Prepare(func() uint32 { return cfg.TicketLifetime })
	ticket, err := randomBytes(ch.Rand(), cfg.TicketLen)
	if err != nil {
		return err
	}
	if ch.ProtocolVersion().IsTLS13() {
		seed, err := randomBytes(ch.Rand(), 12)
		if err != nil {
			return err
		}
		m.AgeAdd.Prepare(func() uint32 {
			if cfg.TicketAgeAdd != 0 {
				return cfg.TicketAgeAdd
			}
			return binary.BigEndian.Uint32(seed)
		})
		prepareVector(&m.NonceLength, &m.Nonce, func() []byte { return seed[4:] })
		if err := m.prepareBlock(ch, newSessionTicketCtx, true); err != nil {
			return err
		}
	}
	prepareVector(&m.TicketLength, &m.Ticket, func() []byte { return ticket })
	return nil
}

func serializeNewSessionTicket(m *NewSessionTicket, s *Serializer) {
	putUint(s, &m.Lifetime, 4)
	if m.AgeAdd.IsSet() {
		putUint(s, &m.AgeAdd, 4)
		putVector(s, &m.NonceLength, &m.Nonce, 1)
	}
	putVector(s, &m.TicketLength, &m.Ticket, 2)
	m.serializeBlock(s)
}

// SessionTicket is the RFC 5077 section 4 recommended ticket layout.
type SessionTicket struct {
	KeyName        []byte
	IV             []byte
	EncryptedState []byte
	MAC            []byte
}

// ParseSessionTicket splits a TLS 1.2 ticket using the layout lengths from
// cfg.
func ParseSessionTicket(data []byte, cfg *Config) (*SessionTicket, error) {
	p := NewParser(data)
	t := &SessionTicket{
		KeyName: p.Bytes(cfg.SessionTicketKeyNameLength, "key_name"),
		IV:      p.Bytes(cfg.SessionTicketIVLength, "iv"),
	}
	n := p.Remaining() - cfg.SessionTicketMACLength
	if n < 0 {
		return nil, malformed("session ticket shorter than its MAC")
	}
	t.EncryptedState = p.Bytes(n, "encrypted_state")
	t.MAC = p.Bytes(cfg.SessionTicketMACLength, "mac")
	if err := p.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// struct {
//     KeyUpdateRequest request_update;
// } KeyUpdate;
type KeyUpdate struct {
	HandshakeHeader
	Request Uint8Field
}

func (*KeyUpdate) Kind() MessageKind { return KindKeyUpdate }

func parseKeyUpdate(m *KeyUpdate, p *Parser, _ Chooser) {
	parseUint(p, &m.Request, 1, "request_update")
}

func prepareKeyUpdate(m *KeyUpdate, _ Chooser) error {
	m.Request.Prepare(func() uint8 { return uint8(KeyUpdateNotRequested) })
	return nil
}

func serializeKeyUpdate(m *KeyUpdate, s *Serializer) {
	putUint(s, &m.Request, 1)
}

type EndOfEarlyData struct {
	HandshakeHeader
}

func (*EndOfEarlyData) Kind() MessageKind { return KindEndOfEarlyData }

// struct {
//     SupplementalDataEntry supp_data<1..2^24-1>;
// } SupplementalData;
type SupplementalData struct {
	HandshakeHeader
	EntriesLength Uint32Field
	Entries       []SupplementalDataEntry
}

type SupplementalDataEntry struct {
	Type   Uint16Field
	Length Uint16Field
	Data   BytesField
}

func (*SupplementalData) Kind() MessageKind { return KindSupplementalData }

func parseSupplementalData(m *SupplementalData, p *Parser, _ Chooser) {
	n := parseUint(p, &m.EntriesLength, 3, "supp_data length")
	list := p.Sub(int(n), "supp_data")
	for !list.Empty() && list.Err() == nil {
		var e SupplementalDataEntry
		parseUint(list, &e.Type, 2, "supp_data_type")
		parseVector(list, &e.Length, &e.Data, 2, "supp_data")
		m.Entries = append(m.Entries, e)
	}
	p.Merge(list)
}

// There is no supplemental data type the engine knows how to produce. A
// parsed message can still be re-sent as is.
func prepareSupplementalData(m *SupplementalData, _ Chooser) error {
	return unsupported("preparing SupplementalData")
}

func (m *SupplementalData) serializeEntries() []byte {
	s := NewSerializer()
	for i := range m.Entries {
		e := &m.Entries[i]
		putUint(s, &e.Type, 2)
		putVector(s, &e.Length, &e.Data, 2)
	}
	return s.Bytes()
}

func serializeSupplementalData(m *SupplementalData, s *Serializer) {
	putUint(s, &m.EntriesLength, 3)
	s.PutBytes(m.serializeEntries())
}
