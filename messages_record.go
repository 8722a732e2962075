package anvil

// struct {
//     enum { change_cipher_spec(1), (255) } type;
// } ChangeCipherSpec;
type ChangeCipherSpec struct {
	Type Uint8Field
}

func (*ChangeCipherSpec) Kind() MessageKind { return KindChangeCipherSpec }

func parseChangeCipherSpec(m *ChangeCipherSpec, p *Parser, _ Chooser) {
	parseUint(p, &m.Type, 1, "change_cipher_spec")
}

func prepareChangeCipherSpec(m *ChangeCipherSpec, _ Chooser) error {
	m.Type.Prepare(func() uint8 { return 1 })
	return nil
}

func serializeChangeCipherSpec(m *ChangeCipherSpec, s *Serializer) {
	putUint(s, &m.Type, 1)
}

// struct {
//     AlertLevel level;
//     AlertDescription description;
// } Alert;
type AlertMessage struct {
	Level       Uint8Field
	Description Uint8Field
}

func (*AlertMessage) Kind() MessageKind { return KindAlert }

func (m *AlertMessage) Alert() Alert {
	return Alert(m.Description.Resolve())
}

func (m *AlertMessage) Fatal() bool {
	return m.Level.Resolve() == AlertLevelError
}

func parseAlert(m *AlertMessage, p *Parser, _ Chooser) {
	parseUint(p, &m.Level, 1, "alert level")
	parseUint(p, &m.Description, 1, "alert description")
}

// A prepared alert defaults to a warning-level close_notify.
func prepareAlert(m *AlertMessage, _ Chooser) error {
	m.Level.Prepare(func() uint8 { return AlertLevelWarning })
	m.Description.Prepare(func() uint8 { return uint8(AlertCloseNotify) })
	return nil
}

func serializeAlert(m *AlertMessage, s *Serializer) {
	putUint(s, &m.Level, 1)
	putUint(s, &m.Description, 1)
}

type ApplicationData struct {
	Data BytesField
}

func (*ApplicationData) Kind() MessageKind { return KindApplicationData }

func parseApplicationData(m *ApplicationData, p *Parser, _ Chooser) {
	m.Data.Assign(p.Rest())
}

// Data assigned by the caller is kept.
func prepareApplicationData(m *ApplicationData, _ Chooser) error {
	if !m.Data.IsSet() {
		m.Data.Assign([]byte{})
	}
	return nil
}

func serializeApplicationData(m *ApplicationData, s *Serializer) {
	putBytes(s, &m.Data)
}

// struct {
//     HeartbeatMessageType type;
//     uint16 payload_length;
//     opaque payload[HeartbeatMessage.payload_length];
//     opaque padding[padding_length];
// } HeartbeatMessage;
type Heartbeat struct {
	Type          Uint8Field
	PayloadLength Uint16Field
	Payload       BytesField
	Padding       BytesField
}

func (*Heartbeat) Kind() MessageKind { return KindHeartbeat }

// parseHeartbeat takes at most what is there for the payload, so a reply
// claiming more than it carries still parses and can be inspected.
func parseHeartbeat(m *Heartbeat, p *Parser, _ Chooser) {
	parseUint(p, &m.Type, 1, "heartbeat type")
	n := int(parseUint(p, &m.PayloadLength, 2, "payload_length"))
	if n > p.Remaining() {
		n = p.Remaining()
	}
	m.Payload.Assign(p.Bytes(n, "payload"))
	m.Padding.Assign(p.Rest())
}

func prepareHeartbeat(m *Heartbeat, ch Chooser) error {
	cfg := ch.Config()
	m.Type.Prepare(func() uint8 { return uint8(HeartbeatRequest) })
	var err error
	m.Payload.Prepare(func() []byte {
		var b []byte
		b, err = randomBytes(ch.Rand(), cfg.HeartbeatPayloadLength)
		return b
	})
	if err != nil {
		return err
	}
	m.PayloadLength.Prepare(func() uint16 { return uint16(len(m.Payload.Resolve())) })
	m.Padding.Prepare(func() []byte {
		var b []byte
		b, err = randomBytes(ch.Rand(), cfg.HeartbeatPaddingLength)
		return b
	})
	return err
}

func serializeHeartbeat(m *Heartbeat, s *Serializer) {
	putUint(s, &m.Type, 1)
	putUint(s, &m.PayloadLength, 2)
	putBytes(s, &m.Payload)
	putBytes(s, &m.Padding)
}

// UnknownMessage keeps the bytes of anything the engine cannot or did not
// parse. For handshake messages the header is kept separately from the
// body.
type UnknownMessage struct {
	HandshakeHeader
	RecordType RecordType
	Body       BytesField
}

func (*UnknownMessage) Kind() MessageKind { return KindUnknown }

func (m *UnknownMessage) prepareUnknown(ch Chooser) {
	m.Body.Prepare(func() []byte { return []byte{} })
	if m.RecordType == 0 {
		m.RecordType = RecordTypeHandshake
	}
	if m.RecordType == RecordTypeHandshake {
		m.prepareHeader(HandshakeType(m.Type.Resolve()), len(m.Body.Resolve())+len(m.Trailing.Resolve()), ch)
	}
}

func (m *UnknownMessage) serializeUnknown() []byte {
	s := NewSerializer()
	if m.RecordType == RecordTypeHandshake {
		m.serializeHeader(s)
	}
	putBytes(s, &m.Body)
	putBytes(s, &m.Trailing)
	out := s.Bytes()
	m.raw = out
	return out
}
