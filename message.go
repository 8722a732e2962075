package anvil

import (
	"fmt"
)

// MessageKind identifies a protocol message independently of the record
// type that carries it.
type MessageKind uint8

const (
	KindUnknown MessageKind = iota
	KindHelloRequest
	KindClientHello
	KindServerHello
	KindHelloVerifyRequest
	KindNewSessionTicket
	KindEndOfEarlyData
	KindEncryptedExtensions
	KindCertificate
	KindServerKeyExchange
	KindCertificateRequest
	KindServerHelloDone
	KindCertificateVerify
	KindClientKeyExchange
	KindFinished
	KindSupplementalData
	KindKeyUpdate
	KindChangeCipherSpec
	KindAlert
	KindApplicationData
	KindHeartbeat
	KindSSL2ClientHello
	KindSSL2ServerHello
)

var kindNames = map[MessageKind]string{
	KindUnknown:             "Unknown",
	KindHelloRequest:        "HelloRequest",
	KindClientHello:         "ClientHello",
	KindServerHello:         "ServerHello",
	KindHelloVerifyRequest:  "HelloVerifyRequest",
	KindNewSessionTicket:    "NewSessionTicket",
	KindEndOfEarlyData:      "EndOfEarlyData",
	KindEncryptedExtensions: "EncryptedExtensions",
	KindCertificate:         "Certificate",
	KindServerKeyExchange:   "ServerKeyExchange",
	KindCertificateRequest:  "CertificateRequest",
	KindServerHelloDone:     "ServerHelloDone",
	KindCertificateVerify:   "CertificateVerify",
	KindClientKeyExchange:   "ClientKeyExchange",
	KindFinished:            "Finished",
	KindSupplementalData:    "SupplementalData",
	KindKeyUpdate:           "KeyUpdate",
	KindChangeCipherSpec:    "ChangeCipherSpec",
	KindAlert:               "Alert",
	KindApplicationData:     "ApplicationData",
	KindHeartbeat:           "Heartbeat",
	KindSSL2ClientHello:     "SSL2ClientHello",
	KindSSL2ServerHello:     "SSL2ServerHello",
}

func (k MessageKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ProtocolMessage is any message the engine can parse, prepare and
// serialize. Concrete messages are plain structs of Overridable fields.
type ProtocolMessage interface {
	Kind() MessageKind
}

// handshakeMessage is implemented by every message that embeds a
// HandshakeHeader.
type handshakeMessage interface {
	ProtocolMessage
	Header() *HandshakeHeader
}

// HandshakeHeader frames a handshake message. The DTLS fields are only
// present when MessageSeq is set.
type HandshakeHeader struct {
	Type           Uint8Field
	Length         Uint32Field
	MessageSeq     Uint16Field
	FragmentOffset Uint32Field
	FragmentLength Uint32Field

	// Trailing holds body bytes left over after parsing, so they are
	// written back out unchanged.
	Trailing BytesField

	raw []byte
}

func (h *HandshakeHeader) Header() *HandshakeHeader {
	return h
}

// RawBytes is the message as last parsed or serialized.
func (h *HandshakeHeader) RawBytes() []byte {
	return h.raw
}

func (h *HandshakeHeader) HandshakeType() HandshakeType {
	return HandshakeType(h.Type.Resolve())
}

func (h *HandshakeHeader) parseHeader(p *Parser, dtls bool) {
	parseUint(p, &h.Type, 1, "handshake type")
	parseUint(p, &h.Length, 3, "handshake length")
	if dtls {
		parseUint(p, &h.MessageSeq, 2, "message_seq")
		parseUint(p, &h.FragmentOffset, 3, "fragment_offset")
		parseUint(p, &h.FragmentLength, 3, "fragment_length")
	}
}

// prepareHeader runs after the body is final; bodyLen includes Trailing.
func (h *HandshakeHeader) prepareHeader(t HandshakeType, bodyLen int, ch Chooser) {
	h.Type.Prepare(func() uint8 { return uint8(t) })
	h.Length.Prepare(func() uint32 { return uint32(bodyLen) })
	if dtlsMode(ch) {
		h.MessageSeq.Prepare(func() uint16 { return ch.Context().DTLSWriteHandshakeSeq })
		h.FragmentOffset.Prepare(func() uint32 { return 0 })
		h.FragmentLength.Prepare(func() uint32 { return uint32(bodyLen) })
	}
}

func (h *HandshakeHeader) serializeHeader(s *Serializer) {
	putUint(s, &h.Type, 1)
	putUint(s, &h.Length, 3)
	if h.MessageSeq.IsSet() {
		putUint(s, &h.MessageSeq, 2)
		putUint(s, &h.FragmentOffset, 3)
		putUint(s, &h.FragmentLength, 3)
	}
}

func dtlsMode(ch Chooser) bool {
	return ch.Config().UseDTLS || ch.ProtocolVersion().IsDTLS()
}

func handshakeHeaderLen(dtls bool) int {
	if dtls {
		return handshakeHeaderLenDTLS
	}
	return handshakeHeaderLenTLS
}

// ExtensionBlock is the extensions vector shared by hellos,
// EncryptedExtensions, NewSessionTicket, CertificateRequest and
// certificate entries. ExtensionBytes is the serialized list; Extensions
// is its parsed form.
type ExtensionBlock struct {
	ExtensionsLength Uint16Field
	ExtensionBytes   BytesField
	Extensions       []Extension
}

// parseBlock reads an extensions vector if any bytes are left. required
// makes an absent vector a parse error.
func (b *ExtensionBlock) parseBlock(p *Parser, x extCtx, required bool) {
	if p.Empty() && !required {
		return
	}
	data := parseVector(p, &b.ExtensionsLength, &b.ExtensionBytes, 2, "extensions")
	if p.Err() != nil {
		return
	}
	exts, err := parseExtensions(data, x)
	if err != nil {
		p.setErr(err)
		return
	}
	b.Extensions = exts
}

// prepareBlock prepares every extension and the vector around them. An
// empty, optional block stays absent.
func (b *ExtensionBlock) prepareBlock(ch Chooser, x extCtx, required bool) error {
	s := NewSerializer()
	for _, e := range b.Extensions {
		if err := prepareExtension(e, ch, x); err != nil {
			return err
		}
		s.PutBytes(serializeExtension(e))
	}
	if len(b.Extensions) == 0 && !required && !b.ExtensionBytes.Overridden() && !b.ExtensionsLength.Overridden() {
		return nil
	}
	prepareVector(&b.ExtensionsLength, &b.ExtensionBytes, s.Bytes)
	return nil
}

// reserializeBlock refreshes ExtensionBytes after an extension changed.
func (b *ExtensionBlock) reserializeBlock() {
	s := NewSerializer()
	for _, e := range b.Extensions {
		s.PutBytes(serializeExtension(e))
	}
	prepareVector(&b.ExtensionsLength, &b.ExtensionBytes, s.Bytes)
}

func (b *ExtensionBlock) serializeBlock(s *Serializer) {
	if b.ExtensionsLength.IsSet() || b.ExtensionBytes.IsSet() {
		putVector(s, &b.ExtensionsLength, &b.ExtensionBytes, 2)
	}
}

// Extension returns the first extension of type t, or nil.
func (b *ExtensionBlock) Extension(t ExtensionType) Extension {
	for _, e := range b.Extensions {
		if e.ExtensionType() == t {
			return e
		}
	}
	return nil
}

func (b *ExtensionBlock) AddExtension(e Extension) {
	b.Extensions = append(b.Extensions, e)
}

func findExtension[PE Extension](b *ExtensionBlock) (PE, bool) {
	for _, e := range b.Extensions {
		if v, ok := e.(PE); ok {
			return v, true
		}
	}
	var zero PE
	return zero, false
}

// adjustBlock applies every known extension to tc. Failures are tolerated
// and recorded as warnings.
func (b *ExtensionBlock) adjustBlock(tc *Context, x extCtx) {
	for _, e := range b.Extensions {
		if err := adjustExtension(e, tc, x); err != nil {
			tc.warn("%v extension: %v", e.ExtensionType(), err)
		}
	}
}
