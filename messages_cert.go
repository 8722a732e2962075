package anvil

// struct {
//     opaque cert_data<1..2^24-1>;
//     Extension extensions<0..2^16-1>;    /* TLS 1.3 only */
// } CertificateEntry;
type CertificateEntry struct {
	CertificateLength Uint32Field
	CertificateData   BytesField
	ExtensionBlock
}

// struct {
//     opaque certificate_request_context<0..2^8-1>;    /* TLS 1.3 only */
//     CertificateEntry certificate_list<0..2^24-1>;
// } Certificate;
type CertificateMessage struct {
	HandshakeHeader
	RequestContextLength Uint8Field
	RequestContext       BytesField
	CertificatesLength   Uint32Field
	Entries              []CertificateEntry
}

func (*CertificateMessage) Kind() MessageKind { return KindCertificate }

// Certificates returns the DER bytes of every entry.
func (m *CertificateMessage) Certificates() [][]byte {
	out := make([][]byte, 0, len(m.Entries))
	for i := range m.Entries {
		out = append(out, m.Entries[i].CertificateData.Resolve())
	}
	return out
}

var certificateCtx = extCtx{msg: HandshakeTypeCertificate}

func parseCertificate(m *CertificateMessage, p *Parser, ch Chooser) {
	tls13 := ch.ProtocolVersion().IsTLS13()
	if tls13 {
		parseVector(p, &m.RequestContextLength, &m.RequestContext, 1, "certificate_request_context")
	}
	n := parseUint(p, &m.CertificatesLength, 3, "certificate_list length")
	list := p.Sub(int(n), "certificate_list")
	for !list.Empty() && list.Err() == nil {
		var e CertificateEntry
		parseVector(list, &e.CertificateLength, &e.CertificateData, 3, "cert_data")
		if tls13 {
			e.parseBlock(list, certificateCtx, true)
		}
		m.Entries = append(m.Entries, e)
	}
	p.Merge(list)
}

func prepareCertificate(m *CertificateMessage, ch Chooser) error {
	tls13 := ch.ProtocolVersion().IsTLS13()
	if tls13 {
		prepareVector(&m.RequestContextLength, &m.RequestContext, func() []byte { return []byte{} })
	}
	if m.Entries == nil {
		if cert := ch.Certificate(); cert != nil {
			for _, c := range cert.Chain {
				var e CertificateEntry
				e.CertificateData.Assign(c.Raw)
				m.Entries = append(m.Entries, e)
			}
		}
	}
	for i := range m.Entries {
		e := &m.Entries[i]
		prepareVector(&e.CertificateLength, &e.CertificateData, e.CertificateData.Resolve)
		if tls13 {
			if err := e.prepareBlock(ch, certificateCtx, true); err != nil {
				return err
			}
		}
	}
	m.CertificatesLength.Prepare(func() uint32 { return uint32(len(m.serializeList())) })
	return nil
}

func (m *CertificateMessage) serializeList() []byte {
	s := NewSerializer()
	for i := range m.Entries {
		e := &m.Entries[i]
		putVector(s, &e.CertificateLength, &e.CertificateData, 3)
		e.serializeBlock(s)
	}
	return s.Bytes()
}

func serializeCertificate(m *CertificateMessage, s *Serializer) {
	if m.RequestContextLength.IsSet() {
		putVector(s, &m.RequestContextLength, &m.RequestContext, 1)
	}
	putUint(s, &m.CertificatesLength, 3)
	s.PutBytes(m.serializeList())
}

// TLS 1.3:
// struct {
//     opaque certificate_request_context<0..2^8-1>;
//     Extension extensions<2..2^16-1>;
// } CertificateRequest;
//
// TLS 1.2 and earlier:
// struct {
//     ClientCertificateType certificate_types<1..2^8-1>;
//     SignatureAndHashAlgorithm supported_signature_algorithms<2^16-1>;
//     DistinguishedName certificate_authorities<0..2^16-1>;
// } CertificateRequest;
type CertificateRequest struct {
	HandshakeHeader
	RequestContextLength Uint8Field
	RequestContext       BytesField
	ExtensionBlock

	CertificateTypesLength    Uint8Field
	CertificateTypes          BytesField
	SignatureAlgorithmsLength Uint16Field
	SignatureAlgorithms       BytesField
	DistinguishedNamesLength  Uint16Field
	DistinguishedNames        BytesField
}

func (*CertificateRequest) Kind() MessageKind { return KindCertificateRequest }

// ClientCertificateType values offered by default.
const (
	clientCertTypeRSASign   uint8 = 1
	clientCertTypeECDSASign uint8 = 64
)

var certificateRequestCtx = extCtx{msg: HandshakeTypeCertificateRequest}

func parseCertificateRequest(m *CertificateRequest, p *Parser, ch Chooser) {
	v := ch.ProtocolVersion()
	if v.IsTLS13() {
		parseVector(p, &m.RequestContextLength, &m.RequestContext, 1, "certificate_request_context")
		m.parseBlock(p, certificateRequestCtx, true)
		return
	}
	parseVector(p, &m.CertificateTypesLength, &m.CertificateTypes, 1, "certificate_types")
	if v.AtLeast(VersionTLS12) {
		parseVector(p, &m.SignatureAlgorithmsLength, &m.SignatureAlgorithms, 2, "supported_signature_algorithms")
	}
	parseVector(p, &m.DistinguishedNamesLength, &m.DistinguishedNames, 2, "certificate_authorities")
}

func prepareCertificateRequest(m *CertificateRequest, ch Chooser) error {
	v := ch.ProtocolVersion()
	if v.IsTLS13() {
		prepareVector(&m.RequestContextLength, &m.RequestContext, func() []byte { return []byte{} })
		if len(m.Extensions) == 0 {
			m.AddExtension(&SignatureAlgorithmsExtension{})
		}
		return m.prepareBlock(ch, certificateRequestCtx, true)
	}
	prepareVector(&m.CertificateTypesLength, &m.CertificateTypes, func() []byte {
		return []byte{clientCertTypeRSASign, clientCertTypeECDSASign}
	})
	if v.AtLeast(VersionTLS12) {
		prepareVector(&m.SignatureAlgorithmsLength, &m.SignatureAlgorithms, func() []byte {
			return uint16sToBytes(ch.Config().SignatureSchemes)
		})
	}
	prepareVector(&m.DistinguishedNamesLength, &m.DistinguishedNames, func() []byte { return []byte{} })
	return nil
}

func serializeCertificateRequest(m *CertificateRequest, s *Serializer) {
	if m.RequestContextLength.IsSet() {
		putVector(s, &m.RequestContextLength, &m.RequestContext, 1)
		m.serializeBlock(s)
		return
	}
	putVector(s, &m.CertificateTypesLength, &m.CertificateTypes, 1)
	if m.SignatureAlgorithmsLength.IsSet() {
		putVector(s, &m.SignatureAlgorithmsLength, &m.SignatureAlgorithms, 2)
	}
	putVector(s, &m.DistinguishedNamesLength, &m.DistinguishedNames, 2)
}

// struct {
//     SignatureScheme algorithm;    /* TLS 1.2 and later */
//     opaque signature<0..2^16-1>;
// } CertificateVerify;
type CertificateVerify struct {
	HandshakeHeader
	SignatureScheme Uint16Field
	SignatureLength Uint16Field
	Signature       BytesField
}

func (*CertificateVerify) Kind() MessageKind { return KindCertificateVerify }

func parseCertificateVerify(m *CertificateVerify, p *Parser, ch Chooser) {
	if ch.ProtocolVersion().AtLeast(VersionTLS12) {
		parseUint(p, &m.SignatureScheme, 2, "algorithm")
	}
	parseVector(p, &m.SignatureLength, &m.Signature, 2, "signature")
}

func prepareCertificateVerify(m *CertificateVerify, ch Chooser) error {
	scheme := signatureScheme(ch)
	if scheme != 0 {
		m.SignatureScheme.Prepare(func() uint16 { return uint16(scheme) })
		scheme = SignatureScheme(m.SignatureScheme.Resolve())
	}
	var err error
	prepareVector(&m.SignatureLength, &m.Signature, func() []byte {
		cert := ch.Certificate()
		if cert == nil {
			err = cryptoError("no certificate key for CertificateVerify")
			return []byte{}
		}
		var sig []byte
		sig, err = sign(ch.Rand(), cert.PrivateKey, scheme, certificateVerifyInput(ch.Context(), ch.Talking(), scheme))
		return sig
	})
	return err
}

// certificateVerifyInput is what a CertificateVerify sent by end signs over
// the current transcript.
func certificateVerifyInput(tc *Context, end ConnectionEnd, scheme SignatureScheme) []byte {
	ch := tc.Chooser()
	if !ch.ProtocolVersion().IsTLS13() {
		return tc.Transcript.Bytes()
	}
	h, err := tc.suiteHash()
	if err != nil {
		h, _ = schemeHash(scheme)
	}
	return tls13SignatureInput(end, tc.Transcript.Hash(h))
}

func serializeCertificateVerify(m *CertificateVerify, s *Serializer) {
	if m.SignatureScheme.IsSet() {
		putUint(s, &m.SignatureScheme, 2)
	}
	putVector(s, &m.SignatureLength, &m.Signature, 2)
}
