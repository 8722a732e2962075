package anvil

import (
	"fmt"
)

// WorkflowType names a canned workflow.
type WorkflowType uint8

const (
	// WorkflowHello stops after the server's first flight.
	WorkflowHello WorkflowType = iota + 1
	// WorkflowHandshake is a complete handshake.
	WorkflowHandshake
	// WorkflowApplicationData is a handshake followed by one
	// ApplicationData message in each direction.
	WorkflowApplicationData
)

func (t WorkflowType) String() string {
	switch t {
	case WorkflowHello:
		return "hello"
	case WorkflowHandshake:
		return "handshake"
	case WorkflowApplicationData:
		return "application_data"
	}
	return fmt.Sprintf("workflow(%d)", uint8(t))
}

// WorkflowFactory builds standard workflows from a config. Client and
// Server are connection aliases; leaving one empty builds only the other
// side, for talking to a real peer.
type WorkflowFactory struct {
	Config *Config
	Client string
	Server string
}

var (
	defaultTLS13ClientHelloExtensions = []ExtensionType{
		ExtensionTypeSupportedVersions,
		ExtensionTypeSupportedGroups,
		ExtensionTypeSignatureAlgorithms,
		ExtensionTypeKeyShare,
	}
	defaultTLS13ServerHelloExtensions = []ExtensionType{
		ExtensionTypeSupportedVersions,
		ExtensionTypeKeyShare,
	}
	defaultLegacyClientHelloExtensions = []ExtensionType{
		ExtensionTypeSupportedGroups,
		ExtensionTypeECPointFormats,
		ExtensionTypeSignatureAlgorithms,
	}
)

// sendsCertificate reports whether the server authenticates with a
// certificate under k.
func sendsCertificate(k KeyExchangeAlgorithm) bool {
	switch k {
	case KexPSK, KexDHEPSK, KexECDHEPSK, KexDHAnon, KexSRPSHA:
		return false
	}
	return true
}

func withExtensions(b *ExtensionBlock, configured, defaults []ExtensionType) {
	types := configured
	if len(types) == 0 {
		types = defaults
	}
	for _, t := range types {
		b.AddExtension(NewExtension(t))
	}
}

func (f *WorkflowFactory) clientHello() *ClientHello {
	m := &ClientHello{}
	defaults := defaultLegacyClientHelloExtensions
	if f.Config.HighestProtocolVersion.IsTLS13() {
		defaults = defaultTLS13ClientHelloExtensions
	}
	withExtensions(&m.ExtensionBlock, f.Config.ClientHelloExtensions, defaults)
	if f.Config.ServerName != "" && m.Extension(ExtensionTypeServerName) == nil {
		m.AddExtension(NewExtension(ExtensionTypeServerName))
	}
	return m
}

func (f *WorkflowFactory) serverHello() *ServerHello {
	m := &ServerHello{}
	var defaults []ExtensionType
	if f.Config.HighestProtocolVersion.IsTLS13() {
		defaults = defaultTLS13ServerHelloExtensions
	}
	withExtensions(&m.ExtensionBlock, f.Config.ServerHelloExtensions, defaults)
	return m
}

func (f *WorkflowFactory) encryptedExtensions() *EncryptedExtensions {
	m := &EncryptedExtensions{}
	withExtensions(&m.ExtensionBlock, f.Config.EncryptedExtensionsExtensions, nil)
	return m
}

// flight sends msgs from one side and expects the same kinds on the other.
func (f *WorkflowFactory) flight(w *Workflow, from, to string, msgs ...ProtocolMessage) {
	kinds := make([]MessageKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind()
	}
	if from != "" {
		w.Add(NewSendAction(from, msgs...))
	}
	if to != "" {
		w.Add(Receive(to, kinds...))
	}
}

// Create builds a workflow of type t for the protocol version and cipher
// suite the config defaults to.
func (f *WorkflowFactory) Create(t WorkflowType) (*Workflow, error) {
	if f.Config == nil {
		return nil, actionError("workflow factory without config")
	}
	if f.Client == "" && f.Server == "" {
		return nil, actionError("workflow factory without connections")
	}
	if err := f.Config.Init(); err != nil {
		return nil, err
	}
	params, ok := CipherSuiteParamsFor(f.Config.DefaultCipherSuite)
	if !ok {
		return nil, unsupported("cipher suite %v", f.Config.DefaultCipherSuite)
	}

	w := NewWorkflow(fmt.Sprintf("%v %v %v", t, f.Config.HighestProtocolVersion, params))
	c, s := f.Client, f.Server

	if f.Config.UseDTLS && !f.Config.HighestProtocolVersion.IsTLS13() {
		f.flight(w, c, s, f.clientHello())
		f.flight(w, s, c, &HelloVerifyRequest{})
	}
	f.flight(w, c, s, f.clientHello())

	if params.TLS13 {
		first := []ProtocolMessage{f.serverHello(), f.encryptedExtensions()}
		if sendsCertificate(params.KeyExchange) {
			first = append(first, &CertificateMessage{}, &CertificateVerify{})
		}
		f.flight(w, s, c, append(first, &Finished{})...)
		if t == WorkflowHello {
			return w, nil
		}
		f.flight(w, c, s, &Finished{})
	} else {
		first := []ProtocolMessage{f.serverHello()}
		if sendsCertificate(params.KeyExchange) {
			first = append(first, &CertificateMessage{})
		}
		if params.KeyExchange.sendsServerKeyExchange() {
			first = append(first, &ServerKeyExchange{})
		}
		f.flight(w, s, c, append(first, &ServerHelloDone{})...)
		if t == WorkflowHello {
			return w, nil
		}
		f.flight(w, c, s, &ClientKeyExchange{}, &ChangeCipherSpec{}, &Finished{})
		f.flight(w, s, c, &ChangeCipherSpec{}, &Finished{})
	}

	if t == WorkflowApplicationData {
		request, response := &ApplicationData{}, &ApplicationData{}
		request.Data.Assign([]byte("GET / HTTP/1.0\r\n\r\n"))
		response.Data.Assign([]byte("HTTP/1.0 200 OK\r\n\r\n"))
		f.flight(w, c, s, request)
		f.flight(w, s, c, response)
	}
	return w, nil
}
