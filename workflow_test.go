package anvil

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type connPair struct {
	state          *State
	client, server *Connection
}

// newConnPair connects a client and a server over an in-memory pipe. The
// client end can be wrapped, for recording.
func newConnPair(t *testing.T, clientCfg, serverCfg *Config, wrap func(Transport) Transport) *connPair {
	t.Helper()
	assertNotError(t, clientCfg.Init(), "client config")
	assertNotError(t, serverCfg.Init(), "server config")
	a, b := NewPipe(nil)
	t.Cleanup(func() { _ = a.Close() })

	var ct Transport = a
	if wrap != nil {
		ct = wrap(a)
	}
	p := &connPair{
		client: NewConnection("client", clientCfg, ConnectionEndClient, ct),
		server: NewConnection("server", serverCfg, ConnectionEndServer, b),
	}
	p.state = NewState(clientCfg, p.client, p.server)
	return p
}

func (p *connPair) run(t *testing.T, typ WorkflowType) (*Workflow, *Trace) {
	t.Helper()
	f := &WorkflowFactory{Config: p.client.Config, Client: "client", Server: "server"}
	w, err := f.Create(typ)
	assertNotError(t, err, "create workflow")
	trace, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, p.state)
	if err != nil || !trace.Succeeded() {
		t.Fatalf("workflow failed: %v\n%s", err, trace)
	}
	assertEquals(t, len(trace.Entries), len(w.Actions))
	return w, trace
}

// assertVerified fails if any entry warns about a signature, key exchange
// or Finished check.
func assertVerified(t *testing.T, trace *Trace) {
	t.Helper()
	for _, e := range trace.Entries {
		for _, w := range e.Warnings {
			for _, bad := range []string{"Finished", "CertificateVerify", "ServerKeyExchange", "key share", "ECDH"} {
				if strings.Contains(w, bad) {
					t.Fatalf("action %d (%s) warned: %s", e.Index, e.Action, w)
				}
			}
		}
	}
}

func dtlsConfig() *Config {
	c := tls12Config()
	c.UseDTLS = true
	c.HighestProtocolVersion = VersionDTLS12
	return c
}

func TestTLS13Handshake(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	_, trace := p.run(t, WorkflowApplicationData)
	assertVerified(t, trace)

	cc, sc := p.client.Context, p.server.Context
	assertEquals(t, cc.Chooser().ProtocolVersion(), VersionTLS13)
	assertEquals(t, sc.Chooser().CipherSuite(), TLS_AES_128_GCM_SHA256)
	assertTrue(t, len(cc.ClientApplicationTrafficSecret) == 32, "client traffic secret derived")
	assertByteEquals(t, cc.ClientApplicationTrafficSecret, sc.ClientApplicationTrafficSecret)
	assertByteEquals(t, cc.ServerApplicationTrafficSecret, sc.ServerApplicationTrafficSecret)
	assertByteEquals(t, cc.ExporterMasterSecret, sc.ExporterMasterSecret)

	assertEquals(t, len(sc.ApplicationData), 1)
	assertByteEquals(t, sc.ApplicationData[0], []byte("GET / HTTP/1.0\r\n\r\n"))
	assertByteEquals(t, cc.ApplicationData[0], []byte("HTTP/1.0 200 OK\r\n\r\n"))

	ce, err := cc.ExportKeyingMaterial("EXPORTER-test", []byte("ctx"), 24)
	assertNotError(t, err, "client export")
	se, err := sc.ExportKeyingMaterial("EXPORTER-test", []byte("ctx"), 24)
	assertNotError(t, err, "server export")
	assertByteEquals(t, ce, se)
}

func TestTLS12Handshake(t *testing.T) {
	p := newConnPair(t, tls12Config(), tls12Config(), nil)
	_, trace := p.run(t, WorkflowApplicationData)
	assertVerified(t, trace)

	cc, sc := p.client.Context, p.server.Context
	assertEquals(t, cc.Chooser().ProtocolVersion(), VersionTLS12)
	assertEquals(t, len(cc.MasterSecret), masterSecretLength)
	assertByteEquals(t, cc.MasterSecret, sc.MasterSecret)
	assertByteEquals(t, sc.ApplicationData[0], []byte("GET / HTTP/1.0\r\n\r\n"))

	lines := cc.KeyLog()
	assertTrue(t, len(lines) > 0 && strings.HasPrefix(lines[0], "CLIENT_RANDOM "), "NSS key log line")
}

func TestDTLS12Handshake(t *testing.T) {
	p := newConnPair(t, dtlsConfig(), dtlsConfig(), nil)
	w, trace := p.run(t, WorkflowApplicationData)
	assertVerified(t, trace)

	// The first exchange is the cookie round trip.
	assertEquals(t, w.Actions[1].String(), "Receive(server: ClientHello)")
	assertEquals(t, w.Actions[3].String(), "Receive(client: HelloVerifyRequest)")
	assertTrue(t, len(p.client.Context.DTLSCookie) > 0, "client learned the cookie")
	assertByteEquals(t, p.client.Context.MasterSecret, p.server.Context.MasterSecret)
	assertEquals(t, p.client.Records.Epoch(DirectionWrite), uint16(1))
	assertByteEquals(t, p.server.Context.ApplicationData[0], []byte("GET / HTTP/1.0\r\n\r\n"))
}

func TestActionsRunOnce(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	w, _ := p.run(t, WorkflowHandshake)

	trace, err := (&Executor{}).Execute(context.Background(), w, p.state)
	assertError(t, err, "second run without reset")
	assertEquals(t, len(trace.Failed()), len(w.Actions))
	for _, e := range trace.Entries {
		assertEquals(t, e.ErrorKind, ErrActionExecution)
	}

	w.Reset()
	for _, a := range w.Actions {
		assertTrue(t, !a.Executed(), "reset makes actions runnable")
	}
}

// A client with a static key share and the default zero random is
// deterministic, so what the server sent can be replayed to a fresh client
// without any server at all.
func TestPlaybackReplaysHandshake(t *testing.T) {
	clientCfg := tls13Config()
	clientCfg.KeySharePrivateKey = unhex("77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a")

	var rec *RecordingTransport
	p := newConnPair(t, clientCfg, tls13Config(), func(inner Transport) Transport {
		rec = NewRecordingTransport(inner)
		return rec
	})
	p.run(t, WorkflowApplicationData)
	assertTrue(t, len(rec.Fetched) > 0, "recorded server traffic")

	replay := NewConnection("client", clientCfg, ConnectionEndClient, NewPlayBackTransport(rec.Fetched))
	f := &WorkflowFactory{Config: clientCfg, Client: "client"}
	w, err := f.Create(WorkflowApplicationData)
	assertNotError(t, err, "client-only workflow")
	trace, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, NewState(clientCfg, replay))
	assertNotError(t, err, "replay")
	assertVerified(t, trace)

	assertByteEquals(t, replay.Context.ServerApplicationTrafficSecret, p.client.Context.ServerApplicationTrafficSecret)
	assertByteEquals(t, replay.Context.ApplicationData[0], []byte("HTTP/1.0 200 OK\r\n\r\n"))
}

type cancelAction struct {
	actionState
	cancel context.CancelFunc
}

func (a *cancelAction) Execute(ctx context.Context, s *State) error {
	return a.guard("cancel", func() error {
		a.cancel()
		return nil
	})
}

func (a *cancelAction) String() string { return "Cancel" }

func TestExecutorInterrupted(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorkflow("interrupted",
		&cancelAction{actionState{Alias: "client"}, cancel},
		Wait("client", time.Hour),
	)
	trace, err := (&Executor{}).Execute(ctx, w, p.state)
	assertTrue(t, errors.Is(err, context.Canceled), "cancellation is reported")
	assertEquals(t, len(trace.Entries), 1)
	assertTrue(t, trace.Entries[0].Succeeded, "the action before the cancel ran")
	assertTrue(t, !w.Actions[1].Executed(), "nothing runs after the cancel")
}

func TestExecutorCollectsFailures(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	w := NewWorkflow("mismatch",
		NewSendAction("client", &AlertMessage{}),
		Receive("server", KindClientHello),
		PrintSecrets("server"),
	)
	trace, err := (&Executor{}).Execute(context.Background(), w, p.state)
	assertError(t, err, "receive mismatch")
	assertEquals(t, len(trace.Entries), 3)

	failed := trace.Failed()
	assertEquals(t, len(failed), 1)
	assertEquals(t, failed[0].Index, 1)
	assertEquals(t, failed[0].ErrorKind, ErrActionExecution)
	assertDeepEquals(t, failed[0].Received, []string{KindAlert.String()})
	assertTrue(t, trace.Entries[2].Succeeded, "later actions still run")
}

func TestExecutorStopsOnFailure(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	p.server.Transport.SetTimeout(10 * time.Millisecond)
	w := NewWorkflow("nothing arrives",
		Receive("server", KindClientHello),
		PrintSecrets("server"),
	)
	trace, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, p.state)
	assertError(t, err, "timeout")
	assertEquals(t, len(trace.Entries), 1)
	assertTrue(t, !w.Actions[1].Executed(), "stopped after the failure")
}

func TestUnknownConnectionAlias(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	trace, err := (&Executor{}).Execute(context.Background(), NewWorkflow("typo", Send("nobody", KindClientHello)), p.state)
	assertError(t, err, "unknown alias")
	assertEquals(t, trace.Entries[0].ErrorKind, ErrActionExecution)
}

func TestDTLSFragmentReassembly(t *testing.T) {
	cfg := dtlsConfig()
	assertNotError(t, cfg.Init(), "config")
	a, b := NewPipe(nil)
	defer a.Close()
	client := NewConnection("client", cfg, ConnectionEndClient, a)

	ch := &ClientHello{}
	ch.AddExtension(NewExtension(ExtensionTypeSupportedGroups))
	records, err := client.SendMessages(ch)
	assertNotError(t, err, "send ClientHello")
	whole := records[0].Serialize()
	msg := SerializeMessage(ch)
	body := msg[handshakeHeaderLenDTLS:]

	fragment := func(offset, n int) []byte {
		h := []byte{uint8(HandshakeTypeClientHello)}
		h = append(h, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
		h = append(h, 0, 0)
		h = append(h, byte(offset>>16), byte(offset>>8), byte(offset))
		h = append(h, byte(n>>16), byte(n>>8), byte(n))
		rs, err := client.Records.BuildRecords(RecordTypeHandshake, append(h, body[offset:offset+n]...))
		assertNotError(t, err, "fragment record")
		return rs[0].Serialize()
	}
	half := len(body) / 2
	first, second := fragment(0, half), fragment(half, len(body)-half)
	_, _ = b.Fetch()

	server := NewConnection("server", cfg, ConnectionEndServer, NewPlayBackTransport([][]byte{second, first, whole}))
	res, err := server.Receive(context.Background(), nil)
	assertNotError(t, err, "receive")
	assertEquals(t, len(res.Messages), 1)
	got, ok := res.Messages[0].(*ClientHello)
	assertTrue(t, ok, "reassembled a ClientHello")
	assertByteEquals(t, SerializeMessage(got), msg)
	assertEquals(t, res.Retransmissions, 1)
	assertEquals(t, server.Context.DTLSReadHandshakeSeq, uint16(1))
}

func TestRecordAuthFailure(t *testing.T) {
	serverCfg := tls13Config()
	p := newConnPair(t, tls13Config(), serverCfg, nil)
	p.run(t, WorkflowHandshake)

	forged := func() {
		records, err := p.client.Records.BuildRecords(RecordTypeApplicationData, []byte("forged"))
		assertNotError(t, err, "build")
		wire := records[0].Serialize()
		wire[len(wire)-1] ^= 0xff
		assertNotError(t, p.client.Transport.Send(wire), "send")
	}

	forged()
	res, err := p.server.Receive(context.Background(), nil)
	assertNotError(t, err, "a bad tag is skipped")
	assertEquals(t, res.AuthFailures, 1)
	assertEquals(t, len(res.Messages), 0)
	warnings := p.server.Context.takeWarnings()
	assertTrue(t, len(warnings) == 1 && strings.Contains(warnings[0], "authentication failure"), "failure is a warning")

	serverCfg.StrictRecordAuth = true
	forged()
	_, err = p.server.Receive(context.Background(), nil)
	assertTrue(t, errors.Is(err, ErrAuthenticationFailure), "strict mode fails the receive")
}

func TestSSL2Hello(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	hello := &SSL2ClientHello{}
	w := NewWorkflow("sslv2",
		NewSendAction("client", hello),
		Receive("server", KindSSL2ClientHello),
		Send("server", KindSSL2ServerHello),
		Receive("client", KindSSL2ServerHello),
	)
	trace, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, p.state)
	assertNotError(t, err, "sslv2 exchange")
	assertTrue(t, trace.Succeeded(), "every action succeeded")

	challenge := hello.Challenge.Resolve()
	random := p.server.Context.ClientRandom
	assertEquals(t, len(random), randomLength)
	assertByteEquals(t, random[randomLength-len(challenge):], challenge)
	assertByteEquals(t, random[:randomLength-len(challenge)], make([]byte, randomLength-len(challenge)))

	assertEquals(t, len(p.client.Context.PeerCertificates), 1)
	assertTrue(t, p.client.Context.PeerCertificates[0].Equal(serverCertificate.Chain[0]), "client got the server certificate")
	assertEquals(t, p.client.Context.Chooser().ProtocolVersion(), VersionSSL20)
}

func TestParseConfig(t *testing.T) {
	chain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: serverCertificate.Chain[0].Raw})
	der, err := x509.MarshalPKCS8PrivateKey(serverCertificate.PrivateKey)
	assertNotError(t, err, "marshal key")
	key := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	indent := func(b []byte) string {
		return "      " + strings.ReplaceAll(strings.TrimRight(string(b), "\n"), "\n", "\n      ")
	}

	doc := fmt.Sprintf(`highest_protocol_version: 0x0303
cipher_suites: [0xc02b, 0x002f]
timeout: 250ms
default_client_random: "00010203 04050607 08090a0b 0c0d0e0f 10111213 14151617 18191a1b 1c1d1e1f"
strict_record_auth: true
certificates:
  - chain: |
%s
    key: |
%s
`, indent(chain), indent(key))

	cfg, err := ParseConfig([]byte(doc))
	assertNotError(t, err, "parse")
	assertEquals(t, cfg.HighestProtocolVersion, VersionTLS12)
	assertDeepEquals(t, cfg.CipherSuites, []CipherSuite{TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, TLS_RSA_WITH_AES_128_CBC_SHA})
	assertEquals(t, cfg.DefaultCipherSuite, TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256)
	assertEquals(t, cfg.Timeout, 250*time.Millisecond)
	assertTrue(t, cfg.StrictRecordAuth, "bool option")
	assertEquals(t, len(cfg.DefaultClientRandom), randomLength)
	assertEquals(t, cfg.DefaultClientRandom[31], uint8(0x1f))

	assertEquals(t, len(cfg.Certificates), 1)
	assertTrue(t, cfg.Certificates[0].Chain[0].Equal(serverCertificate.Chain[0]), "chain parsed")
	assertNotNil(t, cfg.Certificates[0].PrivateKey, "key parsed")

	_, err = ParseConfig([]byte(`default_session_id: "zz"`))
	assertError(t, err, "bad hex")
}

func TestPrintSecrets(t *testing.T) {
	p := newConnPair(t, tls12Config(), tls12Config(), nil)
	w, _ := p.run(t, WorkflowHandshake)

	w = NewWorkflow("secrets", PrintSecrets("client"))
	trace, err := (&Executor{}).Execute(context.Background(), w, p.state)
	assertNotError(t, err, "print secrets")
	snap, err := DecodeSnapshot(trace.Entries[0].Secrets)
	assertNotError(t, err, "decode snapshot")
	assertEquals(t, snap.End, ConnectionEndClient.String())
	assertEquals(t, snap.CipherSuite, uint16(TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256))
	assertByteEquals(t, snap.MasterSecret, p.server.Context.MasterSecret)
}

func TestTraceEncoding(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	_, trace := p.run(t, WorkflowHello)

	data, err := EncodeTrace(trace)
	assertNotError(t, err, "encode")
	got, err := DecodeTrace(data)
	assertNotError(t, err, "decode")
	assertEquals(t, got.RunID, trace.RunID)
	assertEquals(t, got.Workflow, trace.Workflow)
	assertEquals(t, len(got.Entries), len(trace.Entries))
	assertTrue(t, got.Entries[0].Started.Equal(trace.Entries[0].Started), "timestamps survive")
	assertDeepEquals(t, got.Entries[0].Sent, []string{KindClientHello.String()})
	assertByteEquals(t, got.Entries[0].Records[0].Wire, trace.Entries[0].Records[0].Wire)

	entry, err := EncodeTraceEntry(trace.Entries[1])
	assertNotError(t, err, "encode entry")
	e, err := DecodeTraceEntry(entry)
	assertNotError(t, err, "decode entry")
	assertDeepEquals(t, e.Received, trace.Entries[1].Received)
}

func TestWait(t *testing.T) {
	s := NewState(&Config{})
	w := Wait("client", 5*time.Millisecond)
	start := time.Now()
	assertNotError(t, w.Execute(context.Background(), s), "wait")
	assertTrue(t, time.Since(start) >= 5*time.Millisecond, "wait waited")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait("client", time.Hour).Execute(ctx, s)
	assertTrue(t, errors.Is(err, context.Canceled), "cancelled wait")
}

func TestWaitUsesConfigClock(t *testing.T) {
	mock := clock.NewMock()
	s := NewState(&Config{Clock: mock})
	done := make(chan error)
	go func() { done <- Wait("client", time.Minute).Execute(context.Background(), s) }()
	assertNotError(t, advanceUntil(mock, time.Minute, done), "mock wait")
}

func TestKeyUpdate(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	p.run(t, WorkflowHandshake)
	ctx := context.Background()

	read := p.client.Records.Cipher(DirectionRead)
	write := p.client.Records.Cipher(DirectionWrite)
	secret := append([]byte{}, p.client.Context.ClientApplicationTrafficSecret...)

	w := NewWorkflow("key update",
		Send("client", KindKeyUpdate),
		Receive("server", KindKeyUpdate),
	)
	_, err := (&Executor{StopOnFailure: true}).Execute(ctx, w, p.state)
	assertNotError(t, err, "key update")

	assertTrue(t, p.client.Records.Cipher(DirectionRead) == read, "read cipher untouched")
	assertTrue(t, p.client.Records.Cipher(DirectionWrite) != write, "write cipher replaced")
	assertNotByteEquals(t, p.client.Context.ClientApplicationTrafficSecret, secret)
	assertByteEquals(t, p.client.Context.ClientApplicationTrafficSecret, p.server.Context.ClientApplicationTrafficSecret)

	data := &ApplicationData{}
	data.Data.Assign([]byte("after update"))
	w = NewWorkflow("data", NewSendAction("client", data), Receive("server", KindApplicationData))
	_, err = (&Executor{StopOnFailure: true}).Execute(ctx, w, p.state)
	assertNotError(t, err, "data under the new keys")
	assertByteEquals(t, p.server.Context.ApplicationData[0], []byte("after update"))
}

func TestChangeActions(t *testing.T) {
	p := newConnPair(t, tls12Config(), tls12Config(), nil)
	ctx := context.Background()

	seq := ChangeWriteSequenceNumber("client", 7)
	assertNotError(t, seq.Execute(ctx, p.state), "change sequence number")
	assertEquals(t, seq.Previous, uint64(0))
	assertEquals(t, p.client.Records.SequenceNumber(DirectionWrite), uint64(7))

	timeout := ChangeConnectionTimeout("client", 20*time.Millisecond)
	assertNotError(t, timeout.Execute(ctx, p.state), "change timeout")
	assertEquals(t, timeout.Previous, defaultTimeout)
	assertEquals(t, p.client.Transport.Timeout(), 20*time.Millisecond)

	comp := ChangeCompression("client", CompressionDeflate, DirectionWrite)
	assertNotError(t, comp.Execute(ctx, p.state), "change compression")
	assertEquals(t, p.client.Context.Chooser().Compression(), CompressionDeflate)

	random := make([]byte, randomLength)
	random[0] = 0x42
	assertNotError(t, ChangeClientRandom("client", random).Execute(ctx, p.state), "change random")
	assertByteEquals(t, p.client.Context.Chooser().ClientRandom(), random)

	assertKind(t, seq.Execute(ctx, p.state), ErrActionExecution)
}

func TestRenegotiation(t *testing.T) {
	ctx := context.Background()
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	assertKind(t, Renegotiation("client").Execute(ctx, p.state), ErrUnsupportedFeature)

	p = newConnPair(t, tls12Config(), tls12Config(), nil)
	p.run(t, WorkflowHandshake)
	assertNotError(t, Renegotiation("client").Execute(ctx, p.state), "renegotiate")
	assertTrue(t, p.client.Context.SecureRenegotiation, "previous verify_data is kept")
	assertEquals(t, p.client.Context.Transcript.Len(), 0)
}

func TestResetConnection(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	p.run(t, WorkflowHandshake)
	assertNotError(t, ResetConnection("server").Execute(context.Background(), p.state), "reset")
	assertNil(t, p.server.Context.ClientApplicationTrafficSecret, "secrets dropped")
	assertEquals(t, p.server.Records.Epoch(DirectionRead), uint16(0))
}

func TestWorkflowFactoryErrors(t *testing.T) {
	_, err := (&WorkflowFactory{Config: tls13Config()}).Create(WorkflowHandshake)
	assertKind(t, err, ErrActionExecution)
	_, err = (&WorkflowFactory{Client: "client"}).Create(WorkflowHandshake)
	assertKind(t, err, ErrActionExecution)
}

func hasWarning(warnings []string, sub string) bool {
	for _, w := range warnings {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

// A KeyUpdate under TLS 1.2 has no traffic secret to rotate. Both ends
// carry on: the sender still writes it, the receiver records it and keeps
// reading.
func TestUnabsorbedMessagesStillFlow(t *testing.T) {
	p := newConnPair(t, tls12Config(), tls12Config(), nil)
	p.run(t, WorkflowHandshake)

	data := &ApplicationData{}
	data.Data.Assign([]byte("after the update"))
	send := NewSendAction("server", &KeyUpdate{}, data)
	recv := GenericReceive("client")
	w := NewWorkflow("tls12 key update", send, recv)
	trace, err := (&Executor{}).Execute(context.Background(), w, p.state)
	assertNotError(t, err, "workflow")
	assertTrue(t, trace.Succeeded(), "every action succeeded")

	assertDeepEquals(t, trace.Entries[0].Sent, []string{KindKeyUpdate.String(), KindApplicationData.String()})
	assertTrue(t, hasWarning(trace.Entries[0].Warnings, "KeyUpdate"), "sender warns")
	assertEquals(t, len(recv.Received), 2)
	assertEquals(t, recv.Received[0].Kind(), KindKeyUpdate)
	assertEquals(t, recv.Received[1].Kind(), KindApplicationData)
	assertTrue(t, hasWarning(trace.Entries[1].Warnings, "KeyUpdate"), "receiver warns")
	assertByteEquals(t, p.client.Context.ApplicationData[0], []byte("after the update"))
}

func TestUnknownCipherSuiteIsSent(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	f := &WorkflowFactory{Config: p.client.Config, Client: "client", Server: "server"}
	sh := f.serverHello()
	sh.CipherSuite.Override(0xbeef)
	recv := Receive("client", KindServerHello)
	w := NewWorkflow("bogus suite",
		NewSendAction("client", f.clientHello()),
		Receive("server", KindClientHello),
		NewSendAction("server", sh),
		recv,
	)
	trace, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, p.state)
	assertNotError(t, err, "workflow")
	assertTrue(t, trace.Succeeded(), "every action succeeded")
	assertTrue(t, len(trace.Entries[2].Records) > 0, "ServerHello went on the wire")
	assertTrue(t, hasWarning(trace.Entries[2].Warnings, "ServerHello"), "sender warns")

	got, ok := recv.Received[0].(*ServerHello)
	assertTrue(t, ok, "client got a ServerHello")
	assertEquals(t, got.CipherSuite.Resolve(), uint16(0xbeef))
}

func TestResumptionPSK(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	p.run(t, WorkflowHandshake)

	w := NewWorkflow("ticket",
		Send("server", KindNewSessionTicket),
		Receive("client", KindNewSessionTicket),
	)
	_, err := (&Executor{StopOnFailure: true}).Execute(context.Background(), w, p.state)
	assertNotError(t, err, "ticket")

	cc, sc := p.client.Context, p.server.Context
	assertEquals(t, len(cc.PSKs), 1)
	assertEquals(t, len(sc.PSKs), 1)
	assertTrue(t, cc.PSKs[0].IsResumption, "resumption PSK")
	assertEquals(t, len(cc.PSKs[0].Key), 32)
	assertByteEquals(t, cc.PSKs[0].Key, sc.PSKs[0].Key)
	assertByteEquals(t, cc.PSKs[0].Identity, sc.PSKs[0].Identity)
}

// A ticket sent with the server flight arrives before the client Finished,
// so neither end has the resumption secret yet.
func TestEarlyTicketWaitsForFinished(t *testing.T) {
	p := newConnPair(t, tls13Config(), tls13Config(), nil)
	f := &WorkflowFactory{Config: p.client.Config, Client: "client", Server: "server"}
	w, err := f.Create(WorkflowHello)
	assertNotError(t, err, "hello workflow")
	flight := w.Actions[2].(*SendAction)
	flight.Messages = append(flight.Messages, &NewSessionTicket{})
	recv := w.Actions[3].(*ReceiveAction)
	recv.Expected = append(recv.Expected, KindNewSessionTicket)

	ctx := context.Background()
	_, err = (&Executor{StopOnFailure: true}).Execute(ctx, w, p.state)
	assertNotError(t, err, "server flight with ticket")
	cc, sc := p.client.Context, p.server.Context
	assertEquals(t, len(cc.pendingTickets), 1)
	assertEquals(t, len(sc.pendingTickets), 1)
	assertEquals(t, len(cc.PSKs), 0)

	w = NewWorkflow("client finished", Send("client", KindFinished), Receive("server", KindFinished))
	_, err = (&Executor{StopOnFailure: true}).Execute(ctx, w, p.state)
	assertNotError(t, err, "client finished")
	assertEquals(t, len(cc.pendingTickets), 0)
	assertEquals(t, len(sc.pendingTickets), 0)
	assertEquals(t, len(cc.PSKs), 1)
	assertEquals(t, len(sc.PSKs), 1)
	assertByteEquals(t, cc.PSKs[0].Key, sc.PSKs[0].Key)
}
