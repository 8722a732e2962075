package anvil

import (
	"crypto/hmac"
)

func adjustFinished(m *Finished, tc *Context) ([]HandshakeAction, error) {
	end := tc.Talking
	got := m.VerifyData.Resolve()
	if !tc.sending() {
		before := tc.Transcript.Prefix(tc.Transcript.Len() - len(m.RawBytes()))
		want, err := finishedData(tc, end, before)
		switch {
		case err != nil:
			tc.warn("cannot check %v Finished: %v", end, err)
		case !hmac.Equal(want, got):
			tc.warn("%v Finished verify_data mismatch", end)
		}
	}
	if end == ConnectionEndServer {
		tc.ServerVerifyData = got
	} else {
		tc.ClientVerifyData = got
	}

	ch := tc.Chooser()
	if !ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}

	if end == ConnectionEndServer {
		if err := tc.deriveApplicationSecrets(); err != nil {
			return nil, err
		}
		if tc.sending() {
			return nil, nil
		}
		ks, err := GenerateKeySet(ch, KeySetApplication)
		if err != nil {
			return nil, err
		}
		return []HandshakeAction{RekeyIn{KeySet: ks}}, nil
	}

	if err := tc.deriveResumptionSecret(); err != nil {
		return nil, err
	}
	actions, err := drainTickets(tc)
	if err != nil {
		return nil, err
	}
	if tc.sending() {
		return actions, nil
	}
	ks, err := GenerateKeySet(ch, KeySetApplication)
	if err != nil {
		return nil, err
	}
	return append([]HandshakeAction{RekeyIn{KeySet: ks}}, actions...), nil
}

// afterSendFinished switches our writes to application keys in TLS 1.3.
func afterSendFinished(m *Finished, tc *Context) ([]HandshakeAction, error) {
	ch := tc.Chooser()
	if !ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}
	ks, err := GenerateKeySet(ch, KeySetApplication)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyOut{KeySet: ks}}, nil
}

// ticketPSK turns a TLS 1.3 ticket into the resumption PSK it stands for.
func ticketPSK(tc *Context, t pendingTicket) (PreSharedKey, error) {
	ch := tc.Chooser()
	key, err := tc.resumptionPSK(t.nonce)
	if err != nil {
		return PreSharedKey{}, err
	}
	return PreSharedKey{
		CipherSuite:  ch.CipherSuite(),
		IsResumption: true,
		Identity:     t.ticket,
		Key:          key,
		NextProto:    tc.NegotiatedALPN,
		ReceivedAt:   ch.Clock().Now().UnixMilli(),
		Lifetime:     t.lifetime,
		TicketAgeAdd: t.ageAdd,
	}, nil
}

func drainTickets(tc *Context) ([]HandshakeAction, error) {
	var actions []HandshakeAction
	for _, t := range tc.pendingTickets {
		psk, err := ticketPSK(tc, t)
		if err != nil {
			return nil, err
		}
		actions = append(actions, StorePSK{PSK: psk})
	}
	tc.pendingTickets = nil
	return actions, nil
}

func adjustNewSessionTicket(m *NewSessionTicket, tc *Context) ([]HandshakeAction, error) {
	if !tc.Chooser().ProtocolVersion().IsTLS13() {
		if !tc.sending() {
			tc.SessionTicket = m.Ticket.Resolve()
		}
		return nil, nil
	}

	m.adjustBlock(tc, newSessionTicketCtx)
	t := pendingTicket{
		nonce:    m.Nonce.Resolve(),
		ticket:   m.Ticket.Resolve(),
		lifetime: m.Lifetime.Resolve(),
		ageAdd:   m.AgeAdd.Resolve(),
	}
	if tc.ResumptionMasterSecret == nil {
		logf(logTypeHandshake, "[%v] ticket queued until the resumption secret exists", tc.ConnectionEnd)
		tc.pendingTickets = append(tc.pendingTickets, t)
		return nil, nil
	}
	psk, err := ticketPSK(tc, t)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{StorePSK{PSK: psk}}, nil
}

// EndOfEarlyData ends 0-RTT: the client's writes move to handshake keys once
// it is sent, the server's reads once it arrives.
func adjustEndOfEarlyData(m *EndOfEarlyData, tc *Context) ([]HandshakeAction, error) {
	if tc.sending() {
		return nil, nil
	}
	ks, err := GenerateKeySet(tc.Chooser(), KeySetHandshake)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyIn{KeySet: ks}}, nil
}

func afterSendEndOfEarlyData(m *EndOfEarlyData, tc *Context) ([]HandshakeAction, error) {
	ks, err := GenerateKeySet(tc.Chooser(), KeySetHandshake)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyOut{KeySet: ks}}, nil
}

// adjustKeyUpdate rotates the peer's secret on receipt. No KeyUpdate is sent
// in reply; a workflow that wants one says so.
func adjustKeyUpdate(m *KeyUpdate, tc *Context) ([]HandshakeAction, error) {
	if tc.sending() {
		return nil, nil
	}
	if err := tc.updateTrafficSecret(tc.Talking); err != nil {
		return nil, err
	}
	ks, err := GenerateKeySet(tc.Chooser(), KeySetUpdate)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyIn{KeySet: ks}}, nil
}

func afterSendKeyUpdate(m *KeyUpdate, tc *Context) ([]HandshakeAction, error) {
	if err := tc.updateTrafficSecret(tc.ConnectionEnd); err != nil {
		return nil, err
	}
	ks, err := GenerateKeySet(tc.Chooser(), KeySetUpdate)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{RekeyOut{KeySet: ks}}, nil
}
