package anvil

func legacyCipherKeys(tc *Context) (KeySet, error) {
	return GenerateKeySet(tc.Chooser(), KeySetApplication)
}

// adjustChangeCipherSpec activates the pending read state before TLS 1.3.
// TLS 1.3 middlebox-compatibility CCS records change nothing.
func adjustChangeCipherSpec(m *ChangeCipherSpec, tc *Context) ([]HandshakeAction, error) {
	ch := tc.Chooser()
	if tc.sending() || ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}
	ks, err := legacyCipherKeys(tc)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{
		RekeyIn{KeySet: ks},
		SetCompression{Direction: DirectionRead, Method: ch.Compression()},
	}, nil
}

func afterSendChangeCipherSpec(m *ChangeCipherSpec, tc *Context) ([]HandshakeAction, error) {
	ch := tc.Chooser()
	if ch.ProtocolVersion().IsTLS13() {
		return nil, nil
	}
	ks, err := legacyCipherKeys(tc)
	if err != nil {
		return nil, err
	}
	return []HandshakeAction{
		RekeyOut{KeySet: ks},
		SetCompression{Direction: DirectionWrite, Method: ch.Compression()},
	}, nil
}

func adjustAlert(m *AlertMessage, tc *Context) ([]HandshakeAction, error) {
	if tc.sending() {
		return nil, nil
	}
	tc.LastAlert.Set(m.Alert())
	if m.Fatal() {
		tc.ReceivedFatalAlert = true
		logf(logTypeHandshake, "[%v] fatal alert from peer: %v", tc.ConnectionEnd, m.Alert())
	}
	return nil, nil
}

func adjustApplicationData(m *ApplicationData, tc *Context) ([]HandshakeAction, error) {
	if !tc.sending() {
		tc.ApplicationData = append(tc.ApplicationData, m.Data.Resolve())
	}
	return nil, nil
}
