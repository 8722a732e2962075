package anvil

import (
	"crypto"
)

// The TLS 1.3 key schedule of RFC 8446 section 7.1, run stage by stage
// against a Context. Each stage reads the transcript as it stands when the
// stage runs.

func (tc *Context) suiteHash() (crypto.Hash, error) {
	params, err := tc.Chooser().CipherSuiteParams()
	if err != nil {
		return 0, err
	}
	return params.Hash, nil
}

// computeEarlySecret starts the schedule from a PSK, or from zeros when
// there is none.
func (tc *Context) computeEarlySecret(psk []byte) error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	if len(psk) == 0 {
		psk = make([]byte, h.Size())
	}
	tc.EarlySecret, err = HkdfExtract(h, nil, psk)
	return err
}

// binderKey derives the key PSK binders are computed with.
func binderKey(h crypto.Hash, earlySecret []byte, resumption bool) ([]byte, error) {
	label := labelExternalBinder
	if resumption {
		label = labelResumptionBinder
	}
	return DeriveSecret(h, earlySecret, label, emptyHash(h))
}

// computeBinder is an HMAC over the partial ClientHello transcript, keyed
// like a Finished.
func computeBinder(h crypto.Hash, psk []byte, resumption bool, transcriptHash []byte) ([]byte, error) {
	early, err := HkdfExtract(h, nil, psk)
	if err != nil {
		return nil, err
	}
	key, err := binderKey(h, early, resumption)
	if err != nil {
		return nil, err
	}
	return computeFinishedData(h, key, transcriptHash)
}

// deriveEarlyTrafficSecret runs over the transcript through ClientHello.
func (tc *Context) deriveEarlyTrafficSecret() error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	if tc.EarlySecret == nil {
		if err := tc.computeEarlySecret(tc.Chooser().PSK()); err != nil {
			return err
		}
	}
	th := tc.Transcript.Hash(h)
	if tc.ClientEarlyTrafficSecret, err = DeriveSecret(h, tc.EarlySecret, labelEarlyTrafficSecret, th); err != nil {
		return err
	}
	tc.EarlyExporterSecret, err = DeriveSecret(h, tc.EarlySecret, labelEarlyExporterSecret, th)
	return err
}

// deriveHandshakeSecrets runs over the transcript through ServerHello.
func (tc *Context) deriveHandshakeSecrets(sharedSecret []byte) error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	if tc.EarlySecret == nil {
		psk := []byte(nil)
		if _, ok := tc.SelectedPSKIndex.Get(); ok {
			psk = tc.Chooser().PSK()
		}
		if err := tc.computeEarlySecret(psk); err != nil {
			return err
		}
	}
	if len(sharedSecret) == 0 {
		sharedSecret = make([]byte, h.Size())
	}

	derived, err := DeriveSecret(h, tc.EarlySecret, labelDerived, emptyHash(h))
	if err != nil {
		return err
	}
	if tc.HandshakeSecret, err = HkdfExtract(h, derived, sharedSecret); err != nil {
		return err
	}
	th := tc.Transcript.Hash(h)
	if tc.ClientHandshakeTrafficSecret, err = DeriveSecret(h, tc.HandshakeSecret, labelClientHandshakeTrafficSecret, th); err != nil {
		return err
	}
	tc.ServerHandshakeTrafficSecret, err = DeriveSecret(h, tc.HandshakeSecret, labelServerHandshakeTrafficSecret, th)
	return err
}

// deriveApplicationSecrets runs over the transcript through the server
// Finished.
func (tc *Context) deriveApplicationSecrets() error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	if tc.HandshakeSecret == nil {
		return cryptoError("handshake secret not derived")
	}
	derived, err := DeriveSecret(h, tc.HandshakeSecret, labelDerived, emptyHash(h))
	if err != nil {
		return err
	}
	if tc.MainSecret, err = HkdfExtract(h, derived, make([]byte, h.Size())); err != nil {
		return err
	}
	th := tc.Transcript.Hash(h)
	if tc.ClientApplicationTrafficSecret, err = DeriveSecret(h, tc.MainSecret, labelClientApplicationTrafficSecret, th); err != nil {
		return err
	}
	if tc.ServerApplicationTrafficSecret, err = DeriveSecret(h, tc.MainSecret, labelServerApplicationTrafficSecret, th); err != nil {
		return err
	}
	tc.ExporterMasterSecret, err = DeriveSecret(h, tc.MainSecret, labelExporterSecret, th)
	return err
}

// deriveResumptionSecret runs over the transcript through the client
// Finished.
func (tc *Context) deriveResumptionSecret() error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	if tc.MainSecret == nil {
		return cryptoError("main secret not derived")
	}
	tc.ResumptionMasterSecret, err = DeriveSecret(h, tc.MainSecret, labelResumptionSecret, tc.Transcript.Hash(h))
	return err
}

// updateTrafficSecret rotates the application secret of one end.
func (tc *Context) updateTrafficSecret(end ConnectionEnd) error {
	h, err := tc.suiteHash()
	if err != nil {
		return err
	}
	cur := tc.trafficSecret(end)
	if cur == nil {
		return cryptoError("no %v application secret to update", end)
	}
	next, err := HkdfExpandLabel(h, cur, labelTrafficUpdate, []byte{}, h.Size())
	if err != nil {
		return err
	}
	tc.setTrafficSecret(end, next)
	return nil
}

// resumptionPSK computes the PSK a NewSessionTicket nonce stands for.
func (tc *Context) resumptionPSK(nonce []byte) ([]byte, error) {
	h, err := tc.suiteHash()
	if err != nil {
		return nil, err
	}
	return HkdfExpandLabel(h, tc.ResumptionMasterSecret, labelResumption, nonce, h.Size())
}

// tls13Finished computes verify_data for end over the current transcript.
func (tc *Context) tls13Finished(end ConnectionEnd) ([]byte, error) {
	h, err := tc.suiteHash()
	if err != nil {
		return nil, err
	}
	base := tc.ClientHandshakeTrafficSecret
	if end == ConnectionEndServer {
		base = tc.ServerHandshakeTrafficSecret
	}
	if base == nil {
		return nil, cryptoError("no handshake traffic secret for %v", end)
	}
	return computeFinishedData(h, base, tc.Transcript.Hash(h))
}
