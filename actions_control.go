package anvil

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// WaitAction sleeps on the config clock.
type WaitAction struct {
	actionState
	Duration time.Duration
}

func Wait(alias string, d time.Duration) *WaitAction {
	return &WaitAction{actionState{Alias: alias}, d}
}

func (a *WaitAction) Execute(ctx context.Context, s *State) error {
	return a.guard("wait", func() error {
		timer := s.clock().Timer(a.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait interrupted")
		}
	})
}

func (a *WaitAction) String() string {
	return fmt.Sprintf("Wait(%v)", a.Duration)
}

// ResetConnectionAction throws away all connection state. A transport that
// can be reopened gets a fresh underlying connection too.
type ResetConnectionAction struct {
	actionState
}

func ResetConnection(alias string) *ResetConnectionAction {
	return &ResetConnectionAction{actionState{Alias: alias}}
}

func (a *ResetConnectionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("reset connection", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		if r, ok := c.Transport.(Reopener); ok {
			if err := r.Reopen(); err != nil {
				return err
			}
		}
		c.Reset()
		return nil
	})
}

func (a *ResetConnectionAction) String() string {
	return fmt.Sprintf("ResetConnection(%s)", a.Alias)
}

// RenegotiationAction starts a new handshake on top of the current record
// protection. The Finished values of the previous handshake are kept for
// renegotiation_info.
type RenegotiationAction struct {
	actionState
}

func Renegotiation(alias string) *RenegotiationAction {
	return &RenegotiationAction{actionState{Alias: alias}}
}

func (a *RenegotiationAction) Execute(ctx context.Context, s *State) error {
	return a.guard("renegotiation", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		tc := c.Context
		if tc.Chooser().ProtocolVersion().IsTLS13() {
			return unsupported("renegotiation in TLS 1.3")
		}
		tc.Transcript.Reset()
		tc.DTLSReadHandshakeSeq = 0
		tc.DTLSWriteHandshakeSeq = 0
		tc.SecureRenegotiation = tc.ClientVerifyData != nil
		tc.ServerKeyShare = nil
		tc.KeySharePrivateKeys = map[NamedGroup][]byte{}
		c.hsIn = nil
		c.fragments = map[uint16]*dtlsReassembly{}
		return nil
	})
}

func (a *RenegotiationAction) String() string {
	return fmt.Sprintf("Renegotiation(%s)", a.Alias)
}

// PrintSecretsAction logs the key material derived so far and keeps a
// snapshot of it in the trace.
type PrintSecretsAction struct {
	actionState
	Snapshot SecretsSnapshot
	encoded  []byte
}

func PrintSecrets(alias string) *PrintSecretsAction {
	return &PrintSecretsAction{actionState: actionState{Alias: alias}}
}

func (a *PrintSecretsAction) Execute(ctx context.Context, s *State) error {
	return a.guard("print secrets", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		a.Snapshot = c.Context.Snapshot()
		logSnapshot(a.Snapshot, c.label())
		for _, line := range c.Context.KeyLog() {
			logf(logTypeCrypto, "%s %s", c.label(), line)
		}
		a.encoded, err = EncodeSnapshot(a.Snapshot)
		return err
	})
}

func (a *PrintSecretsAction) Reset() {
	a.actionState.Reset()
	a.Snapshot = SecretsSnapshot{}
	a.encoded = nil
}

func (a *PrintSecretsAction) String() string {
	return fmt.Sprintf("PrintSecrets(%s)", a.Alias)
}

func (a *PrintSecretsAction) traceInto(e *TraceEntry) {
	e.Secrets = a.encoded
}
