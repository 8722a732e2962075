package anvil

import (
	"context"
	"fmt"
	"time"
)

// ActivateEncryptionAction installs a write cipher from the key set of the
// given type, derived from the current state.
type ActivateEncryptionAction struct {
	actionState
	KeySetType KeySetType
}

func ActivateEncryption(alias string, t KeySetType) *ActivateEncryptionAction {
	return &ActivateEncryptionAction{actionState{Alias: alias}, t}
}

func (a *ActivateEncryptionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("activate encryption", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		ks, err := GenerateKeySet(c.Context.Chooser(), a.KeySetType)
		if err != nil {
			return err
		}
		return c.takeAction(RekeyOut{KeySet: ks})
	})
}

func (a *ActivateEncryptionAction) String() string {
	return fmt.Sprintf("ActivateEncryption(%s: %v)", a.Alias, a.KeySetType)
}

// ActivateDecryptionAction installs a read cipher.
type ActivateDecryptionAction struct {
	actionState
	KeySetType KeySetType
}

func ActivateDecryption(alias string, t KeySetType) *ActivateDecryptionAction {
	return &ActivateDecryptionAction{actionState{Alias: alias}, t}
}

func (a *ActivateDecryptionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("activate decryption", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		ks, err := GenerateKeySet(c.Context.Chooser(), a.KeySetType)
		if err != nil {
			return err
		}
		return c.takeAction(RekeyIn{KeySet: ks})
	})
}

func (a *ActivateDecryptionAction) String() string {
	return fmt.Sprintf("ActivateDecryption(%s: %v)", a.Alias, a.KeySetType)
}

// DeactivateEncryptionAction sends in the clear from now on, keeping the
// write sequence number.
type DeactivateEncryptionAction struct {
	actionState
}

func DeactivateEncryption(alias string) *DeactivateEncryptionAction {
	return &DeactivateEncryptionAction{actionState{Alias: alias}}
}

func (a *DeactivateEncryptionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("deactivate encryption", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		return c.takeAction(ResetOut{seq: c.Records.SequenceNumber(DirectionWrite)})
	})
}

func (a *DeactivateEncryptionAction) String() string {
	return fmt.Sprintf("DeactivateEncryption(%s)", a.Alias)
}

type DeactivateDecryptionAction struct {
	actionState
}

func DeactivateDecryption(alias string) *DeactivateDecryptionAction {
	return &DeactivateDecryptionAction{actionState{Alias: alias}}
}

func (a *DeactivateDecryptionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("deactivate decryption", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		return c.takeAction(ResetIn{seq: c.Records.SequenceNumber(DirectionRead)})
	})
}

func (a *DeactivateDecryptionAction) String() string {
	return fmt.Sprintf("DeactivateDecryption(%s)", a.Alias)
}

// ChangeReadSequenceNumberAction sets the sequence number the current read
// cipher expects next.
type ChangeReadSequenceNumberAction struct {
	actionState
	SequenceNumber uint64
	Previous       uint64
}

func ChangeReadSequenceNumber(alias string, seq uint64) *ChangeReadSequenceNumberAction {
	return &ChangeReadSequenceNumberAction{actionState: actionState{Alias: alias}, SequenceNumber: seq}
}

func (a *ChangeReadSequenceNumberAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change read sequence number", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		a.Previous = c.Records.SequenceNumber(DirectionRead)
		c.Records.SetSequenceNumber(DirectionRead, a.SequenceNumber)
		return nil
	})
}

func (a *ChangeReadSequenceNumberAction) String() string {
	return fmt.Sprintf("ChangeReadSequenceNumber(%s: %d)", a.Alias, a.SequenceNumber)
}

type ChangeWriteSequenceNumberAction struct {
	actionState
	SequenceNumber uint64
	Previous       uint64
}

func ChangeWriteSequenceNumber(alias string, seq uint64) *ChangeWriteSequenceNumberAction {
	return &ChangeWriteSequenceNumberAction{actionState: actionState{Alias: alias}, SequenceNumber: seq}
}

func (a *ChangeWriteSequenceNumberAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change write sequence number", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		a.Previous = c.Records.SequenceNumber(DirectionWrite)
		c.Records.SetSequenceNumber(DirectionWrite, a.SequenceNumber)
		return nil
	})
}

func (a *ChangeWriteSequenceNumberAction) String() string {
	return fmt.Sprintf("ChangeWriteSequenceNumber(%s: %d)", a.Alias, a.SequenceNumber)
}

// ChangeCompressionAction switches record compression for the listed
// directions, or both when none are listed.
type ChangeCompressionAction struct {
	actionState
	Method     CompressionMethod
	Directions []Direction
}

func ChangeCompression(alias string, m CompressionMethod, ds ...Direction) *ChangeCompressionAction {
	return &ChangeCompressionAction{actionState: actionState{Alias: alias}, Method: m, Directions: ds}
}

func (a *ChangeCompressionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change compression", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		ds := a.Directions
		if len(ds) == 0 {
			ds = []Direction{DirectionRead, DirectionWrite}
		}
		for _, d := range ds {
			if err := c.takeAction(SetCompression{Direction: d, Method: a.Method}); err != nil {
				return err
			}
		}
		c.Context.Compression.Set(a.Method)
		return nil
	})
}

func (a *ChangeCompressionAction) String() string {
	return fmt.Sprintf("ChangeCompression(%s: %v)", a.Alias, a.Method)
}

type ChangeConnectionTimeoutAction struct {
	actionState
	Timeout  time.Duration
	Previous time.Duration
}

func ChangeConnectionTimeout(alias string, d time.Duration) *ChangeConnectionTimeoutAction {
	return &ChangeConnectionTimeoutAction{actionState: actionState{Alias: alias}, Timeout: d}
}

func (a *ChangeConnectionTimeoutAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change connection timeout", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		a.Previous = c.Transport.Timeout()
		c.Transport.SetTimeout(a.Timeout)
		return nil
	})
}

func (a *ChangeConnectionTimeoutAction) String() string {
	return fmt.Sprintf("ChangeConnectionTimeout(%s: %v)", a.Alias, a.Timeout)
}

// The Change*Action types below overwrite one learned value in the
// connection context. Key sets already installed are not rebuilt.

type ChangeCipherSuiteAction struct {
	actionState
	CipherSuite CipherSuite
}

func ChangeCipherSuite(alias string, cs CipherSuite) *ChangeCipherSuiteAction {
	return &ChangeCipherSuiteAction{actionState{Alias: alias}, cs}
}

func (a *ChangeCipherSuiteAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change cipher suite", func() error {
		return s.withContext(a.Alias, func(tc *Context) { tc.CipherSuite.Set(a.CipherSuite) })
	})
}

func (a *ChangeCipherSuiteAction) String() string {
	return fmt.Sprintf("ChangeCipherSuite(%s: %v)", a.Alias, a.CipherSuite)
}

type ChangeProtocolVersionAction struct {
	actionState
	Version ProtocolVersion
}

func ChangeProtocolVersion(alias string, v ProtocolVersion) *ChangeProtocolVersionAction {
	return &ChangeProtocolVersionAction{actionState{Alias: alias}, v}
}

func (a *ChangeProtocolVersionAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change protocol version", func() error {
		return s.withContext(a.Alias, func(tc *Context) { tc.ProtocolVersion.Set(a.Version) })
	})
}

func (a *ChangeProtocolVersionAction) String() string {
	return fmt.Sprintf("ChangeProtocolVersion(%s: %v)", a.Alias, a.Version)
}

type ChangeMasterSecretAction struct {
	actionState
	MasterSecret []byte
}

func ChangeMasterSecret(alias string, secret []byte) *ChangeMasterSecretAction {
	return &ChangeMasterSecretAction{actionState{Alias: alias}, secret}
}

func (a *ChangeMasterSecretAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change master secret", func() error {
		return s.withContext(a.Alias, func(tc *Context) { tc.MasterSecret = append([]byte{}, a.MasterSecret...) })
	})
}

func (a *ChangeMasterSecretAction) String() string {
	return fmt.Sprintf("ChangeMasterSecret(%s)", a.Alias)
}

type ChangeClientRandomAction struct {
	actionState
	Random []byte
}

func ChangeClientRandom(alias string, random []byte) *ChangeClientRandomAction {
	return &ChangeClientRandomAction{actionState{Alias: alias}, random}
}

func (a *ChangeClientRandomAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change client random", func() error {
		return s.withContext(a.Alias, func(tc *Context) { tc.ClientRandom = append([]byte{}, a.Random...) })
	})
}

func (a *ChangeClientRandomAction) String() string {
	return fmt.Sprintf("ChangeClientRandom(%s: %x)", a.Alias, a.Random)
}

type ChangeServerRandomAction struct {
	actionState
	Random []byte
}

func ChangeServerRandom(alias string, random []byte) *ChangeServerRandomAction {
	return &ChangeServerRandomAction{actionState{Alias: alias}, random}
}

func (a *ChangeServerRandomAction) Execute(ctx context.Context, s *State) error {
	return a.guard("change server random", func() error {
		return s.withContext(a.Alias, func(tc *Context) { tc.ServerRandom = append([]byte{}, a.Random...) })
	})
}

func (a *ChangeServerRandomAction) String() string {
	return fmt.Sprintf("ChangeServerRandom(%s: %x)", a.Alias, a.Random)
}

func (s *State) withContext(alias string, fn func(tc *Context)) error {
	c, err := s.Connection(alias)
	if err != nil {
		return err
	}
	fn(c.Context)
	return nil
}
