package anvil

import (
	"encoding/binary"
	"io"
)

// RecordCipher protects the records of one epoch. Writes use the keys of
// the local end, reads those of its peer. Each direction has its own
// sequence number, which advances once per Encrypt or Decrypt call whether
// or not the call succeeds.
type RecordCipher interface {
	Encrypt(r *Record) error
	Decrypt(r *Record) error
	KeySet() KeySet
	SequenceNumber(d Direction) uint64
	SetSequenceNumber(d Direction, seq uint64)
}

type cipherState struct {
	key    []byte
	iv     []byte
	macKey []byte
	seq    uint64
}

type cipherBase struct {
	keySet  KeySet
	params  CipherSuiteParams
	version ProtocolVersion
	rand    io.Reader
	states  [2]cipherState
}

func newCipherBase(ch Chooser, ks KeySet, params CipherSuiteParams, end ConnectionEnd) cipherBase {
	b := cipherBase{
		keySet:  ks,
		params:  params,
		version: ch.ProtocolVersion(),
		rand:    ch.Rand(),
	}
	b.states[DirectionWrite] = cipherState{
		key:    ks.WriteKey(end),
		iv:     ks.WriteIV(end),
		macKey: ks.MACSecret(end),
	}
	b.states[DirectionRead] = cipherState{
		key:    ks.WriteKey(end.Peer()),
		iv:     ks.WriteIV(end.Peer()),
		macKey: ks.MACSecret(end.Peer()),
	}
	return b
}

func (b *cipherBase) KeySet() KeySet {
	return b.keySet
}

func (b *cipherBase) SequenceNumber(d Direction) uint64 {
	return b.states[d].seq
}

func (b *cipherBase) SetSequenceNumber(d Direction, seq uint64) {
	b.states[d].seq = seq
}

// sequence returns the 64-bit sequence number used for r. DTLS records
// carry theirs, together with the epoch, in the header.
func (b *cipherBase) sequence(r *Record, d Direction) []byte {
	seq := b.states[d].seq
	if r.dtls {
		seq = uint64(r.Epoch.Resolve())<<48 | r.SequenceNumber.Resolve()&(1<<48-1)
	}
	r.Computations.SequenceNumber = seq
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, seq)
	return out
}

func (b *cipherBase) advance(d Direction) {
	b.states[d].seq++
}

// macHeader is the type and version part of the pseudo-header the MAC and
// TLS 1.2 AAD cover.
func macHeader(r *Record) []byte {
	v := r.ProtocolVersion.Resolve()
	return []byte{r.ContentType.Resolve(), byte(v >> 8), byte(v)}
}

func lengthBytes(n int) []byte {
	return []byte{byte(n >> 8), byte(n)}
}

// nullCipher is the cipher of epoch 0: records travel in the clear.
type nullCipher struct {
	cipherBase
}

func newNullCipher() *nullCipher {
	return &nullCipher{}
}

func (c *nullCipher) Encrypt(r *Record) error {
	defer c.advance(DirectionWrite)
	c.sequence(r, DirectionWrite)
	r.Fragment.Prepare(func() []byte { return r.CleanBytes })
	r.Length.Prepare(func() uint16 { return uint16(len(r.Fragment.Resolve())) })
	return nil
}

func (c *nullCipher) Decrypt(r *Record) error {
	defer c.advance(DirectionRead)
	c.sequence(r, DirectionRead)
	r.CleanBytes = r.Fragment.Resolve()
	return nil
}

// NewRecordCipher builds the cipher for ks as seen from end. The kind of
// cipher is chosen from the negotiated suite's bulk cipher alone.
func NewRecordCipher(ch Chooser, ks KeySet, end ConnectionEnd) (RecordCipher, error) {
	if ks.Type == KeySetNone {
		return newNullCipher(), nil
	}
	params, err := ch.CipherSuiteParams()
	if err != nil {
		return nil, err
	}
	base := newCipherBase(ch, ks, params, end)

	logf(logTypeCrypto, "[%v] new %v record cipher for %v", end, params.Name, ks.Type)
	switch params.Cipher.Type() {
	case CipherTypeAEAD:
		return newAEADCipher(base, ch.Config().RecordPaddingLength)
	case CipherTypeBlock:
		return newBlockCipher(base, ch.EncryptThenMAC())
	default:
		return newStreamCipher(base)
	}
}
