package anvil

import (
	"golang.org/x/crypto/cryptobyte"
)

type unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Parser is a bounds-checked cursor over a byte string. The first failure is
// sticky: every later read returns a zero value and Err reports the
// condition as ErrMalformedInput.
type Parser struct {
	s   cryptobyte.String
	err error
}

func NewParser(data []byte) *Parser {
	return &Parser{s: cryptobyte.String(data)}
}

func (p *Parser) fail(what string, want int) {
	if p.err == nil {
		p.err = malformed("%s: need %d bytes, have %d", what, want, len(p.s))
	}
	p.s = nil
}

func (p *Parser) Err() error {
	return p.err
}

func (p *Parser) Remaining() int {
	return len(p.s)
}

func (p *Parser) Empty() bool {
	return len(p.s) == 0
}

func (p *Parser) Uint8(what string) uint8 {
	var v uint8
	if p.err != nil || !p.s.ReadUint8(&v) {
		p.fail(what, 1)
		return 0
	}
	return v
}

func (p *Parser) Uint16(what string) uint16 {
	var v uint16
	if p.err != nil || !p.s.ReadUint16(&v) {
		p.fail(what, 2)
		return 0
	}
	return v
}

func (p *Parser) Uint24(what string) uint32 {
	var v uint32
	if p.err != nil || !p.s.ReadUint24(&v) {
		p.fail(what, 3)
		return 0
	}
	return v
}

func (p *Parser) Uint32(what string) uint32 {
	var v uint32
	if p.err != nil || !p.s.ReadUint32(&v) {
		p.fail(what, 4)
		return 0
	}
	return v
}

func (p *Parser) Uint48(what string) uint64 {
	if p.err != nil || len(p.s) < 6 {
		p.fail(what, 6)
		return 0
	}
	var hi uint16
	var lo uint32
	p.s.ReadUint16(&hi)
	p.s.ReadUint32(&lo)
	return uint64(hi)<<32 | uint64(lo)
}

// UintN reads a big-endian integer of the given width in bytes.
func (p *Parser) UintN(width int, what string) uint64 {
	switch width {
	case 1:
		return uint64(p.Uint8(what))
	case 2:
		return uint64(p.Uint16(what))
	case 3:
		return uint64(p.Uint24(what))
	case 4:
		return uint64(p.Uint32(what))
	case 6:
		return p.Uint48(what)
	}
	panic("unsupported integer width")
}

// Bytes returns a copy of the next n bytes.
func (p *Parser) Bytes(n int, what string) []byte {
	var v []byte
	if p.err != nil || n < 0 || !p.s.ReadBytes(&v, n) {
		p.fail(what, n)
		return nil
	}
	return append([]byte{}, v...)
}

// Rest consumes and returns everything left.
func (p *Parser) Rest() []byte {
	if p.err != nil {
		return nil
	}
	out := append([]byte{}, p.s...)
	p.s = nil
	return out
}

// Sub carves the next n bytes into an independent parser.
func (p *Parser) Sub(n int, what string) *Parser {
	return NewParser(p.Bytes(n, what))
}

func (p *Parser) setErr(err error) {
	if p.err == nil && err != nil {
		p.err = err
	}
	p.s = nil
}

// Merge folds a sub-parser failure back into p.
func (p *Parser) Merge(sub *Parser) {
	if p.err == nil && sub.err != nil {
		p.err = sub.err
	}
}

func parseUint[T unsigned](p *Parser, f *Overridable[T], width int, what string) T {
	v := T(p.UintN(width, what))
	f.Assign(v)
	return v
}

func parseBytes(p *Parser, f *BytesField, n int, what string) []byte {
	v := p.Bytes(n, what)
	f.Assign(v)
	return v
}

// parseVector reads a length field of the given width and the payload it
// announces.
func parseVector[T unsigned](p *Parser, length *Overridable[T], data *BytesField, width int, what string) []byte {
	n := parseUint(p, length, width, what+" length")
	return parseBytes(p, data, int(n), what)
}

// Serializer emits fields in order. Length prefixes are ordinary fields so
// an overridden, inconsistent length is written verbatim.
type Serializer struct {
	b cryptobyte.Builder
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

func (s *Serializer) PutUintN(v uint64, width int) {
	switch width {
	case 1:
		s.b.AddUint8(uint8(v))
	case 2:
		s.b.AddUint16(uint16(v))
	case 3:
		s.b.AddUint24(uint32(v))
	case 4:
		s.b.AddUint32(uint32(v))
	case 6:
		s.b.AddUint16(uint16(v >> 32))
		s.b.AddUint32(uint32(v))
	case 8:
		s.b.AddUint32(uint32(v >> 32))
		s.b.AddUint32(uint32(v))
	default:
		panic("unsupported integer width")
	}
}

func (s *Serializer) PutBytes(data []byte) {
	s.b.AddBytes(data)
}

func (s *Serializer) Bytes() []byte {
	return s.b.BytesOrPanic()
}

func putUint[T unsigned](s *Serializer, f *Overridable[T], width int) {
	s.PutUintN(uint64(f.Resolve()), width)
}

func putBytes(s *Serializer, f *BytesField) {
	s.PutBytes(f.Resolve())
}

// putVector writes a length field followed by its payload.
func putVector[T unsigned](s *Serializer, length *Overridable[T], data *BytesField, width int) {
	putUint(s, length, width)
	putBytes(s, data)
}

// prepareVector sets the payload (unless overridden) and then its length
// from the resolved payload, so length-dependent fields are only computed
// once the payload is final.
func prepareVector[T unsigned](length *Overridable[T], data *BytesField, compute func() []byte) {
	data.Prepare(compute)
	length.Prepare(func() T { return T(len(data.Resolve())) })
}

func uint16sToBytes[T ~uint16](vals []T) []byte {
	out := make([]byte, 0, 2*len(vals))
	for _, v := range vals {
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

func bytesToUint16s[T ~uint16](data []byte) []T {
	out := make([]T, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		out = append(out, T(uint16(data[i])<<8|uint16(data[i+1])))
	}
	return out
}

func uint8sToBytes[T ~uint8](vals []T) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}
	return out
}

func bytesToUint8s[T ~uint8](data []byte) []T {
	out := make([]T, len(data))
	for i, b := range data {
		out[i] = T(b)
	}
	return out
}
