package anvil

// halfLayer is one direction of the record layer.
type halfLayer struct {
	epoch       uint16
	cipher      RecordCipher
	compression CompressionMethod
}

// RecordLayer frames, protects and compresses records for one connection.
// Read and write are independent: installing a cipher for one direction
// bumps only that direction's epoch.
type RecordLayer struct {
	tc    *Context
	read  halfLayer
	write halfLayer

	// Received bytes not yet forming a complete record.
	pending []byte
}

func NewRecordLayer(tc *Context) *RecordLayer {
	return &RecordLayer{
		tc:    tc,
		read:  halfLayer{cipher: newNullCipher()},
		write: halfLayer{cipher: newNullCipher()},
	}
}

func (rl *RecordLayer) half(d Direction) *halfLayer {
	if d == DirectionWrite {
		return &rl.write
	}
	return &rl.read
}

func (rl *RecordLayer) dtls() bool {
	return dtlsMode(rl.tc.Chooser())
}

func (rl *RecordLayer) Epoch(d Direction) uint16 {
	return rl.half(d).epoch
}

func (rl *RecordLayer) Cipher(d Direction) RecordCipher {
	return rl.half(d).cipher
}

func (rl *RecordLayer) Compression(d Direction) CompressionMethod {
	return rl.half(d).compression
}

// SetCipher installs c for direction d in a new epoch. The sequence number
// of that direction starts over at zero; the other direction is untouched.
func (rl *RecordLayer) SetCipher(d Direction, c RecordCipher) {
	h := rl.half(d)
	h.epoch++
	h.cipher = c
	c.SetSequenceNumber(d, 0)
	logf(logTypeRecord, "[%v] %v epoch %d: %v", rl.tc.ConnectionEnd, d, h.epoch, c.KeySet().Type)
}

// ResetCipher drops protection for direction d without changing the epoch.
func (rl *RecordLayer) ResetCipher(d Direction, seq uint64) {
	h := rl.half(d)
	h.cipher = newNullCipher()
	h.cipher.SetSequenceNumber(d, seq)
	logf(logTypeRecord, "[%v] %v cleartext, seq=%d", rl.tc.ConnectionEnd, d, seq)
}

func (rl *RecordLayer) SetCompression(d Direction, m CompressionMethod) {
	rl.half(d).compression = m
}

func (rl *RecordLayer) SequenceNumber(d Direction) uint64 {
	return rl.half(d).cipher.SequenceNumber(d)
}

func (rl *RecordLayer) SetSequenceNumber(d Direction, seq uint64) {
	rl.half(d).cipher.SetSequenceNumber(d, seq)
}

// unprotected reports whether records of type t bypass the cipher. TLS 1.3
// middlebox-compatibility ChangeCipherSpec records are never encrypted.
func (rl *RecordLayer) unprotected(t RecordType) bool {
	return t == RecordTypeChangeCipherSpec && rl.tc.Chooser().ProtocolVersion().IsTLS13()
}

// BuildRecords splits data into protected records no larger than the
// current maximum fragment size. Empty data still yields one record.
func (rl *RecordLayer) BuildRecords(t RecordType, data []byte) ([]*Record, error) {
	size := rl.tc.Chooser().MaxRecordSize()
	if size <= 0 {
		size = maxPlaintextRecordLength
	}

	var out []*Record
	for first := true; first || len(data) > 0; first = false {
		n := min(len(data), size)
		r := NewRecord(t, data[:n], rl.dtls())
		data = data[n:]
		if err := rl.ProtectRecord(r); err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ProtectRecord fills in the header of r and runs compression and the
// write cipher over its clean bytes. Fields already overridden on r are
// kept.
func (rl *RecordLayer) ProtectRecord(r *Record) error {
	ch := rl.tc.Chooser()
	r.dtls = rl.dtls()
	r.ContentType.Prepare(func() uint8 { return uint8(r.Type) })
	r.ProtocolVersion.Prepare(func() uint16 { return uint16(ch.RecordVersion()) })
	if r.dtls {
		r.Epoch.Prepare(func() uint16 { return rl.write.epoch })
		r.SequenceNumber.Prepare(func() uint64 { return rl.write.cipher.SequenceNumber(DirectionWrite) })
	}

	if rl.unprotected(r.Type) {
		r.Fragment.Prepare(func() []byte { return r.CleanBytes })
		r.Length.Prepare(func() uint16 { return uint16(len(r.Fragment.Resolve())) })
		return nil
	}

	clean := r.CleanBytes
	compressed, err := compress(rl.write.compression, clean)
	if err != nil {
		return err
	}
	r.CleanBytes = compressed
	err = rl.write.cipher.Encrypt(r)
	r.CleanBytes = clean
	if err != nil {
		return err
	}
	logf(logTypeRecord, "[%v] protected %v", rl.tc.ConnectionEnd, r)
	return nil
}

// ParseRecords adds data to the receive buffer and returns every complete
// record it now holds, still protected.
func (rl *RecordLayer) ParseRecords(data []byte) ([]*Record, error) {
	rl.pending = append(rl.pending, data...)
	records, rest, err := parseRecords(rl.pending, rl.dtls())
	rl.pending = append([]byte{}, rest...)
	return records, err
}

// Buffered reports whether a partial record is waiting for more bytes.
func (rl *RecordLayer) Buffered() bool {
	return len(rl.pending) > 0
}

// DecryptRecord removes protection and compression from r, leaving the
// plaintext in r.CleanBytes. Authentication failures are reported as
// ErrAuthenticationFailure after the read sequence number has advanced.
func (rl *RecordLayer) DecryptRecord(r *Record) error {
	if rl.unprotected(r.Type) {
		r.CleanBytes = r.Fragment.Resolve()
		return nil
	}
	if r.dtls && r.Epoch.Resolve() != rl.read.epoch {
		return malformed("record from epoch %d, reading epoch %d", r.Epoch.Resolve(), rl.read.epoch)
	}

	if err := rl.read.cipher.Decrypt(r); err != nil {
		logf(logTypeRecord, "[%v] decrypt %v: %v", rl.tc.ConnectionEnd, r, err)
		return err
	}
	clean, err := decompress(rl.read.compression, r.CleanBytes)
	if err != nil {
		return err
	}
	r.CleanBytes = clean
	logf(logTypeRecord, "[%v] unprotected %v", rl.tc.ConnectionEnd, r)
	return nil
}
