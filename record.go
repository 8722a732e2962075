package anvil

import (
	"fmt"
)

// RecordComputations keeps the intermediate values of protecting one
// record. Byte fields can be overridden to build broken records (bad
// padding, wrong MAC, reused nonce) without touching the cipher code.
type RecordComputations struct {
	SequenceNumber uint64
	Nonce          BytesField
	ExplicitNonce  BytesField
	AAD            BytesField
	MAC            BytesField
	Padding        BytesField
	AuthTag        BytesField

	MACValid     Learned[bool]
	PaddingValid Learned[bool]
	AuthTagValid Learned[bool]
}

// Record is one TLS or DTLS record. Type is the logical content type, which
// for protected TLS 1.3 records differs from the outer ContentType.
type Record struct {
	Type RecordType

	ContentType     Uint8Field
	ProtocolVersion Uint16Field
	Epoch           Uint16Field
	SequenceNumber  Uint64Field
	Length          Uint16Field
	Fragment        BytesField

	// CleanBytes is the record payload with protection and compression
	// removed.
	CleanBytes []byte

	Computations RecordComputations

	dtls bool
}

func NewRecord(t RecordType, clean []byte, dtls bool) *Record {
	return &Record{Type: t, CleanBytes: clean, dtls: dtls}
}

func (r *Record) IsDTLS() bool { return r.dtls }

func (r *Record) headerLen() int {
	if r.dtls {
		return dtlsRecordHeaderLen
	}
	return tlsRecordHeaderLen
}

// header serializes the record header for the given length field value.
func (r *Record) header(length uint16) []byte {
	s := NewSerializer()
	putUint(s, &r.ContentType, 1)
	putUint(s, &r.ProtocolVersion, 2)
	if r.dtls {
		putUint(s, &r.Epoch, 2)
		putUint(s, &r.SequenceNumber, 6)
	}
	s.PutUintN(uint64(length), 2)
	return s.Bytes()
}

func (r *Record) Serialize() []byte {
	s := NewSerializer()
	putUint(s, &r.ContentType, 1)
	putUint(s, &r.ProtocolVersion, 2)
	if r.dtls {
		putUint(s, &r.Epoch, 2)
		putUint(s, &r.SequenceNumber, 6)
	}
	putUint(s, &r.Length, 2)
	putBytes(s, &r.Fragment)
	return s.Bytes()
}

// ClearOverrides drops every override on the record and its computations.
func (r *Record) ClearOverrides() {
	clearOverrides(r)
}

func (r *Record) String() string {
	return fmt.Sprintf("Record{%v type=%v ver=%04x epoch=%d seq=%d len=%d}", r.Type,
		RecordType(r.ContentType.Resolve()), r.ProtocolVersion.Resolve(), r.Epoch.Resolve(),
		r.SequenceNumber.Resolve(), r.Length.Resolve())
}

// parseRecord reads one record from the front of data. ok is false when data
// does not yet hold a complete record.
func parseRecord(data []byte, dtls bool) (r *Record, n int, ok bool, err error) {
	hl := tlsRecordHeaderLen
	if dtls {
		hl = dtlsRecordHeaderLen
	}
	if len(data) < hl {
		return nil, 0, false, nil
	}
	length := int(data[hl-2])<<8 | int(data[hl-1])
	if len(data) < hl+length {
		return nil, 0, false, nil
	}

	r = &Record{dtls: dtls}
	p := NewParser(data[:hl+length])
	parseUint(p, &r.ContentType, 1, "record content type")
	parseUint(p, &r.ProtocolVersion, 2, "record version")
	if dtls {
		parseUint(p, &r.Epoch, 2, "record epoch")
		parseUint(p, &r.SequenceNumber, 6, "record sequence number")
	}
	parseUint(p, &r.Length, 2, "record length")
	parseBytes(p, &r.Fragment, length, "record fragment")
	if p.Err() != nil {
		return nil, 0, false, p.Err()
	}
	r.Type = RecordType(r.ContentType.Resolve())
	return r, hl + length, true, nil
}

// parseRecords splits data into as many whole records as it holds and
// returns the unconsumed remainder.
func parseRecords(data []byte, dtls bool) ([]*Record, []byte, error) {
	var out []*Record
	for len(data) > 0 {
		r, n, ok, err := parseRecord(data, dtls)
		if err != nil {
			return out, data, err
		}
		if !ok {
			break
		}
		out = append(out, r)
		data = data[n:]
	}
	return out, data, nil
}

// validRecordType reports whether b looks like a TLS record content type,
// used to tell SSLv2 framing apart from TLS framing.
func validRecordType(b byte) bool {
	return b >= byte(RecordTypeChangeCipherSpec) && b <= byte(RecordTypeAck)
}
