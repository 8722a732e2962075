package anvil

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TraceRecord is one record as it crossed the wire.
type TraceRecord struct {
	Sent bool   `cbor:"1,keyasint"`
	Type uint8  `cbor:"2,keyasint"`
	Wire []byte `cbor:"3,keyasint"`
}

// TraceEntry is what one action did.
type TraceEntry struct {
	Index      int       `cbor:"1,keyasint"`
	Action     string    `cbor:"2,keyasint"`
	Connection string    `cbor:"3,keyasint"`
	Succeeded  bool      `cbor:"4,keyasint"`
	Error      string    `cbor:"5,keyasint,omitempty"`
	ErrorKind  ErrorKind `cbor:"6,keyasint,omitempty"`
	Warnings   []string  `cbor:"7,keyasint,omitempty"`

	Sent     []string      `cbor:"8,keyasint,omitempty"`
	Received []string      `cbor:"9,keyasint,omitempty"`
	Records  []TraceRecord `cbor:"10,keyasint,omitempty"`
	// AuthFailures counts received records dropped for a bad tag.
	AuthFailures int `cbor:"11,keyasint,omitempty"`
	// Secrets is a CBOR SecretsSnapshot, set by PrintSecretsAction.
	Secrets []byte `cbor:"12,keyasint,omitempty"`

	Started  time.Time `cbor:"13,keyasint"`
	Finished time.Time `cbor:"14,keyasint"`
}

// Trace is the record of one workflow run.
type Trace struct {
	RunID    uuid.UUID    `cbor:"1,keyasint"`
	Workflow string       `cbor:"2,keyasint"`
	Started  time.Time    `cbor:"3,keyasint"`
	Finished time.Time    `cbor:"4,keyasint"`
	Entries  []TraceEntry `cbor:"5,keyasint"`
}

func newTrace(workflow string, clk clock.Clock) *Trace {
	return &Trace{RunID: uuid.New(), Workflow: workflow, Started: clk.Now()}
}

// Failed returns the entries of actions that did not succeed.
func (t *Trace) Failed() []TraceEntry {
	var out []TraceEntry
	for _, e := range t.Entries {
		if !e.Succeeded {
			out = append(out, e)
		}
	}
	return out
}

// Succeeded reports whether every action ran and succeeded.
func (t *Trace) Succeeded() bool {
	return len(t.Failed()) == 0
}

func (t *Trace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s), %d actions\n", t.RunID, t.Workflow, len(t.Entries))
	for _, e := range t.Entries {
		status := "ok"
		if !e.Succeeded {
			status = "FAILED: " + e.Error
		}
		fmt.Fprintf(&b, "  %2d %-40s %s\n", e.Index, e.Action, status)
		for _, w := range e.Warnings {
			fmt.Fprintf(&b, "       warning: %s\n", w)
		}
	}
	return b.String()
}

// Timestamps keep nanoseconds and their zone.
var traceEncoding = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func EncodeTrace(t *Trace) ([]byte, error) {
	return traceEncoding.Marshal(t)
}

func EncodeTraceEntry(e TraceEntry) ([]byte, error) {
	return traceEncoding.Marshal(e)
}

func DecodeTraceEntry(data []byte) (TraceEntry, error) {
	var e TraceEntry
	if err := cbor.Unmarshal(data, &e); err != nil {
		return e, errors.Wrap(err, "decode trace entry")
	}
	return e, nil
}

func DecodeTrace(data []byte) (*Trace, error) {
	t := &Trace{}
	if err := cbor.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "decode trace")
	}
	return t, nil
}

func kindNamesOf(msgs []ProtocolMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Kind().String())
	}
	return out
}

func traceRecords(sent bool, records []*Record) []TraceRecord {
	out := make([]TraceRecord, 0, len(records))
	for _, r := range records {
		out = append(out, TraceRecord{Sent: sent, Type: uint8(r.Type), Wire: r.Serialize()})
	}
	return out
}
