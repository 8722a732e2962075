package anvil

import (
	"context"
	"fmt"
	"strings"
)

func kindList(kinds []MessageKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}

// SendAction sends Messages in order. After execution Records holds what
// went on the wire.
type SendAction struct {
	actionState
	Messages []ProtocolMessage
	Records  []*Record
}

func NewSendAction(alias string, msgs ...ProtocolMessage) *SendAction {
	return &SendAction{actionState: actionState{Alias: alias}, Messages: msgs}
}

// Send builds a SendAction of freshly created messages.
func Send(alias string, kinds ...MessageKind) *SendAction {
	msgs := make([]ProtocolMessage, len(kinds))
	for i, k := range kinds {
		msgs[i] = NewMessage(k)
	}
	return NewSendAction(alias, msgs...)
}

func (a *SendAction) Execute(ctx context.Context, s *State) error {
	return a.guard("send", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		a.Records, err = c.SendMessages(a.Messages...)
		return err
	})
}

func (a *SendAction) Reset() {
	a.actionState.Reset()
	a.Records = nil
}

func (a *SendAction) String() string {
	kinds := make([]MessageKind, len(a.Messages))
	for i, m := range a.Messages {
		kinds[i] = m.Kind()
	}
	return fmt.Sprintf("Send(%s: %s)", a.Alias, kindList(kinds))
}

func (a *SendAction) traceInto(e *TraceEntry) {
	e.Sent = kindNamesOf(a.Messages)
	e.Records = traceRecords(true, a.Records)
}

// receiveResult is the part shared by every receiving action.
type receiveResult struct {
	Received     []ProtocolMessage
	Records      []*Record
	AuthFailures int
}

func (r *receiveResult) store(res *ReceiveResult) {
	if res == nil {
		return
	}
	r.Received = res.Messages
	r.Records = res.Records
	r.AuthFailures = res.AuthFailures
}

func (r *receiveResult) clear() {
	*r = receiveResult{}
}

func (r *receiveResult) traceInto(e *TraceEntry) {
	e.Received = kindNamesOf(r.Received)
	e.Records = traceRecords(false, r.Records)
	e.AuthFailures = r.AuthFailures
}

func (r *receiveResult) kinds() []MessageKind {
	out := make([]MessageKind, len(r.Received))
	for i, m := range r.Received {
		out[i] = m.Kind()
	}
	return out
}

// ReceiveAction receives until as many messages as Expected have arrived,
// then checks that their kinds match Expected in order. DTLS
// retransmissions are dropped before they count.
type ReceiveAction struct {
	actionState
	receiveResult
	Expected []MessageKind
}

func Receive(alias string, expected ...MessageKind) *ReceiveAction {
	return &ReceiveAction{actionState: actionState{Alias: alias}, Expected: expected}
}

func (a *ReceiveAction) Execute(ctx context.Context, s *State) error {
	return a.guard("receive", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		res, err := c.Receive(ctx, func(msgs []ProtocolMessage) bool {
			return len(msgs) >= len(a.Expected)
		})
		a.store(res)
		if err != nil {
			return err
		}
		got := a.kinds()
		if kindList(got) != kindList(a.Expected) {
			return actionError("expected %s, received %s", kindList(a.Expected), kindList(got))
		}
		return nil
	})
}

func (a *ReceiveAction) Reset() {
	a.actionState.Reset()
	a.clear()
}

func (a *ReceiveAction) String() string {
	return fmt.Sprintf("Receive(%s: %s)", a.Alias, kindList(a.Expected))
}

// ReceiveTillAction receives until a message of kind Until arrives.
type ReceiveTillAction struct {
	actionState
	receiveResult
	Until MessageKind
}

func ReceiveTill(alias string, until MessageKind) *ReceiveTillAction {
	return &ReceiveTillAction{actionState: actionState{Alias: alias}, Until: until}
}

func (a *ReceiveTillAction) Execute(ctx context.Context, s *State) error {
	return a.guard("receive till", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		res, err := c.Receive(ctx, func(msgs []ProtocolMessage) bool {
			return len(msgs) > 0 && msgs[len(msgs)-1].Kind() == a.Until
		})
		a.store(res)
		if err != nil {
			return err
		}
		if n := len(a.Received); n == 0 || a.Received[n-1].Kind() != a.Until {
			return actionError("%v never arrived, received %s", a.Until, kindList(a.kinds()))
		}
		return nil
	})
}

func (a *ReceiveTillAction) Reset() {
	a.actionState.Reset()
	a.clear()
}

func (a *ReceiveTillAction) String() string {
	return fmt.Sprintf("ReceiveTill(%s: %v)", a.Alias, a.Until)
}

// GenericReceiveAction takes whatever arrives before the transport times
// out. It cannot fail on content.
type GenericReceiveAction struct {
	actionState
	receiveResult
}

func GenericReceive(alias string) *GenericReceiveAction {
	return &GenericReceiveAction{actionState: actionState{Alias: alias}}
}

func (a *GenericReceiveAction) Execute(ctx context.Context, s *State) error {
	return a.guard("generic receive", func() error {
		c, err := s.Connection(a.Alias)
		if err != nil {
			return err
		}
		res, err := c.Receive(ctx, nil)
		a.store(res)
		return err
	})
}

func (a *GenericReceiveAction) Reset() {
	a.actionState.Reset()
	a.clear()
}

func (a *GenericReceiveAction) String() string {
	return fmt.Sprintf("GenericReceive(%s)", a.Alias)
}
