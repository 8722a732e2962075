package anvil

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Action is one step of a workflow. An action runs at most once; running it
// again fails with ErrActionExecution until Reset is called.
type Action interface {
	Execute(ctx context.Context, s *State) error
	Executed() bool
	Succeeded() bool
	Reset()
	ConnectionAlias() string
	String() string
}

// actionState is embedded by every action and carries its lifecycle.
type actionState struct {
	Alias     string
	executed  bool
	succeeded bool
}

func (a *actionState) Executed() bool          { return a.executed }
func (a *actionState) Succeeded() bool         { return a.executed && a.succeeded }
func (a *actionState) ConnectionAlias() string { return a.Alias }

func (a *actionState) Reset() {
	a.executed = false
	a.succeeded = false
}

// guard runs fn unless the action already ran. A refused run changes
// nothing.
func (a *actionState) guard(name string, fn func() error) error {
	if a.executed {
		return actionError("%s on %q was already executed", name, a.Alias)
	}
	err := fn()
	a.executed = true
	a.succeeded = err == nil
	return err
}

// tracer is implemented by actions that have more to say in their trace
// entry than success or failure.
type tracer interface {
	traceInto(e *TraceEntry)
}

// State is what a workflow runs against: named connections sharing one
// config.
type State struct {
	Config      *Config
	Connections map[string]*Connection
}

func NewState(config *Config, conns ...*Connection) *State {
	s := &State{Config: config, Connections: map[string]*Connection{}}
	for _, c := range conns {
		s.Connections[c.Alias] = c
	}
	return s
}

func (s *State) Add(c *Connection) {
	s.Connections[c.Alias] = c
}

func (s *State) Connection(alias string) (*Connection, error) {
	c, ok := s.Connections[alias]
	if !ok {
		return nil, actionError("no connection named %q", alias)
	}
	return c, nil
}

func (s *State) clock() clock.Clock {
	if s.Config != nil && s.Config.Clock != nil {
		return s.Config.Clock
	}
	return clock.New()
}

// Workflow is an ordered list of actions.
type Workflow struct {
	Name    string
	Actions []Action
}

func NewWorkflow(name string, actions ...Action) *Workflow {
	return &Workflow{Name: name, Actions: actions}
}

func (w *Workflow) Add(actions ...Action) {
	w.Actions = append(w.Actions, actions...)
}

// Reset makes every action runnable again.
func (w *Workflow) Reset() {
	for _, a := range w.Actions {
		a.Reset()
	}
}

func (w *Workflow) String() string {
	return fmt.Sprintf("Workflow{%s: %d actions}", w.Name, len(w.Actions))
}

// TraceSink receives every finished trace.
type TraceSink interface {
	Save(ctx context.Context, t *Trace) error
}

// Executor drives a workflow. With StopOnFailure unset every action is
// attempted and all failures are reported together.
type Executor struct {
	StopOnFailure bool
	Sink          TraceSink
}

// Execute runs w against s. The trace records every action that was
// dispatched, including failed ones; a cancelled ctx stops dispatch but the
// trace still covers what ran.
func (e *Executor) Execute(ctx context.Context, w *Workflow, s *State) (*Trace, error) {
	clk := s.clock()
	trace := newTrace(w.Name, clk)
	logf(logTypeWorkflow, "run %s: %v", trace.RunID, w)

	var result *multierror.Error
	for i, a := range w.Actions {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "workflow interrupted"))
			break
		}

		entry := TraceEntry{Index: i, Action: a.String(), Connection: a.ConnectionAlias(), Started: clk.Now()}
		err := a.Execute(ctx, s)
		entry.Finished = clk.Now()
		entry.Succeeded = err == nil
		if err != nil {
			entry.Error = err.Error()
			entry.ErrorKind = KindOf(err)
		}
		if c, cerr := s.Connection(a.ConnectionAlias()); cerr == nil {
			entry.Warnings = c.Context.takeWarnings()
		}
		if t, ok := a.(tracer); ok {
			t.traceInto(&entry)
		}
		trace.Entries = append(trace.Entries, entry)

		if err != nil {
			logf(logTypeWorkflow, "action %d %v failed: %v", i, a, err)
			result = multierror.Append(result, errors.Wrapf(err, "action %d (%v)", i, a))
			if e.StopOnFailure {
				break
			}
			continue
		}
		logf(logTypeWorkflow, "action %d %v done", i, a)
	}
	trace.Finished = clk.Now()

	if e.Sink != nil {
		if err := e.Sink.Save(ctx, trace); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "save trace"))
		}
	}
	return trace, result.ErrorOrNil()
}
