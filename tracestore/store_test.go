package tracestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bifurcation/anvil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.DeleteAll(context.Background()))
		require.NoError(t, s.Close())
	})
	return s
}

func sampleTrace(started time.Time) *anvil.Trace {
	return &anvil.Trace{
		RunID:    uuid.New(),
		Workflow: "handshake TLS 1.3",
		Started:  started,
		Finished: started.Add(time.Second),
		Entries: []anvil.TraceEntry{
			{
				Index: 0, Action: "Send(client: ClientHello)", Connection: "client", Succeeded: true,
				Sent:    []string{"ClientHello"},
				Records: []anvil.TraceRecord{{Sent: true, Type: 22, Wire: []byte{0x16, 0x03, 0x01, 0x00, 0x00}}},
				Started: started, Finished: started,
			},
			{
				Index: 1, Action: "Receive(client: ServerHello)", Connection: "client",
				Error: "action execution failed", ErrorKind: anvil.ErrActionExecution,
				Warnings: []string{"dropped record"}, AuthFailures: 1,
				Started: started, Finished: started,
			},
		},
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := sampleTrace(started)

	require.NoError(t, s.Save(ctx, tr))
	got, found, err := s.Load(ctx, tr.RunID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tr.RunID, got.RunID)
	require.Equal(t, tr.Workflow, got.Workflow)
	require.True(t, tr.Started.Equal(got.Started))
	require.Len(t, got.Entries, 2)
	require.Equal(t, tr.Entries[0].Records, got.Entries[0].Records)
	require.Equal(t, anvil.ErrActionExecution, got.Entries[1].ErrorKind)

	_, found, err = s.Load(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, found)
}

func TestSaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tr := sampleTrace(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, tr))

	tr.Entries = tr.Entries[:1]
	require.NoError(t, s.Save(ctx, tr))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Succeeded)

	failures, err := s.Failures(ctx, tr.RunID)
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tr := sampleTrace(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, tr))

	failures, err := s.Failures(ctx, tr.RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, 1, failures[0].Index)
	require.Equal(t, []string{"dropped record"}, failures[0].Warnings)
	require.Equal(t, 1, failures[0].AuthFailures)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.False(t, runs[0].Succeeded)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := sampleTrace(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	recent := sampleTrace(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, old))
	require.NoError(t, s.Save(ctx, recent))

	n, err := s.Prune(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, recent.RunID, runs[0].ID)

	failures, err := s.Failures(ctx, old.RunID)
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestExecutorSink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cfg := &anvil.Config{}
	require.NoError(t, cfg.Init())
	client, _ := anvil.NewPipe(nil)
	conn := anvil.NewConnection("client", cfg, anvil.ConnectionEndClient, client)
	state := anvil.NewState(cfg, conn)

	w := anvil.NewWorkflow("timeouts", anvil.ChangeConnectionTimeout("client", time.Millisecond))
	exec := &anvil.Executor{Sink: s}
	tr, err := exec.Execute(ctx, w, state)
	require.NoError(t, err)

	got, found, err := s.Load(ctx, tr.RunID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Entries, 1)
	require.True(t, got.Entries[0].Succeeded)
}
