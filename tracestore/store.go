// Package tracestore keeps workflow traces in a SQLite database so that
// runs can be compared and replayed after the fact.
package tracestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/bifurcation/anvil"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is a trace database. It satisfies anvil.TraceSink.
type Store struct {
	db *sql.DB
}

var _ anvil.TraceSink = (*Store)(nil)

const schema = `
create table if not exists runs (run_id text not null primary key,
	workflow text not null,
	started datetime,
	finished datetime,
	succeeded boolean not null,
	trace blob not null);
create table if not exists entries (run_id text not null,
	idx integer not null,
	action text not null,
	connection text not null,
	succeeded boolean not null,
	error text,
	entry blob not null,
	primary key (run_id, idx));
`

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if path == ":memory:" {
		// Every connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DeleteAll empties the store.
func (s *Store) DeleteAll(ctx context.Context) error {
	for _, table := range []string{"entries", "runs"} {
		if _, err := s.db.ExecContext(ctx, "delete from "+table); err != nil {
			return errors.Wrapf(err, "delete %s", table)
		}
	}
	return nil
}

// Save stores t, replacing an earlier save of the same run.
func (s *Store) Save(ctx context.Context, t *anvil.Trace) error {
	blob, err := anvil.EncodeTrace(t)
	if err != nil {
		return errors.Wrap(err, "encode trace")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	id := t.RunID.String()
	if _, err := tx.ExecContext(ctx, "insert or replace into runs values (?, ?, ?, ?, ?, ?)",
		id, t.Workflow, t.Started, t.Finished, t.Succeeded(), blob); err != nil {
		return errors.Wrap(err, "store run")
	}
	if _, err := tx.ExecContext(ctx, "delete from entries where run_id = ?", id); err != nil {
		return errors.Wrap(err, "clear entries")
	}

	stmt, err := tx.PrepareContext(ctx, "insert into entries values (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()
	for _, e := range t.Entries {
		eb, err := anvil.EncodeTraceEntry(e)
		if err != nil {
			return errors.Wrapf(err, "encode entry %d", e.Index)
		}
		if _, err := stmt.ExecContext(ctx, id, e.Index, e.Action, e.Connection, e.Succeeded, e.Error, eb); err != nil {
			return errors.Wrapf(err, "store entry %d", e.Index)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Load reads back the run with the given id.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (t *anvil.Trace, found bool, err error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx, "select trace from runs where run_id = ?", id.String())
	switch err := row.Scan(&blob); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrap(err, "load run")
	}
	t, err = anvil.DecodeTrace(blob)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Run is the summary row of a stored trace.
type Run struct {
	ID        uuid.UUID
	Workflow  string
	Started   time.Time
	Finished  time.Time
	Succeeded bool
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "select run_id, workflow, started, finished, succeeded from runs order by started")
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.Workflow, &r.Started, &r.Finished, &r.Succeeded); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "run id %q", id)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "list runs")
}

// Failures returns the failed entries of a run in execution order.
func (s *Store) Failures(ctx context.Context, id uuid.UUID) ([]anvil.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"select entry from entries where run_id = ? and not succeeded order by idx", id.String())
	if err != nil {
		return nil, errors.Wrap(err, "query failures")
	}
	defer rows.Close()

	var out []anvil.TraceEntry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		e, err := anvil.DecodeTraceEntry(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "query failures")
}

// Prune deletes runs that finished before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		"delete from entries where run_id in (select run_id from runs where finished < ?)", cutoff); err != nil {
		return 0, errors.Wrap(err, "prune entries")
	}
	res, err := s.db.ExecContext(ctx, "delete from runs where finished < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "prune runs")
	}
	return res.RowsAffected()
}
