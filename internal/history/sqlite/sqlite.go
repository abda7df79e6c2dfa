package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/frpmon/internal/history"
)

// Sink writes run history to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection: every new connection to :memory: would be a fresh database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS run_history(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		type TEXT NOT NULL,
		run_id TEXT NOT NULL,
		pid INTEGER NOT NULL,
		exe TEXT NOT NULL,
		args TEXT,
		exit_code INTEGER,
		reason TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_history(occurred_at, type, run_id, pid, exe, args, exit_code, reason)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), rec.RunID, rec.PID, rec.Exe, string(args), rec.ExitCode, rec.Reason)
	return err
}

// Runs returns the events recorded for runID, oldest first.
func (s *Sink) Runs(ctx context.Context, runID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, type, pid, exe, args, exit_code, reason
		FROM run_history WHERE run_id = ? ORDER BY rowid;`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e      history.Event
			at     any
			typ    string
			args   sql.NullString
			code   sql.NullInt64
			reason sql.NullString
		)
		if err := rows.Scan(&at, &typ, &e.Record.PID, &e.Record.Exe, &args, &code, &reason); err != nil {
			return nil, err
		}
		if ts, ok := at.(time.Time); ok {
			e.OccurredAt = ts
		}
		e.Type = history.EventType(typ)
		e.Record.RunID = runID
		e.Record.Reason = reason.String
		if args.Valid && args.String != "" {
			_ = json.Unmarshal([]byte(args.String), &e.Record.Args)
		}
		if code.Valid {
			c := int(code.Int64)
			e.Record.ExitCode = &c
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
