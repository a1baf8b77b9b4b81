package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/BKyryl/iesi/pkg/schema"
)

// OpenLibSQL opens a libSQL database and applies the connection PRAGMAs.
// The dsn should be a file URI, e.g. "file:/path/to/db.db".
func OpenLibSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}
	return db, nil
}

// LibSQLStore implements ResultStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a ResultStore.
func NewLibSQLStore(dsn string) (*LibSQLStore, error) {
	db, err := OpenLibSQL(dsn)
	if err != nil {
		return nil, err
	}
	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, s.db, resultMigrations)
}

// --- Scripts ---

func (s *LibSQLStore) InsertScriptStart(ctx context.Context, r *ScriptResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_results (run_id, prc_id, parent_prc_id, script_id, script_name, script_version, env_name, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ProcessID, r.ParentProcessID, r.ScriptID, nullStr(r.ScriptName), r.ScriptVersion,
		nullStr(r.Environment), statusOr(r.Status, schema.StatusActive), timeOrNow(r.StartedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateScriptEnd(ctx context.Context, runID string, processID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE script_results SET status = ?, ended_at = ? WHERE run_id = ? AND prc_id = ?`,
		status, time.Now().UTC(), runID, processID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "script result", processKey(runID, processID))
}

func (s *LibSQLStore) GetScriptResult(ctx context.Context, runID string, processID int64) (*ScriptResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, prc_id, parent_prc_id, script_id, script_name, script_version, env_name, status, started_at, ended_at
		 FROM script_results WHERE run_id = ? AND prc_id = ?`, runID, processID)
	r, err := scanScriptResult(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("script result", processKey(runID, processID))
	}
	return r, err
}

func (s *LibSQLStore) ListScriptResults(ctx context.Context, runID string) ([]*ScriptResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, prc_id, parent_prc_id, script_id, script_name, script_version, env_name, status, started_at, ended_at
		 FROM script_results WHERE run_id = ? ORDER BY prc_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*ScriptResult
	for rows.Next() {
		r, err := scanScriptResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScriptResult(row rowScanner) (*ScriptResult, error) {
	r := &ScriptResult{}
	var name, env sql.NullString
	var ended sql.NullTime
	if err := row.Scan(&r.RunID, &r.ProcessID, &r.ParentProcessID, &r.ScriptID, &name, &r.ScriptVersion,
		&env, &r.Status, &r.StartedAt, &ended); err != nil {
		return nil, err
	}
	r.ScriptName = name.String
	r.Environment = env.String
	if ended.Valid {
		r.EndedAt = &ended.Time
	}
	return r, nil
}

// --- Actions ---

func (s *LibSQLStore) InsertActionStart(ctx context.Context, r *ActionResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_results (run_id, prc_id, script_prc_id, action_id, action_name, env_name, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ProcessID, r.ScriptProcessID, r.ActionID, nullStr(r.ActionName), nullStr(r.Environment),
		statusOr(r.Status, schema.StatusActive), timeOrNow(r.StartedAt),
	)
	return err
}

// InsertActionSkip records a skipped action whose start and end coincide.
func (s *LibSQLStore) InsertActionSkip(ctx context.Context, r *ActionResult) error {
	now := timeOrNow(r.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_results (run_id, prc_id, script_prc_id, action_id, action_name, env_name, status, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ProcessID, r.ScriptProcessID, r.ActionID, nullStr(r.ActionName), nullStr(r.Environment),
		string(schema.StatusSkipped), now, now,
	)
	return err
}

func (s *LibSQLStore) UpdateActionEnd(ctx context.Context, runID string, processID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_results SET status = ?, ended_at = ? WHERE run_id = ? AND prc_id = ?`,
		status, time.Now().UTC(), runID, processID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "action result", processKey(runID, processID))
}

func (s *LibSQLStore) ListActionResults(ctx context.Context, filter ActionResultFilter) ([]*ActionResult, error) {
	query := `SELECT run_id, prc_id, script_prc_id, action_id, action_name, env_name, status, started_at, ended_at FROM action_results`
	var where []string
	var args []any

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.ScriptProcessID > 0 {
		where = append(where, "script_prc_id = ?")
		args = append(args, filter.ScriptProcessID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_id, prc_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*ActionResult
	for rows.Next() {
		r := &ActionResult{}
		var name, env sql.NullString
		var ended sql.NullTime
		if err := rows.Scan(&r.RunID, &r.ProcessID, &r.ScriptProcessID, &r.ActionID, &name, &env,
			&r.Status, &r.StartedAt, &ended); err != nil {
			return nil, err
		}
		r.ActionName = name.String
		r.Environment = env.String
		if ended.Valid {
			r.EndedAt = &ended.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Outputs ---

func (s *LibSQLStore) InsertScriptOutput(ctx context.Context, o *Output) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_outputs (run_id, prc_id, script_id, name, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, prc_id, name) DO UPDATE SET value=excluded.value`,
		o.RunID, o.ProcessID, o.OwnerID, o.Name, o.Value,
	)
	return err
}

func (s *LibSQLStore) InsertActionOutput(ctx context.Context, o *Output) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_outputs (run_id, prc_id, action_id, name, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, prc_id, name) DO UPDATE SET value=excluded.value`,
		o.RunID, o.ProcessID, o.OwnerID, o.Name, o.Value,
	)
	return err
}

func (s *LibSQLStore) ListOutputs(ctx context.Context, kind OutputKind, runID string, processID int64) ([]*Output, error) {
	var query string
	switch kind {
	case OutputScript:
		query = `SELECT run_id, prc_id, script_id, name, value FROM script_outputs WHERE run_id = ? AND prc_id = ? ORDER BY name`
	case OutputAction:
		query = `SELECT run_id, prc_id, action_id, name, value FROM action_outputs WHERE run_id = ? AND prc_id = ? ORDER BY name`
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown output kind %q", kind)
	}

	rows, err := s.db.QueryContext(ctx, query, runID, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []*Output
	for rows.Next() {
		o := &Output{}
		var value sql.NullString
		if err := rows.Scan(&o.RunID, &o.ProcessID, &o.OwnerID, &o.Name, &value); err != nil {
			return nil, err
		}
		o.Value = value.String
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

// --- Design trace ---

func (s *LibSQLStore) InsertDesignTrace(ctx context.Context, t *DesignTrace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO script_design_traces (run_id, prc_id, parent_prc_id, script_id, design, traced_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, prc_id) DO UPDATE SET design=excluded.design, traced_at=excluded.traced_at`,
		t.RunID, t.ProcessID, t.ParentProcessID, t.ScriptID, string(t.Design), timeOrNow(t.TracedAt),
	)
	return err
}

func (s *LibSQLStore) GetDesignTrace(ctx context.Context, runID string, processID int64) (*DesignTrace, error) {
	t := &DesignTrace{}
	var design string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, prc_id, parent_prc_id, script_id, design, traced_at
		 FROM script_design_traces WHERE run_id = ? AND prc_id = ?`, runID, processID,
	).Scan(&t.RunID, &t.ProcessID, &t.ParentProcessID, &t.ScriptID, &design, &t.TracedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("design trace", processKey(runID, processID))
	}
	if err != nil {
		return nil, err
	}
	t.Design = []byte(design)
	return t, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.IesiError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func processKey(runID string, processID int64) string {
	return fmt.Sprintf("%s/%d", runID, processID)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func statusOr(s string, def schema.Status) string {
	if s == "" {
		return string(def)
	}
	return s
}

var _ ResultStore = (*LibSQLStore)(nil)
