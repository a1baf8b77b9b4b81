package variables

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/BKyryl/iesi/internal/store"
)

// LibSQLFileName is the runtime variable cache created inside a run cache directory.
const LibSQLFileName = "runtimeVariables.db3"

//go:embed migrations/001_runtime_variables.sql
var migration001 string

var migrations = []store.Migration{
	{Version: 1, Name: "runtime_variables", SQL: migration001},
}

// LibSQL persists runtime variables in the run cache directory.
type LibSQL struct {
	db    *sql.DB
	runID string
}

// OpenLibSQL is the Factory of the libsql provider.
func OpenLibSQL(ctx context.Context, run RunInfo) (Namespace, error) {
	db, err := store.OpenLibSQL("file:" + filepath.Join(run.CacheDir, LibSQLFileName))
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate runtime variables: %w", err)
	}
	return &LibSQL{db: db, runID: run.RunID}, nil
}

func (l *LibSQL) Set(ctx context.Context, name, value string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runtime_variables (run_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(run_id, name) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		l.runID, name, value,
	)
	return err
}

func (l *LibSQL) Get(ctx context.Context, name string) (string, bool, error) {
	var value sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM runtime_variables WHERE run_id = ? AND name = ?`, l.runID, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

func (l *LibSQL) Delete(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM runtime_variables WHERE run_id = ? AND name = ?`, l.runID, name)
	return err
}

func (l *LibSQL) All(ctx context.Context) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name, value FROM runtime_variables WHERE run_id = ?`, l.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		vars[name] = value.String
	}
	return vars, rows.Err()
}

func (l *LibSQL) Clear(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM runtime_variables WHERE run_id = ?`, l.runID)
	return err
}

func (l *LibSQL) Close() error { return l.db.Close() }

var _ Namespace = (*LibSQL)(nil)
