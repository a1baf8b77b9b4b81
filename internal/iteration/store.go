// Package iteration persists the named iteration variable sets of a run.
package iteration

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/pkg/schema"
)

// FileName is the iteration cache file created inside a run cache directory.
const FileName = "iterationExecutions.db3"

//go:embed migrations/001_iteration_exec.sql
var migration001 string

var migrations = []store.Migration{
	{Version: 1, Name: "iteration_exec", SQL: migration001},
}

// Variable is one named value of an iteration row.
type Variable struct {
	Name  string
	Value string
}

// Row is one source row; its variables keep column order.
type Row []Variable

// Instance is the set of variables recorded at one order position.
type Instance struct {
	Empty     bool
	Variables map[string]string
}

// SetName returns the generated name for the n-th set (1-based).
func SetName(n int) string {
	return "auto generated iteration set " + strconv.Itoa(n)
}

// Store is the libSQL-backed iteration cache of a run.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) the iteration cache inside dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	db, err := store.OpenLibSQL("file:" + filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate iteration cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DefineList replaces all sets of list for the run with one set per row.
func (s *Store) DefineList(ctx context.Context, runID, list string, rows []Row) error {
	return s.replace(ctx, runID, list, func(tx *sql.Tx) error {
		for i, row := range rows {
			order := i + 1
			for _, v := range row {
				if err := insertVariable(ctx, tx, runID, list, order, v.Name, v.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DefineValues replaces all sets of list with one set per comma-separated value.
// The n-th value is stored under the variable name "key.n".
func (s *Store) DefineValues(ctx context.Context, runID, list, values string) error {
	return s.replace(ctx, runID, list, func(tx *sql.Tx) error {
		if values == "" {
			return nil
		}
		for i, v := range strings.Split(values, ",") {
			order := i + 1
			if err := insertVariable(ctx, tx, runID, list, order, "key."+strconv.Itoa(order), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DefineRange clears the list and validates the numeric bounds.
// No sets are generated from the range yet, so a range-backed iteration
// currently yields zero instances.
func (s *Store) DefineRange(ctx context.Context, runID, list, from, to, step string) error {
	if _, err := parseBound("from", from); err != nil {
		return err
	}
	if _, err := parseBound("to", to); err != nil {
		return err
	}
	if _, err := parseBound("step", step); err != nil {
		return err
	}
	return s.CleanList(ctx, runID, list)
}

func parseBound(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeIteration, "iteration %s %q is not an integer", name, v).WithCause(err)
	}
	return n, nil
}

// Instance returns every variable stored at order for the run, across lists.
func (s *Store) Instance(ctx context.Context, runID string, order int) (Instance, error) {
	return s.instance(ctx,
		`SELECT var_nm, var_val FROM iteration_exec WHERE run_id = ? AND order_nb = ? ORDER BY rowid`,
		runID, order)
}

// ListInstance is Instance restricted to one list.
func (s *Store) ListInstance(ctx context.Context, runID, list string, order int) (Instance, error) {
	return s.instance(ctx,
		`SELECT var_nm, var_val FROM iteration_exec WHERE run_id = ? AND list_nm = ? AND order_nb = ? ORDER BY rowid`,
		runID, list, order)
}

func (s *Store) instance(ctx context.Context, query string, args ...any) (Instance, error) {
	inst := Instance{Empty: true, Variables: map[string]string{}}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return inst, fmt.Errorf("query iteration instance: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return inst, err
		}
		inst.Empty = false
		inst.Variables[name] = value.String
	}
	return inst, rows.Err()
}

// Variable returns the last stored value of an iteration variable for the run.
func (s *Store) Variable(ctx context.Context, runID, name string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT var_val FROM iteration_exec WHERE run_id = ? AND var_nm = ? ORDER BY rowid DESC LIMIT 1`,
		runID, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// Clean removes every iteration variable of the run.
func (s *Store) Clean(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM iteration_exec WHERE run_id = ?`, runID)
	return err
}

// CleanList removes the iteration variables of one list.
func (s *Store) CleanList(ctx context.Context, runID, list string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM iteration_exec WHERE run_id = ? AND list_nm = ?`, runID, list)
	return err
}

func (s *Store) replace(ctx context.Context, runID, list string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin iteration define: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM iteration_exec WHERE run_id = ? AND list_nm = ?`, runID, list); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clean iteration list %q: %w", list, err)
	}
	if err := fill(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertVariable(ctx context.Context, tx *sql.Tx, runID, list string, order int, name, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO iteration_exec (run_id, prc_id, list_id, list_nm, set_id, set_nm, order_nb, var_nm, var_val)
		 VALUES (?, -1, -1, ?, -1, ?, ?, ?, ?)`,
		runID, list, SetName(order), order, name, value,
	)
	if err != nil {
		return fmt.Errorf("insert iteration variable %q: %w", name, err)
	}
	return nil
}
