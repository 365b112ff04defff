package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/docflowio/docflow/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			custom_status TEXT NOT NULL DEFAULT '',
			input BLOB,
			output BLOB,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			type TEXT NOT NULL,
			task_id INTEGER NOT NULL DEFAULT -1,
			name TEXT NOT NULL DEFAULT '',
			input BLOB,
			result BLOB,
			error TEXT NOT NULL DEFAULT '',
			fire_at INTEGER NOT NULL DEFAULT 0,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_instance
			ON history_events(instance_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_history_completion
			ON history_events(instance_id, task_id)
			WHERE type IN ('activity.completed', 'timer.fired');
	`)
	return err
}

func (s *SQLiteStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	now := time.Now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, workflow, status, custom_status, input, output, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Workflow,
		string(inst.Status),
		inst.CustomStatus,
		[]byte(inst.Input),
		[]byte(inst.Output),
		inst.Error,
		inst.CreatedAt.UnixNano(),
		inst.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	inst.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET workflow = ?, status = ?, custom_status = ?, input = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		inst.Workflow,
		string(inst.Status),
		inst.CustomStatus,
		[]byte(inst.Input),
		[]byte(inst.Output),
		inst.Error,
		inst.UpdatedAt.UnixNano(),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrInstanceNotFound
	}
	return nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, status, custom_status, input, output, error, created_at, updated_at
		FROM instances
		WHERE id = ?`,
		id,
	)
	inst, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `
		SELECT id, workflow, status, custom_status, input, output, error, created_at, updated_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.Instance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (int64, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history_events (instance_id, type, task_id, name, input, result, error, fire_at, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID,
		string(ev.Type),
		ev.TaskID,
		ev.Name,
		[]byte(ev.Input),
		[]byte(ev.Result),
		ev.Error,
		fireAtNanos(ev.FireAt),
		ev.At.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) AppendCompletion(ctx context.Context, ev api.HistoryEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	// The partial unique index rejects a second completion for the same
	// (instance, task id); OR IGNORE turns that into zero affected rows.
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_events (instance_id, type, task_id, name, input, result, error, fire_at, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID,
		string(ev.Type),
		ev.TaskID,
		ev.Name,
		[]byte(ev.Input),
		[]byte(ev.Result),
		ev.Error,
		fireAtNanos(ev.FireAt),
		ev.At.UnixNano(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrDuplicateCompletion
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instance_id, type, task_id, name, input, result, error, fire_at, at
		FROM history_events
		WHERE instance_id = ?
		ORDER BY seq ASC`,
		instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeInstance(ctx context.Context, instanceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, instanceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrInstanceNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_events WHERE instance_id = ?`, instanceID); err != nil {
		return err
	}
	return tx.Commit()
}

// scanInstance and scanEvent are shared with the Postgres store; both
// schemas store the same columns in the same order.

func scanInstance(scan func(dest ...any) error) (*api.Instance, error) {
	var inst api.Instance
	var statusStr string
	var input, output []byte
	var createdAt, updatedAt int64

	if err := scan(&inst.ID, &inst.Workflow, &statusStr, &inst.CustomStatus,
		&input, &output, &inst.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inst.Status = api.Status(statusStr)
	inst.Input = input
	inst.Output = output
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)
	return &inst, nil
}

func scanEvent(scan func(dest ...any) error) (api.HistoryEvent, error) {
	var ev api.HistoryEvent
	var typ string
	var input, result []byte
	var fireAt, at int64

	if err := scan(&ev.Seq, &ev.InstanceID, &typ, &ev.TaskID, &ev.Name,
		&input, &result, &ev.Error, &fireAt, &at); err != nil {
		return ev, err
	}
	ev.Type = api.EventType(typ)
	ev.Input = input
	ev.Result = result
	if fireAt != 0 {
		ev.FireAt = time.Unix(0, fireAt)
	}
	ev.At = time.Unix(0, at)
	return ev, nil
}

func fireAtNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
