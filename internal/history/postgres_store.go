package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/docflowio/docflow/pkg/api"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB using a Postgres driver such as
// "github.com/lib/pq". Schema layout mirrors SQLiteStore so the two
// share the scan helpers.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given
// database and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			custom_status TEXT NOT NULL DEFAULT '',
			input BYTEA,
			output BYTEA,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history_events (
			seq BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL,
			type TEXT NOT NULL,
			task_id BIGINT NOT NULL DEFAULT -1,
			name TEXT NOT NULL DEFAULT '',
			input BYTEA,
			result BYTEA,
			error TEXT NOT NULL DEFAULT '',
			fire_at BIGINT NOT NULL DEFAULT 0,
			at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_instance
			ON history_events(instance_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_history_completion
			ON history_events(instance_id, task_id)
			WHERE type IN ('activity.completed', 'timer.fired');
	`)
	return err
}

func (s *PostgresStore) SaveInstance(ctx context.Context, inst *api.Instance) error {
	now := time.Now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, workflow, status, custom_status, input, output, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *api.Instance) error {
	inst.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET workflow = $1, status = $2, custom_status = $3, input = $4, output = $5, error = $6, updated_at = $7
		WHERE id = $8`,
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

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, status, custom_status, input, output, error, created_at, updated_at
		FROM instances
		WHERE id = $1`,
		id,
	)
	inst, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.Instance, error) {
	query := `
		SELECT id, workflow, status, custom_status, input, output, error, created_at, updated_at
		FROM instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		clauses = append(clauses, "workflow = $1")
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if len(args) == 1 {
			clauses = append(clauses, "status = $1")
		} else {
			clauses = append(clauses, "status = $2")
		}
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

func (s *PostgresStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) (int64, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO history_events (instance_id, type, task_id, name, input, result, error, fire_at, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		ev.InstanceID,
		string(ev.Type),
		ev.TaskID,
		ev.Name,
		[]byte(ev.Input),
		[]byte(ev.Result),
		ev.Error,
		fireAtNanos(ev.FireAt),
		ev.At.UnixNano(),
	).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) AppendCompletion(ctx context.Context, ev api.HistoryEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history_events (instance_id, type, task_id, name, input, result, error, fire_at, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
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

func (s *PostgresStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, instance_id, type, task_id, name, input, result, error, fire_at, at
		FROM history_events
		WHERE instance_id = $1
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

func (s *PostgresStore) PurgeInstance(ctx context.Context, instanceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, instanceID)
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
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_events WHERE instance_id = $1`, instanceID); err != nil {
		return err
	}
	return tx.Commit()
}
