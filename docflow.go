package docflow

import (
	"database/sql"

	"github.com/docflowio/docflow/internal/engine"
	"github.com/docflowio/docflow/internal/history"
	"github.com/docflowio/docflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Config               = api.Config
	Instance             = api.Instance
	InstanceListOptions  = api.InstanceListOptions
	Status               = api.Status
	HistoryEvent         = api.HistoryEvent
	ActivityError        = api.ActivityError
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Runtime is the workflow runtime: it registers programs and
// activities, starts instances, routes events, and answers status
// queries.
type Runtime = engine.Runtime

// RuntimeOptions configures a Runtime.
type RuntimeOptions = engine.Options

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	DefaultConfig        = api.DefaultConfig
)

// Re-export status values for convenience.

const (
	StatusRunning    = api.StatusRunning
	StatusCompleted  = api.StatusCompleted
	StatusFailed     = api.StatusFailed
	StatusTerminated = api.StatusTerminated
)

// Runtime constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryRuntime returns a Runtime backed by an in-memory history
// store. State does not survive a restart; use it for tests and local
// development.
func NewInMemoryRuntime(opts RuntimeOptions) *Runtime {
	return engine.New(history.NewMemoryStore(), opts)
}

// NewSQLiteRuntime returns a Runtime that persists instance histories
// in a SQLite database.
func NewSQLiteRuntime(db *sql.DB, opts RuntimeOptions) (*Runtime, error) {
	store, err := history.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(store, opts), nil
}

// NewPostgresRuntime returns a Runtime that persists instance histories
// in PostgreSQL.
func NewPostgresRuntime(db *sql.DB, opts RuntimeOptions) (*Runtime, error) {
	store, err := history.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(store, opts), nil
}
