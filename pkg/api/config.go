package api

import "time"

// Config carries the recognized deployment options. It is built once and
// injected into each collaborator; nothing reads ambient process state.
type Config struct {
	// Endpoint and Credential identify the external document store.
	// They are opaque to the orchestration core and only handed to the
	// document-store client.
	Endpoint   string
	Credential string

	// AllowedOrigins is the CORS allow-list. Requests carrying an
	// Origin header not on this list are rejected outright.
	AllowedOrigins []string

	// PollInterval is the cadence of the change-feed poll loop.
	PollInterval time.Duration

	// ApprovalDeadline bounds the stakeholder fan-out wait.
	ApprovalDeadline time.Duration

	// ActivityMaxAttempts is the bounded retry budget for transient
	// activity failures, including the first attempt.
	ActivityMaxAttempts uint64

	// ActivityBaseBackoff is the initial delay of the exponential
	// backoff between activity attempts.
	ActivityBaseBackoff time.Duration

	// WorkerCount is the size of the activity dispatcher pool.
	WorkerCount int
}

// DefaultConfig returns a Config with the defaults used when a field is
// left zero.
func DefaultConfig() Config {
	return Config{
		PollInterval:        15 * time.Second,
		ApprovalDeadline:    time.Minute,
		ActivityMaxAttempts: 4,
		ActivityBaseBackoff: 250 * time.Millisecond,
		WorkerCount:         4,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ApprovalDeadline <= 0 {
		c.ApprovalDeadline = def.ApprovalDeadline
	}
	if c.ActivityMaxAttempts == 0 {
		c.ActivityMaxAttempts = def.ActivityMaxAttempts
	}
	if c.ActivityBaseBackoff <= 0 {
		c.ActivityBaseBackoff = def.ActivityBaseBackoff
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	return c
}
