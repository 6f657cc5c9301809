package dispatch

import (
	"time"

	"todobot/internal/storage"
)

// Config controls the reminder dispatch service.
type Config struct {
	Enabled bool
	// Interval between dispatch cycles. Default 2m. Cycles never overlap;
	// a tick that arrives while a cycle is running is skipped.
	Interval time.Duration
	// MaxConcurrent bounds in-flight deliveries per cycle. Default 10.
	MaxConcurrent int
	// FailureCap is the number of consecutive failed cycles after which a
	// reminder is marked delivered with a failure flag. Default 5.
	FailureCap int
	// SendTimeout bounds a single delivery attempt. Default 30s.
	SendTimeout time.Duration
	// HistorySize bounds the in-memory ring of cycle outcomes. Default 100.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.FailureCap <= 0 {
		c.FailureCap = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// State labels where the service is inside a cycle.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateDispatching State = "dispatching"
)

// CycleStats records one dispatch cycle's outcome.
type CycleStats struct {
	Started   time.Time
	Duration  time.Duration
	Scanned   int
	Delivered int
	Failed    int
	GivenUp   int
	Backoff   bool // cycle aborted early on a rate-limit signal
}

// Repository is the slice of the storage layer the dispatcher needs.
type Repository interface {
	DueReminders(now time.Time) []storage.DueReminder
	MarkDelivered(digest string, reminderID int, failed bool) error
}
