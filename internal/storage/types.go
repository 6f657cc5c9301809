package storage

import (
	"errors"
	"time"
)

var (
	// ErrValidation covers bad input: empty or over-long content, a
	// fire-at that is not in the future. No state changes.
	ErrValidation = errors.New("storage: validation failed")

	// ErrLimitExceeded is returned when a user is at their task or
	// reminder cap. No state changes.
	ErrLimitExceeded = errors.New("storage: limit exceeded")

	// ErrNotFound is returned when a task or reminder id does not exist
	// for the user.
	ErrNotFound = errors.New("storage: not found")

	// ErrCorruptStore is returned when the on-disk document exists but is
	// not parseable as the expected container format. Distinct from a
	// per-user decrypt failure, which is isolated to that user's entry.
	ErrCorruptStore = errors.New("storage: corrupt document")
)

type ReminderKind string

const (
	KindCustom   ReminderKind = "custom"
	KindDeadline ReminderKind = "deadline"
)

// Task is a single to-do item. IDs are per-user sequential, assigned as
// max(existing)+1 and never reused after deletion.
type Task struct {
	ID        int        `json:"id"`
	Content   string     `json:"content"`
	Completed bool       `json:"completed"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Reminder is a scheduled direct-message notification. Deadline-kind
// reminders are generated from a task's deadline and track it via
// LinkedTaskID; they are removed when the task completes, is removed, or its
// deadline changes.
type Reminder struct {
	ID           int          `json:"id"`
	Message      string       `json:"message"`
	FireAt       time.Time    `json:"fire_at"`
	Delivered    bool         `json:"delivered"`
	Failed       bool         `json:"failed,omitempty"`
	Kind         ReminderKind `json:"kind"`
	LinkedTaskID int          `json:"linked_task_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DueReminder pairs a due reminder with the addressing info the dispatcher
// needs: the raw user identifier for delivery and the digest for write-back.
type DueReminder struct {
	UserID   string
	Digest   string
	Reminder Reminder
}

// Limits are the per-user constraints enforced by the repository.
type Limits struct {
	MaxTasks      int
	MaxReminders  int
	MaxContentLen int
}

func (l Limits) withDefaults() Limits {
	if l.MaxTasks <= 0 {
		l.MaxTasks = 50
	}
	if l.MaxReminders <= 0 {
		l.MaxReminders = 20
	}
	if l.MaxContentLen <= 0 {
		l.MaxContentLen = 200
	}
	return l
}

// userData is the decrypted per-user payload. RawID keeps the external
// identifier inside the sealed blob so the dispatcher can address direct
// messages without the identifier ever appearing in plaintext at rest.
type userData struct {
	RawID     string     `json:"raw_id,omitempty"`
	Tasks     []Task     `json:"tasks,omitempty"`
	Reminders []Reminder `json:"reminders,omitempty"`
}

// empty ignores RawID: the identifier alone is not worth persisting once the
// user has no tasks or reminders left.
func (d *userData) empty() bool {
	return len(d.Tasks) == 0 && len(d.Reminders) == 0
}

func nextTaskID(tasks []Task) int {
	max := 0
	for _, t := range tasks {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

func nextReminderID(rs []Reminder) int {
	max := 0
	for _, r := range rs {
		if r.ID > max {
			max = r.ID
		}
	}
	return max + 1
}
