package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"todobot/internal/cryptox"
	"todobot/pkg/logx"
)

// deadlineLead is how far before a task's deadline its reminder fires. A
// deadline closer than this fires immediately.
const deadlineLead = 12 * time.Hour

// Repo enforces per-user invariants over the cache: sequential ids, content
// length, task/reminder caps, and the deadline-reminder lifecycle. All
// mutating operations go through Cache.Update, which marks the entry dirty.
type Repo struct {
	cache  *Cache
	codec  *cryptox.Codec
	limits Limits
	log    logx.Logger

	now func() time.Time
}

func NewRepo(cache *Cache, codec *cryptox.Codec, limits Limits, log logx.Logger) *Repo {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repo{
		cache:  cache,
		codec:  codec,
		limits: limits.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

func (r *Repo) validateContent(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if len([]rune(s)) > r.limits.MaxContentLen {
		return fmt.Errorf("%w: content over %d characters", ErrValidation, r.limits.MaxContentLen)
	}
	return nil
}

// AddTask validates and appends a task. When a deadline is given the matching
// deadline-kind reminder is created in the same locked mutation.
func (r *Repo) AddTask(user, content string, deadline *time.Time) (Task, error) {
	if err := r.validateContent(content); err != nil {
		return Task{}, err
	}

	var task Task
	err := r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		if len(d.Tasks) >= r.limits.MaxTasks {
			return fmt.Errorf("%w: %d tasks", ErrLimitExceeded, r.limits.MaxTasks)
		}
		task = Task{
			ID:        nextTaskID(d.Tasks),
			Content:   content,
			Deadline:  deadline,
			CreatedAt: r.now(),
		}
		d.RawID = user
		d.Tasks = append(d.Tasks, task)
		if deadline != nil {
			r.putDeadlineReminder(d, task)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// SetDeadline updates a task's deadline, dropping the old linked reminder and
// generating a fresh one.
func (r *Repo) SetDeadline(user string, taskID int, deadline time.Time) error {
	return r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		i := taskIndex(d.Tasks, taskID)
		if i < 0 {
			return fmt.Errorf("%w: task %d", ErrNotFound, taskID)
		}
		d.Tasks[i].Deadline = &deadline
		d.RawID = user
		dropDeadlineReminder(d, taskID)
		if !d.Tasks[i].Completed {
			r.putDeadlineReminder(d, d.Tasks[i])
		}
		return nil
	})
}

// Complete sets a task's completed flag. Completing removes any linked
// deadline reminder; un-completing does not recreate it.
func (r *Repo) Complete(user string, taskID int, done bool) error {
	return r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		i := taskIndex(d.Tasks, taskID)
		if i < 0 {
			return fmt.Errorf("%w: task %d", ErrNotFound, taskID)
		}
		d.Tasks[i].Completed = done
		d.RawID = user
		if done {
			dropDeadlineReminder(d, taskID)
		}
		return nil
	})
}

// RemoveTask deletes a task and cascades to its deadline reminder. Remaining
// ids are untouched; ids are never reused.
func (r *Repo) RemoveTask(user string, taskID int) error {
	return r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		i := taskIndex(d.Tasks, taskID)
		if i < 0 {
			return fmt.Errorf("%w: task %d", ErrNotFound, taskID)
		}
		d.Tasks = append(d.Tasks[:i], d.Tasks[i+1:]...)
		d.RawID = user
		dropDeadlineReminder(d, taskID)
		return nil
	})
}

// ClearCompleted removes all completed tasks, returning the removed count.
func (r *Repo) ClearCompleted(user string) (int, error) {
	removed := 0
	err := r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		kept := d.Tasks[:0]
		for _, t := range d.Tasks {
			if t.Completed {
				removed++
				dropDeadlineReminder(d, t.ID)
				continue
			}
			kept = append(kept, t)
		}
		d.Tasks = kept
		d.RawID = user
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearAll removes every task and every deadline-kind reminder. Custom
// reminders survive.
func (r *Repo) ClearAll(user string) (int, error) {
	removed := 0
	err := r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		removed = len(d.Tasks)
		d.Tasks = nil
		kept := d.Reminders[:0]
		for _, rem := range d.Reminders {
			if rem.Kind != KindDeadline {
				kept = append(kept, rem)
			}
		}
		d.Reminders = kept
		d.RawID = user
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// AddReminder appends a custom reminder. fireAt must be strictly in the
// future relative to call time.
func (r *Repo) AddReminder(user, message string, fireAt time.Time) (Reminder, error) {
	if err := r.validateContent(message); err != nil {
		return Reminder{}, err
	}
	if !fireAt.After(r.now()) {
		return Reminder{}, fmt.Errorf("%w: fire time is in the past", ErrValidation)
	}

	var rem Reminder
	err := r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		if len(d.Reminders) >= r.limits.MaxReminders {
			return fmt.Errorf("%w: %d reminders", ErrLimitExceeded, r.limits.MaxReminders)
		}
		rem = Reminder{
			ID:        nextReminderID(d.Reminders),
			Message:   message,
			FireAt:    fireAt,
			Kind:      KindCustom,
			CreatedAt: r.now(),
		}
		d.RawID = user
		d.Reminders = append(d.Reminders, rem)
		return nil
	})
	if err != nil {
		return Reminder{}, err
	}
	return rem, nil
}

// RemoveReminder deletes one reminder by id.
func (r *Repo) RemoveReminder(user string, reminderID int) error {
	return r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		for i, rem := range d.Reminders {
			if rem.ID == reminderID {
				d.Reminders = append(d.Reminders[:i], d.Reminders[i+1:]...)
				d.RawID = user
				return nil
			}
		}
		return fmt.Errorf("%w: reminder %d", ErrNotFound, reminderID)
	})
}

// ClearReminders removes all of a user's reminders, returning the count.
func (r *Repo) ClearReminders(user string) (int, error) {
	removed := 0
	err := r.cache.Update(r.codec.HashID(user), func(d *userData) error {
		removed = len(d.Reminders)
		d.Reminders = nil
		d.RawID = user
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Tasks returns an id-ordered snapshot of the user's tasks. Callers never see
// later mutations.
func (r *Repo) Tasks(user string) []Task {
	var out []Task
	r.cache.View(r.codec.HashID(user), func(d *userData) {
		out = append([]Task(nil), d.Tasks...)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reminders returns an id-ordered snapshot of the user's reminders.
func (r *Repo) Reminders(user string) []Reminder {
	var out []Reminder
	r.cache.View(r.codec.HashID(user), func(d *userData) {
		out = append([]Reminder(nil), d.Reminders...)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DueReminders scans every known user (cached or on-disk) for undelivered
// reminders with FireAt <= now. The scan loads uncached users read-only and
// never marks anything dirty.
func (r *Repo) DueReminders(now time.Time) []DueReminder {
	var due []DueReminder
	for _, digest := range r.cache.Digests() {
		r.cache.View(digest, func(d *userData) {
			for _, rem := range d.Reminders {
				if rem.Delivered || rem.FireAt.After(now) {
					continue
				}
				due = append(due, DueReminder{
					UserID:   d.RawID,
					Digest:   digest,
					Reminder: rem,
				})
			}
		})
	}
	return due
}

// MarkDelivered records a delivery outcome. Idempotent: re-marking a
// delivered reminder is a no-op. failed=true additionally flags the reminder
// as given up on after the dispatcher's failure cap.
func (r *Repo) MarkDelivered(digest string, reminderID int, failed bool) error {
	return r.cache.Update(digest, func(d *userData) error {
		for i, rem := range d.Reminders {
			if rem.ID != reminderID {
				continue
			}
			if rem.Delivered && rem.Failed == failed {
				return errNoChange
			}
			d.Reminders[i].Delivered = true
			d.Reminders[i].Failed = failed
			return nil
		}
		return fmt.Errorf("%w: reminder %d", ErrNotFound, reminderID)
	})
}

// putDeadlineReminder installs the reminder for a task's deadline: it fires
// deadlineLead before the deadline, or immediately when the deadline is
// already within the lead window. At the reminder cap the task is kept and
// the reminder skipped with a warning.
func (r *Repo) putDeadlineReminder(d *userData, task Task) {
	if task.Deadline == nil {
		return
	}
	if len(d.Reminders) >= r.limits.MaxReminders {
		r.log.Warn("reminder cap reached, deadline reminder skipped",
			logx.Int("task_id", task.ID))
		return
	}
	fireAt := task.Deadline.Add(-deadlineLead)
	if now := r.now(); fireAt.Before(now) {
		fireAt = now
	}
	d.Reminders = append(d.Reminders, Reminder{
		ID:           nextReminderID(d.Reminders),
		Message:      task.Content,
		FireAt:       fireAt,
		Kind:         KindDeadline,
		LinkedTaskID: task.ID,
		CreatedAt:    r.now(),
	})
}

func dropDeadlineReminder(d *userData, taskID int) {
	kept := d.Reminders[:0]
	for _, rem := range d.Reminders {
		if rem.Kind == KindDeadline && rem.LinkedTaskID == taskID {
			continue
		}
		kept = append(kept, rem)
	}
	d.Reminders = kept
}

func taskIndex(tasks []Task, id int) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
