// Package bot routes chat commands to the repository and renders replies.
package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"todobot/internal/storage"
	"todobot/internal/timeparse"
	"todobot/pkg/logx"
)

type Router struct {
	repo *storage.Repo
	log  logx.Logger
	now  func() time.Time
}

func NewRouter(repo *storage.Repo, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{repo: repo, log: log, now: time.Now}
}

// Register attaches all command handlers and publishes the command menu.
func (r *Router) Register(b *tele.Bot) {
	b.Handle("/add", r.wrap(r.handleAdd))
	b.Handle("/list", r.wrap(r.handleList))
	b.Handle("/deadline", r.wrap(r.handleDeadline))
	b.Handle("/complete", r.wrap(r.handleComplete))
	b.Handle("/uncomplete", r.wrap(r.handleUncomplete))
	b.Handle("/remove", r.wrap(r.handleRemove))
	b.Handle("/clear", r.wrap(r.handleClear))
	b.Handle("/clearall", r.wrap(r.handleClearAll))
	b.Handle("/remindme", r.wrap(r.handleRemindMe))
	b.Handle("/reminders", r.wrap(r.handleReminders))
	b.Handle("/delreminder", r.wrap(r.handleDelReminder))
	b.Handle("/clearreminders", r.wrap(r.handleClearReminders))
	b.Handle("/help", r.wrap(r.handleHelp))
	b.Handle("/start", r.wrap(r.handleHelp))

	if err := b.SetCommands(menuCommands); err != nil {
		r.log.Warn("command menu update failed", logx.Err(err))
	}
}

var menuCommands = []tele.Command{
	{Text: "add", Description: "Add a task (task | deadline)"},
	{Text: "list", Description: "Show your to-do list"},
	{Text: "deadline", Description: "Set a task deadline"},
	{Text: "complete", Description: "Mark a task completed"},
	{Text: "remove", Description: "Remove a task"},
	{Text: "remindme", Description: "Set a reminder (message | time)"},
	{Text: "reminders", Description: "Show your reminders"},
	{Text: "help", Description: "Show help"},
}

type handler func(c tele.Context, user string, payload string) error

// wrap resolves the sender, logs handler errors, and keeps every reply in
// HTML mode. Command handlers never bubble errors into telebot's poller.
func (r *Router) wrap(h handler) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		user := strconv.FormatInt(sender.ID, 10)
		if err := h(c, user, strings.TrimSpace(c.Message().Payload)); err != nil {
			r.log.Warn("command failed",
				logx.String("cmd", firstToken(c.Text())), logx.Err(err))
			return c.Send("❌ Something went wrong. Please try again.")
		}
		return nil
	}
}

func (r *Router) handleAdd(c tele.Context, user, payload string) error {
	if payload == "" {
		return c.Send("Usage: /add <task> or /add <task> | <deadline>")
	}
	content, deadlineStr := splitPipe(payload)

	var deadline *time.Time
	if deadlineStr != "" {
		t, err := timeparse.ParseDeadline(deadlineStr, r.now())
		if err != nil {
			return c.Send(fmt.Sprintf("❌ Could not understand deadline %q. Try \"in 2 hours\" or \"2024-12-31 17:00\".", deadlineStr))
		}
		deadline = &t
	}

	task, err := r.repo.AddTask(user, content, deadline)
	switch {
	case errors.Is(err, storage.ErrLimitExceeded):
		return c.Send("❌ Your to-do list is full. Complete or remove some tasks first.")
	case errors.Is(err, storage.ErrValidation):
		return c.Send("❌ Task text must be 1-200 characters.")
	case err != nil:
		return err
	}

	reply := fmt.Sprintf("✅ Added task #%d: %s", task.ID, escape(task.Content))
	if task.Deadline != nil {
		reply += fmt.Sprintf("\n⏰ Deadline: %s (reminder 12h before)", task.Deadline.Format("2006-01-02 15:04"))
	}
	return c.Send(reply, tele.ModeHTML)
}

func (r *Router) handleList(c tele.Context, user, _ string) error {
	tasks := r.repo.Tasks(user)
	return c.Send(renderTasks(tasks, r.now()), tele.ModeHTML)
}

func (r *Router) handleDeadline(c tele.Context, user, payload string) error {
	fields := strings.SplitN(payload, " ", 2)
	if len(fields) < 2 {
		return c.Send("Usage: /deadline <task id> <deadline>")
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return c.Send("❌ Task id must be a number.")
	}
	deadline, err := timeparse.ParseDeadline(strings.TrimSpace(fields[1]), r.now())
	if err != nil {
		return c.Send("❌ Could not understand that deadline. Try \"in 2 hours\" or \"2024-12-31 17:00\".")
	}

	if err := r.repo.SetDeadline(user, id, deadline); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send(fmt.Sprintf("❌ Task #%d not found.", id))
		}
		return err
	}
	return c.Send(fmt.Sprintf("⏰ Task #%d deadline set to %s.", id, deadline.Format("2006-01-02 15:04")))
}

func (r *Router) handleComplete(c tele.Context, user, payload string) error {
	return r.setCompleted(c, user, payload, true)
}

func (r *Router) handleUncomplete(c tele.Context, user, payload string) error {
	return r.setCompleted(c, user, payload, false)
}

func (r *Router) setCompleted(c tele.Context, user, payload string, done bool) error {
	id, err := strconv.Atoi(payload)
	if err != nil {
		return c.Send("Usage: /complete <task id>")
	}
	if err := r.repo.Complete(user, id, done); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send(fmt.Sprintf("❌ Task #%d not found.", id))
		}
		return err
	}
	if done {
		return c.Send(fmt.Sprintf("🎉 Task #%d completed!", id))
	}
	return c.Send(fmt.Sprintf("↩️ Task #%d marked as not completed.", id))
}

func (r *Router) handleRemove(c tele.Context, user, payload string) error {
	id, err := strconv.Atoi(payload)
	if err != nil {
		return c.Send("Usage: /remove <task id>")
	}
	if err := r.repo.RemoveTask(user, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send(fmt.Sprintf("❌ Task #%d not found.", id))
		}
		return err
	}
	return c.Send(fmt.Sprintf("🗑 Task #%d removed.", id))
}

func (r *Router) handleClear(c tele.Context, user, _ string) error {
	n, err := r.repo.ClearCompleted(user)
	if err != nil {
		return err
	}
	if n == 0 {
		return c.Send("No completed tasks to clear.")
	}
	return c.Send(fmt.Sprintf("🧹 Cleared %d completed task(s).", n))
}

func (r *Router) handleClearAll(c tele.Context, user, _ string) error {
	n, err := r.repo.ClearAll(user)
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("🧹 Removed all %d task(s).", n))
}

func (r *Router) handleRemindMe(c tele.Context, user, payload string) error {
	message, timeStr := splitPipe(payload)
	if message == "" || timeStr == "" {
		return c.Send("Usage: /remindme <message> | <time>\nExamples: /remindme Take medicine | in 30 minutes")
	}
	fireAt, err := timeparse.Parse(timeStr, r.now())
	if err != nil {
		return c.Send(fmt.Sprintf("❌ Could not understand time %q. Try \"in 30 minutes\" or \"14:30\".", timeStr))
	}

	rem, err := r.repo.AddReminder(user, message, fireAt)
	switch {
	case errors.Is(err, storage.ErrLimitExceeded):
		return c.Send("❌ You have too many reminders. Delete some first.")
	case errors.Is(err, storage.ErrValidation):
		return c.Send("❌ Reminder time must be in the future and the message 1-200 characters.")
	case err != nil:
		return err
	}
	return c.Send(fmt.Sprintf("🔔 Reminder #%d set for %s.", rem.ID, rem.FireAt.Format("2006-01-02 15:04")))
}

func (r *Router) handleReminders(c tele.Context, user, _ string) error {
	rems := r.repo.Reminders(user)
	return c.Send(renderReminders(rems), tele.ModeHTML)
}

func (r *Router) handleDelReminder(c tele.Context, user, payload string) error {
	id, err := strconv.Atoi(payload)
	if err != nil {
		return c.Send("Usage: /delreminder <reminder id>")
	}
	if err := r.repo.RemoveReminder(user, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send(fmt.Sprintf("❌ Reminder #%d not found.", id))
		}
		return err
	}
	return c.Send(fmt.Sprintf("🗑 Reminder #%d deleted.", id))
}

func (r *Router) handleClearReminders(c tele.Context, user, _ string) error {
	n, err := r.repo.ClearReminders(user)
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("🧹 Deleted %d reminder(s).", n))
}

func (r *Router) handleHelp(c tele.Context, _, _ string) error {
	return c.Send(helpText, tele.ModeHTML)
}

// splitPipe splits "left | right" payloads, trimming both sides. Right is
// empty when no pipe is present.
func splitPipe(s string) (left, right string) {
	if i := strings.Index(s, "|"); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s), ""
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
