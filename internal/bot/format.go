package bot

import (
	"fmt"
	"strings"
	"time"

	"todobot/internal/storage"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }

func renderTasks(tasks []storage.Task, now time.Time) string {
	if len(tasks) == 0 {
		return "📋 Your to-do list is empty. Add a task with /add."
	}
	var b strings.Builder
	b.WriteString("📋 <b>Your to-do list</b>\n")
	for _, t := range tasks {
		mark := "⬜️"
		if t.Completed {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s <b>#%d</b> %s", mark, t.ID, escape(t.Content))
		if t.Deadline != nil && !t.Completed {
			fmt.Fprintf(&b, "\n    ⏰ %s — %s", t.Deadline.Format("2006-01-02 15:04"), deadlineStatus(*t.Deadline, now))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func deadlineStatus(deadline, now time.Time) string {
	if !deadline.After(now) {
		return "⚠️ overdue"
	}
	left := deadline.Sub(now)
	days := int(left / (24 * time.Hour))
	hours := int(left/time.Hour) % 24
	minutes := int(left/time.Minute) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh remaining", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm remaining", hours, minutes)
	default:
		return fmt.Sprintf("%dm remaining", minutes)
	}
}

func renderReminders(rems []storage.Reminder) string {
	var pending []storage.Reminder
	for _, r := range rems {
		if !r.Delivered {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return "🔔 You have no active reminders. Set one with /remindme."
	}
	var b strings.Builder
	b.WriteString("🔔 <b>Your reminders</b>\n")
	for _, r := range pending {
		kind := ""
		if r.Kind == storage.KindDeadline {
			kind = fmt.Sprintf(" (deadline of task #%d)", r.LinkedTaskID)
		}
		fmt.Fprintf(&b, "• <b>#%d</b> %s — %s%s\n",
			r.ID, escape(r.Message), r.FireAt.Format("2006-01-02 15:04"), kind)
	}
	return b.String()
}
