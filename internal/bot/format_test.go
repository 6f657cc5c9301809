package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"todobot/internal/storage"
)

var now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func TestSplitPipe(t *testing.T) {
	l, r := splitPipe("buy milk | in 2 hours")
	require.Equal(t, "buy milk", l)
	require.Equal(t, "in 2 hours", r)

	l, r = splitPipe("  just a task  ")
	require.Equal(t, "just a task", l)
	require.Empty(t, r)

	l, r = splitPipe("task |")
	require.Equal(t, "task", l)
	require.Empty(t, r)
}

func TestDeadlineStatus(t *testing.T) {
	require.Equal(t, "⚠️ overdue", deadlineStatus(now.Add(-time.Minute), now))
	require.Equal(t, "⚠️ overdue", deadlineStatus(now, now))
	require.Equal(t, "45m remaining", deadlineStatus(now.Add(45*time.Minute), now))
	require.Equal(t, "3h 30m remaining", deadlineStatus(now.Add(3*time.Hour+30*time.Minute), now))
	require.Equal(t, "2d 5h remaining", deadlineStatus(now.Add(53*time.Hour), now))
}

func TestRenderTasks(t *testing.T) {
	require.Contains(t, renderTasks(nil, now), "empty")

	deadline := now.Add(2 * time.Hour)
	out := renderTasks([]storage.Task{
		{ID: 1, Content: "ship <v2>", Deadline: &deadline},
		{ID: 3, Content: "done thing", Completed: true, Deadline: &deadline},
	}, now)
	require.Contains(t, out, "⬜️ <b>#1</b> ship &lt;v2&gt;")
	require.Contains(t, out, "2h 0m remaining")
	require.Contains(t, out, "✅ <b>#3</b> done thing")
	// Completed tasks hide their deadline line.
	require.Equal(t, 1, strings.Count(out, "⏰"))
}

func TestRenderReminders(t *testing.T) {
	require.Contains(t, renderReminders(nil), "no active reminders")

	out := renderReminders([]storage.Reminder{
		{ID: 1, Message: "custom", FireAt: now, Kind: storage.KindCustom},
		{ID: 2, Message: "linked", FireAt: now, Kind: storage.KindDeadline, LinkedTaskID: 7},
		{ID: 3, Message: "gone", FireAt: now, Delivered: true},
	})
	require.Contains(t, out, "<b>#1</b> custom")
	require.Contains(t, out, "(deadline of task #7)")
	require.NotContains(t, out, "gone")
}
