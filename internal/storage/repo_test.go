package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"todobot/internal/cryptox"
	"todobot/pkg/logx"
)

func newTestRepo(t *testing.T) (*Repo, *time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	codec, err := cryptox.New("test-secret", true)
	require.NoError(t, err)
	doc, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	cache := NewCache(CacheConfig{Debounce: time.Hour}, doc, codec, logx.Nop())
	repo := NewRepo(cache, codec, Limits{}, logx.Nop())

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	clock := &now
	repo.now = func() time.Time { return *clock }
	return repo, clock
}

func TestAddTaskAssignsSequentialIDs(t *testing.T) {
	repo, _ := newTestRepo(t)

	for i := 1; i <= 3; i++ {
		task, err := repo.AddTask("user-1", "task", nil)
		require.NoError(t, err)
		require.Equal(t, i, task.ID)
	}
}

func TestTaskIDsNeverReused(t *testing.T) {
	repo, _ := newTestRepo(t)

	for i := 0; i < 3; i++ {
		_, err := repo.AddTask("user-1", "task", nil)
		require.NoError(t, err)
	}
	require.NoError(t, repo.RemoveTask("user-1", 3))
	require.NoError(t, repo.RemoveTask("user-1", 2))

	task, err := repo.AddTask("user-1", "after deletions", nil)
	require.NoError(t, err)
	require.Equal(t, 4, task.ID, "ids must stay strictly increasing")

	// Remaining ids are untouched, no renumbering.
	tasks := repo.Tasks("user-1")
	require.Equal(t, []int{1, 4}, []int{tasks[0].ID, tasks[1].ID})
}

func TestAddTaskLimit(t *testing.T) {
	repo, _ := newTestRepo(t)

	for i := 0; i < 50; i++ {
		_, err := repo.AddTask("user-1", "task", nil)
		require.NoError(t, err)
	}
	_, err := repo.AddTask("user-1", "one too many", nil)
	require.ErrorIs(t, err, ErrLimitExceeded)
	require.Len(t, repo.Tasks("user-1"), 50)
}

func TestAddTaskValidation(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.AddTask("user-1", "   ", nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = repo.AddTask("user-1", strings.Repeat("x", 201), nil)
	require.ErrorIs(t, err, ErrValidation)

	// 200 runes exactly is fine, including multibyte.
	_, err = repo.AddTask("user-1", strings.Repeat("я", 200), nil)
	require.NoError(t, err)
}

func TestUsersAreIsolated(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.AddTask("user-1", "mine", nil)
	require.NoError(t, err)
	require.Empty(t, repo.Tasks("user-2"))
}

func TestDeadlineReminderFarDeadline(t *testing.T) {
	repo, clock := newTestRepo(t)

	deadline := clock.Add(48 * time.Hour)
	task, err := repo.AddTask("user-1", "Write report", &deadline)
	require.NoError(t, err)

	rems := repo.Reminders("user-1")
	require.Len(t, rems, 1)
	require.Equal(t, KindDeadline, rems[0].Kind)
	require.Equal(t, task.ID, rems[0].LinkedTaskID)
	require.Equal(t, deadline.Add(-12*time.Hour), rems[0].FireAt)
}

func TestDeadlineReminderNearDeadlineFiresImmediately(t *testing.T) {
	repo, clock := newTestRepo(t)

	deadline := clock.Add(2 * time.Hour)
	_, err := repo.AddTask("user-1", "Buy milk", &deadline)
	require.NoError(t, err)

	rems := repo.Reminders("user-1")
	require.Len(t, rems, 1)
	require.Equal(t, *clock, rems[0].FireAt, "deadline within 12h fires now")
}

func TestCompleteRemovesDeadlineReminder(t *testing.T) {
	repo, clock := newTestRepo(t)

	deadline := clock.Add(48 * time.Hour)
	task, err := repo.AddTask("user-1", "task", &deadline)
	require.NoError(t, err)
	require.Len(t, repo.Reminders("user-1"), 1)

	require.NoError(t, repo.Complete("user-1", task.ID, true))
	require.Empty(t, repo.Reminders("user-1"))

	// Un-completing does not bring the reminder back.
	require.NoError(t, repo.Complete("user-1", task.ID, false))
	require.Empty(t, repo.Reminders("user-1"))
}

func TestSetDeadlineRegeneratesReminder(t *testing.T) {
	repo, clock := newTestRepo(t)

	first := clock.Add(48 * time.Hour)
	task, err := repo.AddTask("user-1", "task", &first)
	require.NoError(t, err)

	second := clock.Add(72 * time.Hour)
	require.NoError(t, repo.SetDeadline("user-1", task.ID, second))

	rems := repo.Reminders("user-1")
	require.Len(t, rems, 1, "old reminder invalidated, one new created")
	require.Equal(t, second.Add(-12*time.Hour), rems[0].FireAt)
}

func TestRemoveTaskCascades(t *testing.T) {
	repo, clock := newTestRepo(t)

	deadline := clock.Add(48 * time.Hour)
	task, err := repo.AddTask("user-1", "task", &deadline)
	require.NoError(t, err)
	_, err = repo.AddReminder("user-1", "unrelated", clock.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, repo.RemoveTask("user-1", task.ID))
	rems := repo.Reminders("user-1")
	require.Len(t, rems, 1)
	require.Equal(t, KindCustom, rems[0].Kind)
}

func TestClearCompletedCascades(t *testing.T) {
	repo, clock := newTestRepo(t)

	d1 := clock.Add(48 * time.Hour)
	t1, err := repo.AddTask("user-1", "done", &d1)
	require.NoError(t, err)
	_, err = repo.AddTask("user-1", "open", nil)
	require.NoError(t, err)
	require.NoError(t, repo.Complete("user-1", t1.ID, true))

	n, err := repo.ClearCompleted("user-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, repo.Tasks("user-1"), 1)
	require.Empty(t, repo.Reminders("user-1"))
}

func TestClearAllKeepsCustomReminders(t *testing.T) {
	repo, clock := newTestRepo(t)

	d := clock.Add(48 * time.Hour)
	_, err := repo.AddTask("user-1", "task", &d)
	require.NoError(t, err)
	_, err = repo.AddReminder("user-1", "custom", clock.Add(time.Hour))
	require.NoError(t, err)

	n, err := repo.ClearAll("user-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, repo.Tasks("user-1"))

	rems := repo.Reminders("user-1")
	require.Len(t, rems, 1)
	require.Equal(t, KindCustom, rems[0].Kind)
}

func TestAddReminderRejectsPast(t *testing.T) {
	repo, clock := newTestRepo(t)

	_, err := repo.AddReminder("user-1", "too late", clock.Add(-time.Minute))
	require.ErrorIs(t, err, ErrValidation)
	_, err = repo.AddReminder("user-1", "right now", *clock)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAddReminderLimit(t *testing.T) {
	repo, clock := newTestRepo(t)

	for i := 0; i < 20; i++ {
		_, err := repo.AddReminder("user-1", "r", clock.Add(time.Hour))
		require.NoError(t, err)
	}
	_, err := repo.AddReminder("user-1", "over", clock.Add(time.Hour))
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestSnapshotsAreDetached(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.AddTask("user-1", "original", nil)
	require.NoError(t, err)

	snap := repo.Tasks("user-1")
	_, err = repo.AddTask("user-1", "later", nil)
	require.NoError(t, err)
	require.Len(t, snap, 1, "snapshot must not see later mutations")
}

func TestDueRemindersProperties(t *testing.T) {
	repo, clock := newTestRepo(t)

	_, err := repo.AddReminder("user-1", "due", clock.Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.AddReminder("user-1", "future", clock.Add(2*time.Hour))
	require.NoError(t, err)
	delivered, err := repo.AddReminder("user-2", "delivered", clock.Add(time.Minute))
	require.NoError(t, err)

	digest2 := repo.codec.HashID("user-2")
	require.NoError(t, repo.MarkDelivered(digest2, delivered.ID, false))

	now := clock.Add(30 * time.Minute)
	due := repo.DueReminders(now)
	require.Len(t, due, 1)
	require.Equal(t, "user-1", due[0].UserID)
	for _, d := range due {
		require.False(t, d.Reminder.Delivered)
		require.False(t, d.Reminder.FireAt.After(now))
	}
}

func TestDueRemindersScansOnDiskUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	codec, err := cryptox.New("test-secret", true)
	require.NoError(t, err)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// First process: write a reminder and flush.
	doc, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	cache := NewCache(CacheConfig{Debounce: time.Hour}, doc, codec, logx.Nop())
	repo := NewRepo(cache, codec, Limits{}, logx.Nop())
	repo.now = func() time.Time { return now }
	_, err = repo.AddReminder("user-1", "persisted", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, cache.FlushAll())

	// Second process: nothing cached, the scan loads from disk.
	doc2, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	cache2 := NewCache(CacheConfig{Debounce: time.Hour}, doc2, codec, logx.Nop())
	repo2 := NewRepo(cache2, codec, Limits{}, logx.Nop())

	due := repo2.DueReminders(now.Add(time.Hour))
	require.Len(t, due, 1)
	require.Equal(t, "user-1", due[0].UserID)

	// The scan must not dirty anything: a flush rewrites nothing.
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, cache2.FlushAll())
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	repo, clock := newTestRepo(t)

	rem, err := repo.AddReminder("user-1", "once", clock.Add(time.Minute))
	require.NoError(t, err)
	digest := repo.codec.HashID("user-1")

	require.NoError(t, repo.MarkDelivered(digest, rem.ID, false))
	require.NoError(t, repo.MarkDelivered(digest, rem.ID, false))

	rems := repo.Reminders("user-1")
	require.True(t, rems[0].Delivered)
	require.False(t, rems[0].Failed)
}

func TestMarkDeliveredNoOpDoesNotRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	codec, err := cryptox.New("test-secret", true)
	require.NoError(t, err)
	doc, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	cache := NewCache(CacheConfig{Debounce: time.Hour}, doc, codec, logx.Nop())
	repo := NewRepo(cache, codec, Limits{}, logx.Nop())

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	rem, err := repo.AddReminder("user-1", "once", now.Add(time.Minute))
	require.NoError(t, err)
	digest := codec.HashID("user-1")

	require.NoError(t, repo.MarkDelivered(digest, rem.ID, false))
	require.NoError(t, cache.FlushAll())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Re-marking an already-delivered reminder leaves the entry clean, so a
	// flush finds nothing to write and the sealed file stays byte-identical.
	require.NoError(t, repo.MarkDelivered(digest, rem.ID, false))
	require.NoError(t, cache.FlushAll())
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestMarkDeliveredFailureFlag(t *testing.T) {
	repo, clock := newTestRepo(t)

	rem, err := repo.AddReminder("user-1", "undeliverable", clock.Add(time.Minute))
	require.NoError(t, err)
	digest := repo.codec.HashID("user-1")

	require.NoError(t, repo.MarkDelivered(digest, rem.ID, true))
	rems := repo.Reminders("user-1")
	require.True(t, rems[0].Delivered)
	require.True(t, rems[0].Failed)
}

func TestNotFoundErrors(t *testing.T) {
	repo, _ := newTestRepo(t)

	require.ErrorIs(t, repo.Complete("user-1", 7, true), ErrNotFound)
	require.ErrorIs(t, repo.RemoveTask("user-1", 7), ErrNotFound)
	require.ErrorIs(t, repo.SetDeadline("user-1", 7, time.Now()), ErrNotFound)
	require.ErrorIs(t, repo.RemoveReminder("user-1", 7), ErrNotFound)
}
