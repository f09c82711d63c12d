package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/uploadqueue/internal/task"
)

func newTask(id string) task.Task {
	return task.Task{ID: id, BatchID: "b1", Name: id + ".pdf", Size: 10}
}

func addTasks(tr *Tracker, ids ...string) {
	tasks := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, newTask(id))
	}
	tr.Add(tasks)
}

func TestTracker_AddAndSnapshotOrder(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "c", "a", "b")

	snap := tr.Snapshot()
	require.Len(t, snap.Tasks, 3)
	assert.Equal(t, uint64(1), snap.Seq, "one publish per admission")
	assert.Equal(t, "c", snap.Tasks[0].ID)
	assert.Equal(t, "a", snap.Tasks[1].ID)
	assert.Equal(t, "b", snap.Tasks[2].ID)
	for _, tk := range snap.Tasks {
		assert.Equal(t, task.StatusPending, tk.Status)
		assert.False(t, tk.CreatedAt.IsZero())
	}

	tr.Add(nil)
	assert.Equal(t, uint64(1), tr.Snapshot().Seq)
}

func TestTracker_DuplicateAddPanics(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "a")

	assert.Panics(t, func() { addTasks(tr, "a") })
}

func TestTracker_TransitionGuards(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "t1")

	assert.False(t, tr.Complete("t1", "r"), "pending cannot complete")
	assert.False(t, tr.Progress("t1", 10), "pending has no progress")

	require.True(t, tr.Start("t1"))
	assert.False(t, tr.Start("t1"), "already active")

	require.True(t, tr.Complete("t1", "ok"))
	assert.False(t, tr.Fail("t1", task.Cancelled()), "terminal is final")
	assert.False(t, tr.Start("t1"))

	got, ok := tr.Get("t1")
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "ok", got.Result)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)
}

func TestTracker_FailFromPendingAndActive(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "p", "a")
	tr.Start("a")

	require.True(t, tr.Fail("p", task.Cancelled()))
	require.True(t, tr.Fail("a", task.TransferFailed("boom")))

	p, _ := tr.Get("p")
	a, _ := tr.Get("a")
	assert.True(t, p.Cancelled())
	assert.Nil(t, p.StartedAt)
	assert.Equal(t, task.ReasonTransferFailed, a.Error.Reason)
	assert.Equal(t, "boom", a.Error.Message)
}

func TestTracker_ProgressMonotonic(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "t1")
	tr.Start("t1")

	assert.True(t, tr.Progress("t1", 30))
	assert.False(t, tr.Progress("t1", 20))
	assert.False(t, tr.Progress("t1", 30), "unchanged value is not a mutation")
	assert.True(t, tr.Progress("t1", 250))

	got, _ := tr.Get("t1")
	assert.Equal(t, 100, got.Progress)
}

func TestTracker_UnknownID(t *testing.T) {
	tr := NewTracker()
	before := tr.Snapshot().Seq

	assert.False(t, tr.Start("nope"))
	assert.False(t, tr.Progress("nope", 5))
	assert.False(t, tr.Complete("nope", nil))
	assert.False(t, tr.Fail("nope", task.Cancelled()))
	_, ok := tr.Get("nope")
	assert.False(t, ok)

	assert.Equal(t, before, tr.Snapshot().Seq)
}

func TestTracker_Stats(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "a", "b", "c", "d", "e")
	tr.Start("b")
	tr.Start("c")
	tr.Complete("c", nil)
	tr.Fail("d", task.Cancelled())

	assert.Equal(t, task.Stats{Pending: 2, Active: 1, Completed: 1, Failed: 1, Total: 5}, tr.Stats())
	assert.Equal(t, task.Stats{}, NewTracker().Stats())
}

func TestTracker_RemoveTerminal(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "a", "b", "c", "d")
	tr.Start("a")
	tr.Start("b")
	tr.Complete("a", nil)
	tr.Fail("c", task.Cancelled())

	removed := tr.RemoveTerminal()
	assert.ElementsMatch(t, []string{"a", "c"}, removed)

	snap := tr.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "b", snap.Tasks[0].ID)
	assert.Equal(t, "d", snap.Tasks[1].ID)
	assert.Equal(t, 2, tr.Stats().Total)

	assert.Empty(t, tr.RemoveTerminal())
}

func TestTracker_SubscribeSeesEveryMutationInOrder(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var seqs []uint64
	var last Snapshot
	tr.Subscribe(func(s Snapshot) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		last = s
		mu.Unlock()
	})

	addTasks(tr, "a")
	tr.Start("a")
	for p := 10; p <= 100; p += 10 {
		tr.Progress("a", p)
	}
	tr.Complete("a", "done")
	tr.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 13
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, s := range seqs {
		assert.Equal(t, uint64(i+1), s)
	}
	require.Len(t, last.Tasks, 1)
	assert.Equal(t, task.StatusCompleted, last.Tasks[0].Status)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	addTasks(tr, "a")

	snap := tr.Snapshot()
	snap.Tasks[0].Status = task.StatusCompleted

	got, _ := tr.Get("a")
	assert.Equal(t, task.StatusPending, got.Status)
}
