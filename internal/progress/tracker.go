// Package progress is the single source of truth for upload status. Every
// mutation bumps a sequence number and publishes the full snapshot.
//
// Mutating methods are not serialized against each other beyond the
// tracker's own lock: callers that need multi-step transitions to appear
// atomic (the scheduler) must hold their own lock across the calls. Readers
// may call Snapshot, Stats and Get from any goroutine.
package progress

import (
	"sync"
	"time"

	"github.com/podushkina/uploadqueue/internal/event"
	"github.com/podushkina/uploadqueue/internal/task"
)

// Snapshot is the ordered list of every tracked task at one instant. Seq
// increases by one for each published snapshot.
type Snapshot struct {
	Seq   uint64      `json:"seq"`
	Tasks []task.Task `json:"tasks"`
}

type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*task.Task
	order  []string
	seq    uint64
	broker *event.Broker[Snapshot]
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		tasks:  make(map[string]*task.Task),
		broker: event.NewBroker[Snapshot](),
		now:    time.Now,
	}
}

// Subscribe delivers every future snapshot to fn, in order.
func (t *Tracker) Subscribe(fn func(Snapshot)) *event.Subscription[Snapshot] {
	return t.broker.Subscribe(fn)
}

func (t *Tracker) Close() {
	t.broker.Close()
}

// Add registers freshly admitted tasks as pending and publishes once.
// Re-adding a known id is a programming error and panics.
func (t *Tracker) Add(tasks []task.Task) {
	if len(tasks) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for i := range tasks {
		tk := tasks[i]
		if _, ok := t.tasks[tk.ID]; ok {
			panic("progress: duplicate task id " + tk.ID)
		}
		tk.Status = task.StatusPending
		tk.Progress = 0
		tk.CreatedAt = now
		t.tasks[tk.ID] = &tk
		t.order = append(t.order, tk.ID)
	}
	t.publishLocked()
}

// Start moves a pending task to active.
func (t *Tracker) Start(id string) bool {
	return t.mutate(id, func(tk *task.Task) bool {
		if tk.Status != task.StatusPending {
			return false
		}
		now := t.now()
		tk.Status = task.StatusActive
		tk.StartedAt = &now
		return true
	})
}

// Progress records percent for an active task. Values outside [0,100] are
// clamped and values that would move progress backwards are ignored.
func (t *Tracker) Progress(id string, percent int) bool {
	percent = min(max(percent, 0), 100)
	return t.mutate(id, func(tk *task.Task) bool {
		if tk.Status != task.StatusActive || percent <= tk.Progress {
			return false
		}
		tk.Progress = percent
		return true
	})
}

// Complete moves an active task to completed.
func (t *Tracker) Complete(id string, result any) bool {
	return t.mutate(id, func(tk *task.Task) bool {
		if tk.Status != task.StatusActive {
			return false
		}
		now := t.now()
		tk.Status = task.StatusCompleted
		tk.Progress = 100
		tk.Result = result
		tk.FinishedAt = &now
		return true
	})
}

// Fail moves a pending or active task to failed. Pending tasks can only
// fail through cancellation, but the tracker does not police the reason.
func (t *Tracker) Fail(id string, cause *task.Error) bool {
	return t.mutate(id, func(tk *task.Task) bool {
		if tk.Status.Terminal() {
			return false
		}
		now := t.now()
		tk.Status = task.StatusFailed
		tk.Error = cause
		tk.FinishedAt = &now
		return true
	})
}

// RemoveTerminal drops every completed or failed task, publishes the
// smaller snapshot and returns the removed ids.
func (t *Tracker) RemoveTerminal() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	kept := t.order[:0]
	for _, id := range t.order {
		if t.tasks[id].Status.Terminal() {
			removed = append(removed, id)
			delete(t.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	clear(t.order[len(kept):])
	t.order = kept
	t.publishLocked()
	return removed
}

func (t *Tracker) Get(id string) (task.Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tk, ok := t.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return *tk, true
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Stats is recomputed from the task map on every call.
func (t *Tracker) Stats() task.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s task.Stats
	for _, tk := range t.tasks {
		switch tk.Status {
		case task.StatusPending:
			s.Pending++
		case task.StatusActive:
			s.Active++
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(t.tasks)
	return s
}

func (t *Tracker) mutate(id string, fn func(*task.Task) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[id]
	if !ok || !fn(tk) {
		return false
	}
	t.publishLocked()
	return true
}

func (t *Tracker) publishLocked() {
	t.seq++
	t.broker.Publish(t.snapshotLocked())
}

func (t *Tracker) snapshotLocked() Snapshot {
	tasks := make([]task.Task, 0, len(t.order))
	for _, id := range t.order {
		tasks = append(tasks, *t.tasks[id])
	}
	return Snapshot{Seq: t.seq, Tasks: tasks}
}
