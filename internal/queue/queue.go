// Package queue holds admitted uploads in FIFO order until a worker picks
// them up. It is not safe for concurrent use; the scheduler owns it and
// serializes access under its own lock.
package queue

import (
	"container/list"

	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

// Item is one admitted upload waiting for a free slot.
type Item struct {
	ID       string
	Payload  transfer.Payload
	Metadata task.Metadata
}

type Queue struct {
	items *list.List
	index map[string]*list.Element
}

func New() *Queue {
	return &Queue{
		items: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Push appends it to the tail. Pushing an id that is already queued is a
// programming error and panics.
func (q *Queue) Push(it Item) {
	if _, ok := q.index[it.ID]; ok {
		panic("queue: duplicate id " + it.ID)
	}
	q.index[it.ID] = q.items.PushBack(it)
}

// Pop removes and returns the head item.
func (q *Queue) Pop() (Item, bool) {
	e := q.items.Front()
	if e == nil {
		return Item{}, false
	}
	return q.remove(e), true
}

// Remove takes a queued item out regardless of its position.
func (q *Queue) Remove(id string) (Item, bool) {
	e, ok := q.index[id]
	if !ok {
		return Item{}, false
	}
	return q.remove(e), true
}

// Drain empties the queue and returns the items in queue order.
func (q *Queue) Drain() []Item {
	out := make([]Item, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		out = append(out, q.remove(e))
	}
	return out
}

func (q *Queue) Len() int {
	return q.items.Len()
}

func (q *Queue) remove(e *list.Element) Item {
	it := q.items.Remove(e).(Item)
	delete(q.index, it.ID)
	return it
}
