package queue

import (
	"testing"

	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string) Item {
	return Item{
		ID:       id,
		Payload:  transfer.NewBytesPayload(id+".txt", []byte(id)),
		Metadata: task.Metadata{FolderID: "root"},
	}
}

func TestQueue_PushAndPop(t *testing.T) {
	q := New()
	q.Push(item("a"))
	q.Push(item("b"))
	q.Push(item("c"))
	require.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RemoveKeepsOrder(t *testing.T) {
	q := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		q.Push(item(id))
	}

	removed, ok := q.Remove("b")
	require.True(t, ok)
	assert.Equal(t, "b", removed.ID)

	_, ok = q.Remove("b")
	assert.False(t, ok)

	var order []string
	for _, it := range q.Drain() {
		order = append(order, it.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, order)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopEmpty(t *testing.T) {
	q := New()

	it, ok := q.Pop()

	assert.False(t, ok)
	assert.Empty(t, it.ID)
	assert.Empty(t, q.Drain())
}

func TestQueue_DuplicatePushPanics(t *testing.T) {
	q := New()
	q.Push(item("a"))

	assert.Panics(t, func() { q.Push(item("a")) })
}
