package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/uploadqueue/internal/task"
)

func TestSimAdapter_ReadsWholePayload(t *testing.T) {
	a := &SimAdapter{Duration: 10 * time.Millisecond, Steps: 4}
	log := &progressLog{}

	res, err := a.Transfer(context.Background(), NewBytesPayload("a.bin", bytes.Repeat([]byte{1}, 1000)), task.Metadata{}, log.record)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "a.bin", "bytes": int64(1000)}, res)

	seen := log.values()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.IsNonDecreasing(t, seen)
}

func TestSimAdapter_EmptyPayload(t *testing.T) {
	a := &SimAdapter{Steps: 1}
	log := &progressLog{}

	_, err := a.Transfer(context.Background(), NewBytesPayload("empty", nil), task.Metadata{}, log.record)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, log.values())
}

func TestSimAdapter_Cancelled(t *testing.T) {
	a := &SimAdapter{Duration: time.Minute, Steps: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Transfer(ctx, NewBytesPayload("a", []byte("abc")), task.Metadata{}, func(int) {})
	assert.ErrorIs(t, err, ErrAborted)
}

func TestSimAdapter_Failure(t *testing.T) {
	a := NewSimAdapter(time.Millisecond, 1)

	_, err := a.Transfer(context.Background(), NewBytesPayload("a", []byte("abc")), task.Metadata{}, func(int) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated")
}
