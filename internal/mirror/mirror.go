// Package mirror copies scheduler state into Redis so other processes can
// read upload status and react to finished batches.
package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/podushkina/uploadqueue/internal/progress"
	"github.com/podushkina/uploadqueue/internal/scheduler"
	"github.com/podushkina/uploadqueue/internal/task"
)

const (
	snapshotKey = "uploadqueue:snapshot"
	taskPrefix  = "uploadqueue:task:"
	batchesKey  = "uploadqueue:batches"
	Channel     = "uploadqueue:events"

	taskTTL     = 24 * time.Hour
	keepBatches = 100
	opTimeout   = 5 * time.Second
)

// Notice is published on Channel after every write.
type Notice struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}

type Mirror struct {
	client *redis.Client
	known  map[string]struct{}
}

func New(addr, password string, db int) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis connection failed")
	}

	return &Mirror{client: client, known: make(map[string]struct{})}, nil
}

func (m *Mirror) Close() error {
	return m.client.Close()
}

// PublishSnapshot stores the snapshot and one key per task, deleting the
// keys of tasks that are no longer tracked. It is not safe for concurrent
// use; Attach calls it from a single subscription.
func (m *Mirror) PublishSnapshot(ctx context.Context, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, snapshotKey, data, 0)

	current := make(map[string]struct{}, len(snap.Tasks))
	for _, tk := range snap.Tasks {
		current[tk.ID] = struct{}{}
		td, err := json.Marshal(tk)
		if err != nil {
			return errors.Wrapf(err, "marshal task %s", tk.ID)
		}
		pipe.Set(ctx, taskPrefix+tk.ID, td, taskTTL)
	}
	for id := range m.known {
		if _, ok := current[id]; !ok {
			pipe.Del(ctx, taskPrefix+id)
		}
	}

	notice, _ := json.Marshal(Notice{Type: "snapshot", Seq: snap.Seq})
	pipe.Publish(ctx, Channel, notice)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publish snapshot")
	}
	m.known = current
	return nil
}

// PublishBatch appends the event to a capped list of recent batches.
func (m *Mirror) PublishBatch(ctx context.Context, ev scheduler.BatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal batch event")
	}

	notice, _ := json.Marshal(Notice{Type: "batch_complete", BatchID: ev.BatchID})

	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, batchesKey, data)
	pipe.LTrim(ctx, batchesKey, -keepBatches, -1)
	pipe.Publish(ctx, Channel, notice)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publish batch event")
	}
	return nil
}

// Latest returns the last stored snapshot, or nil if there is none.
func (m *Mirror) Latest(ctx context.Context) (*progress.Snapshot, error) {
	data, err := m.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get snapshot")
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

func (m *Mirror) Task(ctx context.Context, id string) (*task.Task, error) {
	data, err := m.client.Get(ctx, taskPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get task")
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "unmarshal task")
	}
	return &t, nil
}

// Batches returns the most recent batch events, oldest first.
func (m *Mirror) Batches(ctx context.Context) ([]scheduler.BatchEvent, error) {
	items, err := m.client.LRange(ctx, batchesKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list batches")
	}

	out := make([]scheduler.BatchEvent, 0, len(items))
	for _, item := range items {
		var ev scheduler.BatchEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Attach mirrors every snapshot and batch event of s until the returned
// function is called. Write failures are logged and otherwise ignored.
func (m *Mirror) Attach(s *scheduler.Scheduler) func() {
	snaps := s.SubscribeProgress(func(snap progress.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := m.PublishSnapshot(ctx, snap); err != nil {
			log.WithField("seq", snap.Seq).Warnf("mirror snapshot: %v", err)
		}
	})
	batches := s.SubscribeBatches(func(ev scheduler.BatchEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := m.PublishBatch(ctx, ev); err != nil {
			log.WithField("batch", ev.BatchID).Warnf("mirror batch: %v", err)
		}
	})

	return func() {
		snaps.Close()
		batches.Close()
	}
}
