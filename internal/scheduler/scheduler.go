// Package scheduler admits uploads, runs at most N of them at a time against
// a transfer.Adapter, and reports status through a progress.Tracker.
//
// One mutex guards the FIFO queue, the active cancel funcs, the batch
// bookkeeping and every tracker mutation, so a task is never observed
// half-way between queued and active. The concurrency ceiling is the number
// of worker goroutines started by Start.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podushkina/uploadqueue/internal/event"
	"github.com/podushkina/uploadqueue/internal/progress"
	"github.com/podushkina/uploadqueue/internal/queue"
	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

const DefaultConcurrency = 3

var (
	ErrStopped     = errors.New("scheduler stopped")
	ErrInvalidJob  = errors.New("invalid job")
	ErrBatchExists = errors.New("batch already open")
)

// Job is one upload as submitted by a caller.
type Job struct {
	Payload  transfer.Payload
	Metadata task.Metadata
}

// Submission lists the ids assigned to a submit call, in input order.
type Submission struct {
	BatchID string   `json:"batch_id"`
	IDs     []string `json:"ids"`
}

type Option func(*Scheduler)

// WithConcurrency sets the number of uploads allowed to run at once.
// Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.concurrency = n
		}
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithIDGenerator replaces the uuid based generator for task and batch ids.
// The generator must never repeat itself.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) {
		s.newID = fn
	}
}

type SubmitOption func(*submitOptions)

type submitOptions struct {
	batchID string
}

// WithBatchID groups the submission under a caller chosen batch id instead
// of a generated one. The id must not belong to a batch that is still open.
func WithBatchID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.batchID = id
	}
}

type Scheduler struct {
	adapter     transfer.Adapter
	concurrency int
	newID       func() string
	logger      log.FieldLogger

	tracker *progress.Tracker
	events  *event.Broker[BatchEvent]

	mu      sync.Mutex
	queue   *queue.Queue
	active  map[string]context.CancelFunc
	batches *batches
	ready   chan struct{}
	idle    []chan struct{}
	started bool
	stopped bool
	poolCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(adapter transfer.Adapter, opts ...Option) *Scheduler {
	s := &Scheduler{
		adapter:     adapter,
		concurrency: DefaultConcurrency,
		newID:       func() string { return uuid.New().String() },
		logger:      log.StandardLogger(),
		tracker:     progress.NewTracker(),
		events:      event.NewBroker[BatchEvent](),
		queue:       queue.New(),
		active:      make(map[string]context.CancelFunc),
		batches:     newBatches(),
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// Submit admits jobs as one batch and returns their ids in input order.
// An empty jobs list is a no-op. The only errors are validation errors;
// transfer failures are recorded on the tasks.
func (s *Scheduler) Submit(jobs []Job, opts ...SubmitOption) (Submission, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}
	for i, j := range jobs {
		if j.Payload == nil {
			return Submission{}, errors.Wrapf(ErrInvalidJob, "job %d has no payload", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || (s.poolCtx != nil && s.poolCtx.Err() != nil) {
		return Submission{}, errors.WithStack(ErrStopped)
	}
	if len(jobs) == 0 {
		return Submission{BatchID: o.batchID, IDs: []string{}}, nil
	}

	batchID := o.batchID
	if batchID == "" {
		batchID = s.newID()
	} else if s.batches.exists(batchID) {
		return Submission{}, errors.Wrapf(ErrBatchExists, "batch %s", batchID)
	}

	ids := make([]string, len(jobs))
	records := make([]task.Task, len(jobs))
	for i, j := range jobs {
		ids[i] = s.newID()
		records[i] = task.Task{
			ID:       ids[i],
			BatchID:  batchID,
			Name:     j.Payload.Name(),
			Size:     j.Payload.Size(),
			Metadata: j.Metadata,
		}
	}

	s.tracker.Add(records)
	for i, j := range jobs {
		s.queue.Push(queue.Item{ID: ids[i], Payload: j.Payload, Metadata: j.Metadata})
	}
	s.batches.add(batchID, ids)
	s.wakeLocked()

	s.logger.WithField("batch", batchID).Infof("Admitted %d uploads (%d queued)", len(ids), s.queue.Len())
	return Submission{BatchID: batchID, IDs: ids}, nil
}

// Cancel aborts one upload. A queued upload fails as cancelled right away
// and never reaches the adapter; an active one is asked to stop and fails
// as cancelled once the adapter returns. Unknown or settled ids are ignored.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

// CancelAll empties the queue and signals every active upload. Active
// uploads settle asynchronously; use WaitIdle to wait for them.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

// ClearCompleted forgets every completed or failed task.
func (s *Scheduler) ClearCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.tracker.RemoveTerminal()
	s.batches.forget(removed)
	if len(removed) > 0 {
		s.logger.Debugf("Cleared %d settled uploads", len(removed))
	}
}

// IsActive reports whether anything is queued or running.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

// WaitIdle blocks until nothing is queued or running, or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if !s.busyLocked() {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.idle = append(s.idle, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Stats() task.Stats {
	return s.tracker.Stats()
}

func (s *Scheduler) Snapshot() progress.Snapshot {
	return s.tracker.Snapshot()
}

func (s *Scheduler) Task(id string) (task.Task, bool) {
	return s.tracker.Get(id)
}

// SubscribeProgress delivers the full snapshot after every mutation.
func (s *Scheduler) SubscribeProgress(fn func(progress.Snapshot)) *event.Subscription[progress.Snapshot] {
	return s.tracker.Subscribe(fn)
}

// SubscribeBatches delivers one event per batch that settled with at least
// one completed upload.
func (s *Scheduler) SubscribeBatches(fn func(BatchEvent)) *event.Subscription[BatchEvent] {
	return s.events.Subscribe(fn)
}

func (s *Scheduler) cancelLocked(id string) {
	if it, ok := s.queue.Remove(id); ok {
		s.tracker.Fail(id, task.Cancelled())
		discard(it.Payload)
		s.logger.WithField("task", id).Info("Cancelled queued upload")
		s.settledLocked(id, false)
		return
	}
	if cancel, ok := s.active[id]; ok {
		s.logger.WithField("task", id).Info("Cancelling active upload")
		cancel()
	}
}

func (s *Scheduler) cancelAllLocked() {
	for _, it := range s.queue.Drain() {
		s.tracker.Fail(it.ID, task.Cancelled())
		discard(it.Payload)
		s.settledLocked(it.ID, false)
	}
	for _, cancel := range s.active {
		cancel()
	}
}

// settledLocked runs after a task reached a terminal state.
func (s *Scheduler) settledLocked(id string, completed bool) {
	if ev, ok := s.batches.settle(id, completed); ok {
		s.logger.WithField("batch", ev.BatchID).Infof("Batch complete: %d completed, %d failed", ev.Completed, ev.Failed)
		s.events.Publish(ev)
	}
	if s.busyLocked() {
		return
	}
	for _, ch := range s.idle {
		close(ch)
	}
	s.idle = nil
}

func (s *Scheduler) busyLocked() bool {
	return s.queue.Len() > 0 || len(s.active) > 0
}

func (s *Scheduler) wakeLocked() {
	close(s.ready)
	s.ready = make(chan struct{})
}

func discard(p transfer.Payload) {
	d, ok := p.(transfer.Discarder)
	if !ok {
		return
	}
	if err := d.Discard(); err != nil {
		log.Warnf("discard payload %s: %+v", p.Name(), err)
	}
}
