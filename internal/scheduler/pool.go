package scheduler

import (
	"context"
	"runtime/debug"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podushkina/uploadqueue/internal/queue"
	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

type running struct {
	queue.Item
	ctx    context.Context
	cancel context.CancelFunc
}

// Start launches the worker pool. Cancelling ctx has the effect of Stop
// without waiting: active uploads are aborted, queued ones fail as
// cancelled and Submit returns ErrStopped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.poolCtx = ctx
	s.mu.Unlock()

	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Printf("Started %d upload workers", s.concurrency)
}

// Stop cancels everything, waits for the workers to exit and closes all
// subscriptions after they have drained.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancelAllLocked()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.tracker.Close()
	s.events.Close()
	s.logger.Println("All upload workers stopped")
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.WithField("worker", id)
	logger.Debug("Worker started")

	for {
		r, ok := s.next(ctx)
		if !ok {
			logger.Debug("Worker shutting down")
			return
		}
		s.process(logger, r)
	}
}

// next blocks until a queued item can be started and marks it active in
// the same critical section that pops it.
func (s *Scheduler) next(ctx context.Context) (running, bool) {
	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.cancelAllLocked()
			s.mu.Unlock()
			return running{}, false
		}
		if it, ok := s.queue.Pop(); ok {
			tctx, cancel := context.WithCancel(ctx)
			s.active[it.ID] = cancel
			s.tracker.Start(it.ID)
			s.mu.Unlock()
			return running{Item: it, ctx: tctx, cancel: cancel}, true
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-ready:
		}
	}
}

func (s *Scheduler) process(logger log.FieldLogger, r running) {
	logger = logger.WithField("task", r.ID)
	logger.Infof("Uploading %s (%d bytes)", r.Payload.Name(), r.Payload.Size())

	result, err := s.transfer(logger, r)
	aborted := r.ctx.Err() != nil
	r.cancel()
	discard(r.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, r.ID)
	switch {
	case err == nil:
		s.tracker.Complete(r.ID, result)
		logger.Info("Upload completed")
	case aborted || errors.Is(err, transfer.ErrAborted) || errors.Is(err, context.Canceled):
		s.tracker.Fail(r.ID, task.Cancelled())
		logger.Info("Upload cancelled")
	default:
		s.tracker.Fail(r.ID, task.TransferFailed(err.Error()))
		logger.Warnf("Upload failed: %v", err)
	}
	s.settledLocked(r.ID, err == nil)
}

// transfer runs the adapter, turning a panic into an ordinary failure of
// this one task.
func (s *Scheduler) transfer(logger log.FieldLogger, r running) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("transfer panic: %v\n%s", rec, debug.Stack())
			result, err = nil, errors.Errorf("transfer panicked: %v", rec)
		}
	}()

	return s.adapter.Transfer(r.ctx, r.Payload, r.Metadata, func(percent int) {
		s.mu.Lock()
		s.tracker.Progress(r.ID, percent)
		s.mu.Unlock()
	})
}
