package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/podushkina/uploadqueue/internal/config"
	"github.com/podushkina/uploadqueue/internal/progress"
	"github.com/podushkina/uploadqueue/internal/scheduler"
	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

type pushOptions struct {
	folderID   string
	folderName string
	batchID    string
}

func newPushCmd(root *rootOptions) *cobra.Command {
	opts := &pushOptions{}

	cmd := &cobra.Command{
		Use:   "push FILE...",
		Short: "Upload local files as one batch and wait for them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			adapter, err := newAdapter(ctx, root.cfg)
			if err != nil {
				return err
			}
			return runPush(ctx, root.cfg, adapter, afero.NewOsFs(), args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.folderID, "folder-id", "", "destination folder id")
	cmd.Flags().StringVar(&opts.folderName, "folder-name", "", "create a folder with this name for the upload")
	cmd.Flags().StringVar(&opts.batchID, "batch-id", "", "batch id reported on completion")
	return cmd
}

// runPush uploads paths and returns an error if any upload did not
// complete. Cancelling ctx cancels all uploads.
func runPush(ctx context.Context, cfg *config.Config, adapter transfer.Adapter, fs afero.Fs, paths []string, opts *pushOptions) error {
	meta := task.Metadata{FolderID: opts.folderID, NewFolderName: opts.folderName}
	jobs := make([]scheduler.Job, 0, len(paths))
	for _, p := range paths {
		payload, err := transfer.NewFilePayload(fs, p)
		if err != nil {
			return err
		}
		jobs = append(jobs, scheduler.Job{Payload: payload, Metadata: meta})
	}

	s := scheduler.New(adapter, scheduler.WithConcurrency(cfg.Concurrency))
	s.SubscribeProgress(newReporter(log.StandardLogger()).report)
	s.Start(context.Background())
	defer s.Stop()

	var submitOpts []scheduler.SubmitOption
	if opts.batchID != "" {
		submitOpts = append(submitOpts, scheduler.WithBatchID(opts.batchID))
	}
	sub, err := s.Submit(jobs, submitOpts...)
	if err != nil {
		return err
	}
	log.WithField("batch", sub.BatchID).Infof("Uploading %d files, %d at a time", len(sub.IDs), cfg.Concurrency)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Warn("Interrupted, cancelling uploads")
			s.CancelAll()
		case <-done:
		}
	}()

	if err := s.WaitIdle(context.Background()); err != nil {
		return err
	}

	stats := s.Stats()
	log.Infof("Done: %d uploaded, %d failed", stats.Completed, stats.Failed)
	if stats.Failed > 0 {
		return errors.Errorf("%d of %d uploads failed", stats.Failed, stats.Total)
	}
	return nil
}

// reporter logs a line whenever a task changes status or crosses another
// quarter of its progress.
type reporter struct {
	logger log.FieldLogger
	last   map[string]task.Task
}

func newReporter(l log.FieldLogger) *reporter {
	return &reporter{logger: l, last: make(map[string]task.Task)}
}

func (r *reporter) report(snap progress.Snapshot) {
	for _, tk := range snap.Tasks {
		prev, seen := r.last[tk.ID]
		r.last[tk.ID] = tk
		if seen && prev.Status == tk.Status && prev.Progress/25 == tk.Progress/25 {
			continue
		}

		entry := r.logger.WithField("task", tk.ID)
		switch tk.Status {
		case task.StatusPending:
			entry.Debugf("%s queued", tk.Name)
		case task.StatusActive:
			entry.Infof("%s %d%%", tk.Name, tk.Progress)
		case task.StatusCompleted:
			entry.Infof("%s uploaded", tk.Name)
		case task.StatusFailed:
			entry.Warnf("%s failed: %v", tk.Name, tk.Error)
		}
	}
}
