package main

import (
	"github.com/spf13/cobra"

	"github.com/podushkina/uploadqueue/internal/config"
)

type rootOptions struct {
	cfg         *config.Config
	concurrency int
	backend     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "uploadqueue",
		Short:         "Bounded-concurrency upload queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "uploads allowed to run at once (overrides MAX_CONCURRENT_UPLOADS)")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "transfer backend: http, s3, minio or sim (overrides TRANSFER_BACKEND)")

	cmd.AddCommand(newServeCmd(opts), newPushCmd(opts))
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if flags.Changed("backend") {
		cfg.Backend = o.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.SetupLogging()
	o.cfg = cfg
	return nil
}
