package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/podushkina/uploadqueue/internal/api"
	"github.com/podushkina/uploadqueue/internal/config"
	"github.com/podushkina/uploadqueue/internal/mirror"
	"github.com/podushkina/uploadqueue/internal/scheduler"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		return err
	}

	s := scheduler.New(adapter, scheduler.WithConcurrency(cfg.Concurrency))

	if cfg.RedisAddr != "" {
		m, err := mirror.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return errors.Wrap(err, "failed to connect to Redis")
		}
		defer m.Close()
		detach := m.Attach(s)
		defer detach()
		log.Println("Connected to Redis")
	}

	s.Start(context.Background())

	handler := api.NewHandler(s, api.Options{
		Fs:             afero.NewOsFs(),
		SpoolDir:       cfg.SpoolDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on port %s (%s backend, %d concurrent uploads)", cfg.ServerPort, cfg.Backend, cfg.Concurrency)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "server error")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		s.Stop()
		return nil
	})

	err = g.Wait()
	log.Println("Server stopped")
	return err
}
