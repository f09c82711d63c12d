package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/config"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

func newAdapter(ctx context.Context, cfg *config.Config) (transfer.Adapter, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return transfer.NewHTTPAdapter(cfg.APIBaseURL, cfg.APIUploadPath), nil
	case config.BackendS3:
		client, err := transfer.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint, cfg.S3PathStyle)
		if err != nil {
			return nil, err
		}
		return transfer.NewS3Adapter(client, cfg.S3Bucket, cfg.S3Prefix), nil
	case config.BackendMinio:
		client, err := transfer.NewMinioClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		return transfer.NewMinioAdapter(client, cfg.MinioBucket, cfg.MinioPrefix), nil
	case config.BackendSim:
		return transfer.NewSimAdapter(cfg.SimDuration, cfg.SimFailRate), nil
	}
	return nil, errors.Errorf("unknown backend %q", cfg.Backend)
}
