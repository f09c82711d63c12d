package transfer

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/task"
)

// ObjectPutter is the subset of *minio.Client the adapter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioAdapter struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewMinioAdapter(client ObjectPutter, bucket, prefix string) *MinioAdapter {
	return &MinioAdapter{client: client, bucket: bucket, prefix: prefix}
}

func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect minio %s", endpoint)
	}
	return client, nil
}

func (a *MinioAdapter) Transfer(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error) {
	src, err := p.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	key := ObjectKey(a.prefix, meta, p.Name())
	ctype, body := sniff(src)
	info, err := a.client.PutObject(ctx, a.bucket, key, body, p.Size(), minio.PutObjectOptions{
		ContentType:  ctype,
		UserMetadata: objectMetadata(meta),
		Progress:     newCounter(p.Size(), onProgress),
	})
	if err != nil {
		return nil, failure(ctx, err, "put minio %s/%s", a.bucket, key)
	}

	return ObjectResult{
		Bucket:    a.bucket,
		Key:       key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
		Size:      info.Size,
	}, nil
}
