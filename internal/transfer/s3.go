package transfer

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/task"
)

// PutObjectAPI is the subset of *s3.Client the adapter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Adapter struct {
	client PutObjectAPI
	bucket string
	prefix string
}

func NewS3Adapter(client PutObjectAPI, bucket, prefix string) *S3Adapter {
	return &S3Adapter{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client loads credentials from the default AWS chain. endpoint may
// point at any S3 compatible service.
func NewS3Client(ctx context.Context, region, endpoint string, pathStyle bool) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	}), nil
}

func (a *S3Adapter) Transfer(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error) {
	src, err := p.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// Without TLS the client hashes the body before sending it, which
	// needs a seekable stream.
	rs, ok := src.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, failure(ctx, err, "read %s", p.Name())
		}
		rs = bytes.NewReader(data)
	}
	ctype, err := sniffSeeker(rs)
	if err != nil {
		return nil, errors.Wrapf(err, "sniff %s", p.Name())
	}

	key := ObjectKey(a.prefix, meta, p.Name())
	out, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          newCounter(p.Size(), onProgress).wrapSeeker(rs),
		ContentLength: aws.Int64(p.Size()),
		ContentType:   aws.String(ctype),
		Metadata:      objectMetadata(meta),
	})
	if err != nil {
		return nil, failure(ctx, err, "put s3://%s/%s", a.bucket, key)
	}

	return ObjectResult{
		Bucket:    a.bucket,
		Key:       key,
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
		Size:      p.Size(),
	}, nil
}
