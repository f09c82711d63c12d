// Package transfer defines the boundary between the upload scheduler and the
// backends that actually move bytes, plus the backends themselves.
package transfer

import (
	"context"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/task"
)

// ErrAborted is returned by an adapter when the transfer stopped because its
// context was cancelled.
var ErrAborted = errors.New("transfer aborted")

// ProgressFunc receives the completion percentage in [0,100].
type ProgressFunc func(percent int)

// Adapter performs a single upload. It must return promptly once ctx is
// cancelled, preferably with ErrAborted. The returned value is stored on the
// task as its result and is otherwise opaque to the scheduler.
type Adapter interface {
	Transfer(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error)

func (f AdapterFunc) Transfer(ctx context.Context, p Payload, meta task.Metadata, onProgress ProgressFunc) (any, error) {
	return f(ctx, p, meta, onProgress)
}

// ObjectResult is what the object-store adapters report on success.
type ObjectResult struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	ETag      string `json:"etag"`
	VersionID string `json:"version_id,omitempty"`
	Size      int64  `json:"size"`
}

func failure(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return errors.WithStack(ErrAborted)
	}
	return errors.Wrapf(err, format, args...)
}

// counter turns byte counts into percent callbacks, firing only when the
// rounded percentage changes.
type counter struct {
	total int64
	done  int64
	last  int
	fn    ProgressFunc
}

func newCounter(total int64, fn ProgressFunc) *counter {
	return &counter{total: total, fn: fn}
}

func (c *counter) add(n int) {
	if n <= 0 || c.fn == nil {
		return
	}
	c.done += int64(n)
	if pct := percent(c.done, c.total); pct != c.last {
		c.last = pct
		c.fn(pct)
	}
}

// Read counts len(b) without consuming anything. minio-go feeds the bytes it
// has sent through PutObjectOptions.Progress this way.
func (c *counter) Read(b []byte) (int, error) {
	c.add(len(b))
	return len(b), nil
}

func (c *counter) wrap(r io.Reader) io.Reader {
	return &countingReader{r: r, c: c}
}

type countingReader struct {
	r io.Reader
	c *counter
}

func (cr *countingReader) Read(b []byte) (int, error) {
	n, err := cr.r.Read(b)
	cr.c.add(n)
	return n, err
}

func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	pct := int(math.Round(float64(done) * 100 / float64(total)))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// seekCounter reports progress for a body the consumer may rewind, as the
// S3 client does to compute checksums or retry. Only bytes past the
// furthest offset read so far are counted.
type seekCounter struct {
	rs  io.ReadSeeker
	c   *counter
	pos int64
}

func (c *counter) wrapSeeker(rs io.ReadSeeker) *seekCounter {
	return &seekCounter{rs: rs, c: c}
}

func (s *seekCounter) Read(b []byte) (int, error) {
	n, err := s.rs.Read(b)
	s.pos += int64(n)
	if s.pos > s.c.done {
		s.c.add(int(s.pos - s.c.done))
	}
	return n, err
}

func (s *seekCounter) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.rs.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	s.pos = pos
	return pos, nil
}
