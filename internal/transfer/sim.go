package transfer

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"

	"github.com/podushkina/uploadqueue/internal/task"
)

// SimAdapter reads the payload at a throttled pace and discards it. It is
// the "sim" backend, useful for demos and load tests without a server.
type SimAdapter struct {
	// Duration is roughly how long one transfer takes.
	Duration time.Duration
	// Steps is how many chunks the payload is read in.
	Steps int
	// FailRate is the probability in [0,1] that a transfer fails at the end.
	FailRate float64
}

func NewSimAdapter(d time.Duration, failRate float64) *SimAdapter {
	return &SimAdapter{Duration: d, Steps: 20, FailRate: failRate}
}

func (a *SimAdapter) Transfer(ctx context.Context, p Payload, _ task.Metadata, onProgress ProgressFunc) (any, error) {
	rc, err := p.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p.Name())
	}
	defer rc.Close()

	steps := a.Steps
	if steps < 1 {
		steps = 1
	}
	chunk := p.Size()/int64(steps) + 1
	c := newCounter(p.Size(), onProgress)
	src := c.wrap(rc)

	tick := time.NewTicker(max(a.Duration/time.Duration(steps), time.Millisecond))
	defer tick.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ErrAborted)
		case <-tick.C:
		}
		read, err := io.CopyN(io.Discard, src, chunk)
		n += read
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failure(ctx, err, "read %s", p.Name())
		}
	}
	if p.Size() == 0 && onProgress != nil {
		onProgress(100)
	}

	if a.FailRate > 0 && rand.Float64() < a.FailRate {
		return nil, errors.New("simulated transfer failure")
	}
	return map[string]any{"name": p.Name(), "bytes": n}, nil
}
