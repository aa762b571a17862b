package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

type procFunc func(ctx context.Context, in pipeline.Input) (*pipeline.Document, error)

func (f procFunc) Process(ctx context.Context, in pipeline.Input) (*pipeline.Document, error) {
	return f(ctx, in)
}

func TestQueueProcessesAllJobs(t *testing.T) {
	var processed atomic.Int32
	proc := procFunc(func(_ context.Context, in pipeline.Input) (*pipeline.Document, error) {
		processed.Add(1)
		if in.Name == "bad.pdf" {
			return nil, errors.New("unreadable")
		}
		return &pipeline.Document{ID: "id-" + in.Name, Name: in.Name}, nil
	})

	var mu sync.Mutex
	var failed []string
	q := NewDocumentQueue(proc, nil, WithWorkers(3), WithQueueSize(1), WithOnDone(func(j Job, _ *pipeline.Document, err error) {
		if err != nil {
			mu.Lock()
			failed = append(failed, j.Input.Name)
			mu.Unlock()
		}
	}))

	ctx := context.Background()
	for _, name := range []string{"a.pdf", "bad.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		require.NoError(t, q.Enqueue(ctx, Job{Input: pipeline.Input{Name: name}}))
	}
	q.Shutdown(ctx)

	assert.Equal(t, int32(5), processed.Load())
	assert.Equal(t, []string{"bad.pdf"}, failed)
	assert.ErrorIs(t, q.Enqueue(ctx, Job{}), ErrClosed)
	q.Shutdown(ctx)
}

func TestQueueAppliesTimeout(t *testing.T) {
	errs := make(chan error, 1)
	proc := procFunc(func(ctx context.Context, _ pipeline.Input) (*pipeline.Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q := NewDocumentQueue(proc, nil, WithWorkers(1), WithProcessTimeout(20*time.Millisecond),
		WithOnDone(func(_ Job, _ *pipeline.Document, err error) { errs <- err }))

	require.NoError(t, q.Enqueue(context.Background(), Job{Input: pipeline.Input{Name: "slow.pdf"}}))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job never timed out")
	}
	q.Shutdown(context.Background())
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	release := make(chan struct{})
	proc := procFunc(func(context.Context, pipeline.Input) (*pipeline.Document, error) {
		<-release
		return &pipeline.Document{}, nil
	})
	q := NewDocumentQueue(proc, nil, WithWorkers(1), WithQueueSize(1))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{Input: pipeline.Input{Name: "1"}}))
	// Returns once the worker holds job 1 and job 2 fills the buffer.
	require.NoError(t, q.Enqueue(ctx, Job{Input: pipeline.Input{Name: "2"}}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(short, Job{Input: pipeline.Input{Name: "3"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	q.Shutdown(ctx)
}
