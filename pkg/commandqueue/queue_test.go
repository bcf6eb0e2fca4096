package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flamefinish/stockbot/internal/tracing"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.Enqueue("whatsapp:+63917", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_EnqueueWithTracedContext(t *testing.T) {
	cq := New()
	defer cq.Close()

	ctx := tracing.WithSender(tracing.NewRequestContext(context.Background()), "whatsapp:+63917")
	task := func(ctx context.Context) (interface{}, error) {
		return tracing.GetTraceID(ctx), nil
	}

	result, err := cq.EnqueueWithContext(ctx, "whatsapp:+63917", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, tracing.GetTraceID(ctx), result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := cq.Enqueue("whatsapp:+63917", task, nil)

	assert.Error(t, err)
	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_SameLaneNeverOverlaps(t *testing.T) {
	cq := New()
	defer cq.Close()

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := func(ctx context.Context) (interface{}, error) {
				current := atomic.AddInt32(&inFlight, 1)
				for {
					max := atomic.LoadInt32(&maxInFlight)
					if current <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, current) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil, nil
			}
			_, _ = cq.Enqueue("whatsapp:+63917", task, nil)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight),
		"tasks in the same lane must never run concurrently")
}

func TestCommandQueue_DifferentLanesRunConcurrently(t *testing.T) {
	cq := New()
	defer cq.Close()

	started := make(chan string, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup

	for _, lane := range []string{"whatsapp:+63111", "whatsapp:+63222"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
				started <- lane
				<-release
				return nil, nil
			}, nil)
		}()
	}

	// Both lanes start without either finishing.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestCommandQueue_RequestIDDedup(t *testing.T) {
	cq := New()
	defer cq.Close()

	var runs int32
	task := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&runs, 1)
		return "first", nil
	}

	opts := &TaskOptions{RequestID: "SM123"}
	result1, err1 := cq.Enqueue("whatsapp:+63917", task, opts)
	result2, err2 := cq.Enqueue("whatsapp:+63917", task, opts)

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, "first", result1)
	assert.Equal(t, "first", result2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "redelivered request must not run again")
}

func TestCommandQueue_DedupCachesErrors(t *testing.T) {
	cq := New()
	defer cq.Close()

	var runs int32
	expectedErr := errors.New("provider down")
	task := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&runs, 1)
		return nil, expectedErr
	}

	opts := &TaskOptions{RequestID: "SM456"}
	_, err1 := cq.Enqueue("whatsapp:+63917", task, opts)
	_, err2 := cq.Enqueue("whatsapp:+63917", task, opts)

	assert.Equal(t, expectedErr, err1)
	assert.Equal(t, expectedErr, err2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestCommandQueue_Stats(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, _ = cq.Enqueue("whatsapp:+63917", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)

	stats := cq.Stats()
	assert.Contains(t, stats, "whatsapp:+63917")
	assert.Equal(t, 0, stats["whatsapp:+63917"]["queued"])
	assert.Equal(t, 0, stats["whatsapp:+63917"]["running"])
}

func TestCommandQueue_QueueSizeUnknownLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	assert.Equal(t, 0, cq.QueueSize("unknown"))
	assert.False(t, cq.Running("unknown"))
}

func TestCommandQueue_WaitForActive(t *testing.T) {
	cq := New()
	defer cq.Close()

	go func() {
		task := func(ctx context.Context) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}
		_, _ = cq.Enqueue("whatsapp:+63917", task, nil)
	}()

	time.Sleep(10 * time.Millisecond)

	drained := cq.WaitForActive(500 * time.Millisecond)
	assert.True(t, drained)
}

func TestCommandQueue_WarnTimer(t *testing.T) {
	cq := New()
	defer cq.Close()

	var warned int32
	release := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the lane so the second task has to wait.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cq.Enqueue("whatsapp:+63917", func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cq.Enqueue("whatsapp:+63917", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait: func(wait time.Duration, queuePos int) {
				atomic.AddInt32(&warned, 1)
			},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&warned))
}
