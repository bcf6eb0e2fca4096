package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// RequestID makes the task idempotent: a second enqueue with the same ID
	// inside the dedup window returns the first result without running again.
	// Webhook redeliveries carry the same message SID, so they land here.
	RequestID string

	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState holds the FIFO queue for one sender. Exactly one task per lane
// may be running.
type laneState struct {
	queue   []*taskRecord
	running bool
	mu      sync.Mutex
}

// CommandQueue serializes tasks per lane with cross-lane concurrency.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	dedup     *dedupCache
}

// New creates a command queue. Lanes come into existence on first enqueue.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, 0),
	}
}

// Enqueue adds a task to the lane and blocks until it completes.
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the lane, propagating context metadata,
// and blocks until the task completes.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"stockbot.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetSender(ctx) == "" {
		ctx = tracing.WithSender(ctx, lane)
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if opts.RequestID != "" {
		if cached, ok := cq.dedup.Get(opts.RequestID); ok {
			logger.Debug().
				Str("lane", lane).
				Str("requestId", opts.RequestID).
				Msg("Duplicate request, returning cached result")
			return cached.value, cached.err
		}
	}

	ls := cq.lane(lane)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	if opts.RequestID != "" {
		cq.dedup.Set(opts.RequestID, result)
	}
	return result.value, result.err
}

// lane returns the state for a lane, creating it if needed.
func (cq *CommandQueue) lane(lane string) *laneState {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if exists {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, exists = cq.lanes[lane]; !exists {
		ls = &laneState{}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}
	return ls
}

// processLane starts the next queued task if the lane's slot is free.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane)

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.running || len(ls.queue) == 0 {
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true

	logger := tracing.LoggerFromContext(record.ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Msg("Task started")

	cq.wg.Add(1)
	go cq.executeTask(lane, ls, record)
}

// executeTask runs a single task and releases the lane slot.
func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"stockbot.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	// Shutdown cancels in-flight tasks.
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running = false
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go cq.processLane(lane)
}

// startWarnTimer warns when a task sits queued for longer than expected.
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane)
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
	}
}

// QueueSize returns the number of queued (not running) tasks for a lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Running reports whether a lane currently has a task executing.
func (cq *CommandQueue) Running(lane string) bool {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()

	if !exists {
		return false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued/running counts per lane.
func (cq *CommandQueue) Stats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
		ls.mu.Unlock()
	}

	return stats
}

// WaitForActive waits for all running tasks to complete with timeout.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if ls.running || len(ls.queue) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if allDrained {
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close cancels in-flight task contexts and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}
