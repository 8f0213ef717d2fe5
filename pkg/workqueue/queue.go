// Package workqueue provides a fixed-size worker pool fed by a shared task
// channel and drained through a single result channel.
//
// Tasks are distributed, not broadcast: each task is run by exactly one
// worker. A task reports whether it produced an output; outputs are delivered
// in completion order, empty runs are dropped. The queue owns its workers end
// to end: Shutdown closes submissions, discards the backlog and joins every
// worker before returning.
package workqueue

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/blockmine/pkg/errors"
	"github.com/bardlex/blockmine/pkg/log"
)

// Task is one unit of work. Run returns ok == false when the work item found
// nothing worth reporting; that is not an error.
type Task[T any] interface {
	Run() (out T, ok bool)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc[T any] func() (T, bool)

// Run calls f.
func (f TaskFunc[T]) Run() (T, bool) { return f() }

const defaultTaskBuffer = 1024

// Queue is a worker pool with one task channel and one result channel.
//
// Queue is a thin handle over the shared state the workers hold, so an
// abandoned Queue can be collected and shut down by its cleanup.
type Queue[T any] struct {
	*pool[T]
}

type pool[T any] struct {
	workers int
	logger  *log.Logger

	// mu guards closed against concurrent Enqueue so a send never races close(tasks).
	mu      sync.RWMutex
	closed  bool
	tasks   chan Task[T]
	results chan T

	stopping chan struct{} // closed when Shutdown begins
	done     chan struct{} // closed after every worker exited and results is closed

	group    errgroup.Group
	err      error
	stopOnce sync.Once
	subOnce  sync.Once

	stats counters
}

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	produced  atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Workers   int
	Submitted int64
	Completed int64
	Produced  int64
	Dropped   int64
	Panicked  int64
}

type options struct {
	logger       *log.Logger
	taskBuffer   int
	resultBuffer int
}

// Option configures a Queue.
type Option func(*options)

// WithLogger sets the logger used for worker lifecycle events.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTaskBuffer sets the task channel capacity. Enqueue blocks while the
// buffer is full.
func WithTaskBuffer(n int) Option {
	return func(o *options) { o.taskBuffer = n }
}

// WithResultBuffer sets the result channel capacity.
func WithResultBuffer(n int) Option {
	return func(o *options) { o.resultBuffer = n }
}

// New starts a queue with the given number of workers.
func New[T any](workers int, opts ...Option) (*Queue[T], error) {
	if workers < 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "new_queue",
			"worker count must be positive, got %d", workers)
	}

	o := options{
		logger:       log.Nop(),
		taskBuffer:   defaultTaskBuffer,
		resultBuffer: workers,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.taskBuffer < 0 || o.resultBuffer < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "new_queue", "buffer sizes must not be negative")
	}

	p := &pool[T]{
		workers:  workers,
		logger:   o.logger.WithComponent("workqueue"),
		tasks:    make(chan Task[T], o.taskBuffer),
		results:  make(chan T, o.resultBuffer),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for id := range workers {
		p.group.Go(func() error { return p.work(id) })
	}
	go p.finish()

	q := &Queue[T]{pool: p}
	runtime.AddCleanup(q, func(p *pool[T]) {
		// Joining can take as long as the slowest running task.
		go func() {
			if err := p.shutdown(); err != nil {
				p.logger.WithError(err).Error("abandoned work queue shut down with failure")
			}
		}()
	}, p)

	return q, nil
}

// work is the worker loop. A panicking task is recorded and the worker keeps
// serving; the first failure is returned when the channel is exhausted.
func (p *pool[T]) work(id int) error {
	var failure error

	for task := range p.tasks {
		select {
		case <-p.stopping:
			p.stats.dropped.Add(1)
			continue
		default:
		}

		out, ok, err := p.run(id, task)
		p.stats.completed.Add(1)
		if err != nil {
			p.stats.panicked.Add(1)
			p.logger.WithError(err).Error("task panicked", "worker_id", id)
			if failure == nil {
				failure = err
			}
			continue
		}
		if !ok {
			continue
		}

		select {
		case p.results <- out:
			p.stats.produced.Add(1)
		case <-p.stopping:
			p.stats.dropped.Add(1)
		}
	}

	return failure
}

func (p *pool[T]) run(id int, task Task[T]) (out T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorTypeWorkerPanic, "run_task", "task panicked: %v", r).
				WithContext("worker_id", id)
		}
	}()
	out, ok = task.Run()
	return out, ok, nil
}

// finish joins the workers and closes the result channel so receivers can
// tell "closed with no result" apart from "still running".
func (p *pool[T]) finish() {
	p.err = p.group.Wait()
	close(p.results)
	close(p.done)
}

// Enqueue submits one task. After submissions are closed it returns a
// *ClosedError holding the rejected task.
func (q *Queue[T]) Enqueue(task Task[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return &ClosedError[T]{Task: task}
	}

	// select picks at random between ready cases, so look at stopping first.
	select {
	case <-q.stopping:
		return &ClosedError[T]{Task: task}
	default:
	}

	select {
	case q.tasks <- task:
		q.stats.submitted.Add(1)
		return nil
	case <-q.stopping:
		return &ClosedError[T]{Task: task}
	}
}

// CloseSubmissions stops accepting tasks without discarding the backlog.
// Workers finish every queued task, then the result channel is closed.
func (q *Queue[T]) CloseSubmissions() {
	q.closeSubmissions()
}

func (p *pool[T]) closeSubmissions() {
	p.subOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
}

// Shutdown closes submissions, discards queued tasks and waits for every
// worker to return. Tasks already running are not interrupted. Shutdown is
// idempotent and returns the first task failure, if any.
func (q *Queue[T]) Shutdown() error {
	return q.shutdown()
}

// Close is Shutdown under the io.Closer name so the queue fits defer-close idioms.
func (q *Queue[T]) Close() error {
	return q.shutdown()
}

func (p *pool[T]) shutdown() error {
	start := time.Now()

	p.stopOnce.Do(func() { close(p.stopping) })
	p.closeSubmissions()

	for range p.tasks {
		p.stats.dropped.Add(1)
	}
	<-p.done

	s := p.snapshot()
	p.logger.LogQueueShutdown(s.Workers, s.Completed, s.Produced, s.Dropped, time.Since(start))
	return p.err
}

// Done is closed once every worker has exited.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Err returns the first task failure once the queue is done, nil before.
func (q *Queue[T]) Err() error {
	select {
	case <-q.done:
		return q.err
	default:
		return nil
	}
}

// Recv blocks until a result is available. It returns ErrResultsClosed once
// the queue is done and no buffered results remain.
func (q *Queue[T]) Recv() (T, error) {
	out, ok := <-q.results
	if !ok {
		var zero T
		return zero, ErrResultsClosed
	}
	return out, nil
}

// TryRecv returns a ready result without blocking, or ErrNoResult.
func (q *Queue[T]) TryRecv() (T, error) {
	var zero T
	select {
	case out, ok := <-q.results:
		if !ok {
			return zero, ErrResultsClosed
		}
		return out, nil
	default:
		return zero, ErrNoResult
	}
}

// RecvTimeout waits up to d for a result.
func (q *Queue[T]) RecvTimeout(d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case out, ok := <-q.results:
		if !ok {
			return zero, ErrResultsClosed
		}
		return out, nil
	case <-timer.C:
		return zero, ErrRecvTimeout
	}
}

// RecvContext waits for a result or for ctx to end.
func (q *Queue[T]) RecvContext(ctx context.Context) (T, error) {
	var zero T
	select {
	case out, ok := <-q.results:
		if !ok {
			return zero, ErrResultsClosed
		}
		return out, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Results yields results until the result channel is closed.
func (q *Queue[T]) Results() iter.Seq[T] {
	return func(yield func(T) bool) {
		for out := range q.results {
			if !yield(out) {
				return
			}
		}
	}
}

// Workers returns the pool size.
func (q *Queue[T]) Workers() int {
	return q.workers
}

// Stats returns current counters.
func (q *Queue[T]) Stats() Stats {
	return q.snapshot()
}

func (p *pool[T]) snapshot() Stats {
	return Stats{
		Workers:   p.workers,
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Produced:  p.stats.produced.Load(),
		Dropped:   p.stats.dropped.Load(),
		Panicked:  p.stats.panicked.Load(),
	}
}

// String implements fmt.Stringer for log output.
func (s Stats) String() string {
	return fmt.Sprintf("workers=%d submitted=%d completed=%d produced=%d dropped=%d panicked=%d",
		s.Workers, s.Submitted, s.Completed, s.Produced, s.Dropped, s.Panicked)
}
