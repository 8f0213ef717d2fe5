package workqueue

import (
	"context"
	"runtime"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bardlex/blockmine/pkg/errors"
)

func within(t *testing.T, d time.Duration, name string, fn func()) {
	t.Helper()
	finished := make(chan struct{})
	go func() {
		fn()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(d):
		t.Fatalf("%s did not finish within %v", name, d)
	}
}

func TestNew_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		opts    []Option
	}{
		{name: "zero workers", workers: 0},
		{name: "negative workers", workers: -3},
		{name: "negative task buffer", workers: 1, opts: []Option{WithTaskBuffer(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New[int](tt.workers, tt.opts...)
			if err == nil {
				_ = q.Shutdown()
				t.Fatal("New() expected error, got nil")
			}
			if !errors.IsType(err, errors.ErrorTypeValidation) {
				t.Errorf("New() error type = %v, want validation", err)
			}
		})
	}
}

func TestQueue_RunToCompletionDeliversExactOutputs(t *testing.T) {
	q, err := New[int](4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = q.Shutdown() }()

	var want []int
	for i := range 1000 {
		if i%3 == 0 {
			want = append(want, i)
		}
		if err := q.Enqueue(TaskFunc[int](func() (int, bool) { return i, i%3 == 0 })); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	q.CloseSubmissions()

	var got []int
	for out := range q.Results() {
		got = append(got, out)
	}
	slices.Sort(got)

	if !slices.Equal(got, want) {
		t.Fatalf("got %d outputs, want %d (no losses, no duplicates)", len(got), len(want))
	}

	stats := q.Stats()
	if stats.Submitted != 1000 || stats.Completed != 1000 || stats.Produced != int64(len(want)) {
		t.Errorf("unexpected stats %s", stats)
	}
}

func TestQueue_ShutdownIdempotentWithZeroTasks(t *testing.T) {
	q, err := New[string](3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	within(t, 5*time.Second, "double shutdown", func() {
		if err := q.Shutdown(); err != nil {
			t.Errorf("first Shutdown() error = %v", err)
		}
		if err := q.Shutdown(); err != nil {
			t.Errorf("second Shutdown() error = %v", err)
		}
		if err := q.Close(); err != nil {
			t.Errorf("Close() after Shutdown() error = %v", err)
		}
	})

	if _, err := q.Recv(); !errors.Is(err, ErrResultsClosed) {
		t.Errorf("Recv() after shutdown error = %v, want ErrResultsClosed", err)
	}

	select {
	case <-q.Done():
	default:
		t.Error("Done() should be closed after Shutdown()")
	}
}

func TestQueue_EnqueueAfterShutdownReturnsTask(t *testing.T) {
	q, err := New[int](1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := q.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	task := TaskFunc[int](func() (int, bool) { return 42, true })
	err = q.Enqueue(task)
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue() error = %v, want ErrQueueClosed", err)
	}

	var closed *ClosedError[int]
	if !errors.As(err, &closed) {
		t.Fatalf("Enqueue() error %T is not a *ClosedError", err)
	}
	if out, ok := closed.Task.Run(); !ok || out != 42 {
		t.Errorf("rejected task not carried back, Run() = %d, %v", out, ok)
	}
}

func TestQueue_ShutdownWithUnreadResults(t *testing.T) {
	q, err := New[int](2, WithResultBuffer(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := range 10 {
		if err := q.Enqueue(TaskFunc[int](func() (int, bool) { return i, true })); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	if _, err := q.RecvTimeout(5 * time.Second); err != nil {
		t.Fatalf("RecvTimeout() error = %v", err)
	}

	within(t, 5*time.Second, "shutdown with blocked senders", func() {
		if err := q.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}

func TestQueue_ShutdownDiscardsBacklog(t *testing.T) {
	q, err := New[int](1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var executed atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})

	blocking := TaskFunc[int](func() (int, bool) {
		executed.Add(1)
		close(started)
		<-release
		return 0, false
	})
	if err := q.Enqueue(blocking); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started

	for range 10 {
		task := TaskFunc[int](func() (int, bool) {
			executed.Add(1)
			return 1, true
		})
		if err := q.Enqueue(task); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- q.Shutdown() }()

	deadline := time.Now().Add(5 * time.Second)
	for q.Stats().Dropped < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("backlog not drained, stats %s", q.Stats())
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case err := <-shutdownErr:
		if err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() did not return after the running task finished")
	}

	if got := executed.Load(); got != 1 {
		t.Errorf("executed %d tasks, want only the one already running", got)
	}
}

func TestQueue_TaskPanicSurfacesOnShutdown(t *testing.T) {
	q, err := New[int](2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := range 20 {
		task := TaskFunc[int](func() (int, bool) {
			if i == 7 {
				panic("bad chunk")
			}
			return i, true
		})
		if err := q.Enqueue(task); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	q.CloseSubmissions()

	count := 0
	for range q.Results() {
		count++
	}
	if count != 19 {
		t.Errorf("got %d results, want 19 from the healthy tasks", count)
	}

	err = q.Shutdown()
	if !errors.IsType(err, errors.ErrorTypeWorkerPanic) {
		t.Fatalf("Shutdown() error = %v, want worker_panic", err)
	}
	if q.Err() != err {
		t.Errorf("Err() = %v, want %v", q.Err(), err)
	}
	if q.Stats().Panicked != 1 {
		t.Errorf("Panicked = %d, want 1", q.Stats().Panicked)
	}
}

func TestQueue_NonBlockingAndTimedReceive(t *testing.T) {
	q, err := New[string](1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = q.Shutdown() }()

	if _, err := q.TryRecv(); !errors.Is(err, ErrNoResult) {
		t.Errorf("TryRecv() error = %v, want ErrNoResult", err)
	}
	if _, err := q.RecvTimeout(10 * time.Millisecond); !errors.Is(err, ErrRecvTimeout) {
		t.Errorf("RecvTimeout() error = %v, want ErrRecvTimeout", err)
	}

	if err := q.Enqueue(TaskFunc[string](func() (string, bool) { return "proof", true })); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	got, err := q.RecvTimeout(5 * time.Second)
	if err != nil || got != "proof" {
		t.Errorf("RecvTimeout() = %q, %v, want proof", got, err)
	}
}

func TestQueue_RecvContextCanceled(t *testing.T) {
	q, err := New[int](1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = q.Shutdown() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.RecvContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RecvContext() error = %v, want deadline exceeded", err)
	}
}

func TestQueue_RecvAfterCompletionWithNoOutputs(t *testing.T) {
	q, err := New[int](3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = q.Shutdown() }()

	for range 5 {
		if err := q.Enqueue(TaskFunc[int](func() (int, bool) { return 0, false })); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	q.CloseSubmissions()

	within(t, 5*time.Second, "recv on exhausted queue", func() {
		if _, err := q.Recv(); !errors.Is(err, ErrResultsClosed) {
			t.Errorf("Recv() error = %v, want ErrResultsClosed", err)
		}
	})
}

// eventually runs a GC cycle per poll until cond holds or d elapses.
func eventually(t *testing.T, d time.Duration, name string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not happen within %v", name, d)
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestQueue_AbandonedQueueStopsWorkers(t *testing.T) {
	baseline := runtime.NumGoroutine()

	func() {
		q, err := New[int](4)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := q.Enqueue(TaskFunc[int](func() (int, bool) { return 1, true })); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}()

	eventually(t, 10*time.Second, "worker goroutines exit", func() bool {
		return runtime.NumGoroutine() <= baseline
	})
}

func TestQueue_AbandonedQueueDoesNotStallCleanups(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	p := func() *pool[int] {
		q, err := New[int](1)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		err = q.Enqueue(TaskFunc[int](func() (int, bool) {
			close(started)
			<-release
			return 0, false
		}))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		return q.pool
	}()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	within(t, 5*time.Second, "task start", func() { <-started })
	eventually(t, 10*time.Second, "abandoned queue shutdown", func() bool {
		return isClosed(p.stopping)
	})

	// The queue's cleanup is still joining the blocked worker; later
	// cleanups must run regardless.
	marker := make(chan struct{})
	func() {
		obj := new([64]byte)
		runtime.AddCleanup(obj, func(ch chan struct{}) { close(ch) }, marker)
	}()
	eventually(t, 10*time.Second, "later cleanup", func() bool {
		return isClosed(marker)
	})

	if isClosed(p.done) {
		t.Fatal("queue finished while its task was still blocked")
	}
	close(release)
	within(t, 5*time.Second, "abandoned queue join", func() { <-p.done })
}

func TestQueue_EnqueueRejectedOnceStopping(t *testing.T) {
	q, err := New[int](1, WithTaskBuffer(256))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Shutdown has begun but has not closed submissions yet.
	q.stopOnce.Do(func() { close(q.stopping) })

	task := TaskFunc[int](func() (int, bool) { return 1, true })
	for i := range 100 {
		if err := q.Enqueue(task); !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("Enqueue() #%d error = %v, want ErrQueueClosed", i, err)
		}
	}
	if s := q.Stats(); s.Submitted != 0 {
		t.Errorf("Submitted = %d, want 0", s.Submitted)
	}

	within(t, 5*time.Second, "shutdown", func() {
		if err := q.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}

func BenchmarkQueue_Throughput(b *testing.B) {
	q, err := New[int](4)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}
	defer func() { _ = q.Shutdown() }()

	task := TaskFunc[int](func() (int, bool) { return 1, true })
	b.ReportAllocs()
	for b.Loop() {
		if err := q.Enqueue(task); err != nil {
			b.Fatal(err)
		}
		if _, err := q.Recv(); err != nil {
			b.Fatal(err)
		}
	}
}
