package workqueue

import (
	"fmt"

	"github.com/bardlex/blockmine/pkg/errors"
)

var (
	// ErrQueueClosed is matched by every ClosedError.
	ErrQueueClosed = errors.New(errors.ErrorTypeQueue, "enqueue", "queue closed")

	// ErrResultsClosed means the queue is done and no results remain.
	ErrResultsClosed = errors.New(errors.ErrorTypeQueue, "recv", "result channel closed and empty")

	// ErrNoResult means no result was ready for a non-blocking receive.
	ErrNoResult = errors.New(errors.ErrorTypeQueue, "try_recv", "no result ready")

	// ErrRecvTimeout means no result arrived before the deadline.
	ErrRecvTimeout = errors.New(errors.ErrorTypeTimeout, "recv_timeout", "no result before timeout")
)

// ClosedError is returned by Enqueue after submissions closed. It carries
// the rejected task so the caller can decide what to do with it.
type ClosedError[T any] struct {
	Task Task[T]
}

func (e *ClosedError[T]) Error() string {
	return fmt.Sprintf("enqueue rejected: %v", ErrQueueClosed)
}

func (e *ClosedError[T]) Unwrap() error {
	return ErrQueueClosed
}
