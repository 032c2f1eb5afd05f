package queue

import "context"

const (
	// BatchWorkQueue carries one task per submitted batch job.
	BatchWorkQueue = "geocode.batches"

	// BatchDLQ receives tasks rejected as unparseable or invalid.
	BatchDLQ = "dlq.geocode.batches"
)

// Publisher publishes batch tasks to the work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, task BatchTask) error
	Close() error
}

// TaskHandler handles a consumed batch task.
type TaskHandler func(ctx context.Context, task BatchTask) error

// Consumer consumes batch tasks from the work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler TaskHandler) error
	Close() error
}
