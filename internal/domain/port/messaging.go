package port

import "context"

// StatusPublisher reports job state transitions to the capture status queue.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

// DLQPublisher parks a message that can no longer be processed, keeping the
// raw payload and the failure reason for later inspection.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
