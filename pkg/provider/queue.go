package provider

import "time"

// Queue is the message queue capability contract with at-least-once
// delivery.
//
// Dequeue hands out a ReceiptHandle scoped to a visibility window. Ack
// permanently removes the message; Nack or a ChangeVisibility call makes it
// eligible for redelivery. A message whose window elapses without an Ack
// must become redeliverable, with its Attempts count incremented.
type Queue interface {
	Enqueue(ctx *Context, req EnqueueRequest) (EnqueueResult, error)
	Dequeue(ctx *Context, req DequeueRequest) ([]Message, error)

	// Ack permanently removes a delivered message. The receipt handle must
	// be from the most recent delivery of the message.
	Ack(ctx *Context, req AckRequest) error

	// Nack returns a delivered message to the queue immediately.
	Nack(ctx *Context, req NackRequest) error

	// ChangeVisibility extends or shortens the visibility window of a
	// delivered message.
	ChangeVisibility(ctx *Context, req ChangeVisibilityRequest) error
}

// EnqueueRequest publishes a message.
type EnqueueRequest struct {
	Queue string
	Body  []byte
	// Delay postpones first delivery.
	Delay time.Duration
	// GroupID orders messages within a group on FIFO-capable queues.
	GroupID        string
	Attributes     map[string]string
	IdempotencyKey string
}

// EnqueueResult identifies the published message.
type EnqueueResult struct {
	MessageID string
	// Sequence is a monotonically increasing per-queue sequence number.
	Sequence int64
}

// DequeueRequest receives up to MaxMessages messages, hiding each behind
// VisibilityTimeout.
type DequeueRequest struct {
	Queue             string
	MaxMessages       int
	VisibilityTimeout time.Duration
}

// Message is a delivered queue message.
type Message struct {
	MessageID     string
	Body          []byte
	ReceiptHandle string
	Sequence      int64
	// Attempts counts deliveries of this message including this one.
	Attempts   int
	Attributes map[string]string
}

// AckRequest acknowledges a delivery.
type AckRequest struct {
	Queue         string
	ReceiptHandle string
}

// NackRequest rejects a delivery.
type NackRequest struct {
	Queue         string
	ReceiptHandle string
}

// ChangeVisibilityRequest adjusts a delivery's visibility window relative to
// now.
type ChangeVisibilityRequest struct {
	Queue             string
	ReceiptHandle     string
	VisibilityTimeout time.Duration
}
