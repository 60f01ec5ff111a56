// Package queue carries job messages from the dispatcher to the worker pool.
// Delivery is at-least-once: a message stays in flight until the consumer
// acknowledges it, and an unacknowledged or nacked message is redelivered.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing to or consuming from a closed transport.
var ErrClosed = errors.New("transport closed")

// Message is the job payload put on the wire.
type Message struct {
	RequestID string `json:"request_id"`
	UserID    uint   `json:"user_id"`
	AudioRef  string `json:"audio_ref"`
}

// Delivery is one received message plus its manual acknowledgment handles.
type Delivery struct {
	Message

	ack  func() error
	nack func(requeue bool) error
}

// Ack confirms the message is fully handled; it will not be redelivered.
func (d Delivery) Ack() error { return d.ack() }

// Nack returns the message to the broker, optionally requeueing it.
func (d Delivery) Nack(requeue bool) error { return d.nack(requeue) }

// Transport is a durable queue with manual acknowledgment.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	// Consume returns a channel the worker pool ranges over. The channel is
	// closed when ctx is cancelled or the transport shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
