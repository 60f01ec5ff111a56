package queue

import (
	"context"
	"sync"
)

// Memory is an in-process Transport used by tests and brokerless runs. It
// keeps the broker contract: a nacked message with requeue=true is delivered
// again, a dropped one is gone.
type Memory struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func NewMemory(buffer int) *Memory {
	return &Memory{ch: make(chan Message, buffer)}
}

func (m *Memory) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return ErrClosed
	}
}

func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-m.ch:
				if !ok {
					return
				}
				d := Delivery{
					Message: msg,
					ack:     func() error { return nil },
					nack: func(requeue bool) error {
						if !requeue {
							return nil
						}
						return m.Publish(context.Background(), msg)
					},
				}
				select {
				case <-ctx.Done():
					// Receiver is gone; put the message back.
					_ = m.Publish(context.Background(), msg)
					return
				case out <- d:
				}
			}
		}
	}()
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
