package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBrokerClosed is returned by a Broker after Close.
var ErrBrokerClosed = errors.New("scheduler: broker closed")

// Message asks a worker to run a task once.
type Message struct {
	ID         string    `msgpack:"id" json:"id"`
	Task       string    `msgpack:"task" json:"task"`
	Queue      string    `msgpack:"queue" json:"queue"`
	EnqueuedAt time.Time `msgpack:"enqueued_at" json:"enqueued_at"`
	// Attempt counts deliveries, starting at 1.
	Attempt int  `msgpack:"attempt" json:"attempt"`
	Manual  bool `msgpack:"manual" json:"manual"`
}

// Delivery is a message handed to one consumer. It must be acked once the
// task finished or nacked to put it back for another attempt.
type Delivery interface {
	Message() Message
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// Broker moves messages from the scheduler to the queue workers.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	// Consume blocks until a message is available on queue or ctx is done.
	Consume(ctx context.Context, queue string) (Delivery, error)
	Close() error
}

// MemoryBroker is an in-process Broker. Messages do not survive a restart.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed chan struct{}
	once   sync.Once
}

type memoryQueue struct {
	items  []Message
	notify chan struct{}
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: map[string]*memoryQueue{},
		closed: make(chan struct{}),
	}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{notify: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}

	b.mu.Lock()
	q := b.queue(msg.Queue)
	q.items = append(q.items, msg)
	b.mu.Unlock()

	q.signal()
	return nil
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string) (Delivery, error) {
	for {
		b.mu.Lock()
		q := b.queue(queue)
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			b.mu.Unlock()
			if more {
				q.signal()
			}
			return &memoryDelivery{broker: b, msg: msg}, nil
		}
		b.mu.Unlock()

		select {
		case <-q.notify:
		case <-b.closed:
			return nil, ErrBrokerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of messages waiting on queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.items)
	}
	return 0
}

// Drain removes and returns every message waiting on queue.
func (b *MemoryBroker) Drain(queue string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type memoryDelivery struct {
	broker *MemoryBroker
	msg    Message
	mu     sync.Mutex
	done   bool
}

func (d *memoryDelivery) Message() Message { return d.msg }

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	return nil
}

// Nack puts the message back at the end of its queue with the next attempt
// number.
func (d *memoryDelivery) Nack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return nil
	}
	d.done = true

	msg := d.msg
	msg.Attempt++
	return d.broker.Publish(ctx, msg)
}
