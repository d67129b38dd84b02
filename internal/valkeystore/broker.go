package valkeystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-analytics-cache/scheduler"
)

var _ scheduler.Broker = (*Broker)(nil)

// DefaultPollTimeout is how long a single blocking pop waits before the
// consumer rechecks its context.
const DefaultPollTimeout = time.Second

// Broker is a scheduler.Broker over valkey lists. Each queue has a pending
// list and a processing list; a consumer moves a message from one to the
// other and removes it once acked, so messages held by a crashed process can
// be put back with Recover.
type Broker struct {
	client      *Client
	pollTimeout time.Duration

	closed chan struct{}
	once   sync.Once
}

// NewBroker returns a Broker storing queues under the client's prefix.
func NewBroker(client *Client) *Broker {
	return &Broker{
		client:      client,
		pollTimeout: DefaultPollTimeout,
		closed:      make(chan struct{}),
	}
}

func (b *Broker) pendingKey(queue string) string {
	return b.client.Key("queue", queue)
}

func (b *Broker) processingKey(queue string) string {
	return b.client.Key("queue", queue, "processing")
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *Broker) Publish(ctx context.Context, msg scheduler.Message) error {
	if b.isClosed() {
		return scheduler.ErrBrokerClosed
	}

	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	inner := b.client.Inner()
	cmd := inner.B().Lpush().Key(b.pendingKey(msg.Queue)).Element(payload).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkeystore: publish %s: %w", msg.Task, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string) (scheduler.Delivery, error) {
	inner := b.client.Inner()
	for {
		if b.isClosed() {
			return nil, scheduler.ErrBrokerClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cmd := inner.B().Brpoplpush().
			Source(b.pendingKey(queue)).
			Destination(b.processingKey(queue)).
			Timeout(b.pollTimeout.Seconds()).
			Build()
		raw, err := inner.Do(ctx, cmd).ToString()
		if err != nil {
			if valkeylib.IsValkeyNil(err) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("valkeystore: consume %s: %w", queue, err)
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			// Unreadable payloads are dropped from processing so they do not
			// come back on every Recover.
			_ = inner.Do(ctx, inner.B().Lrem().Key(b.processingKey(queue)).Count(1).Element(raw).Build()).Error()
			return nil, err
		}
		return &delivery{broker: b, queue: queue, raw: raw, msg: msg}, nil
	}
}

// Recover moves every message left in queue's processing list back to the
// pending list and returns how many were moved.
func (b *Broker) Recover(ctx context.Context, queue string) (int, error) {
	inner := b.client.Inner()
	moved := 0
	for {
		cmd := inner.B().Rpoplpush().Source(b.processingKey(queue)).Destination(b.pendingKey(queue)).Build()
		err := inner.Do(ctx, cmd).Error()
		if err != nil {
			if valkeylib.IsValkeyNil(err) {
				return moved, nil
			}
			return moved, fmt.Errorf("valkeystore: recover %s: %w", queue, err)
		}
		moved++
	}
}

// Len returns the number of pending messages on queue.
func (b *Broker) Len(ctx context.Context, queue string) (int64, error) {
	inner := b.client.Inner()
	n, err := inner.Do(ctx, inner.B().Llen().Key(b.pendingKey(queue)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("valkeystore: len %s: %w", queue, err)
	}
	return n, nil
}

// Close stops consumers. The valkey client stays open.
func (b *Broker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type delivery struct {
	broker *Broker
	queue  string
	raw    string
	msg    scheduler.Message

	mu   sync.Mutex
	done bool
}

func (d *delivery) Message() scheduler.Message { return d.msg }

func (d *delivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return false
	}
	d.done = true
	return true
}

func (d *delivery) Ack(ctx context.Context) error {
	if !d.settle() {
		return nil
	}
	return d.remove(ctx)
}

// Nack republishes the message with the next attempt number and removes the
// original from the processing list.
func (d *delivery) Nack(ctx context.Context) error {
	if !d.settle() {
		return nil
	}

	msg := d.msg
	msg.Attempt++
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	inner := d.broker.client.Inner()
	results := inner.DoMulti(ctx,
		inner.B().Lpush().Key(d.broker.pendingKey(d.queue)).Element(payload).Build(),
		inner.B().Lrem().Key(d.broker.processingKey(d.queue)).Count(1).Element(d.raw).Build(),
	)
	var errs []error
	for _, r := range results {
		if err := r.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("valkeystore: nack %s: %w", d.msg.Task, err)
	}
	return nil
}

func (d *delivery) remove(ctx context.Context) error {
	inner := d.broker.client.Inner()
	cmd := inner.B().Lrem().Key(d.broker.processingKey(d.queue)).Count(1).Element(d.raw).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkeystore: ack %s: %w", d.msg.Task, err)
	}
	return nil
}

func encodeMessage(msg scheduler.Message) (string, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("valkeystore: encode message: %w", err)
	}
	return valkeylib.BinaryString(data), nil
}

func decodeMessage(raw string) (scheduler.Message, error) {
	var msg scheduler.Message
	if err := msgpack.Unmarshal([]byte(raw), &msg); err != nil {
		return scheduler.Message{}, fmt.Errorf("valkeystore: decode message: %w", err)
	}
	return msg, nil
}
