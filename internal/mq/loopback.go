package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Loopback is an in-process backend. Published messages are buffered per
// channel until a subscriber drains them.
type Loopback struct {
	mu     sync.Mutex
	queues map[string]chan Message
	size   int
	closed bool
}

// NewLoopback creates a Loopback whose channels buffer up to size messages.
func NewLoopback(size int) *Loopback {
	if size < 1 {
		size = 64
	}
	return &Loopback{queues: make(map[string]chan Message), size: size}
}

func (l *Loopback) queue(channel string) (chan Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("loopback closed")
	}
	q, ok := l.queues[channel]
	if !ok {
		q = make(chan Message, l.size)
		l.queues[channel] = q
	}
	return q, nil
}

func (l *Loopback) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	q, err := l.queue(channel)
	if err != nil {
		return "", err
	}
	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe delivers messages until ctx is done. There is no redelivery:
// a message whose handler fails is dropped.
func (l *Loopback) Subscribe(ctx context.Context, channel string, handler Handler) error {
	q, err := l.queue(channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			_ = handler(ctx, msg)
		}
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
