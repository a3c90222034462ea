package transport

import (
	"context"
	"sync"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/metrics"
	"github.com/pkg/errors"
)

const transportMemory = "memory"

type memoryTopic struct {
	messages  []*Message
	nextIndex uint16
	closed    bool
	notify    chan struct{}
}

// MemoryRoom is an in-process room. Every party of a test or a single-host
// deployment joins the same MemoryRoom.
type MemoryRoom struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
}

func NewMemoryRoom() *MemoryRoom {
	return &MemoryRoom{topics: make(map[string]*memoryTopic)}
}

func (r *MemoryRoom) topic(name string) *memoryTopic {
	t, ok := r.topics[name]
	if !ok {
		t = &memoryTopic{notify: make(chan struct{})}
		r.topics[name] = t
	}
	return t
}

func (r *MemoryRoom) Join(_ context.Context, name string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}
	t := r.topic(name)
	if t.closed {
		return nil, errors.Wrapf(ErrChannelClosed, "channel %s", name)
	}
	t.nextIndex++
	return &memoryChannel{room: r, name: name, index: t.nextIndex}, nil
}

// CloseChannel ends a channel for every member; pending and later Recv calls
// drain the remaining history and then fail with ErrChannelClosed.
func (r *MemoryRoom) CloseChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topic(name)
	if !t.closed {
		t.closed = true
		close(t.notify)
	}
}

func (r *MemoryRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, t := range r.topics {
		if !t.closed {
			t.closed = true
			close(t.notify)
		}
	}
	return nil
}

type memoryChannel struct {
	room   *MemoryRoom
	name   string
	index  uint16
	cursor int

	mu     sync.Mutex
	closed bool
}

func (c *memoryChannel) Name() string  { return c.name }
func (c *memoryChannel) Index() uint16 { return c.index }

func (c *memoryChannel) Send(_ context.Context, body interface{}) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	msg, err := newMessage(c.index, body)
	if err != nil {
		return err
	}

	c.room.mu.Lock()
	defer c.room.mu.Unlock()
	t := c.room.topic(c.name)
	if t.closed {
		metrics.TransportMessagesTotal.WithLabelValues(transportMemory, "tx", "closed").Inc()
		return ErrChannelClosed
	}
	t.messages = append(t.messages, msg)
	close(t.notify)
	t.notify = make(chan struct{})
	metrics.TransportMessagesTotal.WithLabelValues(transportMemory, "tx", "ok").Inc()
	return nil
}

func (c *memoryChannel) Recv(ctx context.Context) (*Message, error) {
	for {
		if c.isClosed() {
			return nil, ErrChannelClosed
		}

		c.room.mu.Lock()
		t := c.room.topic(c.name)
		var next *Message
		for c.cursor < len(t.messages) {
			m := t.messages[c.cursor]
			c.cursor++
			if m.Sender != c.index {
				next = m
				break
			}
		}
		closed := t.closed
		notify := t.notify
		c.room.mu.Unlock()

		if next != nil {
			metrics.TransportMessagesTotal.WithLabelValues(transportMemory, "rx", "ok").Inc()
			return next, nil
		}
		if closed {
			return nil, ErrChannelClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

func (c *memoryChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
