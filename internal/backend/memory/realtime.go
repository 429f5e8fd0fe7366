package memory

import (
	"context"
	"sync"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
)

const channelBuffer = 256

type channel struct {
	b       *Backend
	topic   string
	filter  backend.EventFilter
	handler func(backend.ChangeEvent)

	queue chan backend.ChangeEvent
	done  chan struct{}

	// deliverMu is held while the handler runs, so Close can wait for an
	// in-flight delivery and block any later one.
	deliverMu sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// OpenChannel implements backend.Realtime. The in-process channel is live as
// soon as it is registered.
func (b *Backend) OpenChannel(ctx context.Context, topic string, filter backend.EventFilter, handler func(backend.ChangeEvent)) (backend.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &channel{
		b:       b,
		topic:   topic,
		filter:  filter,
		handler: handler,
		queue:   make(chan backend.ChangeEvent, channelBuffer),
		done:    make(chan struct{}),
	}

	b.subMu.Lock()
	b.channels[c] = struct{}{}
	b.subMu.Unlock()

	go c.run()
	return c, nil
}

// Channels returns the number of open channels.
func (b *Backend) Channels() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.channels)
}

func (b *Backend) fanOut(ev backend.ChangeEvent) {
	b.subMu.RLock()
	targets := make([]*channel, 0, len(b.channels))
	for c := range b.channels {
		if c.filter.Matches(ev) {
			targets = append(targets, c)
		}
	}
	b.subMu.RUnlock()

	for _, c := range targets {
		select {
		case c.queue <- ev:
		case <-c.done:
		}
	}
}

func (c *channel) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.queue:
			c.deliverMu.Lock()
			if c.closed {
				c.deliverMu.Unlock()
				return
			}
			c.handler(ev)
			c.deliverMu.Unlock()
		}
	}
}

func (c *channel) Topic() string {
	return c.topic
}

// Close must not be called from inside the handler.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.b.subMu.Lock()
		delete(c.b.channels, c)
		c.b.subMu.Unlock()

		close(c.done)
		c.deliverMu.Lock()
		c.closed = true
		c.deliverMu.Unlock()
	})
	return nil
}
