// Package broker carries row-change events between processes. Its
// subpackages put a message broker behind backend.Realtime and
// backend.Publisher so several API instances share one realtime feed.
package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

// SubjectPrefix prefixes the subject (or channel) of every table.
const SubjectPrefix = "realtime"

// QueueSize bounds the events buffered for a slow handler. Events beyond it
// are dropped and counted.
const QueueSize = 256

// Subject returns the subject change events of table are published on.
func Subject(table string) string {
	return SubjectPrefix + "." + table
}

// Encode serializes a change event for the wire.
func Encode(ev backend.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Table, err)
	}
	return data, nil
}

// Decode parses a change event received on subject.
func Decode(subject string, data []byte) (backend.ChangeEvent, error) {
	var ev backend.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event on %s: %w", subject, err)
	}
	if ev.Table == "" {
		ev.Table = strings.TrimPrefix(subject, SubjectPrefix+".")
	}
	return ev, nil
}

// Dispatcher hands decoded events to one channel handler on its own
// goroutine, in arrival order.
type Dispatcher struct {
	name    string
	topic   string
	filter  backend.EventFilter
	handler func(backend.ChangeEvent)
	logger  *logger.Logger

	queue chan backend.ChangeEvent
	done  chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	stopped   chan struct{}
}

// NewDispatcher starts a dispatcher. name identifies the broker in logs and
// metrics.
func NewDispatcher(name, topic string, filter backend.EventFilter, handler func(backend.ChangeEvent), log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		name:    name,
		topic:   topic,
		filter:  filter,
		handler: handler,
		logger:  log,
		queue:   make(chan backend.ChangeEvent, QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Topic() string {
	return d.topic
}

// Receive decodes one wire message and queues it if the filter accepts it.
// It never blocks.
func (d *Dispatcher) Receive(subject string, data []byte) {
	ev, err := Decode(subject, data)
	if err != nil {
		metrics.RealtimeEventsTotal.WithLabelValues(strings.TrimPrefix(subject, SubjectPrefix+"."), "malformed").Inc()
		d.logger.Warn("dropping malformed change event", zap.String("broker", d.name), zap.Error(err))
		return
	}
	if !d.filter.Matches(ev) {
		return
	}
	select {
	case <-d.done:
	case d.queue <- ev:
	default:
		metrics.RealtimeEventsTotal.WithLabelValues(ev.Table, "dropped").Inc()
		d.logger.Warn("realtime queue full, dropping event",
			zap.String("broker", d.name),
			zap.String("topic", d.topic),
		)
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.handler(ev)
			d.mu.Unlock()
		}
	}
}

// Close stops delivery and waits for an in-flight handler call. It must not
// be called from inside the handler.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		<-d.stopped
	})
}
