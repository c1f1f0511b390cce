package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	q "github.com/iliyamo/patient-records/internal/queue"
	"github.com/iliyamo/patient-records/pkg/sl"
)

var (
	ErrPublishQueueFull = errors.New("publish queue is full")
	ErrPublisherClosed  = errors.New("publisher is closed")
)

const (
	defaultPublishBuffer  = 256
	defaultPublishTimeout = 5 * time.Second
)

// AsyncPublisher hands events to a background worker so request handlers
// never wait on the broker. Events are delivered in order; when the buffer
// is full new events are dropped and reported to the caller.
type AsyncPublisher struct {
	next    EventPublisher
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan q.PatientEvent
	done   chan struct{}
}

// NewAsyncPublisher starts the worker. Non-positive buffer and timeout
// values fall back to 256 events and 5s per publish.
func NewAsyncPublisher(next EventPublisher, buffer int, timeout time.Duration, log *slog.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = defaultPublishBuffer
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	p := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		log:     log,
		events:  make(chan q.PatientEvent, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishPatientEvent queues event without blocking. ctx is not used for the
// delivery itself: the request that produced the event may be long gone by
// the time the worker reaches it.
func (p *AsyncPublisher) PublishPatientEvent(_ context.Context, event q.PatientEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.events <- event:
		return nil
	default:
		p.log.Warn("patient event dropped", slog.String("action", event.Action), slog.Int64("patient_id", event.PatientID))
		return ErrPublishQueueFull
	}
}

// Close stops accepting events and waits for the queued ones to be
// delivered, or for ctx to end.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.PublishPatientEvent(ctx, ev); err != nil {
			p.log.Debug("patient event not delivered", sl.Err(err), slog.String("action", ev.Action))
		}
		cancel()
	}
}
