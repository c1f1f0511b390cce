package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	q "github.com/iliyamo/patient-records/internal/queue"
)

// gatedPublisher blocks every publish until release is closed.
type gatedPublisher struct {
	release chan struct{}

	mu   sync.Mutex
	got  []q.PatientEvent
	errs int
}

func (g *gatedPublisher) PublishPatientEvent(ctx context.Context, ev q.PatientEvent) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		g.mu.Lock()
		g.errs++
		g.mu.Unlock()
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, ev)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAsyncPublisherDoesNotWaitForBroker(t *testing.T) {
	next := &gatedPublisher{release: make(chan struct{})}
	p := NewAsyncPublisher(next, 4, time.Minute, discard())

	start := time.Now()
	for id := int64(1); id <= 3; id++ {
		if err := p.PublishPatientEvent(context.Background(), q.PatientEvent{Action: q.ActionUpdated, PatientID: id}); err != nil {
			t.Fatalf("publish %d: %v", id, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("publish blocked for %s", elapsed)
	}

	close(next.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	next.mu.Lock()
	defer next.mu.Unlock()
	if len(next.got) != 3 {
		t.Fatalf("want 3 delivered events, got %d", len(next.got))
	}
	for i, ev := range next.got {
		if ev.PatientID != int64(i+1) {
			t.Fatalf("events out of order: %+v", next.got)
		}
	}
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	next := &gatedPublisher{release: make(chan struct{})}
	p := NewAsyncPublisher(next, 1, time.Minute, discard())
	defer func() {
		close(next.release)
		_ = p.Close(context.Background())
	}()

	var full bool
	for i := 0; i < 10; i++ {
		err := p.PublishPatientEvent(context.Background(), q.PatientEvent{Action: q.ActionCreated, PatientID: int64(i)})
		if errors.Is(err, ErrPublishQueueFull) {
			full = true
			break
		}
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if !full {
		t.Fatal("expected the buffer to fill up")
	}
}

func TestAsyncPublisherTimesOutSlowBroker(t *testing.T) {
	next := &gatedPublisher{release: make(chan struct{})}
	p := NewAsyncPublisher(next, 1, 20*time.Millisecond, discard())
	if err := p.PublishPatientEvent(context.Background(), q.PatientEvent{Action: q.ActionDeleted, PatientID: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	next.mu.Lock()
	defer next.mu.Unlock()
	if next.errs != 1 || len(next.got) != 0 {
		t.Fatalf("want one timed out publish, got errs=%d delivered=%d", next.errs, len(next.got))
	}
	if err := p.PublishPatientEvent(context.Background(), q.PatientEvent{}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("want ErrPublisherClosed, got %v", err)
	}
}
