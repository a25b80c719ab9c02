// Package audit delivers request and error events to out-of-band sinks
// without holding up the request path.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindRequest  = "request"
	KindError    = "error"
	KindCritical = "critical"
)

// Event titles as they appear in the webhook channel.
const (
	TitleRequest  = "REQUEST LOG!"
	TitleError    = "ERROR LOG!"
	TitleCritical = "CRITICAL ERROR!"
)

// Event is one audit record.
type Event struct {
	ID      string
	Kind    string
	Title   string
	Message string
	Status  int
	At      time.Time
}

// RequestEvent describes a served request.
func RequestEvent(userID, model, providerShort string, elapsed time.Duration) Event {
	return newEvent(KindRequest, TitleRequest, 200, fmt.Sprintf(
		"User: <@%s>\nModel: %s\nProvider: %s\nRequest time: %.2fs",
		userID, model, providerShort, elapsed.Seconds()))
}

// ErrorEvent describes a request that failed with status.
func ErrorEvent(status int, message string) Event {
	kind, title := KindError, TitleError
	if status >= 500 || status == 469 {
		kind, title = KindCritical, TitleCritical
	}
	return newEvent(kind, title, status, message)
}

func newEvent(kind, title string, status int, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Title:   title,
		Message: message,
		Status:  status,
		At:      time.Now().UTC(),
	}
}

// Sink receives events.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Emitter is what the request path depends on.
type Emitter interface {
	Emit(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Dispatcher fans events out to sinks from a bounded queue. Emit never
// blocks; when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	logger  *slog.Logger
	retries int
	backoff time.Duration
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Emitter = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithRetry sets how many extra attempts a failed send gets and the base
// backoff, doubled after each attempt.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.retries = retries
		d.backoff = backoff
	}
}

// WithLogger sets the logger used for drops and delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher starts workers delivering to sinks.
func NewDispatcher(sinks []Sink, workers int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, 256),
		logger:  slog.Default(),
		retries: 3,
		backoff: 500 * time.Millisecond,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Emit enqueues e. It never blocks.
func (d *Dispatcher) Emit(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Warn("audit queue full, dropping event", "kind", e.Kind, "id", e.ID)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		for _, s := range d.sinks {
			d.deliver(s, e)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	wait := d.backoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Send(ctx, e)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.retries {
			d.logger.Error("audit delivery failed", "kind", e.Kind, "id", e.ID, "attempts", attempt+1, "error", err)
			return
		}
		time.Sleep(wait)
		wait *= 2
	}
}
