// Package poller keeps the latest result of a remote fetch, refreshed on a
// fixed interval or fetched once.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"transithub/pkg/api"
	"transithub/pkg/liveness"
	"transithub/pkg/logging"
	"transithub/pkg/metrics"
	"transithub/pkg/otel"
	"transithub/pkg/types"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInterval is the status feed refresh period.
const DefaultInterval = 60 * time.Second

// FetchFunc retrieves one result.
type FetchFunc[T any] func(ctx context.Context) (*T, error)

// State is a poller's observable state. Data survives failed fetches.
type State[T any] struct {
	Data      *T
	Loading   bool
	Err       string
	UpdatedAt time.Time
}

type config struct {
	clock Clock
}

type Option func(*config)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// Poller fetches on Start and then on every tick of its interval. A zero
// interval fetches exactly once. Ticks dispatch a new fetch even while earlier
// ones are still in flight; only the newest result to arrive may commit.
type Poller[T any] struct {
	name     string
	fetch    FetchFunc[T]
	interval time.Duration
	clock    Clock
	guard    *liveness.Guard
	tracer   trace.Tracer
	logger   *slog.Logger

	// OnUpdate, if set before Start, is called after every state change.
	OnUpdate func(State[T])

	mu       sync.Mutex
	state    State[T]
	inFlight int
	started  bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New[T any](name string, fetch FetchFunc[T], interval time.Duration, opts ...Option) *Poller[T] {
	cfg := config{clock: RealClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Poller[T]{
		name:     name,
		fetch:    fetch,
		interval: interval,
		clock:    cfg.clock,
		guard:    liveness.New(),
		tracer:   otelapi.Tracer("transithub-poller"),
		logger:   logging.Component("poller").With("poller", name),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// StatusSource fetches status snapshots.
type StatusSource interface {
	FetchStatus(ctx context.Context, feedID string) (*types.FeedSnapshot, error)
}

// OutageSource fetches accessibility outages.
type OutageSource interface {
	FetchOutages(ctx context.Context) (types.Outages, error)
}

func NewStatusPoller(src StatusSource, feedID string, interval time.Duration, opts ...Option) *Poller[types.FeedSnapshot] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	fetch := func(ctx context.Context) (*types.FeedSnapshot, error) {
		return src.FetchStatus(ctx, feedID)
	}
	return New("status", fetch, interval, opts...)
}

// NewOutageFetcher returns a one-shot poller for the outage feed.
func NewOutageFetcher(src OutageSource, opts ...Option) *Poller[types.Outages] {
	fetch := func(ctx context.Context) (*types.Outages, error) {
		outages, err := src.FetchOutages(ctx)
		if err != nil {
			return nil, err
		}
		return &outages, nil
	}
	return New("outages", fetch, 0, opts...)
}

func (p *Poller[T]) Name() string { return p.name }

// State returns a copy of the current state.
func (p *Poller[T]) State() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start dispatches the first fetch before returning and, for interval
// pollers, schedules the rest. Cancelling ctx stops the poller.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("poller " + p.name + " already started")
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Debug("Poller started", "interval", p.interval)
	p.dispatch(ctx)

	if p.interval <= 0 {
		close(p.done)
		return nil
	}

	ticker := p.clock.NewTicker(p.interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				p.Stop()
				return
			case <-ticker.C():
				p.dispatch(ctx)
			}
		}
	}()
	return nil
}

// Stop stops scheduling fetches. In-flight fetches run to completion but their
// results are dropped.
func (p *Poller[T]) Stop() {
	p.stopOnce.Do(func() {
		p.guard.Kill()
		close(p.stop)
		p.logger.Debug("Poller stopped")
	})
}

func (p *Poller[T]) dispatch(ctx context.Context) {
	t := p.guard.Begin()

	var snapshot State[T]
	ok := p.guard.Apply(t, func() {
		p.mu.Lock()
		p.inFlight++
		p.state.Loading = true
		snapshot = p.state
		p.mu.Unlock()
	})
	if !ok {
		return
	}
	metrics.PollerFetchesInFlight.Add(ctx, 1, p.attrs())
	p.notify(snapshot)

	// Fetches outlive teardown; their results are fenced by the guard instead.
	go p.run(context.WithoutCancel(ctx), t)
}

func (p *Poller[T]) run(ctx context.Context, t liveness.Ticket) {
	ctx, span := p.tracer.Start(ctx, "poller.fetch",
		trace.WithAttributes(
			attribute.String("poller", p.name),
			attribute.Int64("poller.generation", int64(t.Gen)),
		),
	)
	defer span.End()

	start := time.Now()
	data, err := p.fetch(ctx)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		otel.RecordError(span, err, otel.ErrorTypeHTTP, true)
	} else {
		otel.SetSpanOk(span)
	}
	metrics.PollerFetchesInFlight.Add(ctx, -1, p.attrs())
	metrics.PollerFetchDuration.Record(ctx, duration.Seconds(), p.attrs())
	metrics.PollerFetchesTotal.Add(ctx, 1, p.attrs(attribute.String("outcome", outcome)))

	p.complete(ctx, t, data, err)
}

func (p *Poller[T]) complete(ctx context.Context, t liveness.Ticket, data *T, err error) {
	var snapshot State[T]
	applied := p.guard.ApplyLatest(t, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.inFlight--
		p.state.Loading = p.inFlight > 0
		if err != nil {
			p.state.Err = api.Message(err)
		} else {
			p.state.Data = data
			p.state.Err = ""
			p.state.UpdatedAt = p.clock.Now()
		}
		snapshot = p.state
	})

	if applied {
		if err != nil {
			p.logger.Warn("Fetch failed", "generation", t.Gen, "error", err)
		} else {
			p.logger.Debug("Fetch applied", "generation", t.Gen)
		}
		p.notify(snapshot)
		return
	}

	reason := "stale"
	if !p.guard.Alive() {
		reason = "stopped"
	}
	metrics.PollerResultsDropped.Add(ctx, 1, p.attrs(attribute.String("reason", reason)))
	p.logger.Debug("Fetch result dropped", "generation", t.Gen, "reason", reason)

	// A stale result still finishes its fetch for the loading flag.
	settled := p.guard.Apply(t, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.inFlight--
		p.state.Loading = p.inFlight > 0
		snapshot = p.state
	})
	if settled {
		p.notify(snapshot)
	}
}

func (p *Poller[T]) notify(s State[T]) {
	if p.OnUpdate != nil {
		p.OnUpdate(s)
	}
}

func (p *Poller[T]) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("poller", p.name)}, extra...)...)
}

// Wait blocks until the scheduling loop has exited.
func (p *Poller[T]) Wait() {
	<-p.done
}
