// Package dashboard wires the session, pollers, favorites stores and map
// projection together and renders their combined view.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"transithub/pkg/api"
	"transithub/pkg/favorites"
	"transithub/pkg/logging"
	"transithub/pkg/loki"
	"transithub/pkg/mapview"
	"transithub/pkg/metrics"
	"transithub/pkg/otel"
	"transithub/pkg/parser"
	"transithub/pkg/poller"
	"transithub/pkg/session"
	"transithub/pkg/types"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Dashboard struct {
	config     Config
	session    *session.Watcher
	status     *poller.Poller[types.FeedSnapshot]
	outages    *poller.Poller[types.Outages]
	routes     *favorites.Store[types.RouteID]
	stations   *favorites.Store[types.StationID]
	projector  *mapview.Projector
	lokiClient *loki.Client
	tracer     trace.Tracer
	logger     *slog.Logger

	// changed is signalled whenever any component's state changes.
	changed chan struct{}

	mu           sync.Mutex
	lastSnapshot *types.FeedSnapshot
	unobserve    func()
	stopOnce     sync.Once
	started      bool
}

type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
	FeedID      string
	Interval    time.Duration
	Location    *time.Location
	Icons       bool

	DryRun       bool
	LokiEnabled  bool
	LokiURL      string
	LokiUser     string
	LokiPassword string

	// Output receives dry-run renderings. Defaults to os.Stdout.
	Output io.Writer

	// PollerOptions are passed to both pollers.
	PollerOptions []poller.Option
}

func New(config Config, provider session.Provider) (*Dashboard, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive")
	}
	if provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	client := api.NewClient(config.BaseURL, api.WithTimeout(config.HTTPTimeout))
	watcher := session.NewWatcher(provider)

	opts := mapview.Options{Location: config.Location}
	if config.Icons {
		opts.Icons = parser.NewRouteIconGenerator()
	}

	d := &Dashboard{
		config:    config,
		session:   watcher,
		status:    poller.NewStatusPoller(client, config.FeedID, config.Interval, config.PollerOptions...),
		outages:   poller.NewOutageFetcher(client, config.PollerOptions...),
		routes:    favorites.NewRouteStore(api.NewRouteFavorites(client), watcher),
		stations:  favorites.NewStationStore(api.NewStationFavorites(client), watcher),
		projector: mapview.NewProjector(opts),
		tracer:    otelapi.Tracer("dashboard"),
		logger:    logging.Component("dashboard"),
		changed:   make(chan struct{}, 1),
	}

	// Only create Loki client if pushing is enabled outside dry run mode
	if config.LokiEnabled && !config.DryRun {
		d.lokiClient = loki.NewClient(config.LokiURL, config.LokiUser, config.LokiPassword)
	}

	d.status.OnUpdate = func(poller.State[types.FeedSnapshot]) { d.signal() }
	d.outages.OnUpdate = func(poller.State[types.Outages]) { d.signal() }
	d.routes.OnUpdate = func(favorites.State[types.RouteID]) { d.signal() }
	d.stations.OnUpdate = func(favorites.State[types.StationID]) { d.signal() }

	return d, nil
}

func (d *Dashboard) signal() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

func (d *Dashboard) Session() *session.Watcher                   { return d.session }
func (d *Dashboard) Routes() *favorites.Store[types.RouteID]     { return d.routes }
func (d *Dashboard) Stations() *favorites.Store[types.StationID] { return d.stations }

// Start brings every component up. The session is observed before the pollers
// start so that favorites follow the very first provider callback.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("dashboard already started")
	}
	d.started = true
	d.mu.Unlock()

	unobserve := d.session.Observe(func(session.State) { d.signal() })
	d.mu.Lock()
	d.unobserve = unobserve
	d.mu.Unlock()

	d.routes.Start(ctx)
	d.stations.Start(ctx)
	if err := d.session.Start(); err != nil {
		return err
	}
	if err := d.status.Start(ctx); err != nil {
		return err
	}
	return d.outages.Start(ctx)
}

// Stop tears every component down. Requests in flight are not cancelled;
// their results are dropped.
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		unobserve := d.unobserve
		d.unobserve = nil
		d.mu.Unlock()
		if unobserve != nil {
			unobserve()
		}

		d.status.Stop()
		d.outages.Stop()
		d.routes.Stop()
		d.stations.Stop()
		d.session.Stop()
	})
}

// Run starts the dashboard and processes every new status snapshot until ctx
// is done.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	d.logger.Info("Dashboard started",
		"feed_id", d.config.FeedID,
		"interval", d.config.Interval,
		"dry_run", d.config.DryRun,
		"loki", d.lokiClient != nil,
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dashboard stopped")
			return ctx.Err()
		case <-d.changed:
			if err := d.processUpdate(ctx); err != nil {
				d.logger.Error("Error processing update", "error", err)
			}
		}
	}
}

// processUpdate handles a state change. Only a new status snapshot is pushed
// to Loki; dry run re-renders on every change.
func (d *Dashboard) processUpdate(ctx context.Context) error {
	snap := d.status.State().Data

	d.mu.Lock()
	fresh := snap != nil && snap != d.lastSnapshot
	if fresh {
		d.lastSnapshot = snap
	}
	d.mu.Unlock()

	if fresh {
		metrics.RecordSnapshotApplied()
	}

	if d.config.DryRun {
		return d.handleDryRun(ctx)
	}
	if fresh && d.lokiClient != nil {
		return d.sendToLoki(ctx, snap)
	}
	return nil
}

func (d *Dashboard) handleDryRun(ctx context.Context) error {
	_, span := d.tracer.Start(ctx, "dashboard.dry_run")
	defer span.End()

	view := d.View()
	if err := Render(d.config.Output, view); err != nil {
		otel.RecordError(span, err, otel.ErrorTypeValidation, false)
		return fmt.Errorf("failed to render view: %w", err)
	}

	span.SetAttributes(attribute.Int("markers_printed", len(view.Markers)))
	return nil
}

func (d *Dashboard) sendToLoki(ctx context.Context, snap *types.FeedSnapshot) error {
	ctx, span := d.tracer.Start(ctx, "dashboard.send_to_loki")
	defer span.End()

	markers := d.projector.Markers(snap)
	if err := d.lokiClient.SendMarkers(ctx, snap, markers); err != nil {
		otel.RecordError(span, err, otel.ErrorTypeNetwork, true)
		return fmt.Errorf("failed to send markers to Loki: %w", err)
	}

	d.logger.Info("Sent markers to Loki", "feed_id", snap.FeedID, "markers", len(markers))
	span.SetAttributes(attribute.Int("markers_sent", len(markers)))
	return nil
}
