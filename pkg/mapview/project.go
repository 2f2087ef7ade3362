// Package mapview projects trip updates into map markers.
package mapview

import (
	"context"
	"iter"
	"slices"
	"strconv"
	"sync"
	"time"

	"transithub/pkg/metrics"
	"transithub/pkg/parser"
	"transithub/pkg/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ETAFormat is the marker's local arrival time layout.
const ETAFormat = "3:04:05 PM"

// DefaultTimezone is where ETAs are rendered unless configured otherwise.
const DefaultTimezone = "America/New_York"

type Options struct {
	// Location for ETAs. Nil means time.Local.
	Location *time.Location

	// Icons, if set, attaches a route bullet to every marker.
	Icons *parser.RouteIconGenerator
}

// LoadLocation resolves name, falling back to time.Local.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// Project yields a marker for every update whose first future stop has both
// coordinates. The sequence can be ranged over any number of times and never
// modifies updates.
func Project(updates []types.TripUpdate, opts Options) iter.Seq[types.Marker] {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return func(yield func(types.Marker) bool) {
		i := 0
		for _, u := range updates {
			stop := u.FirstFutureStop
			if stop == nil || stop.Latitude == nil || stop.Longitude == nil {
				continue
			}

			m := types.Marker{
				Key:          markerKey(u, i),
				Position:     types.Position{Lat: *stop.Latitude, Lon: *stop.Longitude},
				RouteID:      u.RouteID,
				StopLabel:    stopLabel(stop),
				ETALocalTime: time.Unix(stop.Time, 0).In(loc).Format(ETAFormat),
			}
			if opts.Icons != nil {
				m.Icon = opts.Icons.GenerateRouteIcon(u.RouteID)
			}
			i++

			if !yield(m) {
				return
			}
		}
	}
}

// markerKey is unique within one projection even for missing or repeated trip ids.
func markerKey(u types.TripUpdate, i int) string {
	base := u.TripID
	if base == "" {
		base = u.RouteID
	}
	return base + "-" + strconv.Itoa(i)
}

func stopLabel(s *types.StopInfo) string {
	if s.StopName != nil {
		return *s.StopName
	}
	return "ID " + s.StopID
}

// Projector memoizes the markers of the last snapshot it saw.
type Projector struct {
	opts Options

	mu      sync.Mutex
	last    *types.FeedSnapshot
	markers []types.Marker
}

func NewProjector(opts Options) *Projector {
	return &Projector{opts: opts}
}

// Markers returns the markers for snap, recomputing only when snap is a
// different snapshot from the previous call.
func (p *Projector) Markers(snap *types.FeedSnapshot) []types.Marker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap == nil {
		p.last, p.markers = nil, nil
		return nil
	}
	if snap == p.last {
		return p.markers
	}

	p.markers = slices.Collect(Project(snap.TripUpdates, p.opts))
	p.last = snap
	metrics.MapMarkersProjected.Record(context.Background(), int64(len(p.markers)),
		metric.WithAttributes(attribute.String("feed_id", snap.FeedID)))
	return p.markers
}
