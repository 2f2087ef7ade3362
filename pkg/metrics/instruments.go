package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// HTTP client
var (
	HTTPClientRequestDuration  metric.Float64Histogram
	HTTPClientResponseBodySize metric.Int64Histogram
	APIRequestsTotal           metric.Int64Counter
)

// Polling
var (
	// PollerFetchesTotal counts dispatched fetches by poller and outcome.
	PollerFetchesTotal metric.Int64Counter

	PollerFetchDuration metric.Float64Histogram

	// PollerFetchesInFlight tracks fetches dispatched but not yet returned.
	PollerFetchesInFlight metric.Int64UpDownCounter

	// PollerResultsDropped counts results discarded as stale or after teardown.
	PollerResultsDropped metric.Int64Counter
)

// Favorites and session
var (
	FavoritesMutationsTotal metric.Int64Counter
	FavoritesSize           metric.Int64Histogram
	SessionTransitionsTotal metric.Int64Counter
)

// Projection and sinks
var (
	MapMarkersProjected metric.Int64Histogram
	LokiSendTotal       metric.Int64Counter
	LokiSendDuration    metric.Float64Histogram
)

func initializeInstruments(meter metric.Meter) error {
	var err error

	HTTPClientRequestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	HTTPClientResponseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP response bodies"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1024, 10240, 102400, 1048576, 10485760),
	)
	if err != nil {
		return err
	}

	APIRequestsTotal, err = meter.Int64Counter(
		"transithub.api.requests.total",
		metric.WithDescription("Total Transit Hub API requests by endpoint and status class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	PollerFetchesTotal, err = meter.Int64Counter(
		"poller.fetches.total",
		metric.WithDescription("Fetches dispatched by pollers"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	PollerFetchDuration, err = meter.Float64Histogram(
		"poller.fetch.duration",
		metric.WithDescription("Duration of poller fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return err
	}

	PollerFetchesInFlight, err = meter.Int64UpDownCounter(
		"poller.fetches.in_flight",
		metric.WithDescription("Poller fetches currently in flight"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	PollerResultsDropped, err = meter.Int64Counter(
		"poller.results.dropped",
		metric.WithDescription("Poller results dropped as stale or after teardown"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return err
	}

	FavoritesMutationsTotal, err = meter.Int64Counter(
		"favorites.mutations.total",
		metric.WithDescription("Favorites operations by kind, operation and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	FavoritesSize, err = meter.Int64Histogram(
		"favorites.size",
		metric.WithDescription("Size of a favorites collection after a change"),
		metric.WithUnit("{favorite}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50),
	)
	if err != nil {
		return err
	}

	SessionTransitionsTotal, err = meter.Int64Counter(
		"session.transitions.total",
		metric.WithDescription("Identity session transitions by resulting status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return err
	}

	MapMarkersProjected, err = meter.Int64Histogram(
		"mapview.markers.projected",
		metric.WithDescription("Markers produced per projection"),
		metric.WithUnit("{marker}"),
		metric.WithExplicitBucketBoundaries(0, 10, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return err
	}

	LokiSendTotal, err = meter.Int64Counter(
		"loki.send.total",
		metric.WithDescription("Total Loki sends by status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	LokiSendDuration, err = meter.Float64Histogram(
		"loki.send.duration",
		metric.WithDescription("Duration of Loki push operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	return err
}
