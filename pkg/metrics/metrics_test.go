package metrics

import (
	"context"
	"testing"
	"time"
)

func TestInstrumentsInitialized(t *testing.T) {
	instruments := map[string]any{
		"HTTPClientRequestDuration":  HTTPClientRequestDuration,
		"HTTPClientResponseBodySize": HTTPClientResponseBodySize,
		"APIRequestsTotal":           APIRequestsTotal,
		"PollerFetchesTotal":         PollerFetchesTotal,
		"PollerFetchDuration":        PollerFetchDuration,
		"PollerFetchesInFlight":      PollerFetchesInFlight,
		"PollerResultsDropped":       PollerResultsDropped,
		"FavoritesMutationsTotal":    FavoritesMutationsTotal,
		"FavoritesSize":              FavoritesSize,
		"SessionTransitionsTotal":    SessionTransitionsTotal,
		"MapMarkersProjected":        MapMarkersProjected,
		"LokiSendTotal":              LokiSendTotal,
		"LokiSendDuration":           LokiSendDuration,
	}
	for name, inst := range instruments {
		if inst == nil {
			t.Errorf("%s is nil after init", name)
		}
	}

	// Recording before InitMetrics must be a safe no-op.
	PollerFetchesTotal.Add(context.Background(), 1)
	FavoritesSize.Record(context.Background(), 3)
}

func TestInitMetricsDisabled(t *testing.T) {
	t.Setenv("OTEL_METRICS_ENABLED", "false")

	shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("InitMetrics() returned nil shutdown func")
	}
	shutdown()

	if IsEnabled() {
		t.Error("IsEnabled() = true with metrics disabled")
	}
}

func TestRecordSnapshotApplied(t *testing.T) {
	before := time.Now().Unix()
	RecordSnapshotApplied()
	got := lastSnapshotTimestamp.Load()
	if got < before || got > time.Now().Unix() {
		t.Errorf("lastSnapshotTimestamp = %d, want around %d", got, before)
	}
}
