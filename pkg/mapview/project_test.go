package mapview

import (
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"transithub/pkg/parser"
	"transithub/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func TestProject_FiltersIncompleteStops(t *testing.T) {
	updates := []types.TripUpdate{
		{TripID: "T1", RouteID: "A", FirstFutureStop: &types.StopInfo{StopID: "A27", Latitude: ptr(1.0), Longitude: ptr(2.0), Time: 1718000000}},
		{TripID: "T2", RouteID: "A", FirstFutureStop: nil},
		{TripID: "T3", RouteID: "A", FirstFutureStop: &types.StopInfo{StopID: "A28", Latitude: nil, Longitude: ptr(2.0), Time: 1718000000}},
	}

	markers := slices.Collect(Project(updates, Options{Location: time.UTC}))
	if len(markers) != 1 {
		t.Fatalf("Expected 1 marker, got %d", len(markers))
	}
	m := markers[0]
	if m.Key != "T1-0" {
		t.Errorf("Key = %q, want T1-0", m.Key)
	}
	if m.Position != (types.Position{Lat: 1, Lon: 2}) {
		t.Errorf("Position = %+v", m.Position)
	}
	if m.StopLabel != "ID A27" {
		t.Errorf("StopLabel = %q, want %q", m.StopLabel, "ID A27")
	}
	if m.ETALocalTime != "6:13:20 AM" {
		t.Errorf("ETALocalTime = %q, want 6:13:20 AM", m.ETALocalTime)
	}
}

func TestProject_Fields(t *testing.T) {
	ny := LoadLocation(DefaultTimezone)
	stop := &types.StopInfo{StopID: "127", StopName: ptr("Times Sq-42 St"), Latitude: ptr(40.75529), Longitude: ptr(-73.987495), Time: 1718000000}

	markers := slices.Collect(Project([]types.TripUpdate{{TripID: "T9", RouteID: "1", FirstFutureStop: stop}}, Options{
		Location: ny,
		Icons:    parser.NewRouteIconGenerator(),
	}))
	if len(markers) != 1 {
		t.Fatalf("Expected 1 marker, got %d", len(markers))
	}

	m := markers[0]
	if m.StopLabel != "Times Sq-42 St" {
		t.Errorf("StopLabel = %q", m.StopLabel)
	}
	want := time.Unix(1718000000, 0).In(ny).Format(ETAFormat)
	if m.ETALocalTime != want {
		t.Errorf("ETALocalTime = %q, want %q", m.ETALocalTime, want)
	}
	if !strings.HasPrefix(m.Icon, "data:image/svg+xml;base64,") {
		t.Errorf("Icon = %q, want svg data url", m.Icon)
	}
}

func TestProject_KeysUnique(t *testing.T) {
	at := func(trip, route string) types.TripUpdate {
		return types.TripUpdate{TripID: trip, RouteID: route,
			FirstFutureStop: &types.StopInfo{StopID: "X", Latitude: ptr(1.0), Longitude: ptr(1.0)}}
	}

	tests := []struct {
		name    string
		updates []types.TripUpdate
		want    []string
	}{
		{
			name:    "repeated trip id",
			updates: []types.TripUpdate{at("T1", "A"), at("T1", "A")},
			want:    []string{"T1-0", "T1-1"},
		},
		{
			name:    "missing trip id",
			updates: []types.TripUpdate{at("", "L"), at("", "L"), at("T5", "L")},
			want:    []string{"L-0", "L-1", "T5-2"},
		},
		{
			name: "index counts filtered items only",
			updates: []types.TripUpdate{
				{TripID: "skip", RouteID: "G"},
				at("T1", "G"),
			},
			want: []string{"T1-0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var keys []string
			for m := range Project(tt.updates, Options{}) {
				keys = append(keys, m.Key)
			}
			if !reflect.DeepEqual(keys, tt.want) {
				t.Errorf("keys = %v, want %v", keys, tt.want)
			}
		})
	}
}

func TestProject_RestartableAndPure(t *testing.T) {
	updates := []types.TripUpdate{
		{TripID: "T1", RouteID: "A", FirstFutureStop: &types.StopInfo{StopID: "A1", Latitude: ptr(1.0), Longitude: ptr(2.0)}},
		{TripID: "T2", RouteID: "C", FirstFutureStop: &types.StopInfo{StopID: "A2", Latitude: ptr(3.0), Longitude: ptr(4.0)}},
	}
	before := make([]types.TripUpdate, len(updates))
	copy(before, updates)

	seq := Project(updates, Options{Location: time.UTC})
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second pass differs: %v vs %v", first, second)
	}

	// Early break must not disturb later passes.
	for range seq {
		break
	}
	if third := slices.Collect(seq); len(third) != 2 {
		t.Errorf("third pass = %d markers, want 2", len(third))
	}

	if !reflect.DeepEqual(updates, before) {
		t.Error("Project modified its input")
	}
}

func TestProjector_Memoizes(t *testing.T) {
	p := NewProjector(Options{Location: time.UTC})
	snap := &types.FeedSnapshot{FeedID: "1", TripUpdates: []types.TripUpdate{
		{TripID: "T1", RouteID: "A", FirstFutureStop: &types.StopInfo{StopID: "A1", Latitude: ptr(1.0), Longitude: ptr(2.0)}},
	}}

	a := p.Markers(snap)
	b := p.Markers(snap)
	if len(a) != 1 || &a[0] != &b[0] {
		t.Error("same snapshot should return memoized markers")
	}

	next := &types.FeedSnapshot{FeedID: "1"}
	if got := p.Markers(next); len(got) != 0 {
		t.Errorf("new snapshot should recompute, got %d markers", len(got))
	}
	if got := p.Markers(nil); got != nil {
		t.Errorf("nil snapshot = %v, want nil", got)
	}
}

func TestLoadLocation_Fallback(t *testing.T) {
	if loc := LoadLocation("Not/AZone"); loc != time.Local {
		t.Errorf("LoadLocation fallback = %v, want Local", loc)
	}
}
