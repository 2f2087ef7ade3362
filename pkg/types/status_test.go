package types

import (
	"encoding/json"
	"testing"
)

func TestFeedSnapshot_DecodeServerPayload(t *testing.T) {
	payload := `{
		"feed_id_requested": "1",
		"feed_timestamp": 1718000000,
		"current_processing_time": 1718000003,
		"trip_updates": [
			{"trip_id": "T1", "route_id": "1", "start_date": "20240610", "direction": 1,
			 "first_future_stop": {"stop_id": "101N", "stop_name": "Van Cortlandt Park - 242 St", "latitude": 40.889248, "longitude": -73.898583, "time": 1718000120}},
			{"trip_id": "T2", "route_id": "2", "first_future_stop": null},
			{"trip_id": "T3", "route_id": "3", "first_future_stop": {"stop_id": "999X", "time": 1718000200}}
		],
		"alerts": [
			{"header": "Delays", "description": "Signal problems", "active_period": [[1718000000, 1718003600]],
			 "informed_entities": [{"route_id": "1"}]}
		]
	}`

	var snap FeedSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		t.Fatalf("Failed to unmarshal FeedSnapshot: %v", err)
	}

	if snap.FeedID != "1" {
		t.Errorf("FeedID = %q, want %q", snap.FeedID, "1")
	}
	if snap.Timestamp != 1718000000 {
		t.Errorf("Timestamp = %d, want %d", snap.Timestamp, 1718000000)
	}
	if len(snap.TripUpdates) != 3 {
		t.Fatalf("Expected 3 trip updates, got %d", len(snap.TripUpdates))
	}

	first := snap.TripUpdates[0]
	if first.FirstFutureStop == nil {
		t.Fatal("Expected first_future_stop for T1")
	}
	if first.FirstFutureStop.StopName == nil || *first.FirstFutureStop.StopName != "Van Cortlandt Park - 242 St" {
		t.Errorf("StopName = %v, want Van Cortlandt Park - 242 St", first.FirstFutureStop.StopName)
	}
	if first.FirstFutureStop.Latitude == nil || first.FirstFutureStop.Longitude == nil {
		t.Error("Expected coordinates for T1")
	}
	if first.Direction == nil || *first.Direction != 1 {
		t.Errorf("Direction = %v, want 1", first.Direction)
	}

	if snap.TripUpdates[1].FirstFutureStop != nil {
		t.Error("Expected nil first_future_stop for T2")
	}

	third := snap.TripUpdates[2].FirstFutureStop
	if third == nil {
		t.Fatal("Expected first_future_stop for T3")
	}
	if third.Latitude != nil || third.StopName != nil {
		t.Error("Unknown stop should have no name or coordinates")
	}

	if len(snap.Alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(snap.Alerts))
	}
	if snap.Alerts[0].ActivePeriods[0][1] != 1718003600 {
		t.Errorf("ActivePeriods end = %d, want %d", snap.Alerts[0].ActivePeriods[0][1], 1718003600)
	}
	if snap.Alerts[0].InformedEntities[0].RouteID != "1" {
		t.Errorf("InformedEntities route = %q, want %q", snap.Alerts[0].InformedEntities[0].RouteID, "1")
	}
}

func TestOutages_PassThrough(t *testing.T) {
	payload := `[{"station":"14 St","equipment":"EL123","reason":"Repair"},{"custom":{"nested":true}}]`

	var outages Outages
	if err := json.Unmarshal([]byte(payload), &outages); err != nil {
		t.Fatalf("Failed to unmarshal Outages: %v", err)
	}
	if len(outages) != 2 {
		t.Fatalf("Expected 2 outage records, got %d", len(outages))
	}
	if string(outages[1]) != `{"custom":{"nested":true}}` {
		t.Errorf("Record was modified: %s", outages[1])
	}
}
