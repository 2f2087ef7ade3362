package types

import "encoding/json"

// FeedSnapshot is one full status payload for a feed. It is replaced wholesale
// on every successful poll and must be treated as read-only by consumers.
type FeedSnapshot struct {
	FeedID      string       `json:"feed_id_requested"`
	Timestamp   int64        `json:"feed_timestamp"`
	ProcessedAt int64        `json:"current_processing_time,omitempty"`
	TripUpdates []TripUpdate `json:"trip_updates"`
	Alerts      []Alert      `json:"alerts"`
	Error       string       `json:"error,omitempty"`
}

type TripUpdate struct {
	TripID          string    `json:"trip_id"`
	RouteID         string    `json:"route_id"`
	StartTime       string    `json:"start_time,omitempty"`
	StartDate       string    `json:"start_date,omitempty"`
	Direction       *int      `json:"direction,omitempty"`
	FirstFutureStop *StopInfo `json:"first_future_stop"`
}

// StopInfo is the first stop of a trip with an arrival or departure in the future.
// Name and coordinates are only present when the server knows the stop.
type StopInfo struct {
	StopID    string   `json:"stop_id"`
	StopName  *string  `json:"stop_name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Time      int64    `json:"time"`
}

type Alert struct {
	Header           string           `json:"header"`
	Description      string           `json:"description"`
	ActivePeriods    [][2]int64       `json:"active_period,omitempty"`
	InformedEntities []InformedEntity `json:"informed_entities,omitempty"`
}

type InformedEntity struct {
	RouteID string `json:"route_id,omitempty"`
	StopID  string `json:"stop_id,omitempty"`
}

// Outages is the accessibility outage record set. Records are opaque and passed
// through without modification.
type Outages []json.RawMessage
