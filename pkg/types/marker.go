package types

type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Marker is a map-renderable projection of one trip update.
type Marker struct {
	Key          string   `json:"key"`
	Position     Position `json:"position"`
	RouteID      string   `json:"route_id"`
	StopLabel    string   `json:"stop_label"`
	ETALocalTime string   `json:"eta_local_time"`
	Icon         string   `json:"icon,omitempty"`
}
