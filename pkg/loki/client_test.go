package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transithub/pkg/types"
)

func testSnapshot() *types.FeedSnapshot {
	return &types.FeedSnapshot{FeedID: "26", Timestamp: 1718000000}
}

func testMarkers(n int) []types.Marker {
	routes := []string{"A", "C", "E"}
	markers := make([]types.Marker, n)
	for i := range markers {
		markers[i] = types.Marker{
			Key:          routes[i%len(routes)] + "-trip-" + string(rune('0'+i)),
			Position:     types.Position{Lat: 40.75 + float64(i)*0.01, Lon: -73.98},
			RouteID:      routes[i%len(routes)],
			StopLabel:    "ID A27",
			ETALocalTime: "2:13:20 AM",
		}
	}
	return markers
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:3100/", "user", "pass")

	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.baseURL != "http://localhost:3100" {
		t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:3100")
	}
	if client.username != "user" || client.password != "pass" {
		t.Errorf("credentials = %q/%q", client.username, client.password)
	}
}

func TestSendMarkers_MockServer(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")
	markers := testMarkers(1)
	markers[0].Icon = "data:image/svg+xml;base64,PHN2Zz4="

	if err := client.SendMarkers(context.Background(), testSnapshot(), markers); err != nil {
		t.Fatalf("SendMarkers failed: %v", err)
	}

	if receivedPath != PushPath {
		t.Errorf("Expected path %s, got %s", PushPath, receivedPath)
	}
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", receivedHeaders.Get("Content-Type"))
	}
	if !strings.HasPrefix(receivedHeaders.Get("User-Agent"), "transithub/") {
		t.Errorf("Expected transithub User-Agent, got %s", receivedHeaders.Get("User-Agent"))
	}

	var pushReq PushRequest
	if err := json.Unmarshal(receivedBody, &pushReq); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	if len(pushReq.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(pushReq.Streams))
	}
	stream := pushReq.Streams[0]

	expectedLabels := map[string]string{
		"job":     "transithub",
		"service": "subway-status",
		"feed_id": "26",
	}
	for key, expected := range expectedLabels {
		if stream.Stream[key] != expected {
			t.Errorf("Stream label %q = %q, want %q", key, stream.Stream[key], expected)
		}
	}

	if len(stream.Values) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(stream.Values))
	}
	entry := stream.Values[0]
	if len(entry) != 2 {
		t.Fatalf("Expected entry with [timestamp, content], got %d elements", len(entry))
	}
	if len(entry[0]) < 10 {
		t.Error("Timestamp seems too short for nanoseconds")
	}

	var line MarkerLog
	if err := json.Unmarshal([]byte(entry[1]), &line); err != nil {
		t.Fatalf("Failed to parse log content JSON: %v", err)
	}
	if line.FeedID != "26" || line.FeedTimestamp != 1718000000 {
		t.Errorf("feed fields = %q/%d", line.FeedID, line.FeedTimestamp)
	}
	if line.RouteID != "A" || line.StopLabel != "ID A27" || line.Icon == "" {
		t.Errorf("marker fields = %+v", line)
	}
}

func TestSendMarkers_WithAuthentication(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		wantAuth bool
	}{
		{name: "credentials", user: "testuser", pass: "testpass", wantAuth: true},
		{name: "no credentials", wantAuth: false},
		{name: "user only", user: "testuser", wantAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var authHeader string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				authHeader = r.Header.Get("Authorization")
				w.WriteHeader(http.StatusNoContent)
			}))
			defer server.Close()

			client := NewClient(server.URL, tt.user, tt.pass)
			if err := client.SendMarkers(context.Background(), testSnapshot(), testMarkers(1)); err != nil {
				t.Fatalf("SendMarkers failed: %v", err)
			}

			if got := strings.HasPrefix(authHeader, "Basic "); got != tt.wantAuth {
				t.Errorf("Authorization = %q, wantAuth %v", authHeader, tt.wantAuth)
			}
		})
	}
}

func TestSendMarkers_MultipleMarkers(t *testing.T) {
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")
	if err := client.SendMarkers(context.Background(), testSnapshot(), testMarkers(3)); err != nil {
		t.Fatalf("SendMarkers failed: %v", err)
	}

	var pushReq PushRequest
	if err := json.Unmarshal(receivedBody, &pushReq); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	values := pushReq.Streams[0].Values
	if len(values) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(values))
	}
	seen := map[string]bool{}
	for _, v := range values {
		if seen[v[0]] {
			t.Errorf("duplicate timestamp %s", v[0])
		}
		seen[v[0]] = true
	}
}

func TestSendMarkers_ErrorOnNon2xx(t *testing.T) {
	tests := []struct {
		statusCode int
		expectErr  bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			err := NewClient(server.URL, "", "").SendMarkers(context.Background(), testSnapshot(), testMarkers(1))
			if tt.expectErr && err == nil {
				t.Errorf("Expected error for status %d, got nil", tt.statusCode)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error for status %d: %v", tt.statusCode, err)
			}
		})
	}
}

func TestSendMarkers_EmptyIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := NewClient(server.URL, "", "").SendMarkers(context.Background(), testSnapshot(), nil); err != nil {
		t.Fatalf("SendMarkers failed: %v", err)
	}
	if called {
		t.Error("empty marker set should not be pushed")
	}
}

func TestSendMarkers_ServerUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if err := NewClient(url, "", "").SendMarkers(context.Background(), testSnapshot(), testMarkers(1)); err == nil {
		t.Error("Expected error when server is unavailable, got nil")
	}
}

func TestSendMarkers_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewClient(server.URL, "", "").SendMarkers(ctx, testSnapshot(), testMarkers(1)); err == nil {
		t.Error("Expected error when context is cancelled, got nil")
	}
}
