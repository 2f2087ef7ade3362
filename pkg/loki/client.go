// Package loki pushes projected map markers to Grafana Loki, one log line per
// marker.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"transithub/pkg/metrics"
	"transithub/pkg/otel"
	"transithub/pkg/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	PushPath = "/loki/api/v1/push"

	jobLabel     = "transithub"
	serviceLabel = "subway-status"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	tracer     trace.Tracer
}

type PushRequest struct {
	Streams []Stream `json:"streams"`
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// MarkerLog is the JSON body of one log line.
type MarkerLog struct {
	FeedTimestamp int64   `json:"feed_timestamp"`
	FeedID        string  `json:"feed_id"`
	Key           string  `json:"key"`
	RouteID       string  `json:"route_id"`
	StopLabel     string  `json:"stop_label"`
	ETALocalTime  string  `json:"eta_local_time"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Icon          string  `json:"icon,omitempty"`
}

func NewClient(baseURL, username, password string) *Client {
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		tracer:     otelapi.Tracer("loki-client"),
	}
}

// MarkerLine renders the log line for one marker.
func MarkerLine(snap *types.FeedSnapshot, m types.Marker) ([]byte, error) {
	return json.Marshal(MarkerLog{
		FeedTimestamp: snap.Timestamp,
		FeedID:        snap.FeedID,
		Key:           m.Key,
		RouteID:       m.RouteID,
		StopLabel:     m.StopLabel,
		ETALocalTime:  m.ETALocalTime,
		Latitude:      m.Position.Lat,
		Longitude:     m.Position.Lon,
		Icon:          m.Icon,
	})
}

// SendMarkers pushes one stream for the snapshot's feed. Nothing is sent when
// markers is empty.
func (c *Client) SendMarkers(ctx context.Context, snap *types.FeedSnapshot, markers []types.Marker) error {
	ctx, span := c.tracer.Start(ctx, "loki.send_markers",
		trace.WithAttributes(
			attribute.String("feed_id", snap.FeedID),
			attribute.Int("markers_count", len(markers)),
		),
	)
	defer span.End()

	if len(markers) == 0 {
		otel.SetSpanOk(span)
		return nil
	}

	start := time.Now()
	status := "success"
	defer func() {
		attrs := metric.WithAttributes(attribute.String("status", status))
		metrics.LokiSendTotal.Add(ctx, 1, attrs)
		metrics.LokiSendDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	now := time.Now().UnixNano()
	logValues := make([][]string, 0, len(markers))
	for i, m := range markers {
		line, err := MarkerLine(snap, m)
		if err != nil {
			status = "error"
			otel.RecordError(span, err, otel.ErrorTypeParse, false)
			return fmt.Errorf("failed to marshal marker JSON: %w", err)
		}
		// Distinct timestamps keep Loki from deduplicating identical lines.
		logValues = append(logValues, []string{
			strconv.FormatInt(now+int64(i), 10),
			string(line),
		})
	}

	lokiReq := PushRequest{
		Streams: []Stream{
			{
				Stream: map[string]string{
					"job":     jobLabel,
					"service": serviceLabel,
					"feed_id": snap.FeedID,
				},
				Values: logValues,
			},
		},
	}

	reqBody, err := json.Marshal(lokiReq)
	if err != nil {
		status = "error"
		otel.RecordError(span, err, otel.ErrorTypeParse, false)
		return fmt.Errorf("failed to marshal Loki request: %w", err)
	}

	url := c.baseURL + PushPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		status = "error"
		otel.RecordError(span, err, otel.ErrorTypeValidation, false)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", otel.UserAgent())

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
		span.SetAttributes(
			attribute.Bool("auth.enabled", true),
			attribute.String("auth.username", c.username),
		)
	} else {
		span.SetAttributes(attribute.Bool("auth.enabled", false))
	}

	span.SetAttributes(
		attribute.String("http.url", url),
		attribute.Int("request.size_bytes", len(reqBody)),
		attribute.Int("log_lines_count", len(logValues)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status = "error"
		otel.RecordError(span, err, otel.ErrorTypeNetwork, true)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "error"
		err := fmt.Errorf("Loki returned status %d", resp.StatusCode)
		otel.RecordError(span, err, otel.ErrorTypeHTTP, resp.StatusCode >= 500)
		return err
	}

	otel.SetSpanOk(span)
	return nil
}
