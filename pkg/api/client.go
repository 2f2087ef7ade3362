package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transithub/pkg/metrics"
	"transithub/pkg/otel"
	"transithub/pkg/parser"
	"transithub/pkg/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusPath   = "/api/subway/status"
	OutagesPath  = "/api/accessibility/outages"
	FavoritesDir = "/api/user/favorites"

	DefaultTimeout = 30 * time.Second
)

// Client talks to the Transit Hub HTTP API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tracer       trace.Tracer
	outageParser *parser.OutageParser
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the transport timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tracer:       otelapi.Tracer("transithub-api"),
		outageParser: parser.NewOutageParser(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one API call.
type request struct {
	op     string
	method string
	path   string
	token  string
	body   interface{}
}

type response struct {
	statusCode  int
	contentType string
	body        []byte
}

func (c *Client) do(ctx context.Context, r request) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "api."+r.op,
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("api.path", r.path),
			attribute.Bool("auth.enabled", r.token != ""),
		),
	)
	defer span.End()

	start := time.Now()

	var reqBody io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			otel.RecordError(span, err, otel.ErrorTypeValidation, false)
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, reqBody)
	if err != nil {
		otel.RecordError(span, err, otel.ErrorTypeValidation, false)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("User-Agent", otel.UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	span.SetAttributes(attribute.String("http.request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordRequest(ctx, r.op, 0, start, 0)
		otel.RecordError(span, err, otel.ErrorTypeNetwork, true)
		return nil, &TransportError{Op: r.op, Message: "Network error: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordRequest(ctx, r.op, resp.StatusCode, start, 0)
		otel.RecordError(span, err, otel.ErrorTypeNetwork, true)
		return nil, &TransportError{Op: r.op, StatusCode: resp.StatusCode, Message: "Failed to read response", Err: err}
	}

	c.recordRequest(ctx, r.op, resp.StatusCode, start, len(body))
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("response.size_bytes", len(body)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		// Unparseable error bodies fall back to the status text.
		_ = json.Unmarshal(body, &eb)
		err := &TransportError{Op: r.op, StatusCode: resp.StatusCode, Message: statusMessage(resp.StatusCode, eb)}
		otel.RecordError(span, err, otel.ErrorTypeHTTP, resp.StatusCode >= 500)
		return nil, err
	}

	otel.SetSpanOk(span)
	return &response{
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func (c *Client) recordRequest(ctx context.Context, op string, statusCode int, start time.Time, size int) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", op),
		attribute.String("status_class", statusClass(statusCode)),
	)
	metrics.APIRequestsTotal.Add(ctx, 1, attrs)
	metrics.HTTPClientRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if size > 0 {
		metrics.HTTPClientResponseBodySize.Record(ctx, int64(size), attrs)
	}
}

func statusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// decode unmarshals a JSON body into out.
func decode(op string, resp *response, out interface{}) error {
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &MalformedResponseError{Op: op, StatusCode: resp.statusCode, Err: err}
	}
	return nil
}

// FetchStatus fetches the status snapshot for feedID. An empty feedID asks
// the server for its default feed.
func (c *Client) FetchStatus(ctx context.Context, feedID string) (*types.FeedSnapshot, error) {
	path := StatusPath
	if feedID != "" {
		path += "/" + escapePath(feedID)
	}

	resp, err := c.do(ctx, request{op: "fetch_status", method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}

	var snap types.FeedSnapshot
	if err := decode("fetch_status", resp, &snap); err != nil {
		return nil, err
	}
	if snap.Error != "" {
		return nil, &TransportError{Op: "fetch_status", StatusCode: resp.statusCode, Message: snap.Error}
	}
	return &snap, nil
}

// FetchOutages fetches the accessibility outage records. JSON arrays are
// passed through record by record; XML feeds are converted to JSON records.
func (c *Client) FetchOutages(ctx context.Context) (types.Outages, error) {
	const op = "fetch_outages"

	resp, err := c.do(ctx, request{op: op, method: http.MethodGet, path: OutagesPath})
	if err != nil {
		return nil, err
	}

	if strings.Contains(resp.contentType, "xml") {
		outages, err := c.outageParser.ParseXML(ctx, resp.body)
		if err != nil {
			return nil, &MalformedResponseError{Op: op, StatusCode: resp.statusCode, Err: err}
		}
		return outages, nil
	}

	trimmed := bytes.TrimSpace(resp.body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var eb errorBody
		if err := decode(op, resp, &eb); err != nil {
			return nil, err
		}
		if eb.Error != "" {
			return nil, &TransportError{Op: op, StatusCode: resp.statusCode, Message: eb.Error}
		}
		return types.Outages{json.RawMessage(trimmed)}, nil
	}

	var outages types.Outages
	if err := decode(op, resp, &outages); err != nil {
		return nil, err
	}
	return outages, nil
}
