package otel

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Protocol is an OTLP transport protocol.
type Protocol string

const (
	ProtocolGRPC         Protocol = "grpc"
	ProtocolHTTPProtobuf Protocol = "http/protobuf"
	ProtocolHTTPJSON     Protocol = "http/json"
)

// SignalType is an OTEL signal.
type SignalType string

const (
	SignalTraces  SignalType = "traces"
	SignalMetrics SignalType = "metrics"
)

// ExporterConfig holds the OTLP exporter settings resolved for one signal.
type ExporterConfig struct {
	Endpoint    string
	Protocol    Protocol
	Headers     map[string]string
	Timeout     time.Duration
	Insecure    bool
	Compression string
}

// lookupEnv is swapped in tests.
var lookupEnv = os.Getenv

// IsTracingEnabled reports whether OTEL_TRACING_ENABLED is truthy.
func IsTracingEnabled() bool {
	return isTrue(lookupEnv("OTEL_TRACING_ENABLED"))
}

// IsMetricsEnabled reports whether OTEL_METRICS_ENABLED is truthy.
func IsMetricsEnabled() bool {
	return isTrue(lookupEnv("OTEL_METRICS_ENABLED"))
}

// GetExporterConfig resolves the exporter configuration for a signal.
// Signal-specific variables (OTEL_EXPORTER_OTLP_TRACES_*) win over the base
// variables (OTEL_EXPORTER_OTLP_*).
func GetExporterConfig(signal SignalType) ExporterConfig {
	s := signalEnv(signal)

	protocol := parseProtocol(s.get("PROTOCOL", "http/protobuf"))
	endpoint := resolveEndpoint(signal, protocol)

	insecure := strings.HasPrefix(endpoint, "http://")
	if v := s.get("INSECURE", ""); v != "" {
		insecure = isTrue(v)
	}

	return ExporterConfig{
		Endpoint:    endpoint,
		Protocol:    protocol,
		Headers:     parseHeaders(s.get("HEADERS", "")),
		Timeout:     parseDuration(s.get("TIMEOUT", "10s"), 10*time.Second),
		Insecure:    insecure,
		Compression: s.get("COMPRESSION", ""),
	}
}

// signalEnv reads OTEL_EXPORTER_OTLP_<SIGNAL>_<KEY> falling back to
// OTEL_EXPORTER_OTLP_<KEY>.
type signalEnv SignalType

func (s signalEnv) get(key, defaultValue string) string {
	if v := lookupEnv("OTEL_EXPORTER_OTLP_" + strings.ToUpper(string(s)) + "_" + key); v != "" {
		return v
	}
	if v := lookupEnv("OTEL_EXPORTER_OTLP_" + key); v != "" {
		return v
	}
	return defaultValue
}

func parseProtocol(s string) Protocol {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grpc":
		return ProtocolGRPC
	case "http/json":
		return ProtocolHTTPJSON
	default:
		return ProtocolHTTPProtobuf
	}
}

func resolveEndpoint(signal SignalType, protocol Protocol) string {
	// Signal-specific endpoints are used as-is.
	if v := lookupEnv("OTEL_EXPORTER_OTLP_" + strings.ToUpper(string(signal)) + "_ENDPOINT"); v != "" {
		return normalizeEndpoint(v, protocol)
	}
	if v := lookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return appendSignalPath(normalizeEndpoint(v, protocol), signal, protocol)
	}
	if protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318/v1/" + string(signal)
}

// normalizeEndpoint strips scheme and path for gRPC (host:port only) and
// ensures a scheme for HTTP.
func normalizeEndpoint(endpoint string, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		if idx := strings.Index(endpoint, "/"); idx != -1 {
			endpoint = endpoint[:idx]
		}
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

func appendSignalPath(endpoint string, signal SignalType, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		return endpoint
	}
	signalPath := "/v1/" + string(signal)

	u, err := url.Parse(endpoint)
	if err != nil {
		return strings.TrimSuffix(endpoint, "/") + signalPath
	}
	if strings.HasSuffix(u.Path, signalPath) {
		return endpoint
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + signalPath
	return u.String()
}

func isTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// parseHeaders parses "key1=value1,key2=value2". Values keep everything after
// the first '=' untouched.
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.Index(pair, "="); idx > 0 {
			key := strings.TrimSpace(pair[:idx])
			headers[key] = pair[idx+1:]
			slog.Debug("Parsed OTEL header", "key", key, "value_length", len(pair)-idx-1)
		}
	}
	return headers
}

// parseDuration accepts Go durations ("10s") and OTEL millisecond integers ("10000").
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
