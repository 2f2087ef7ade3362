package otel

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceName identifies this client in telemetry.
const ServiceName = "transithub"

// Version is set at build time via -ldflags
// e.g., go build -ldflags="-X transithub/pkg/otel.Version=1.2.3"
var Version = "dev"

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return ServiceName + "/" + Version
}

// instanceID prefers OTEL_SERVICE_INSTANCE_ID, then the hostname, then the pid.
func instanceID() string {
	if id := lookupEnv("OTEL_SERVICE_INSTANCE_ID"); id != "" {
		return id
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("%s-%d", ServiceName, os.Getpid())
}

func envOr(key, defaultValue string) string {
	if v := lookupEnv(key); v != "" {
		return v
	}
	return defaultValue
}

// NewResource builds the resource shared by the trace and meter providers.
func NewResource() (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(Version),
			semconv.ServiceNamespace(envOr("OTEL_SERVICE_NAMESPACE", "transithub")),
			semconv.ServiceInstanceID(instanceID()),
			semconv.DeploymentEnvironment(envOr("OTEL_DEPLOYMENT_ENVIRONMENT", "development")),
			semconv.ProcessRuntimeName("go"),
			semconv.ProcessRuntimeVersion(runtime.Version()),
			semconv.TelemetrySDKName("opentelemetry"),
			semconv.TelemetrySDKLanguageGo,
		),
	)
}
