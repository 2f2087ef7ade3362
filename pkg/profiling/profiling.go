package profiling

import (
	"log/slog"
	"os"
	"strings"

	"transithub/pkg/otel"

	"github.com/grafana/pyroscope-go"
)

// InitProfiling starts pyroscope continuous profiling when
// PYROSCOPE_PROFILING_ENABLED is set. The returned func stops the profiler.
func InitProfiling() (func(), error) {
	cfg, ok := configFromEnv(os.Getenv)
	if !ok {
		slog.Debug("Pyroscope profiling is disabled")
		return func() {}, nil
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		slog.Warn("Failed to start Pyroscope profiler", "error", err)
		return func() {}, nil
	}

	slog.Debug("Pyroscope profiling started", "server", cfg.ServerAddress, "application", cfg.ApplicationName)

	return func() {
		if err := profiler.Stop(); err != nil {
			slog.Error("Error stopping Pyroscope profiler", "error", err)
		}
	}, nil
}

func configFromEnv(getenv func(string) string) (pyroscope.Config, bool) {
	get := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	if !isTrue(get("PYROSCOPE_PROFILING_ENABLED", "false")) {
		return pyroscope.Config{}, false
	}

	cfg := pyroscope.Config{
		ApplicationName: get("PYROSCOPE_APPLICATION_NAME", otel.ServiceName),
		ServerAddress:   get("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"service": otel.ServiceName,
			"version": otel.Version,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	}

	user, password := get("PYROSCOPE_BASIC_AUTH_USER", ""), get("PYROSCOPE_BASIC_AUTH_PASSWORD", "")
	if user != "" && password != "" {
		cfg.BasicAuthUser = user
		cfg.BasicAuthPassword = password
	}
	return cfg, true
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
