package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"transithub/pkg/config"
	"transithub/pkg/dashboard"
	"transithub/pkg/logging"
	"transithub/pkg/mapview"
	"transithub/pkg/metrics"
	"transithub/pkg/profiling"
	"transithub/pkg/session"
	"transithub/pkg/tracing"
	"transithub/pkg/types"
)

// favoritesTimeout bounds how long a one-shot favorites command waits for the
// session and the initial list.
const favoritesTimeout = 30 * time.Second

func main() {
	defaults := config.Default()

	// Command line flags. Explicitly set flags override the config file and
	// environment.
	var (
		configPath   = flag.String("config", getEnv("TRANSITHUB_CONFIG", ""), "Path to a YAML config file")
		dryRun       = flag.Bool("dry-run", false, "Print the dashboard to stdout instead of sending markers to Loki")
		apiURL       = flag.String("api-url", defaults.API.BaseURL, "Transit Hub API base URL")
		httpTimeout  = flag.Duration("http-timeout", defaults.API.Timeout, "HTTP request timeout (0 disables)")
		feedID       = flag.String("feed-id", defaults.Status.FeedID, "Subway feed ID: "+strings.Join(config.FeedIDs, ", "))
		interval     = flag.Duration("interval", defaults.Status.Interval, "Status polling interval")
		timezone     = flag.String("timezone", defaults.Display.Timezone, "Timezone for arrival times")
		uid          = flag.String("uid", "", "User ID of the signed-in user")
		email        = flag.String("email", "", "Email of the signed-in user")
		token        = flag.String("token", "", "Bearer token for the signed-in user")
		refreshToken = flag.String("refresh-token", "", "Refresh token exchanged at --token-url for bearer tokens")
		tokenURL     = flag.String("token-url", "", "OAuth2 token endpoint for --refresh-token")
		clientID     = flag.String("client-id", "", "OAuth2 client ID for --refresh-token")
		lokiEnabled  = flag.Bool("loki", false, "Push projected markers to Grafana Loki")
		lokiURL      = flag.String("loki-url", defaults.Loki.URL, "Grafana Loki URL")
		lokiUser     = flag.String("loki-user", "", "Loki username (for Grafana Cloud authentication)")
		lokiPassword = flag.String("loki-password", "", "Loki password/token (for Grafana Cloud authentication)")

		addRoute      = flag.String("add-route", "", "Add a favorite route and exit")
		removeRoute   = flag.String("remove-route", "", "Remove a favorite route and exit")
		addStation    = flag.String("add-station", "", "Add a favorite station and exit")
		removeStation = flag.String("remove-station", "", "Remove a favorite station and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Transit Hub status client\n\n")
		fmt.Fprintf(os.Stderr, "Polls NYC subway status from a Transit Hub API, projects trip updates\n")
		fmt.Fprintf(os.Stderr, "to map markers, shows alerts and accessibility outages, and manages\n")
		fmt.Fprintf(os.Stderr, "the signed-in user's favorite routes and stations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_CONFIG        - YAML config file\n")
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_API_URL       - API base URL (default: %s)\n", defaults.API.BaseURL)
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_HTTP_TIMEOUT  - HTTP timeout (default: %s)\n", defaults.API.Timeout)
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_FEED_ID       - Subway feed ID (default: %s)\n", defaults.Status.FeedID)
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_INTERVAL      - Polling interval (default: %s)\n", defaults.Status.Interval)
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_TIMEZONE      - Arrival time zone (default: %s)\n", defaults.Display.Timezone)
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_UID, TRANSITHUB_EMAIL, TRANSITHUB_TOKEN\n")
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_REFRESH_TOKEN, TRANSITHUB_TOKEN_URL, TRANSITHUB_CLIENT_ID\n")
		fmt.Fprintf(os.Stderr, "  TRANSITHUB_LOKI_ENABLED, TRANSITHUB_LOKI_URL, TRANSITHUB_LOKI_USER, TRANSITHUB_LOKI_PASSWORD\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL, LOG_FORMAT    - Logging (debug|info|warn|error, text|json)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dry run against a local API\n")
		fmt.Fprintf(os.Stderr, "  %s --dry-run --feed-id=26\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Add a favorite route for a signed-in user\n")
		fmt.Fprintf(os.Stderr, "  %s --uid=abc123 --token=$ID_TOKEN --add-route=L\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Push markers to Grafana Cloud\n")
		fmt.Fprintf(os.Stderr, "  %s --loki --loki-url=https://logs-prod-us-central1.grafana.net \\\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "    --loki-user=123456 --loki-password=your_token\n\n")
	}

	flag.Parse()

	logging.InitLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dry-run":
			cfg.DryRun = *dryRun
		case "api-url":
			cfg.API.BaseURL = *apiURL
		case "http-timeout":
			cfg.API.Timeout = *httpTimeout
		case "feed-id":
			cfg.Status.FeedID = *feedID
		case "interval":
			cfg.Status.Interval = *interval
		case "timezone":
			cfg.Display.Timezone = *timezone
		case "uid":
			cfg.Auth.UID = *uid
		case "email":
			cfg.Auth.Email = *email
		case "token":
			cfg.Auth.Token = *token
		case "refresh-token":
			cfg.Auth.RefreshToken = *refreshToken
		case "token-url":
			cfg.Auth.TokenURL = *tokenURL
		case "client-id":
			cfg.Auth.ClientID = *clientID
		case "loki":
			cfg.Loki.Enabled = *lokiEnabled
		case "loki-url":
			cfg.Loki.URL = *lokiURL
		case "loki-user":
			cfg.Loki.User = *lokiUser
		case "loki-password":
			cfg.Loki.Password = *lokiPassword
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	shutdownTracing, err := tracing.InitTracing()
	if err != nil {
		fatal("Failed to initialize tracing", err)
	}
	defer shutdownTracing()

	shutdownMetrics, err := metrics.InitMetrics()
	if err != nil {
		fatal("Failed to initialize metrics", err)
	}
	defer shutdownMetrics()

	shutdownProfiling, err := profiling.InitProfiling()
	if err != nil {
		fatal("Failed to initialize profiling", err)
	}
	defer shutdownProfiling()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := newProvider(ctx, cfg.Auth)

	d, err := dashboard.New(dashboard.Config{
		BaseURL:      cfg.API.BaseURL,
		HTTPTimeout:  cfg.API.Timeout,
		FeedID:       cfg.Status.FeedID,
		Interval:     cfg.Status.Interval,
		Location:     mapview.LoadLocation(cfg.Display.Timezone),
		Icons:        cfg.Display.Icons,
		DryRun:       cfg.DryRun,
		LokiEnabled:  cfg.Loki.Enabled,
		LokiURL:      cfg.Loki.URL,
		LokiUser:     cfg.Loki.User,
		LokiPassword: cfg.Loki.Password,
	}, provider)
	if err != nil {
		fatal("Failed to create dashboard", err)
	}

	mutation := favoritesCommand{
		addRoute:      *addRoute,
		removeRoute:   *removeRoute,
		addStation:    *addStation,
		removeStation: *removeStation,
	}
	if mutation.any() {
		if err := mutation.run(ctx, d); err != nil {
			fatal("Favorites command failed", err)
		}
		return
	}

	if cfg.DryRun {
		slog.Info("Starting Transit Hub client in DRY RUN mode")
	} else if cfg.Loki.Enabled {
		slog.Info("Starting Transit Hub client", "loki_url", cfg.Loki.URL)
	} else {
		slog.Info("Starting Transit Hub client")
	}
	slog.Info("Configuration",
		"api_url", cfg.API.BaseURL,
		"feed_id", cfg.Status.FeedID,
		"interval", cfg.Status.Interval,
		"signed_in", cfg.Auth.HasSession(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
		select {
		case <-time.After(5 * time.Second):
			slog.Warn("Shutdown timeout, forcing exit")
		case <-errChan:
			slog.Info("Dashboard stopped")
		}
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			fatal("Dashboard error", err)
		}
		slog.Info("Dashboard stopped")
	}

	slog.Info("Transit Hub client shutdown complete")
}

// newProvider builds the identity provider for the configured credentials.
func newProvider(ctx context.Context, auth config.AuthConfig) session.Provider {
	identity := types.Identity{UID: auth.UID, Email: auth.Email}

	switch {
	case auth.RefreshToken != "":
		return session.NewTokenSourceProvider(identity,
			session.RefreshTokenSource(ctx, auth.TokenURL, auth.ClientID, auth.RefreshToken))
	case auth.Token != "":
		return session.NewTokenSourceProvider(identity, session.StaticTokenSource(auth.Token))
	default:
		p := session.NewStaticProvider("")
		p.SetIdentity(nil)
		return p
	}
}

type favoritesCommand struct {
	addRoute, removeRoute, addStation, removeStation string
}

func (c favoritesCommand) any() bool {
	return c.addRoute != "" || c.removeRoute != "" || c.addStation != "" || c.removeStation != ""
}

// run waits for the session and both favorites lists, applies the requested
// mutations and prints the resulting lists.
func (c favoritesCommand) run(ctx context.Context, d *dashboard.Dashboard) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, favoritesTimeout)
	defer cancel()
	if err := waitForFavorites(waitCtx, d); err != nil {
		return err
	}

	routes, stations := d.Routes(), d.Stations()
	var errs []error
	if c.addRoute != "" {
		errs = append(errs, routes.Add(ctx, c.addRoute))
	}
	if c.removeRoute != "" {
		errs = append(errs, routes.Remove(ctx, c.removeRoute))
	}
	if c.addStation != "" {
		errs = append(errs, stations.Add(ctx, c.addStation))
	}
	if c.removeStation != "" {
		errs = append(errs, stations.Remove(ctx, c.removeStation))
	}

	fmt.Printf("Favorite routes: %v\n", routes.List())
	fmt.Printf("Favorite stations: %v\n", stations.List())
	return errors.Join(errs...)
}

func waitForFavorites(ctx context.Context, d *dashboard.Dashboard) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch d.Session().State().Status {
		case session.StatusAnonymous:
			return errors.New("not signed in: set --uid with --token or --refresh-token")
		case session.StatusAuthenticated:
			r, s := d.Routes().State(), d.Stations().State()
			if r.Loaded && s.Loaded {
				if r.FetchErr != "" {
					return fmt.Errorf("failed to load favorite routes: %s", r.FetchErr)
				}
				if s.FetchErr != "" {
					return fmt.Errorf("failed to load favorite stations: %s", s.FetchErr)
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for favorites: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// getEnv returns the value of an environment variable or a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
