// Command server runs the vermittler gateway: an OpenAI-compatible
// reverse proxy in front of Azure OpenAI deployments with per-model
// round-robin load balancing, failover, authentication, usage
// accounting, and Prometheus metrics.
//
// Configuration is read from a YAML file discovered via -config, the
// VERMITTLER_CONFIG environment variable, ./config.yaml, or
// /etc/vermittler/config.yaml, with VERMITTLER_* environment overrides.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vermittler-dev/vermittler/pkg/auth"
	"github.com/vermittler-dev/vermittler/pkg/auth/apikey"
	"github.com/vermittler-dev/vermittler/pkg/auth/jwt"
	"github.com/vermittler-dev/vermittler/pkg/auth/noop"
	"github.com/vermittler-dev/vermittler/pkg/balancer"
	"github.com/vermittler-dev/vermittler/pkg/config"
	"github.com/vermittler-dev/vermittler/pkg/gateway"
	"github.com/vermittler-dev/vermittler/pkg/observability"
	"github.com/vermittler-dev/vermittler/pkg/proxy"
	"github.com/vermittler-dev/vermittler/pkg/usage"
	usagememory "github.com/vermittler-dev/vermittler/pkg/usage/memory"
	usagepostgres "github.com/vermittler-dev/vermittler/pkg/usage/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Balancer with background recovery of failed backends.
	b := balancer.New(cfg.Models)
	b.StartRecovery(ctx, 10*time.Second)
	slog.Info("balancer initialized", "models", b.Models())

	chain, err := buildAuthChain(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	recorder, err := buildRecorder(ctx, cfg.Usage)
	if err != nil {
		return fmt.Errorf("configuring usage accounting: %w", err)
	}
	defer recorder.Close()

	handler := proxy.New(b, cfg.Retry, recorder)

	mux := http.NewServeMux()
	handler.Routes(mux)

	bypass := auth.DefaultBypassEndpoints
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}

	root := gateway.Chain(mux,
		gateway.Recovery,
		gateway.RequestID,
		gateway.Logging(slog.Default()),
		observability.MetricsMiddleware,
		auth.Middleware(chain, bypass),
	)

	srv := gateway.NewServer(cfg.Server, root)
	slog.Info("gateway configured",
		"port", cfg.Server.Port,
		"auth", cfg.Auth.Type,
		"usage", cfg.Usage.Type,
		"metrics", cfg.Observability.Metrics.Enabled,
	)
	return srv.Run(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// buildAuthChain assembles the authenticator chain from configuration.
// With type apikey or jwt the chain rejects requests no authenticator
// claims; with type none everything is accepted as anonymous.
func buildAuthChain(cfg config.AuthConfig) (*auth.Chain, error) {
	switch cfg.Type {
	case "", "none":
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{noop.New()},
			DefaultDecision: auth.Yes,
		}, nil

	case "apikey":
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.Entry{Name: k.Name, Key: k.Key})
		}
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil

	case "jwt":
		jwtAuth := jwt.New(jwt.Config{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			JWKSURL:  cfg.JWT.JWKSURL,
		})
		authenticators := []auth.Authenticator{jwtAuth}
		// API keys may coexist with JWT: non-JWT bearer credentials fall
		// through to the key store.
		if len(cfg.APIKeys) > 0 {
			entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
			for _, k := range cfg.APIKeys {
				entries = append(entries, apikey.Entry{Name: k.Name, Key: k.Key})
			}
			authenticators = append(authenticators, apikey.New(entries))
		}
		return &auth.Chain{
			Authenticators:  authenticators,
			DefaultDecision: auth.No,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// buildRecorder assembles the usage recorder from configuration.
func buildRecorder(ctx context.Context, cfg config.UsageConfig) (usage.Recorder, error) {
	switch cfg.Type {
	case "none":
		return usage.Nop{}, nil

	case "", "memory":
		slog.Info("usage accounting enabled", "type", "memory", "max_records", cfg.MaxRecords)
		return usagememory.New(cfg.MaxRecords), nil

	case "postgres":
		recorder, err := usagepostgres.New(ctx, usagepostgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("usage accounting enabled", "type", "postgres")
		return recorder, nil

	default:
		return nil, fmt.Errorf("unknown usage type %q", cfg.Type)
	}
}
