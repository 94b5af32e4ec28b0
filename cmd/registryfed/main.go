// Command registryfed runs the registry's peer-to-peer federation layer: the
// inbound export API peers pull from, the outbound sync scheduler that pulls
// from configured peers, and the admin API for peer management.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amityvox/registry-federation/internal/authn"
	"github.com/amityvox/registry-federation/internal/config"
	"github.com/amityvox/registry-federation/internal/federation"
	"github.com/amityvox/registry-federation/internal/httpapi"
	"github.com/amityvox/registry-federation/internal/peerstore"
	"github.com/amityvox/registry-federation/internal/recordstore"
	"github.com/amityvox/registry-federation/internal/tokensource"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runServe()
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "version":
		runVersion()
	case "help", "-h", "--help":
		runHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		runHelp()
		os.Exit(1)
	}
}

func runHelp() {
	fmt.Println(`registryfed - peer-to-peer federation layer for the registry

Usage:
  registryfed serve     Run the federation HTTP server and sync scheduler
  registryfed version   Print the version
  registryfed help      Show this message

Configuration is read from registryfed.toml in the working directory, or the
path set by REGISTRYFED_CONFIG_PATH. See internal/config for all settings
and their REGISTRYFED_* environment variable overrides.`)
}

func runVersion() {
	fmt.Printf("registryfed %s\n", version)
}

func runServe() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	peers, err := peerstore.New(cfg.Peers.DataDir, cfg.Peers.SyncStateFile, logger)
	if err != nil {
		logger.Error("initializing peer store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	servers := recordstore.New()
	agents := recordstore.NewAgentStore()
	scans := recordstore.NewScanStore()

	var tokens federation.TokenSource
	if cfg.OAuth2.ClientID != "" {
		tokens = tokensource.New(cfg.OAuth2.ClientID, cfg.OAuth2.ClientSecret, cfg.OAuth2.TokenURL, cfg.OAuth2.Scopes, logger)
	}

	clientTimeout, err := cfg.Client.TimeoutParsed()
	if err != nil {
		logger.Error("parsing client timeout", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc := federation.NewService(federation.Config{
		Peers:         peers,
		Servers:       servers,
		Agents:        agents,
		Scans:         scans,
		Tokens:        tokens,
		Logger:        logger,
		RegistryID:    cfg.Instance.RegistryID,
		ClientTimeout: clientTimeout,
		RetryAttempts: cfg.Client.RetryAttempts,
		HistoryLimit:  cfg.Client.HistoryLimit,
	})

	checkInterval, err := cfg.Scheduler.CheckIntervalParsed()
	if err != nil {
		logger.Error("parsing scheduler check interval", slog.String("error", err.Error()))
		os.Exit(1)
	}
	scheduler := federation.NewScheduler(svc, checkInterval, logger)

	audit := federation.NewAuditLog(cfg.Audit.MaxEntries)

	var auth federation.AuthGateway
	if cfg.OAuth2.JWTSecret != "" {
		auth = authn.NewJWTGateway(cfg.OAuth2.JWTSecret)
	} else {
		logger.Warn("oauth2.jwt_secret not set, all inbound federation requests will be rejected")
		auth = denyAllGateway{}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Service:     svc,
		Scheduler:   scheduler,
		Audit:       audit,
		Auth:        auth,
		RegistryID:  cfg.Instance.RegistryID,
		Logger:      logger,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Scheduler.Enabled {
		scheduler.Start(ctx)
	} else {
		logger.Warn("scheduler.enabled is false, peers will not be synced automatically")
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: router,
	}

	go func() {
		logger.Info("registryfed listening", slog.String("addr", cfg.HTTP.Listen), slog.String("registry_id", cfg.Instance.RegistryID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}

// denyAllGateway is the AuthGateway used when no JWT secret is configured.
// It rejects every inbound request rather than accepting one with a
// forgeable or empty signing key.
type denyAllGateway struct{}

func (denyAllGateway) Authenticate(r *http.Request) (federation.Principal, error) {
	return federation.Principal{}, fmt.Errorf("federation auth is not configured")
}

// configPath returns the configured path to registryfed.toml, honoring the
// REGISTRYFED_CONFIG_PATH override.
func configPath() string {
	if p := os.Getenv("REGISTRYFED_CONFIG_PATH"); p != "" {
		return p
	}
	return "registryfed.toml"
}

// setupLogger builds the process-wide slog.Logger per the configured level
// and format ("json" or "text").
func setupLogger(level, format string) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
