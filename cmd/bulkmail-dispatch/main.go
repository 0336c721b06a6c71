// Package main is the entry point for the bulkmail dispatch service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/bulkmail/internal/config"
	"github.com/shineum/bulkmail/internal/dispatch"
	"github.com/shineum/bulkmail/internal/logging"
	bmtls "github.com/shineum/bulkmail/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, os.Stdout)

	tlsConfig, tlsSource, err := bmtls.ServerConfig(cfg.TLS, tlsHosts(cfg.Dispatch.Listen)...)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to select provider", "error", err)
		os.Exit(1)
	}

	svc := dispatch.New(dispatch.Config{
		Provider:    prov,
		Subject:     cfg.Dispatch.Subject,
		Sender:      cfg.Dispatch.Sender,
		Concurrency: cfg.Dispatch.Concurrency,
	})
	server := dispatch.NewServer(dispatch.ServerConfig{
		ListenAddr: cfg.Dispatch.Listen,
		Handler:    svc.Handler(),
		TLSConfig:  tlsConfig,
	})

	slog.Info("starting bulkmail-dispatch",
		"listen", cfg.Dispatch.Listen,
		"provider", prov.Name(),
		"concurrency", cfg.Dispatch.Concurrency,
		"tls_mode", string(tlsSource),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("bulkmail-dispatch stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// tlsHosts returns the names a self-signed certificate should cover for
// the listen address.
func tlsHosts(listen string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	host, _, err := net.SplitHostPort(listen)
	if err != nil || host == "" || host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::" {
		return hosts
	}
	return append([]string{host}, hosts...)
}
